package comment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
)

type RepositoryImpl struct {
	DB *sql.DB
}

func NewRepository(db *sql.DB) *RepositoryImpl {
	return &RepositoryImpl{
		DB: db,
	}
}

type comment struct {
	id        string
	text      string
	postId    string
	authorId  string
	replyToId sql.NullString
	createdAt int64
}

type commentWithAuthor struct {
	comment
	username   sql.NullString
	authorType string
	replyCount int
}

type postRef struct {
	id               string
	status           string
	communityPrivate bool
}

func (repo *RepositoryImpl) userType(ctx context.Context, userId string) (string, error) {
	return user.LookupType(ctx, repo.DB, userId)
}

func (repo *RepositoryImpl) findPost(ctx context.Context, postId string) (postRef, error) {
	p := postRef{}
	err := repo.DB.QueryRowContext(
		ctx,
		`
		SELECT p.id, p.status, c.is_private
		FROM posts p
		JOIN communities c
		ON p.community_id = c.id
		WHERE p.id = ?
		`,
		postId,
	).Scan(&p.id, &p.status, &p.communityPrivate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return postRef{}, apperror.New(http.StatusNotFound, "Post not found", err)
		}
		return postRef{}, fmt.Errorf("repository: fail to get post %w", err)
	}
	return p, nil
}

// replyTargetPost returns the post the comment belongs to, empty when the comment does not exist.
func (repo *RepositoryImpl) replyTargetPost(ctx context.Context, commentId string) (string, error) {
	var postId string
	err := repo.DB.QueryRowContext(
		ctx,
		"SELECT post_id FROM comments WHERE id = ?",
		commentId,
	).Scan(&postId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("repository: fail to get reply target %w", err)
	}
	return postId, nil
}

func (repo *RepositoryImpl) create(ctx context.Context, data comment) (commentWithAuthor, error) {
	_, err := repo.DB.ExecContext(
		ctx,
		"INSERT INTO comments (id, text, post_id, author_id, reply_to_id, created_at) VALUES (?,?,?,?,?,?)",
		data.id, data.text, data.postId, data.authorId, data.replyToId, data.createdAt,
	)
	if err != nil {
		return commentWithAuthor{}, fmt.Errorf("repository: fail to create new comment %w", err)
	}
	created := commentWithAuthor{comment: data}
	err = repo.DB.QueryRowContext(
		ctx,
		"SELECT username, user_type FROM users WHERE id = ?",
		data.authorId,
	).Scan(&created.username, &created.authorType)
	if err != nil {
		return commentWithAuthor{}, fmt.Errorf("repository: fail to get comment author %w", err)
	}
	return created, nil
}

func (repo *RepositoryImpl) listTopLevel(ctx context.Context, postId string) ([]commentWithAuthor, error) {
	rows, err := repo.DB.QueryContext(
		ctx,
		`
		SELECT cm.id, cm.text, cm.post_id, cm.author_id, cm.reply_to_id, cm.created_at,
			u.username, u.user_type,
			(SELECT COUNT(*) FROM comments r WHERE r.reply_to_id = cm.id) AS reply_count
		FROM comments cm
		JOIN users u
		ON cm.author_id = u.id
		WHERE cm.post_id = ? AND cm.reply_to_id IS NULL
		ORDER BY cm.created_at DESC
		`,
		postId,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: fail to list comments %w", err)
	}
	defer rows.Close()

	comments := []commentWithAuthor{}
	for rows.Next() {
		c := commentWithAuthor{}
		err := rows.Scan(
			&c.id, &c.text, &c.postId, &c.authorId, &c.replyToId, &c.createdAt,
			&c.username, &c.authorType, &c.replyCount,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: fail to scan comment %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: fail to iterate comments %w", err)
	}
	return comments, nil
}
