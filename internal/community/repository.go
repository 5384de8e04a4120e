package community

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/database"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
	"github.com/zulfikarrosadi/opentrellis/pkg/schema"
)

type RepositoryImpl struct {
	DB *sql.DB
}

func NewRepository(db *sql.DB) *RepositoryImpl {
	return &RepositoryImpl{
		DB: db,
	}
}

type community struct {
	id              string
	name            string
	creatorId       sql.NullString
	isPrivate       bool
	icon            sql.NullString
	createdAt       int64
	updatedAt       int64
	subscriberCount int
	postCount       int
}

type postSummary struct {
	id             string
	title          string
	authorId       string
	authorUsername sql.NullString
	authorType     string
	category       sql.NullString
	isSolved       bool
	score          int
	commentCount   int
	createdAt      int64
}

const communityColumns = `
	c.id, c.name, c.creator_id, c.is_private, c.icon, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM community_subscriptions cs WHERE cs.community_id = c.id) AS subscriber_count,
	(SELECT COUNT(*) FROM posts p WHERE p.community_id = c.id AND p.status = 'published') AS post_count
`

type scanner interface {
	Scan(dest ...any) error
}

func scanCommunity(row scanner) (community, error) {
	c := community{}
	err := row.Scan(
		&c.id, &c.name, &c.creatorId, &c.isPrivate, &c.icon, &c.createdAt, &c.updatedAt,
		&c.subscriberCount, &c.postCount,
	)
	return c, err
}

func (repo *RepositoryImpl) userType(ctx context.Context, userId string) (string, error) {
	return user.LookupType(ctx, repo.DB, userId)
}

// create stores the community and subscribes its creator in one transaction.
func (repo *RepositoryImpl) create(ctx context.Context, data community) (community, error) {
	err := database.WithTx(ctx, repo.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			"INSERT INTO communities (id, name, creator_id, is_private, created_at, updated_at) VALUES (?,?,?,?,?,?)",
			data.id, data.name, data.creatorId, data.isPrivate, data.createdAt, data.updatedAt,
		)
		if err != nil {
			if database.IsDuplicate(err) {
				return apperror.New(http.StatusConflict, "Community already exists", err)
			}
			return fmt.Errorf("repository: fail to create new community %w", err)
		}
		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO community_subscriptions (user_id, community_id, created_at) VALUES (?,?,?)",
			data.creatorId, data.id, data.createdAt,
		)
		if err != nil {
			return fmt.Errorf("repository: fail to subscribe creator %w", err)
		}
		return nil
	})
	if err != nil {
		return community{}, err
	}
	data.subscriberCount = 1
	return data, nil
}

func (repo *RepositoryImpl) findById(ctx context.Context, id string) (community, error) {
	c, err := scanCommunity(repo.DB.QueryRowContext(
		ctx,
		"SELECT "+communityColumns+" FROM communities c WHERE c.id = ?",
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return community{}, apperror.New(http.StatusNotFound, "Community not found", err)
		}
		return community{}, fmt.Errorf("repository: fail to get community %w", err)
	}
	return c, nil
}

func (repo *RepositoryImpl) findByName(ctx context.Context, name string) (community, error) {
	c, err := scanCommunity(repo.DB.QueryRowContext(
		ctx,
		"SELECT "+communityColumns+" FROM communities c WHERE c.name = ?",
		name,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return community{}, apperror.New(http.StatusNotFound, "Community not found", err)
		}
		return community{}, fmt.Errorf("repository: fail to get community by name %w", err)
	}
	return c, nil
}

func (repo *RepositoryImpl) setPrivacy(ctx context.Context, id string, isPrivate bool, updatedAt int64) error {
	_, err := repo.DB.ExecContext(
		ctx,
		"UPDATE communities SET is_private = ?, updated_at = ? WHERE id = ?",
		isPrivate, updatedAt, id,
	)
	if err != nil {
		return fmt.Errorf("repository: fail to update community privacy %w", err)
	}
	return nil
}

func (repo *RepositoryImpl) updateIcon(ctx context.Context, id, icon string, updatedAt int64) error {
	_, err := repo.DB.ExecContext(
		ctx,
		"UPDATE communities SET icon = ?, updated_at = ? WHERE id = ?",
		icon, updatedAt, id,
	)
	if err != nil {
		return fmt.Errorf("repository: fail to update community icon %w", err)
	}
	return nil
}

// search lists communities newest first. An empty query lists everything visible,
// otherwise names containing the query are matched.
func (repo *RepositoryImpl) search(ctx context.Context, q string, includePrivate bool, limit int) ([]community, error) {
	query := "SELECT " + communityColumns + " FROM communities c WHERE (c.is_private = FALSE OR ?)"
	args := []any{includePrivate}
	if q != "" {
		query += " AND c.name LIKE CONCAT('%', ?, '%')"
		args = append(args, q)
	}
	query += " ORDER BY c.created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := repo.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: fail to search communities %w", err)
	}
	defer rows.Close()

	communities := []community{}
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: fail to scan community %w", err)
		}
		communities = append(communities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: fail to iterate communities %w", err)
	}
	return communities, nil
}

func (repo *RepositoryImpl) listPosts(ctx context.Context, communityId string, page schema.Page) ([]postSummary, error) {
	rows, err := repo.DB.QueryContext(
		ctx,
		`
		SELECT p.id, p.title, u.id, u.username, u.user_type, p.category, p.is_solved,
			COALESCE((SELECT SUM(CASE WHEN v.type = 'UP' THEN 1 ELSE -1 END) FROM post_votes v WHERE v.post_id = p.id), 0) AS score,
			(SELECT COUNT(*) FROM comments cm WHERE cm.post_id = p.id) AS comment_count,
			p.created_at
		FROM posts p
		JOIN users u
		ON p.author_id = u.id
		WHERE p.community_id = ? AND p.status = 'published'
		ORDER BY p.created_at DESC
		LIMIT ? OFFSET ?
		`,
		communityId, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, fmt.Errorf("repository: fail to list community posts %w", err)
	}
	defer rows.Close()

	posts := []postSummary{}
	for rows.Next() {
		p := postSummary{}
		err := rows.Scan(
			&p.id, &p.title, &p.authorId, &p.authorUsername, &p.authorType, &p.category, &p.isSolved,
			&p.score, &p.commentCount, &p.createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: fail to scan community post %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: fail to iterate community posts %w", err)
	}
	return posts, nil
}

func (repo *RepositoryImpl) isSubscribed(ctx context.Context, userId, communityId string) (bool, error) {
	var exists bool
	err := repo.DB.QueryRowContext(
		ctx,
		"SELECT EXISTS(SELECT 1 FROM community_subscriptions WHERE user_id = ? AND community_id = ?)",
		userId, communityId,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository: fail to check subscription %w", err)
	}
	return exists, nil
}

func (repo *RepositoryImpl) subscribe(ctx context.Context, userId, communityId string, createdAt int64) error {
	_, err := repo.DB.ExecContext(
		ctx,
		"INSERT INTO community_subscriptions (user_id, community_id, created_at) VALUES (?,?,?)",
		userId, communityId, createdAt,
	)
	if err != nil {
		if database.IsDuplicate(err) {
			return apperror.New(http.StatusConflict, "Already subscribed", err)
		}
		return fmt.Errorf("repository: fail to subscribe %w", err)
	}
	return nil
}

func (repo *RepositoryImpl) unsubscribe(ctx context.Context, userId, communityId string) error {
	result, err := repo.DB.ExecContext(
		ctx,
		"DELETE FROM community_subscriptions WHERE user_id = ? AND community_id = ?",
		userId, communityId,
	)
	if err != nil {
		return fmt.Errorf("repository: fail to unsubscribe %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to get rows affected %w", err)
	}
	if rowsAffected == 0 {
		return apperror.New(http.StatusBadRequest, "You are not subscribed to this community", nil)
	}
	return nil
}

// subscribeByName reports false when the subscription already existed.
func (repo *RepositoryImpl) subscribeByName(ctx context.Context, userId, name string, createdAt int64) (bool, error) {
	var communityId string
	err := repo.DB.QueryRowContext(ctx, "SELECT id FROM communities WHERE name = ?", name).Scan(&communityId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, apperror.New(http.StatusNotFound, "Default community not found", err)
		}
		return false, fmt.Errorf("repository: fail to find default community %w", err)
	}
	result, err := repo.DB.ExecContext(
		ctx,
		"INSERT IGNORE INTO community_subscriptions (user_id, community_id, created_at) VALUES (?,?,?)",
		userId, communityId, createdAt,
	)
	if err != nil {
		return false, fmt.Errorf("repository: fail to subscribe to default community %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repository: failed to get rows affected %w", err)
	}
	return rowsAffected > 0, nil
}
