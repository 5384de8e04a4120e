package post

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

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

const (
	POST_STATUS_PUBLISHED = "published"
	POST_STATUS_TAKE_DOWN = "take_down"

	VOTE_UP   = "UP"
	VOTE_DOWN = "DOWN"

	LEADERBOARD_SIZE = 10
)

type post struct {
	id            string
	title         string
	content       []byte
	authorId      string
	communityId   string
	category      sql.NullString
	businessStage sql.NullString
	createdAt     int64
}

type pollOption struct {
	id   string
	text string
}

type newPoll struct {
	id        string
	question  string
	endsAt    sql.NullInt64
	options   []pollOption
	createdAt int64
}

type communityRef struct {
	id        string
	name      string
	isPrivate bool
}

// postRef is the minimum needed to authorize an action on a post.
type postRef struct {
	id               string
	authorId         string
	status           string
	communityPrivate bool
}

type postDetail struct {
	id               string
	title            string
	content          []byte
	authorId         string
	authorUsername   sql.NullString
	authorType       string
	communityId      string
	communityName    string
	communityPrivate bool
	category         sql.NullString
	businessStage    sql.NullString
	status           string
	isSolved         bool
	solvedAt         sql.NullInt64
	solvedById       sql.NullString
	solvingCommentId sql.NullString
	solutionSummary  sql.NullString
	score            int
	viewerVote       sql.NullString
	commentCount     int
	createdAt        int64
	updatedAt        sql.NullInt64
}

type feedItem struct {
	id             string
	title          string
	authorId       string
	authorUsername sql.NullString
	authorType     string
	communityId    string
	communityName  string
	category       sql.NullString
	isSolved       bool
	score          int
	commentCount   int
	createdAt      int64
}

type solution struct {
	postId           string
	solvedById       sql.NullString
	solvingCommentId sql.NullString
	solutionSummary  sql.NullString
	solvedAt         int64
}

type leader struct {
	userId      string
	username    sql.NullString
	solvedCount int
}

type leaderboard struct {
	leaders  []leader
	solved   int
	unsolved int
}

const scoreColumn = `COALESCE((SELECT SUM(CASE WHEN v.type = 'UP' THEN 1 ELSE -1 END) FROM post_votes v WHERE v.post_id = p.id), 0)`

func (repo *RepositoryImpl) userType(ctx context.Context, userId string) (string, error) {
	return user.LookupType(ctx, repo.DB, userId)
}

func (repo *RepositoryImpl) findCommunity(ctx context.Context, communityId string) (communityRef, error) {
	c := communityRef{}
	err := repo.DB.QueryRowContext(
		ctx,
		"SELECT id, name, is_private FROM communities WHERE id = ?",
		communityId,
	).Scan(&c.id, &c.name, &c.isPrivate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return communityRef{}, apperror.New(http.StatusNotFound, "Community not found", err)
		}
		return communityRef{}, fmt.Errorf("repository: fail to get community %w", err)
	}
	return c, nil
}

func (repo *RepositoryImpl) isSubscribed(ctx context.Context, userId, communityId string) (bool, error) {
	var exists bool
	err := repo.DB.QueryRowContext(
		ctx,
		"SELECT EXISTS(SELECT 1 FROM community_subscriptions WHERE user_id = ? AND community_id = ?)",
		userId, communityId,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository: fail to check community subscription %w", err)
	}
	return exists, nil
}

// create stores the post and, when present, its poll with every option in one transaction.
func (repo *RepositoryImpl) create(ctx context.Context, data post, p *newPoll) error {
	return database.WithTx(ctx, repo.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO posts (id, title, content, author_id, community_id, category, business_stage, status, created_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			data.id, data.title, data.content, data.authorId, data.communityId,
			data.category, data.businessStage, POST_STATUS_PUBLISHED, data.createdAt,
		)
		if err != nil {
			return fmt.Errorf("repository: fail to create new post %w", err)
		}
		if p == nil {
			return nil
		}

		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO polls (id, post_id, question, ends_at, created_at) VALUES (?,?,?,?,?)",
			p.id, data.id, p.question, p.endsAt, p.createdAt,
		)
		if err != nil {
			return fmt.Errorf("repository: fail to create post poll %w", err)
		}

		optionValues := []string{}
		optionArgs := []interface{}{}
		for i, option := range p.options {
			optionValues = append(optionValues, "(?,?,?,?)")
			optionArgs = append(optionArgs, option.id, p.id, option.text, i)
		}
		_, err = tx.ExecContext(
			ctx,
			fmt.Sprintf("INSERT INTO poll_options (id, poll_id, text, position) VALUES %s", strings.Join(optionValues, ",")),
			optionArgs...,
		)
		if err != nil {
			return fmt.Errorf("repository: fail to add poll options %w", err)
		}
		return nil
	})
}

func (repo *RepositoryImpl) findRef(ctx context.Context, postId string) (postRef, error) {
	p := postRef{}
	err := repo.DB.QueryRowContext(
		ctx,
		`
		SELECT p.id, p.author_id, p.status, c.is_private
		FROM posts p
		JOIN communities c
		ON p.community_id = c.id
		WHERE p.id = ?
		`,
		postId,
	).Scan(&p.id, &p.authorId, &p.status, &p.communityPrivate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return postRef{}, apperror.New(http.StatusNotFound, "Post not found", err)
		}
		return postRef{}, fmt.Errorf("repository: fail to get post %w", err)
	}
	return p, nil
}

func (repo *RepositoryImpl) findDetail(ctx context.Context, postId, viewerId string) (postDetail, error) {
	p := postDetail{}
	err := repo.DB.QueryRowContext(
		ctx,
		`
		SELECT p.id, p.title, p.content, u.id, u.username, u.user_type, c.id, c.name, c.is_private,
			p.category, p.business_stage, p.status, p.is_solved, p.solved_at, p.solved_by_id,
			p.solving_comment_id, p.solution_summary,
			`+scoreColumn+` AS score,
			(SELECT pv.type FROM post_votes pv WHERE pv.post_id = p.id AND pv.user_id = ?) AS viewer_vote,
			(SELECT COUNT(*) FROM comments cm WHERE cm.post_id = p.id) AS comment_count,
			p.created_at, p.updated_at
		FROM posts p
		JOIN users u
		ON p.author_id = u.id
		JOIN communities c
		ON p.community_id = c.id
		WHERE p.id = ?
		`,
		viewerId, postId,
	).Scan(
		&p.id, &p.title, &p.content, &p.authorId, &p.authorUsername, &p.authorType,
		&p.communityId, &p.communityName, &p.communityPrivate,
		&p.category, &p.businessStage, &p.status, &p.isSolved, &p.solvedAt, &p.solvedById,
		&p.solvingCommentId, &p.solutionSummary,
		&p.score, &p.viewerVote, &p.commentCount,
		&p.createdAt, &p.updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return postDetail{}, apperror.New(http.StatusNotFound, "Post not found", err)
		}
		return postDetail{}, fmt.Errorf("repository: fail to get post detail %w", err)
	}
	return p, nil
}

// feed lists the newest published posts from the viewer's subscriptions, or
// from public communities when there is no viewer.
func (repo *RepositoryImpl) feed(ctx context.Context, viewerId string, page schema.Page) ([]feedItem, error) {
	query := `
		SELECT p.id, p.title, u.id, u.username, u.user_type, c.id, c.name, p.category, p.is_solved,
			` + scoreColumn + ` AS score,
			(SELECT COUNT(*) FROM comments cm WHERE cm.post_id = p.id) AS comment_count,
			p.created_at
		FROM posts p
		JOIN users u
		ON p.author_id = u.id
		JOIN communities c
		ON p.community_id = c.id
	`
	args := []interface{}{}
	if viewerId != "" {
		query += `
		JOIN community_subscriptions cs
		ON cs.community_id = c.id AND cs.user_id = ?
		WHERE p.status = 'published'
		`
		args = append(args, viewerId)
	} else {
		query += "WHERE p.status = 'published' AND c.is_private = FALSE"
	}
	query += " ORDER BY p.created_at DESC LIMIT ? OFFSET ?"
	args = append(args, page.Limit, page.Offset())

	rows, err := repo.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: fail to get feed %w", err)
	}
	defer rows.Close()

	items := []feedItem{}
	for rows.Next() {
		item := feedItem{}
		err := rows.Scan(
			&item.id, &item.title, &item.authorId, &item.authorUsername, &item.authorType,
			&item.communityId, &item.communityName, &item.category, &item.isSolved,
			&item.score, &item.commentCount, &item.createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: fail to scan feed post %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: fail to iterate feed %w", err)
	}
	return items, nil
}

// vote toggles the user's vote: the same type twice removes it, the other type
// switches it. It returns the post's score after the change.
func (repo *RepositoryImpl) vote(ctx context.Context, userId, postId, voteType string, createdAt int64) (int, error) {
	var score int
	err := database.WithTx(ctx, repo.DB, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(
			ctx,
			"SELECT type FROM post_votes WHERE user_id = ? AND post_id = ? FOR UPDATE",
			userId, postId,
		).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(
				ctx,
				"INSERT INTO post_votes (user_id, post_id, type, created_at) VALUES (?,?,?,?)",
				userId, postId, voteType, createdAt,
			)
		case err != nil:
			return fmt.Errorf("repository: fail to get current vote %w", err)
		case current == voteType:
			_, err = tx.ExecContext(
				ctx,
				"DELETE FROM post_votes WHERE user_id = ? AND post_id = ?",
				userId, postId,
			)
		default:
			_, err = tx.ExecContext(
				ctx,
				"UPDATE post_votes SET type = ?, created_at = ? WHERE user_id = ? AND post_id = ?",
				voteType, createdAt, userId, postId,
			)
		}
		if err != nil {
			return fmt.Errorf("repository: fail to store vote %w", err)
		}

		err = tx.QueryRowContext(
			ctx,
			"SELECT COALESCE(SUM(CASE WHEN type = 'UP' THEN 1 ELSE -1 END), 0) FROM post_votes WHERE post_id = ?",
			postId,
		).Scan(&score)
		if err != nil {
			return fmt.Errorf("repository: fail to count votes %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

// commentAuthor returns the author of commentId when the comment belongs to postId.
func (repo *RepositoryImpl) commentAuthor(ctx context.Context, commentId, postId string) (sql.NullString, error) {
	var authorId sql.NullString
	err := repo.DB.QueryRowContext(
		ctx,
		"SELECT author_id FROM comments WHERE id = ? AND post_id = ?",
		commentId, postId,
	).Scan(&authorId)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return sql.NullString{}, fmt.Errorf("repository: fail to get solving comment %w", err)
	}
	return authorId, nil
}

func (repo *RepositoryImpl) solve(ctx context.Context, data solution) error {
	_, err := repo.DB.ExecContext(
		ctx,
		`UPDATE posts
		SET is_solved = TRUE, solved_at = ?, solved_by_id = ?, solving_comment_id = ?, solution_summary = ?, updated_at = ?
		WHERE id = ?`,
		data.solvedAt, data.solvedById, data.solvingCommentId, data.solutionSummary, data.solvedAt, data.postId,
	)
	if err != nil {
		return fmt.Errorf("repository: fail to mark post solved %w", err)
	}
	return nil
}

func (repo *RepositoryImpl) unsolve(ctx context.Context, postId string, updatedAt int64) error {
	_, err := repo.DB.ExecContext(
		ctx,
		`UPDATE posts
		SET is_solved = FALSE, solved_at = NULL, solved_by_id = NULL, solving_comment_id = NULL, solution_summary = NULL, updated_at = ?
		WHERE id = ?`,
		updatedAt, postId,
	)
	if err != nil {
		return fmt.Errorf("repository: fail to mark post unsolved %w", err)
	}
	return nil
}

func (repo *RepositoryImpl) takeDown(ctx context.Context, postId string, updatedAt int64) error {
	result, err := repo.DB.ExecContext(
		ctx,
		"UPDATE posts SET status = ?, updated_at = ? WHERE id = ?",
		POST_STATUS_TAKE_DOWN, updatedAt, postId,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to take down post %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to get rows affected %w", err)
	}
	if rowsAffected == 0 {
		return apperror.New(http.StatusBadRequest, "failed to take down post, post id not found", nil)
	}
	return nil
}

func (repo *RepositoryImpl) leaderboard(ctx context.Context, generalForum string) (leaderboard, error) {
	rows, err := repo.DB.QueryContext(
		ctx,
		`
		SELECT u.id, u.username, COUNT(p.id) AS solved_count
		FROM posts p
		JOIN users u
		ON p.solved_by_id = u.id
		WHERE p.is_solved = TRUE AND p.status = 'published'
		GROUP BY u.id, u.username
		ORDER BY solved_count DESC, u.username ASC
		LIMIT ?
		`,
		LEADERBOARD_SIZE,
	)
	if err != nil {
		return leaderboard{}, fmt.Errorf("repository: fail to get leaderboard %w", err)
	}
	defer rows.Close()

	board := leaderboard{leaders: []leader{}}
	for rows.Next() {
		l := leader{}
		if err := rows.Scan(&l.userId, &l.username, &l.solvedCount); err != nil {
			return leaderboard{}, fmt.Errorf("repository: fail to scan leader %w", err)
		}
		board.leaders = append(board.leaders, l)
	}
	if err := rows.Err(); err != nil {
		return leaderboard{}, fmt.Errorf("repository: fail to iterate leaderboard %w", err)
	}

	err = repo.DB.QueryRowContext(
		ctx,
		`
		SELECT
			COALESCE(SUM(CASE WHEN p.is_solved THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN p.is_solved THEN 0 ELSE 1 END), 0)
		FROM posts p
		JOIN communities c
		ON p.community_id = c.id
		WHERE c.name = ? AND p.status = 'published'
		`,
		generalForum,
	).Scan(&board.solved, &board.unsolved)
	if err != nil {
		return leaderboard{}, fmt.Errorf("repository: fail to count general forum posts %w", err)
	}
	return board, nil
}
