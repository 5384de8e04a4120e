package poll

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/database"
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

type poll struct {
	id               string
	postId           string
	question         string
	endsAt           sql.NullInt64
	communityPrivate bool
}

type vote struct {
	pollId    string
	voterId   string
	optionId  string
	createdAt int64
}

type OptionResult struct {
	Id    string `json:"id"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

type Results struct {
	PollId         string         `json:"poll_id"`
	Question       string         `json:"question"`
	EndsAt         *int64         `json:"ends_at,omitempty"`
	Ended          bool           `json:"ended"`
	Options        []OptionResult `json:"options"`
	TotalVotes     int            `json:"total_votes"`
	ViewerOptionId string         `json:"viewer_option_id,omitempty"`
}

func (p poll) ended(now time.Time) bool {
	return p.endsAt.Valid && now.Unix() >= p.endsAt.Int64
}

func (repo *RepositoryImpl) userType(ctx context.Context, userId string) (string, error) {
	return user.LookupType(ctx, repo.DB, userId)
}

func (repo *RepositoryImpl) findPoll(ctx context.Context, pollId string) (poll, error) {
	p := poll{}
	err := repo.DB.QueryRowContext(
		ctx,
		`
		SELECT pl.id, pl.post_id, pl.question, pl.ends_at, c.is_private
		FROM polls pl
		JOIN posts p
		ON pl.post_id = p.id
		JOIN communities c
		ON p.community_id = c.id
		WHERE pl.id = ?
		`,
		pollId,
	).Scan(&p.id, &p.postId, &p.question, &p.endsAt, &p.communityPrivate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return poll{}, apperror.New(http.StatusNotFound, "Poll not found", err)
		}
		return poll{}, fmt.Errorf("repository: fail to get poll %w", err)
	}
	return p, nil
}

func (repo *RepositoryImpl) optionBelongs(ctx context.Context, optionId, pollId string) (bool, error) {
	var exists bool
	err := repo.DB.QueryRowContext(
		ctx,
		"SELECT EXISTS(SELECT 1 FROM poll_options WHERE id = ? AND poll_id = ?)",
		optionId, pollId,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository: fail to check poll option %w", err)
	}
	return exists, nil
}

func (repo *RepositoryImpl) hasVoted(ctx context.Context, pollId, voterId string) (bool, error) {
	var exists bool
	err := repo.DB.QueryRowContext(
		ctx,
		"SELECT EXISTS(SELECT 1 FROM poll_votes WHERE poll_id = ? AND voter_id = ?)",
		pollId, voterId,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository: fail to check poll vote %w", err)
	}
	return exists, nil
}

// vote relies on the (poll_id, voter_id) primary key so concurrent votes
// from the same user cannot both land.
func (repo *RepositoryImpl) vote(ctx context.Context, data vote) error {
	_, err := repo.DB.ExecContext(
		ctx,
		"INSERT INTO poll_votes (poll_id, voter_id, option_id, created_at) VALUES (?,?,?,?)",
		data.pollId, data.voterId, data.optionId, data.createdAt,
	)
	if err != nil {
		if database.IsDuplicate(err) {
			return apperror.New(http.StatusBadRequest, "Already voted", err)
		}
		return fmt.Errorf("repository: fail to store poll vote %w", err)
	}
	return nil
}

func (repo *RepositoryImpl) results(ctx context.Context, p poll, viewerId string) (Results, error) {
	rows, err := repo.DB.QueryContext(
		ctx,
		`
		SELECT o.id, o.text, COUNT(v.voter_id) AS votes
		FROM poll_options o
		LEFT JOIN poll_votes v
		ON v.option_id = o.id
		WHERE o.poll_id = ?
		GROUP BY o.id, o.text, o.position
		ORDER BY o.position ASC
		`,
		p.id,
	)
	if err != nil {
		return Results{}, fmt.Errorf("repository: fail to count poll votes %w", err)
	}
	defer rows.Close()

	result := Results{
		PollId:   p.id,
		Question: p.question,
		Ended:    p.ended(time.Now()),
		Options:  []OptionResult{},
	}
	if p.endsAt.Valid {
		endsAt := p.endsAt.Int64
		result.EndsAt = &endsAt
	}
	for rows.Next() {
		o := OptionResult{}
		if err := rows.Scan(&o.Id, &o.Text, &o.Votes); err != nil {
			return Results{}, fmt.Errorf("repository: fail to scan poll option %w", err)
		}
		result.TotalVotes += o.Votes
		result.Options = append(result.Options, o)
	}
	if err := rows.Err(); err != nil {
		return Results{}, fmt.Errorf("repository: fail to iterate poll options %w", err)
	}

	if viewerId != "" {
		var optionId string
		err := repo.DB.QueryRowContext(
			ctx,
			"SELECT option_id FROM poll_votes WHERE poll_id = ? AND voter_id = ?",
			p.id, viewerId,
		).Scan(&optionId)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return Results{}, fmt.Errorf("repository: fail to get viewer poll vote %w", err)
		}
		result.ViewerOptionId = optionId
	}
	return result, nil
}

// ResultsByPost returns nil when the post has no poll.
func (repo *RepositoryImpl) ResultsByPost(ctx context.Context, postId, viewerId string) (*Results, error) {
	p := poll{}
	err := repo.DB.QueryRowContext(
		ctx,
		"SELECT id, post_id, question, ends_at FROM polls WHERE post_id = ?",
		postId,
	).Scan(&p.id, &p.postId, &p.question, &p.endsAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: fail to get post poll %w", err)
	}
	result, err := repo.results(ctx, p, viewerId)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
