package poll

import (
	"context"
	"net/http"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
)

func TestRepositoryImpl_voteDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectExec("INSERT INTO poll_votes").
		WithArgs("poll-id", "voter-id", "option-id", int64(10)).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err = repo.vote(context.Background(), vote{pollId: "poll-id", voterId: "voter-id", optionId: "option-id", createdAt: 10})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.Code)
	assert.Equal(t, "Already voted", appErr.Message)
}

func TestRepositoryImpl_ResultsByPost(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, post_id, question, ends_at FROM polls WHERE post_id = ?")).
		WithArgs("no-poll").
		WillReturnRows(sqlmock.NewRows([]string{"id", "post_id", "question", "ends_at"}))

	result, err := repo.ResultsByPost(context.Background(), "no-poll", "")
	require.NoError(t, err)
	assert.Nil(t, result)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, post_id, question, ends_at FROM polls WHERE post_id = ?")).
		WithArgs("post-id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "post_id", "question", "ends_at"}).AddRow("poll-id", "post-id", "Which stack?", nil))
	mock.ExpectQuery("SELECT o.id, o.text, COUNT").
		WithArgs("poll-id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "text", "votes"}).
			AddRow("a", "Go", 3).
			AddRow("b", "Rust", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT option_id FROM poll_votes WHERE poll_id = ? AND voter_id = ?")).
		WithArgs("poll-id", "viewer-id").
		WillReturnRows(sqlmock.NewRows([]string{"option_id"}).AddRow("a"))

	result, err = repo.ResultsByPost(context.Background(), "post-id", "viewer-id")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 4, result.TotalVotes)
	assert.Equal(t, "a", result.ViewerOptionId)
	assert.False(t, result.Ended)
	assert.NoError(t, mock.ExpectationsWereMet())
}
