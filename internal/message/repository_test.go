package message

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
)

func TestRepositoryImpl_sendBumpsThread(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("m-1", "thread-id", "a", "b", "hi", int64(50)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE dm_threads SET updated_at").
		WithArgs(int64(50), "thread-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.send(context.Background(), message{id: "m-1", threadId: "thread-id", senderId: "a", receiverId: "b", content: "hi", createdAt: 50})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryImpl_deleteThreadRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM messages").
		WithArgs("thread-id").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM dm_threads").
		WithArgs("thread-id").
		WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	err = repo.deleteThread(context.Background(), "thread-id")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryImpl_createThreadRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	key := pairKey("a", "b")
	mock.ExpectExec("INSERT INTO dm_threads").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectQuery("SELECT (.+) FROM dm_threads WHERE pair_key").
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_a_id", "user_b_id", "pair_key", "initiator_id", "status", "created_at", "updated_at"}).
			AddRow("winner", "b", "a", key, "b", THREAD_PENDING, 1, 1))

	got, err := repo.createThread(context.Background(), thread{id: "loser", userAId: "a", userBId: "b", pairKey: key, initiatorId: "a", status: THREAD_PENDING})
	require.NoError(t, err)
	assert.Equal(t, "winner", got.id)
	assert.Equal(t, "b", got.initiatorId)
}

func TestRepositoryImpl_setStatus(t *testing.T) {
	tests := []struct {
		name        string
		affected    int64
		expectError bool
	}{
		{name: "pending thread is updated", affected: 1},
		{name: "thread answered concurrently", affected: 0, expectError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			repo := NewRepository(db)

			mock.ExpectExec("UPDATE dm_threads SET status = \\?, updated_at = \\? WHERE id = \\? AND status = \\?").
				WithArgs(THREAD_ACCEPTED, int64(90), "thread-id", THREAD_PENDING).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err = repo.setStatus(context.Background(), "thread-id", THREAD_ACCEPTED, 90)
			assert.NoError(t, mock.ExpectationsWereMet())
			if !tt.expectError {
				require.NoError(t, err)
				return
			}
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, http.StatusNotFound, appErr.Code)
			assert.Equal(t, "No pending request", appErr.Message)
		})
	}
}
