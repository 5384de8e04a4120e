package user

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

func TestRepositoryImpl_updateAccount_downgradeRunsCleanup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)
	free := TYPE_FREE

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_type FROM users WHERE id = ? FOR UPDATE")).
		WithArgs("user-id").
		WillReturnRows(sqlmock.NewRows([]string{"user_type"}).AddRow(TYPE_PAID))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET user_type = ? WHERE id = ?")).
		WithArgs(TYPE_FREE, "user-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE cs FROM community_subscriptions").
		WithArgs("user-id").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE m FROM messages").
		WithArgs("user-id", "user-id").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM dm_threads WHERE user_a_id = ? OR user_b_id = ?")).
		WithArgs("user-id", "user-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, user_type, image FROM users WHERE id = ?")).
		WithArgs("user-id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "user_type", "image"}).AddRow("user-id", nil, TYPE_FREE, nil))
	mock.ExpectCommit()

	u, err := repo.updateAccount(context.Background(), accountUpdate{userId: "user-id", userType: &free})
	require.NoError(t, err)
	assert.Equal(t, TYPE_FREE, u.userType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryImpl_updateAccount_freeUserSkipsCleanup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)
	free := TYPE_FREE

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_type FROM users").
		WithArgs("user-id").
		WillReturnRows(sqlmock.NewRows([]string{"user_type"}).AddRow(TYPE_FREE))
	mock.ExpectExec("UPDATE users SET user_type").
		WithArgs(TYPE_FREE, "user-id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, username, user_type, image FROM users").
		WithArgs("user-id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "user_type", "image"}).AddRow("user-id", "name", TYPE_FREE, nil))
	mock.ExpectCommit()

	_, err = repo.updateAccount(context.Background(), accountUpdate{userId: "user-id", userType: &free})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryImpl_updateAccount_usernameTaken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)
	name := "taken"

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_type FROM users").
		WithArgs("user-id").
		WillReturnRows(sqlmock.NewRows([]string{"user_type"}).AddRow(TYPE_FREE))
	mock.ExpectExec("UPDATE users SET username").
		WithArgs("taken", "user-id").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	_, err = repo.updateAccount(context.Background(), accountUpdate{userId: "user-id", username: &name})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusConflict, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
