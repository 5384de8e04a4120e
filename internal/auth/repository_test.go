package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"golang.org/x/crypto/bcrypt"
)

func newLoginFixture(t *testing.T) (*ServiceImpl, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := NewUserRepository(slog.New(slog.NewTextHandler(io.Discard, nil)), db)
	return NewUserService(repo, apperror.NewValidator(), testOptions), mock
}

func expectUserByEmail(t *testing.T, mock sqlmock.Sqlmock) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT id, fullname, password, email, username, user_type, role FROM users WHERE email = \\?").
		WithArgs("test@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fullname", "password", "email", "username", "user_type", "role"}).
			AddRow("user-id", "Test User", string(hashedPassword), "test@example.com", nil, "FREE", "USER"))
}

func TestLogin_wrongPasswordStoresNoSession(t *testing.T) {
	service, mock := newLoginFixture(t)
	expectUserByEmail(t, mock)

	resp, err := service.login(context.Background(), loginRequest{
		Email:    "test@example.com",
		Password: "not the password",
	})
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "email or password is incorrect", resp.Error.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_correctPasswordStoresSession(t *testing.T) {
	service, mock := newLoginFixture(t)
	expectUserByEmail(t, mock)
	mock.ExpectExec("INSERT INTO authentication").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "user-id").
		WillReturnResult(sqlmock.NewResult(1, 1))

	resp, err := service.login(context.Background(), loginRequest{
		Email:    "test@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, resp.Data.RefreshToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}
