package admin

import (
	"context"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
)

func TestRepositoryImpl_approve(t *testing.T) {
	tests := []struct {
		name      string
		exemption bool
		expect    func(mock sqlmock.Sqlmock)
	}{
		{
			name:      "paid member keeps a suspended subscription",
			exemption: true,
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE users\\s+SET user_type = \\?, mentor_exemption_active = TRUE").
					WithArgs(user.TYPE_MENTOR, int64(500), user.SUBSCRIPTION_SUSPENDED, "user-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "free member is promoted",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE users SET user_type = \\? WHERE id = \\?").
					WithArgs(user.TYPE_MENTOR, "user-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			repo := NewRepository(db)

			mock.ExpectBegin()
			mock.ExpectExec("UPDATE mentor_applications SET status = \\?, updated_at = \\? WHERE id = \\? AND status = 'PENDING'").
				WithArgs(APPLICATION_APPROVED, int64(500), "app-1").
				WillReturnResult(sqlmock.NewResult(0, 1))
			tt.expect(mock)
			mock.ExpectCommit()

			err = repo.approve(context.Background(), approval{
				applicationId: "app-1",
				userId:        "user-1",
				exemption:     tt.exemption,
				reviewedAt:    500,
			})
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepositoryImpl_approveAlreadyReviewed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE mentor_applications SET status").
		WithArgs(APPLICATION_APPROVED, int64(500), "app-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = repo.approve(context.Background(), approval{applicationId: "app-1", userId: "user-1", reviewedAt: 500})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.Code)
	assert.Equal(t, "Application is not pending", appErr.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryImpl_rejectReturnsAttempt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE mentor_applications SET status").
		WithArgs(APPLICATION_REJECTED, int64(700), "app-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET mentor_applications_left = mentor_applications_left \\+ 1").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.reject(context.Background(), rejection{applicationId: "app-1", userId: "user-1", returnAttempt: true, reviewedAt: 700})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryImpl_demoteCleansUp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users\\s+SET user_type = \\?").
		WithArgs(user.TYPE_FREE, user.SUBSCRIPTION_SUSPENDED, user.SUBSCRIPTION_INACTIVE, "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE cs FROM community_subscriptions").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE m FROM messages").
		WithArgs("user-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM dm_threads").
		WithArgs("user-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.demote(context.Background(), "user-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
