package mentor

import (
	"context"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
)

func TestRepositoryImpl_applyWithoutAttemptsRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET mentor_applications_left = mentor_applications_left - 1").
		WithArgs("user-id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = repo.apply(context.Background(), application{id: "app-id", userId: "user-id"})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.Code)
	assert.Equal(t, "No application attempts remaining", appErr.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryImpl_applyStoresApplication(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET mentor_applications_left").
		WithArgs("user-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("user-id").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO mentor_applications").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = repo.apply(context.Background(), application{
		id:                  "app-id",
		userId:              "user-id",
		name:                "Jane",
		age:                 30,
		experience:          "ten years of it",
		motivation:          "give something back",
		revenue:             "$10k MRR",
		businessExplanation: "agency tooling company",
		createdAt:           10,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryImpl_applyWithPendingRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET mentor_applications_left").
		WithArgs("user-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("user-id").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err = repo.apply(context.Background(), application{id: "app-id", userId: "user-id"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
