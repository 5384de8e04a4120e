package database

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTx_commit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = WithTx(context.Background(), db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(context.Background(), "UPDATE users SET user_type = ? WHERE id = ?", "FREE", "user-id")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_rollbackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	expected := errors.New("boom")
	err = WithTx(context.Background(), db, func(tx *sql.Tx) error {
		return expected
	})
	assert.ErrorIs(t, err, expected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, IsDuplicate(&mysql.MySQLError{Number: DUPLICATE_CONSTRAINT_ERROR}))
	assert.False(t, IsDuplicate(&mysql.MySQLError{Number: 1452}))
	assert.False(t, IsDuplicate(errors.New("other")))
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationFS, "migrations/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
