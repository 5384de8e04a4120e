package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	DUPLICATE_CONSTRAINT_ERROR = 1062
)

func OpenDBConnection(ctx context.Context, logger *slog.Logger, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "DB_CONNECTION_ERR", slog.Any("details", err))
		return nil, fmt.Errorf("database: fail to open connection %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "DB_CONNECTION_ERR", slog.Any("details", err))
		db.Close()
		return nil, fmt.Errorf("database: ping failed %w", err)
	}
	return db, nil
}

// Migrate applies every pending migration. It opens its own connection because
// the migration files hold more than one statement each.
func Migrate(logger *slog.Logger, dsn string) error {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("database: invalid dsn %w", err)
	}
	cfg.MultiStatements = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return fmt.Errorf("database: fail to open migration connection %w", err)
	}
	defer db.Close()

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("database: fail to read migrations %w", err)
	}
	driver, err := migratemysql.WithInstance(db, &migratemysql.Config{})
	if err != nil {
		return fmt.Errorf("database: fail to create migration driver %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "mysql", driver)
	if err != nil {
		return fmt.Errorf("database: fail to create migrator %w", err)
	}
	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("DB_MIGRATION", slog.String("result", "no change"))
		return nil
	}
	if err != nil {
		return fmt.Errorf("database: migration failed %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Info("DB_MIGRATION", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}

// IsDuplicate reports whether err is a unique key violation.
func IsDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == DUPLICATE_CONSTRAINT_ERROR
}

// WithTx runs fn inside a transaction, rolling back on error or panic.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("repository: transaction begin error: %w", err)
	}
	defer func() {
		// handle panic in extreamely rare case condition e.g driver fails
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("repository: failed to commit transaction: %w", err)
	}
	return nil
}
