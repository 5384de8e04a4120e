package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/database"
)

type RepositoryImpl struct {
	DB *sql.DB
}

func NewRepository(db *sql.DB) *RepositoryImpl {
	return &RepositoryImpl{
		DB: db,
	}
}

type publicUser struct {
	id       string
	username sql.NullString
	userType string
	image    sql.NullString
}

type accountUpdate struct {
	userId   string
	username *string
	userType *string
}

func scanPublicUser(row *sql.Row) (publicUser, error) {
	u := publicUser{}
	err := row.Scan(&u.id, &u.username, &u.userType, &u.image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return publicUser{}, apperror.New(http.StatusNotFound, "User not found", err)
		}
		return publicUser{}, fmt.Errorf("repository: fail to get user %w", err)
	}
	return u, nil
}

func (repo *RepositoryImpl) getPublic(ctx context.Context, userId string) (publicUser, error) {
	return scanPublicUser(repo.DB.QueryRowContext(
		ctx,
		"SELECT id, username, user_type, image FROM users WHERE id = ?",
		userId,
	))
}

func (repo *RepositoryImpl) updateAccount(ctx context.Context, data accountUpdate) (publicUser, error) {
	updated := publicUser{}
	err := database.WithTx(ctx, repo.DB, func(tx *sql.Tx) error {
		var currentType string
		err := tx.QueryRowContext(
			ctx,
			"SELECT user_type FROM users WHERE id = ? FOR UPDATE",
			data.userId,
		).Scan(&currentType)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.New(http.StatusNotFound, "User not found", err)
			}
			return fmt.Errorf("repository: fail to lock user %w", err)
		}

		if data.username != nil {
			_, err = tx.ExecContext(ctx, "UPDATE users SET username = ? WHERE id = ?", *data.username, data.userId)
			if err != nil {
				if database.IsDuplicate(err) {
					return apperror.New(http.StatusConflict, "Username is already taken", err)
				}
				return fmt.Errorf("repository: fail to update username %w", err)
			}
		}

		if data.userType != nil {
			_, err = tx.ExecContext(ctx, "UPDATE users SET user_type = ? WHERE id = ?", *data.userType, data.userId)
			if err != nil {
				return fmt.Errorf("repository: fail to update user type %w", err)
			}
			if IsPremium(currentType) && *data.userType == TYPE_FREE {
				if err = CleanupDowngrade(ctx, tx, data.userId); err != nil {
					return err
				}
			}
		}

		updated, err = scanPublicUser(tx.QueryRowContext(
			ctx,
			"SELECT id, username, user_type, image FROM users WHERE id = ?",
			data.userId,
		))
		return err
	})
	if err != nil {
		return publicUser{}, err
	}
	return updated, nil
}

func (repo *RepositoryImpl) mentorAttempts(ctx context.Context, userId string) (int, error) {
	var left int
	err := repo.DB.QueryRowContext(
		ctx,
		"SELECT mentor_applications_left FROM users WHERE id = ?",
		userId,
	).Scan(&left)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperror.New(http.StatusNotFound, "User not found", err)
		}
		return 0, fmt.Errorf("repository: fail to get mentor attempts %w", err)
	}
	return left, nil
}

func (repo *RepositoryImpl) hasPendingApplication(ctx context.Context, userId string) (bool, error) {
	var exists bool
	err := repo.DB.QueryRowContext(
		ctx,
		"SELECT EXISTS(SELECT 1 FROM mentor_applications WHERE user_id = ? AND status = 'PENDING')",
		userId,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository: fail to check pending application %w", err)
	}
	return exists, nil
}
