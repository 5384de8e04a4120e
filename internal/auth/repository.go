package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/database"
)

type (
	RepositoryImpl struct {
		*slog.Logger
		*sql.DB
	}

	// these data is populated by system
	authentication struct {
		id           string
		refreshToken string
		lastLogin    int64
		remoteIP     string
		agent        string
		userId       string
	}

	account struct {
		id                     string
		fullname               string
		email                  string
		username               sql.NullString
		password               string
		userType               string
		role                   string
		mentorApplicationsLeft int
		createdAt              int64
	}
)

func NewUserRepository(logger *slog.Logger, db *sql.DB) *RepositoryImpl {
	return &RepositoryImpl{
		Logger: logger,
		DB:     db,
	}
}

func (repo *RepositoryImpl) findRefreshToken(ctx context.Context, token string) (account, error) {
	a := account{}
	err := repo.QueryRowContext(
		ctx,
		`
		SELECT u.id, u.email, u.fullname, u.username, u.user_type, u.role
		FROM authentication AS a
		JOIN users AS u
		ON a.user_id = u.id
		WHERE a.refresh_token = ?
		`,
		token,
	).Scan(&a.id, &a.email, &a.fullname, &a.username, &a.userType, &a.role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account{}, apperror.New(http.StatusUnauthorized, "refresh token lookup not found", err)
		}
		return account{}, fmt.Errorf("repository: db query scan failed, %w", err)
	}
	return a, nil
}

func (repo *RepositoryImpl) findByEmail(ctx context.Context, email string) (account, error) {
	a := account{}
	err := repo.QueryRowContext(
		ctx,
		"SELECT id, fullname, password, email, username, user_type, role FROM users WHERE email = ?",
		email,
	).Scan(&a.id, &a.fullname, &a.password, &a.email, &a.username, &a.userType, &a.role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// we use apperror to make it easier to directly handle this case
			return account{}, apperror.New(http.StatusBadRequest, "email or password is incorrect", err)
		}
		return account{}, fmt.Errorf("repository: db query scan failed, %w", err)
	}
	return a, nil
}

// createSession stores the refresh token of a verified login.
func (repo *RepositoryImpl) createSession(ctx context.Context, userId string, auth authentication) error {
	_, err := repo.ExecContext(
		ctx,
		"INSERT INTO authentication (id, refresh_token, last_login, remote_ip, agent, user_id) VALUES(?,?,?,?,?,?)",
		auth.id,
		auth.refreshToken,
		auth.lastLogin,
		auth.remoteIP,
		auth.agent,
		userId,
	)
	if err != nil {
		return fmt.Errorf("repository: insert new user auth credentials failed %w", err)
	}
	return nil
}

// register creates the user, its first session and the subscription to the
// default community when that community exists.
func (repo *RepositoryImpl) register(ctx context.Context, newUser account, auth authentication, defaultCommunity string) (account, error) {
	err := database.WithTx(ctx, repo.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			"INSERT INTO users (id, fullname, email, password, mentor_applications_left, created_at) VALUES (?,?,?,?,?,?)",
			newUser.id,
			newUser.fullname,
			newUser.email,
			newUser.password,
			newUser.mentorApplicationsLeft,
			newUser.createdAt,
		)
		if err != nil {
			if database.IsDuplicate(err) {
				return apperror.New(http.StatusBadRequest, "this email is already registered, please try signin instead", err)
			}
			return fmt.Errorf("repository: insert new user fail: %w", err)
		}
		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO authentication (id, refresh_token, last_login, remote_ip, agent, user_id) VALUES(?,?,?,?,?,?)",
			auth.id,
			auth.refreshToken,
			auth.lastLogin,
			auth.remoteIP,
			auth.agent,
			newUser.id,
		)
		if err != nil {
			if database.IsDuplicate(err) {
				return apperror.New(http.StatusBadRequest, "fail to process your request, please insert corrrect information and try again", err)
			}
			return fmt.Errorf("repository: insert new user auth credentials failed: %w", err)
		}
		_, err = tx.ExecContext(
			ctx,
			`
			INSERT IGNORE INTO community_subscriptions (user_id, community_id, created_at)
			SELECT ?, id, ? FROM communities WHERE name = ?
			`,
			newUser.id,
			newUser.createdAt,
			defaultCommunity,
		)
		if err != nil {
			return fmt.Errorf("repository: subscribe new user to default community failed %w", err)
		}
		return nil
	})
	if err != nil {
		return account{}, err
	}
	return newUser, nil
}

func (repo *RepositoryImpl) revokeRefreshToken(ctx context.Context, token string) error {
	_, err := repo.ExecContext(ctx, "DELETE FROM authentication WHERE refresh_token = ?", token)
	if err != nil {
		return fmt.Errorf("repository: revoke refresh token failed %w", err)
	}
	return nil
}
