package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/database"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
)

type RepositoryImpl struct {
	DB *sql.DB
}

func NewRepository(db *sql.DB) *RepositoryImpl {
	return &RepositoryImpl{
		DB: db,
	}
}

const (
	APPLICATION_PENDING  = "PENDING"
	APPLICATION_APPROVED = "APPROVED"
	APPLICATION_REJECTED = "REJECTED"
)

type application struct {
	id                  string
	userId              string
	name                string
	age                 int
	experience          string
	motivation          string
	revenue             string
	businessExplanation string
	status              string
	createdAt           int64
	updatedAt           int64
	username            sql.NullString
	email               string
	userType            string
	attemptsLeft        int
}

type currentMentor struct {
	userId          string
	username        sql.NullString
	email           string
	applicationId   string
	applicationName string
	approvedAt      int64
}

type approval struct {
	applicationId string
	userId        string
	exemption     bool
	reviewedAt    int64
}

type rejection struct {
	applicationId string
	userId        string
	returnAttempt bool
	reviewedAt    int64
}

func (repo *RepositoryImpl) loadUser(ctx context.Context, userId string) (user.User, error) {
	return user.Load(ctx, repo.DB, userId)
}

func (repo *RepositoryImpl) listApplications(ctx context.Context) ([]application, error) {
	rows, err := repo.DB.QueryContext(
		ctx,
		`
		SELECT a.id, a.user_id, a.name, a.age, a.experience, a.motivation, a.revenue, a.business_explanation,
			a.status, a.created_at, a.updated_at, u.username, u.email, u.user_type, u.mentor_applications_left
		FROM mentor_applications a
		JOIN users u
		ON a.user_id = u.id
		ORDER BY a.created_at DESC
		`,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: fail to list mentor applications %w", err)
	}
	defer rows.Close()

	applications := []application{}
	for rows.Next() {
		a := application{}
		err := rows.Scan(
			&a.id, &a.userId, &a.name, &a.age, &a.experience, &a.motivation, &a.revenue, &a.businessExplanation,
			&a.status, &a.createdAt, &a.updatedAt, &a.username, &a.email, &a.userType, &a.attemptsLeft,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: fail to scan mentor application %w", err)
		}
		applications = append(applications, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: fail to iterate mentor applications %w", err)
	}
	return applications, nil
}

func (repo *RepositoryImpl) findApplication(ctx context.Context, applicationId string) (application, error) {
	a := application{}
	err := repo.DB.QueryRowContext(
		ctx,
		"SELECT id, user_id, status FROM mentor_applications WHERE id = ?",
		applicationId,
	).Scan(&a.id, &a.userId, &a.status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return application{}, apperror.New(http.StatusNotFound, "Application not found", err)
		}
		return application{}, fmt.Errorf("repository: fail to get mentor application %w", err)
	}
	return a, nil
}

// closeApplication moves a pending application to status. It fails when
// another reviewer got there first.
func closeApplication(ctx context.Context, tx *sql.Tx, applicationId, status string, reviewedAt int64) error {
	result, err := tx.ExecContext(
		ctx,
		"UPDATE mentor_applications SET status = ?, updated_at = ? WHERE id = ? AND status = 'PENDING'",
		status, reviewedAt, applicationId,
	)
	if err != nil {
		return fmt.Errorf("repository: fail to review mentor application %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to get rows affected %w", err)
	}
	if rowsAffected == 0 {
		return apperror.New(http.StatusBadRequest, "Application is not pending", nil)
	}
	return nil
}

// approve promotes the applicant. With exemption the paused paid
// subscription is recorded as suspended.
func (repo *RepositoryImpl) approve(ctx context.Context, data approval) error {
	return database.WithTx(ctx, repo.DB, func(tx *sql.Tx) error {
		if err := closeApplication(ctx, tx, data.applicationId, APPLICATION_APPROVED, data.reviewedAt); err != nil {
			return err
		}
		var err error
		if data.exemption {
			_, err = tx.ExecContext(
				ctx,
				`UPDATE users
				SET user_type = ?, mentor_exemption_active = TRUE, mentor_exemption_start_date = ?, subscription_status = ?
				WHERE id = ?`,
				user.TYPE_MENTOR, data.reviewedAt, user.SUBSCRIPTION_SUSPENDED, data.userId,
			)
		} else {
			_, err = tx.ExecContext(
				ctx,
				"UPDATE users SET user_type = ? WHERE id = ?",
				user.TYPE_MENTOR, data.userId,
			)
		}
		if err != nil {
			return fmt.Errorf("repository: fail to promote mentor %w", err)
		}
		return nil
	})
}

func (repo *RepositoryImpl) reject(ctx context.Context, data rejection) error {
	return database.WithTx(ctx, repo.DB, func(tx *sql.Tx) error {
		if err := closeApplication(ctx, tx, data.applicationId, APPLICATION_REJECTED, data.reviewedAt); err != nil {
			return err
		}
		if !data.returnAttempt {
			return nil
		}
		_, err := tx.ExecContext(
			ctx,
			"UPDATE users SET mentor_applications_left = mentor_applications_left + 1 WHERE id = ?",
			data.userId,
		)
		if err != nil {
			return fmt.Errorf("repository: fail to return application attempt %w", err)
		}
		return nil
	})
}

func (repo *RepositoryImpl) currentMentors(ctx context.Context) ([]currentMentor, error) {
	rows, err := repo.DB.QueryContext(
		ctx,
		`
		SELECT u.id, u.username, u.email, a.id, a.name, a.updated_at
		FROM users u
		JOIN mentor_applications a
		ON a.id = (
			SELECT la.id FROM mentor_applications la
			WHERE la.user_id = u.id AND la.status = 'APPROVED'
			ORDER BY la.updated_at DESC
			LIMIT 1
		)
		WHERE u.user_type = 'MENTOR'
		ORDER BY a.updated_at DESC
		`,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: fail to list current mentors %w", err)
	}
	defer rows.Close()

	mentors := []currentMentor{}
	for rows.Next() {
		m := currentMentor{}
		if err := rows.Scan(&m.userId, &m.username, &m.email, &m.applicationId, &m.applicationName, &m.approvedAt); err != nil {
			return nil, fmt.Errorf("repository: fail to scan current mentor %w", err)
		}
		mentors = append(mentors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: fail to iterate current mentors %w", err)
	}
	return mentors, nil
}

// restorePaid ends a mentor exemption whose subscription was resumed.
func (repo *RepositoryImpl) restorePaid(ctx context.Context, userId string) error {
	_, err := repo.DB.ExecContext(
		ctx,
		`UPDATE users
		SET user_type = ?, subscription_status = ?, mentor_exemption_active = FALSE, mentor_exemption_start_date = NULL
		WHERE id = ?`,
		user.TYPE_PAID, user.SUBSCRIPTION_ACTIVE, userId,
	)
	if err != nil {
		return fmt.Errorf("repository: fail to restore paid member %w", err)
	}
	return nil
}

// demote turns a mentor into a FREE user and runs the downgrade cleanup.
func (repo *RepositoryImpl) demote(ctx context.Context, userId string) error {
	return database.WithTx(ctx, repo.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			`UPDATE users
			SET user_type = ?,
				mentor_exemption_active = FALSE,
				mentor_exemption_start_date = NULL,
				subscription_status = CASE WHEN subscription_status = ? THEN ? ELSE subscription_status END
			WHERE id = ?`,
			user.TYPE_FREE, user.SUBSCRIPTION_SUSPENDED, user.SUBSCRIPTION_INACTIVE, userId,
		)
		if err != nil {
			return fmt.Errorf("repository: fail to demote mentor %w", err)
		}
		return user.CleanupDowngrade(ctx, tx, userId)
	})
}

func (repo *RepositoryImpl) setRole(ctx context.Context, userId, role string) error {
	_, err := repo.DB.ExecContext(ctx, "UPDATE users SET role = ? WHERE id = ?", role, userId)
	if err != nil {
		return fmt.Errorf("repository: fail to update user role %w", err)
	}
	return nil
}
