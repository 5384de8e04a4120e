package mentor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
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
	STATUS_PENDING  = "PENDING"
	STATUS_APPROVED = "APPROVED"
	STATUS_REJECTED = "REJECTED"

	DIRECTORY_LIMIT = 50
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
}

type mentorEntry struct {
	userId    string
	username  sql.NullString
	fullname  string
	image     sql.NullString
	age       sql.NullInt64
	profileId sql.NullString
	bio       sql.NullString
	tags      []string
}

type profileUpdate struct {
	userId    string
	bio       sql.NullString
	tags      []string
	name      *string
	age       *int
	updatedAt int64
}

func (repo *RepositoryImpl) userType(ctx context.Context, userId string) (string, error) {
	return user.LookupType(ctx, repo.DB, userId)
}

func (repo *RepositoryImpl) attemptsLeft(ctx context.Context, userId string) (int, error) {
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

func (repo *RepositoryImpl) hasPending(ctx context.Context, userId string) (bool, error) {
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

// apply spends one attempt and stores the application together. The
// decrement only matches while attempts remain so the counter never goes
// negative, and it locks the user row so concurrent applies run one at a time.
func (repo *RepositoryImpl) apply(ctx context.Context, data application) error {
	return database.WithTx(ctx, repo.DB, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(
			ctx,
			"UPDATE users SET mentor_applications_left = mentor_applications_left - 1 WHERE id = ? AND mentor_applications_left > 0",
			data.userId,
		)
		if err != nil {
			return fmt.Errorf("repository: fail to spend application attempt %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("repository: failed to get rows affected %w", err)
		}
		if rowsAffected == 0 {
			return apperror.New(http.StatusBadRequest, "No application attempts remaining", nil)
		}

		var pending bool
		err = tx.QueryRowContext(
			ctx,
			"SELECT EXISTS(SELECT 1 FROM mentor_applications WHERE user_id = ? AND status = 'PENDING')",
			data.userId,
		).Scan(&pending)
		if err != nil {
			return fmt.Errorf("repository: fail to check pending application %w", err)
		}
		if pending {
			return apperror.New(http.StatusBadRequest, "You already have a pending application", nil)
		}

		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO mentor_applications
			(id, user_id, name, age, experience, motivation, revenue, business_explanation, status, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			data.id, data.userId, data.name, data.age, data.experience, data.motivation, data.revenue,
			data.businessExplanation, STATUS_PENDING, data.createdAt, data.createdAt,
		)
		if err != nil {
			return fmt.Errorf("repository: fail to store mentor application %w", err)
		}
		return nil
	})
}

const entryColumns = `u.id, u.username, u.fullname, u.image, u.age, mp.id, mp.bio`

func scanEntry(row interface{ Scan(dest ...any) error }) (mentorEntry, error) {
	m := mentorEntry{}
	err := row.Scan(&m.userId, &m.username, &m.fullname, &m.image, &m.age, &m.profileId, &m.bio)
	return m, err
}

func (repo *RepositoryImpl) directory(ctx context.Context, q string) ([]mentorEntry, error) {
	rows, err := repo.DB.QueryContext(
		ctx,
		`
		SELECT `+entryColumns+`
		FROM users u
		LEFT JOIN mentor_profiles mp
		ON mp.user_id = u.id
		WHERE u.user_type = 'MENTOR' AND (
			? = ''
			OR u.username LIKE CONCAT('%', ?, '%')
			OR u.fullname LIKE CONCAT('%', ?, '%')
			OR mp.bio LIKE CONCAT('%', ?, '%')
			OR EXISTS (SELECT 1 FROM mentor_tags mt WHERE mt.mentor_profile_id = mp.id AND mt.tag LIKE CONCAT('%', ?, '%'))
		)
		ORDER BY u.username ASC
		LIMIT ?
		`,
		q, q, q, q, q, DIRECTORY_LIMIT,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: fail to search mentors %w", err)
	}
	defer rows.Close()

	mentors := []mentorEntry{}
	for rows.Next() {
		m, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: fail to scan mentor %w", err)
		}
		mentors = append(mentors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: fail to iterate mentors %w", err)
	}
	if err := repo.attachTags(ctx, mentors); err != nil {
		return nil, err
	}
	return mentors, nil
}

// attachTags loads the tags of every profile in one query.
func (repo *RepositoryImpl) attachTags(ctx context.Context, mentors []mentorEntry) error {
	placeholders := []string{}
	args := []interface{}{}
	index := map[string]int{}
	for i, m := range mentors {
		if !m.profileId.Valid {
			continue
		}
		placeholders = append(placeholders, "?")
		args = append(args, m.profileId.String)
		index[m.profileId.String] = i
		mentors[i].tags = []string{}
	}
	if len(placeholders) == 0 {
		return nil
	}
	rows, err := repo.DB.QueryContext(
		ctx,
		fmt.Sprintf("SELECT mentor_profile_id, tag FROM mentor_tags WHERE mentor_profile_id IN (%s) ORDER BY tag ASC", strings.Join(placeholders, ",")),
		args...,
	)
	if err != nil {
		return fmt.Errorf("repository: fail to get mentor tags %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var profileId, tag string
		if err := rows.Scan(&profileId, &tag); err != nil {
			return fmt.Errorf("repository: fail to scan mentor tag %w", err)
		}
		i := index[profileId]
		mentors[i].tags = append(mentors[i].tags, tag)
	}
	return rows.Err()
}

func (repo *RepositoryImpl) profile(ctx context.Context, userId string) (mentorEntry, error) {
	m, err := scanEntry(repo.DB.QueryRowContext(
		ctx,
		`
		SELECT `+entryColumns+`
		FROM users u
		LEFT JOIN mentor_profiles mp
		ON mp.user_id = u.id
		WHERE u.id = ? AND u.user_type = 'MENTOR'
		`,
		userId,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mentorEntry{}, apperror.New(http.StatusNotFound, "Mentor not found", err)
		}
		return mentorEntry{}, fmt.Errorf("repository: fail to get mentor %w", err)
	}
	mentors := []mentorEntry{m}
	if err := repo.attachTags(ctx, mentors); err != nil {
		return mentorEntry{}, err
	}
	return mentors[0], nil
}

// upsertProfile creates the profile on first use and replaces every tag.
func (repo *RepositoryImpl) upsertProfile(ctx context.Context, data profileUpdate) error {
	return database.WithTx(ctx, repo.DB, func(tx *sql.Tx) error {
		profileId, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("repository: fail to generate profile uuid %w", err)
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO mentor_profiles (id, user_id, bio, created_at, updated_at) VALUES (?,?,?,?,?)
			ON DUPLICATE KEY UPDATE bio = VALUES(bio), updated_at = VALUES(updated_at)`,
			profileId.String(), data.userId, data.bio, data.updatedAt, data.updatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: fail to store mentor profile %w", err)
		}

		var storedId string
		err = tx.QueryRowContext(ctx, "SELECT id FROM mentor_profiles WHERE user_id = ?", data.userId).Scan(&storedId)
		if err != nil {
			return fmt.Errorf("repository: fail to get mentor profile id %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM mentor_tags WHERE mentor_profile_id = ?", storedId); err != nil {
			return fmt.Errorf("repository: fail to clear mentor tags %w", err)
		}
		if len(data.tags) > 0 {
			tagValues := []string{}
			tagArgs := []interface{}{}
			for _, tag := range data.tags {
				tagId, err := uuid.NewV7()
				if err != nil {
					return fmt.Errorf("repository: fail to generate tag uuid %w", err)
				}
				tagValues = append(tagValues, "(?,?,?)")
				tagArgs = append(tagArgs, tagId.String(), storedId, tag)
			}
			_, err = tx.ExecContext(
				ctx,
				fmt.Sprintf("INSERT INTO mentor_tags (id, mentor_profile_id, tag) VALUES %s", strings.Join(tagValues, ",")),
				tagArgs...,
			)
			if err != nil {
				return fmt.Errorf("repository: fail to add mentor tags %w", err)
			}
		}

		if data.name != nil {
			if _, err := tx.ExecContext(ctx, "UPDATE users SET fullname = ? WHERE id = ?", *data.name, data.userId); err != nil {
				return fmt.Errorf("repository: fail to update mentor name %w", err)
			}
		}
		if data.age != nil {
			if _, err := tx.ExecContext(ctx, "UPDATE users SET age = ? WHERE id = ?", *data.age, data.userId); err != nil {
				return fmt.Errorf("repository: fail to update mentor age %w", err)
			}
		}
		return nil
	})
}
