package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
)

// feature tier, independent from the moderation role
const (
	TYPE_FREE   = "FREE"
	TYPE_PAID   = "PAID"
	TYPE_MENTOR = "MENTOR"
)

const (
	SUBSCRIPTION_INACTIVE  = "INACTIVE"
	SUBSCRIPTION_ACTIVE    = "ACTIVE"
	SUBSCRIPTION_PAST_DUE  = "PAST_DUE"
	SUBSCRIPTION_CANCELED  = "CANCELED"
	SUBSCRIPTION_SUSPENDED = "SUSPENDED"
)

type User struct {
	Id                       string
	Username                 sql.NullString
	Fullname                 string
	Email                    string
	Password                 string
	Image                    sql.NullString
	Age                      sql.NullInt64
	UserType                 string
	Role                     string
	MentorApplicationsLeft   int
	StripeCustomerId         sql.NullString
	StripeSubscriptionId     sql.NullString
	SubscriptionStatus       string
	MentorExemptionActive    bool
	MentorExemptionStartDate sql.NullInt64
	CreatedAt                int64
}

func IsPremium(userType string) bool {
	return userType == TYPE_PAID || userType == TYPE_MENTOR
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LookupType reads the stored userType. Feature gates use it instead of the
// token claim, which can be up to one access token lifetime stale.
func LookupType(ctx context.Context, q queryer, userId string) (string, error) {
	var userType string
	err := q.QueryRowContext(ctx, "SELECT user_type FROM users WHERE id = ?", userId).Scan(&userType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperror.New(http.StatusNotFound, "user not found", err)
		}
		return "", fmt.Errorf("repository: user type lookup failed %w", err)
	}
	return userType, nil
}

// CleanupDowngrade removes what a FREE user is not allowed to keep: subscriptions
// to private communities and every DM thread the user takes part in.
func CleanupDowngrade(ctx context.Context, tx *sql.Tx, userId string) error {
	_, err := tx.ExecContext(
		ctx,
		`
		DELETE cs FROM community_subscriptions cs
		JOIN communities c
		ON cs.community_id = c.id
		WHERE cs.user_id = ? AND c.is_private = TRUE
		`,
		userId,
	)
	if err != nil {
		return fmt.Errorf("repository: fail to remove private community subscriptions %w", err)
	}
	_, err = tx.ExecContext(
		ctx,
		`
		DELETE m FROM messages m
		JOIN dm_threads t
		ON m.thread_id = t.id
		WHERE t.user_a_id = ? OR t.user_b_id = ?
		`,
		userId, userId,
	)
	if err != nil {
		return fmt.Errorf("repository: fail to remove direct messages %w", err)
	}
	_, err = tx.ExecContext(
		ctx,
		"DELETE FROM dm_threads WHERE user_a_id = ? OR user_b_id = ?",
		userId, userId,
	)
	if err != nil {
		return fmt.Errorf("repository: fail to remove direct message threads %w", err)
	}
	return nil
}

const userColumns = `id, username, fullname, email, password, image, age, user_type, role,
	mentor_applications_left, stripe_customer_id, stripe_subscription_id, subscription_status,
	mentor_exemption_active, mentor_exemption_start_date, created_at`

func scanUser(row *sql.Row) (User, error) {
	u := User{}
	err := row.Scan(
		&u.Id, &u.Username, &u.Fullname, &u.Email, &u.Password, &u.Image, &u.Age, &u.UserType, &u.Role,
		&u.MentorApplicationsLeft, &u.StripeCustomerId, &u.StripeSubscriptionId, &u.SubscriptionStatus,
		&u.MentorExemptionActive, &u.MentorExemptionStartDate, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, apperror.New(http.StatusNotFound, "User not found", err)
		}
		return User{}, fmt.Errorf("repository: fail to load user %w", err)
	}
	return u, nil
}

// Load reads the full user row, 404 when absent.
func Load(ctx context.Context, q queryer, userId string) (User, error) {
	return scanUser(q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", userId))
}

// LoadForUpdate locks the user row for the rest of tx.
func LoadForUpdate(ctx context.Context, tx *sql.Tx, userId string) (User, error) {
	return scanUser(tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ? FOR UPDATE", userId))
}

// LoadByCustomer finds the user owning a billing customer id.
func LoadByCustomer(ctx context.Context, q queryer, customerId string) (User, error) {
	return scanUser(q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE stripe_customer_id = ?", customerId))
}
