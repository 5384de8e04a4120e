package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

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

// statusChange describes one billing transition. Zero values leave the
// matching column untouched.
type statusChange struct {
	userId         string
	status         string
	userType       string
	subscriptionId string
	clearExemption bool
}

func (repo *RepositoryImpl) loadUser(ctx context.Context, userId string) (user.User, error) {
	return user.Load(ctx, repo.DB, userId)
}

func (repo *RepositoryImpl) loadByCustomer(ctx context.Context, customerId string) (user.User, error) {
	return user.LoadByCustomer(ctx, repo.DB, customerId)
}

func (repo *RepositoryImpl) setCustomer(ctx context.Context, userId, customerId string) error {
	_, err := repo.DB.ExecContext(ctx, "UPDATE users SET stripe_customer_id = ? WHERE id = ?", customerId, userId)
	if err != nil {
		return fmt.Errorf("repository: fail to store billing customer %w", err)
	}
	return nil
}

// applyStatus writes change and runs the downgrade cleanup when the user ends FREE.
func (repo *RepositoryImpl) applyStatus(ctx context.Context, change statusChange) error {
	set := []string{"subscription_status = ?"}
	args := []any{change.status}
	if change.userType != "" {
		set = append(set, "user_type = ?")
		args = append(args, change.userType)
	}
	if change.subscriptionId != "" {
		set = append(set, "stripe_subscription_id = ?")
		args = append(args, change.subscriptionId)
	}
	if change.clearExemption {
		set = append(set, "mentor_exemption_active = FALSE", "mentor_exemption_start_date = NULL")
	}
	args = append(args, change.userId)
	query := "UPDATE users SET " + strings.Join(set, ", ") + " WHERE id = ?"

	return database.WithTx(ctx, repo.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("repository: fail to update subscription status %w", err)
		}
		if change.userType != user.TYPE_FREE {
			return nil
		}
		return user.CleanupDowngrade(ctx, tx, change.userId)
	})
}

// pastDue lists members whose last payment failed. Only the billing columns are read.
func (repo *RepositoryImpl) pastDue(ctx context.Context) ([]user.User, error) {
	rows, err := repo.DB.QueryContext(
		ctx,
		`
		SELECT id, user_type, stripe_subscription_id, subscription_status, mentor_exemption_active
		FROM users
		WHERE subscription_status = ? AND stripe_subscription_id IS NOT NULL
		`,
		user.SUBSCRIPTION_PAST_DUE,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: fail to list past due members %w", err)
	}
	defer rows.Close()

	members := []user.User{}
	for rows.Next() {
		m := user.User{}
		if err := rows.Scan(&m.Id, &m.UserType, &m.StripeSubscriptionId, &m.SubscriptionStatus, &m.MentorExemptionActive); err != nil {
			return nil, fmt.Errorf("repository: fail to scan past due member %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: fail to iterate past due members %w", err)
	}
	return members, nil
}
