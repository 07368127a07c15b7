package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flowbill/flowbill/internal/domain/subscription"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/logger"
	"github.com/flowbill/flowbill/internal/postgres"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/samber/lo"
)

type subscriptionRepository struct {
	client *postgres.Client
	logger *logger.Logger
}

func NewSubscriptionRepository(client *postgres.Client, log *logger.Logger) subscription.Repository {
	return &subscriptionRepository{client: client, logger: log}
}

const subscriptionColumns = `
	id, customer_id, plan_id, subscription_status, currency, jurisdiction,
	current_period_start, current_period_end, failed_payment_count,
	payment_method_id, fallback_payment_method_id, version,
	cancel_at_period_end, cancelled_at, trial_end, last_failure_class,
	pending_credit, tenant_id, status, created_at, updated_at`

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	const q = `
		INSERT INTO subscriptions (` + subscriptionColumns + `
		) VALUES (
			:id, :customer_id, :plan_id, :subscription_status, :currency,
			:jurisdiction, :current_period_start, :current_period_end,
			:failed_payment_count, :payment_method_id,
			:fallback_payment_method_id, :version, :cancel_at_period_end,
			:cancelled_at, :trial_end, :last_failure_class, :pending_credit,
			:tenant_id, :status, :created_at, :updated_at
		)`

	if _, err := r.client.DB().NamedExecContext(ctx, q, sub); err != nil {
		if isUniqueViolation(err) {
			return ierr.NewError("subscription already exists").
				WithReportableDetails(map[string]any{"subscription_id": sub.ID}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	const q = `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE id = $1 AND tenant_id = $2 AND status != $3`

	var sub subscription.Subscription
	err := r.client.DB().GetContext(ctx, &sub, q, id, types.GetTenantID(ctx), types.StatusDeleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("subscription not found").
				WithReportableDetails(map[string]any{"subscription_id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return &sub, nil
}

func (r *subscriptionRepository) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	q := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1 AND status != $2`
	args := []interface{}{types.GetTenantID(ctx), types.StatusDeleted}

	if filter != nil {
		if filter.CustomerID != "" {
			args = append(args, filter.CustomerID)
			q += ` AND customer_id = $` + itoa(len(args))
		}
		if filter.PlanID != "" {
			args = append(args, filter.PlanID)
			q += ` AND plan_id = $` + itoa(len(args))
		}
		if len(filter.SubscriptionStatus) > 0 {
			statuses := lo.Map(filter.SubscriptionStatus, func(s types.SubscriptionStatus, _ int) string {
				return string(s)
			})
			args = append(args, pqStringArray(statuses))
			q += ` AND subscription_status = ANY($` + itoa(len(args)) + `)`
		}
	}
	q += ` ORDER BY created_at`

	var subs []*subscription.Subscription
	if err := r.client.DB().SelectContext(ctx, &subs, q, args...); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return subs, nil
}

// Update is the compare-and-swap write every state-mutating billing
// operation goes through. The WHERE clause pins the version read by the
// caller; zero rows affected with an existing row means another writer got
// there first.
func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	const q = `
		UPDATE subscriptions SET
			plan_id = :plan_id,
			subscription_status = :subscription_status,
			jurisdiction = :jurisdiction,
			current_period_start = :current_period_start,
			current_period_end = :current_period_end,
			failed_payment_count = :failed_payment_count,
			payment_method_id = :payment_method_id,
			fallback_payment_method_id = :fallback_payment_method_id,
			cancel_at_period_end = :cancel_at_period_end,
			cancelled_at = :cancelled_at,
			trial_end = :trial_end,
			last_failure_class = :last_failure_class,
			pending_credit = :pending_credit,
			updated_at = :updated_at,
			version = version + 1
		WHERE id = :id AND tenant_id = :tenant_id AND version = :version`

	res, err := r.client.DB().NamedExecContext(ctx, q, sub)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		if _, getErr := r.Get(ctx, sub.ID); getErr != nil {
			return getErr
		}
		return ierr.NewError("subscription was modified concurrently").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"stale_version":   sub.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}

	sub.Version++
	return nil
}

func (r *subscriptionRepository) ListDueForRenewal(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	const q = `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1
		  AND status != $2
		  AND subscription_status = ANY($3)
		  AND current_period_end <= $4
		ORDER BY current_period_end`

	renewable := pqStringArray([]string{
		string(types.SubscriptionStatusActive),
		string(types.SubscriptionStatusTrialing),
		string(types.SubscriptionStatusCancelling),
	})

	var subs []*subscription.Subscription
	err := r.client.DB().SelectContext(ctx, &subs, q,
		types.GetTenantID(ctx), types.StatusDeleted, renewable, now)
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return subs, nil
}

func (r *subscriptionRepository) ListPastDue(ctx context.Context, maxFailedPayments int) ([]*subscription.Subscription, error) {
	const q = `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1
		  AND status != $2
		  AND subscription_status = $3
		  AND failed_payment_count < $4
		ORDER BY current_period_end`

	var subs []*subscription.Subscription
	err := r.client.DB().SelectContext(ctx, &subs, q,
		types.GetTenantID(ctx), types.StatusDeleted,
		types.SubscriptionStatusPastDue, maxFailedPayments)
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return subs, nil
}
