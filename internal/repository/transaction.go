package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/flowbill/flowbill/internal/domain/transaction"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/logger"
	"github.com/flowbill/flowbill/internal/postgres"
	"github.com/flowbill/flowbill/internal/types"
)

type transactionRepository struct {
	client *postgres.Client
	logger *logger.Logger
}

func NewTransactionRepository(client *postgres.Client, log *logger.Logger) transaction.Repository {
	return &transactionRepository{client: client, logger: log}
}

const transactionColumns = `
	id, subscription_id, invoice_id, period_key, amount, currency,
	transaction_status, kind, failure_class, related_transaction_id,
	idempotency_key, external_charge_id, attempt_number, timestamp,
	tenant_id, status, created_at, updated_at`

func (r *transactionRepository) Create(ctx context.Context, txn *transaction.Transaction) error {
	const q = `
		INSERT INTO transactions (` + transactionColumns + `
		) VALUES (
			:id, :subscription_id, :invoice_id, :period_key, :amount,
			:currency, :transaction_status, :kind, :failure_class,
			:related_transaction_id, :idempotency_key, :external_charge_id,
			:attempt_number, :timestamp, :tenant_id, :status, :created_at,
			:updated_at
		)`

	if _, err := r.client.DB().NamedExecContext(ctx, q, txn); err != nil {
		if isUniqueViolation(err) {
			return ierr.NewError("transaction already exists").
				WithReportableDetails(map[string]any{"transaction_id": txn.ID}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *transactionRepository) Get(ctx context.Context, id string) (*transaction.Transaction, error) {
	return r.getOne(ctx, `id = $1`, id)
}

func (r *transactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*transaction.Transaction, error) {
	return r.getOne(ctx, `idempotency_key = $1`, key)
}

func (r *transactionRepository) GetByExternalID(ctx context.Context, externalID string) (*transaction.Transaction, error) {
	return r.getOne(ctx, `external_charge_id = $1`, externalID)
}

func (r *transactionRepository) getOne(ctx context.Context, where string, arg interface{}) (*transaction.Transaction, error) {
	q := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE ` + where + ` AND tenant_id = $2`

	var txn transaction.Transaction
	err := r.client.DB().GetContext(ctx, &txn, q, arg, types.GetTenantID(ctx))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("transaction not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return &txn, nil
}

func (r *transactionRepository) Update(ctx context.Context, txn *transaction.Transaction) error {
	const q = `
		UPDATE transactions SET
			transaction_status = :transaction_status,
			failure_class = :failure_class,
			external_charge_id = :external_charge_id,
			updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`

	res, err := r.client.DB().NamedExecContext(ctx, q, txn)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewError("transaction not found").
			WithReportableDetails(map[string]any{"transaction_id": txn.ID}).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *transactionRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]*transaction.Transaction, error) {
	const q = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE subscription_id = $1 AND tenant_id = $2
		ORDER BY timestamp`

	var txns []*transaction.Transaction
	if err := r.client.DB().SelectContext(ctx, &txns, q, subscriptionID, types.GetTenantID(ctx)); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return txns, nil
}

func (r *transactionRepository) CountCompletedCharges(ctx context.Context, subscriptionID, periodKey string) (int, error) {
	const q = `
		SELECT COUNT(*)
		FROM transactions
		WHERE subscription_id = $1
		  AND period_key = $2
		  AND tenant_id = $3
		  AND kind = $4
		  AND transaction_status = $5`

	var n int
	err := r.client.DB().GetContext(ctx, &n, q,
		subscriptionID, periodKey, types.GetTenantID(ctx),
		types.TransactionKindSubscriptionCharge, types.TransactionStatusCompleted)
	if err != nil {
		return 0, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return n, nil
}
