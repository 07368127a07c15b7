package repository

import (
	"context"
	"time"

	"github.com/flowbill/flowbill/internal/domain/usage"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/logger"
	"github.com/flowbill/flowbill/internal/postgres"
	"github.com/flowbill/flowbill/internal/types"
)

type usageRepository struct {
	client *postgres.Client
	logger *logger.Logger
}

func NewUsageRepository(client *postgres.Client, log *logger.Logger) usage.Repository {
	return &usageRepository{client: client, logger: log}
}

func (r *usageRepository) Append(ctx context.Context, record *usage.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	const q = `
		INSERT INTO usage_records (
			id, subscription_id, metric_id, value, timestamp,
			tenant_id, status, created_at, updated_at
		) VALUES (
			:id, :subscription_id, :metric_id, :value, :timestamp,
			:tenant_id, :status, :created_at, :updated_at
		)`

	if _, err := r.client.DB().NamedExecContext(ctx, q, record); err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *usageRepository) ListForPeriod(ctx context.Context, subscriptionID, metricID string, start, end time.Time) ([]*usage.Record, error) {
	const q = `
		SELECT id, subscription_id, metric_id, value, timestamp,
		       tenant_id, status, created_at, updated_at
		FROM usage_records
		WHERE subscription_id = $1
		  AND metric_id = $2
		  AND tenant_id = $3
		  AND timestamp >= $4
		  AND timestamp < $5
		ORDER BY timestamp`

	var records []*usage.Record
	err := r.client.DB().SelectContext(ctx, &records, q,
		subscriptionID, metricID, types.GetTenantID(ctx), start, end)
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return records, nil
}
