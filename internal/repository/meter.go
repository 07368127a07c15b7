package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/flowbill/flowbill/internal/domain/meter"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/logger"
	"github.com/flowbill/flowbill/internal/postgres"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/jmoiron/sqlx"
)

type meterRepository struct {
	client *postgres.Client
	logger *logger.Logger
}

func NewMeterRepository(client *postgres.Client, log *logger.Logger) meter.Repository {
	return &meterRepository{client: client, logger: log}
}

func (r *meterRepository) CreateMetric(ctx context.Context, metric *meter.Metric) error {
	const q = `
		INSERT INTO metrics (
			id, name, aggregation_type, default_zero,
			tenant_id, status, created_at, updated_at
		) VALUES (
			:id, :name, :aggregation_type, :default_zero,
			:tenant_id, :status, :created_at, :updated_at
		)`

	_, err := r.client.DB().NamedExecContext(ctx, q, metric)
	if err != nil {
		if isUniqueViolation(err) {
			return ierr.NewError("metric already exists").
				WithReportableDetails(map[string]any{"metric_id": metric.ID}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *meterRepository) GetMetric(ctx context.Context, id string) (*meter.Metric, error) {
	const q = `
		SELECT id, name, aggregation_type, default_zero,
		       tenant_id, status, created_at, updated_at
		FROM metrics
		WHERE id = $1 AND tenant_id = $2 AND status != $3`

	var m meter.Metric
	err := r.client.DB().GetContext(ctx, &m, q, id, types.GetTenantID(ctx), types.StatusDeleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("metric not found").
				WithReportableDetails(map[string]any{"metric_id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return &m, nil
}

func (r *meterRepository) ListMetrics(ctx context.Context) ([]*meter.Metric, error) {
	const q = `
		SELECT id, name, aggregation_type, default_zero,
		       tenant_id, status, created_at, updated_at
		FROM metrics
		WHERE tenant_id = $1 AND status != $2
		ORDER BY id`

	var metrics []*meter.Metric
	if err := r.client.DB().SelectContext(ctx, &metrics, q, types.GetTenantID(ctx), types.StatusDeleted); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return metrics, nil
}

func (r *meterRepository) ListTiers(ctx context.Context, metricID string) ([]meter.Tier, error) {
	const q = `
		SELECT metric_id, min, max, kind, unit_price, flat_price,
		       package_size, package_price
		FROM metric_tiers
		WHERE metric_id = $1 AND tenant_id = $2
		ORDER BY min`

	var tiers []meter.Tier
	if err := r.client.DB().SelectContext(ctx, &tiers, q, metricID, types.GetTenantID(ctx)); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return tiers, nil
}

// ReplaceTiers swaps the full tier table for a metric atomically so pricing
// is never observed half-updated.
func (r *meterRepository) ReplaceTiers(ctx context.Context, metricID string, tiers []meter.Tier) error {
	if err := meter.ValidateTiers(tiers); err != nil {
		return err
	}

	tenantID := types.GetTenantID(ctx)
	return r.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM metric_tiers WHERE metric_id = $1 AND tenant_id = $2`,
			metricID, tenantID,
		); err != nil {
			return ierr.WithError(err).Mark(ierr.ErrDatabase)
		}

		const insert = `
			INSERT INTO metric_tiers (
				metric_id, tenant_id, min, max, kind, unit_price,
				flat_price, package_size, package_price
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

		for _, tier := range tiers {
			if _, err := tx.ExecContext(ctx, insert,
				metricID, tenantID, tier.Min, tier.Max, tier.Kind,
				tier.UnitPrice, tier.FlatPrice, tier.PackageSize, tier.PackagePrice,
			); err != nil {
				return ierr.WithError(err).Mark(ierr.ErrDatabase)
			}
		}
		return nil
	})
}
