package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/flowbill/flowbill/internal/domain/plan"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/logger"
	"github.com/flowbill/flowbill/internal/postgres"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/lib/pq"
)

type planRepository struct {
	client *postgres.Client
	logger *logger.Logger
}

func NewPlanRepository(client *postgres.Client, log *logger.Logger) plan.Repository {
	return &planRepository{client: client, logger: log}
}

type planRow struct {
	plan.Plan
	UsageLimitsRaw []byte `db:"usage_limits"`
}

func (r *planRepository) Create(ctx context.Context, p *plan.Plan) error {
	limits, err := json.Marshal(p.UsageLimits)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}

	const q = `
		INSERT INTO plans (
			id, name, price, currency, billing_period, usage_limits,
			tenant_id, status, created_at, updated_at
		) VALUES (
			:id, :name, :price, :currency, :billing_period, :usage_limits,
			:tenant_id, :status, :created_at, :updated_at
		)`

	_, err = r.client.DB().NamedExecContext(ctx, q, planRow{Plan: *p, UsageLimitsRaw: limits})
	if err != nil {
		if isUniqueViolation(err) {
			return ierr.NewError("plan already exists").
				WithReportableDetails(map[string]any{"plan_id": p.ID}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *planRepository) Get(ctx context.Context, id string) (*plan.Plan, error) {
	const q = `
		SELECT id, name, price, currency, billing_period, usage_limits,
		       tenant_id, status, created_at, updated_at
		FROM plans
		WHERE id = $1 AND tenant_id = $2 AND status != $3`

	var row planRow
	err := r.client.DB().GetContext(ctx, &row, q, id, types.GetTenantID(ctx), types.StatusDeleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("plan not found").
				WithReportableDetails(map[string]any{"plan_id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return rowToPlan(&row)
}

func (r *planRepository) List(ctx context.Context) ([]*plan.Plan, error) {
	const q = `
		SELECT id, name, price, currency, billing_period, usage_limits,
		       tenant_id, status, created_at, updated_at
		FROM plans
		WHERE tenant_id = $1 AND status != $2
		ORDER BY created_at`

	var rows []planRow
	if err := r.client.DB().SelectContext(ctx, &rows, q, types.GetTenantID(ctx), types.StatusDeleted); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}

	out := make([]*plan.Plan, 0, len(rows))
	for i := range rows {
		p, err := rowToPlan(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func rowToPlan(row *planRow) (*plan.Plan, error) {
	p := row.Plan
	if len(row.UsageLimitsRaw) > 0 {
		if err := json.Unmarshal(row.UsageLimitsRaw, &p.UsageLimits); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
	}
	return &p, nil
}

// isUniqueViolation reports whether err is a postgres unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
