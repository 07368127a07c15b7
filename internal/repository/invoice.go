package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/flowbill/flowbill/internal/domain/invoice"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/logger"
	"github.com/flowbill/flowbill/internal/postgres"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/jmoiron/sqlx"
)

type invoiceRepository struct {
	client *postgres.Client
	logger *logger.Logger
}

func NewInvoiceRepository(client *postgres.Client, log *logger.Logger) invoice.Repository {
	return &invoiceRepository{client: client, logger: log}
}

const invoiceColumns = `
	id, invoice_number, subscription_id, period_key, subtotal, tax, total,
	currency, invoice_status, external_invoice_id, paid_at,
	tenant_id, status, created_at, updated_at`

type itemRow struct {
	invoice.Item
	InvoiceID   string `db:"invoice_id"`
	Position    int    `db:"position"`
	MetadataRaw []byte `db:"metadata"`
}

// Create inserts the invoice and its items in one transaction. A partial
// unique index on (tenant_id, period_key) for non-void invoices backs the
// at-most-one-invoice-per-period invariant at the storage layer.
func (r *invoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	return r.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		const q = `
			INSERT INTO invoices (` + invoiceColumns + `
			) VALUES (
				:id, :invoice_number, :subscription_id, :period_key,
				:subtotal, :tax, :total, :currency, :invoice_status,
				:external_invoice_id, :paid_at, :tenant_id, :status,
				:created_at, :updated_at
			)`

		if _, err := tx.NamedExecContext(ctx, q, inv); err != nil {
			if isUniqueViolation(err) {
				return ierr.NewError("invoice already exists for period").
					WithReportableDetails(map[string]any{"period_key": inv.PeriodKey}).
					Mark(ierr.ErrAlreadyExists)
			}
			return ierr.WithError(err).Mark(ierr.ErrDatabase)
		}

		return r.insertItems(ctx, tx, inv)
	})
}

func (r *invoiceRepository) insertItems(ctx context.Context, tx *sqlx.Tx, inv *invoice.Invoice) error {
	const q = `
		INSERT INTO invoice_items (
			invoice_id, position, kind, description, amount, metric_id,
			metadata, tenant_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	tenantID := types.GetTenantID(ctx)
	for i, item := range inv.Items {
		metadata, err := json.Marshal(item.Metadata)
		if err != nil {
			return ierr.WithError(err).Mark(ierr.ErrValidation)
		}
		if _, err := tx.ExecContext(ctx, q,
			inv.ID, i, item.Kind, item.Description, item.Amount,
			item.MetricID, metadata, tenantID,
		); err != nil {
			return ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
	}
	return nil
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	const q = `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE id = $1 AND tenant_id = $2`

	var inv invoice.Invoice
	err := r.client.DB().GetContext(ctx, &inv, q, id, types.GetTenantID(ctx))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("invoice not found").
				WithReportableDetails(map[string]any{"invoice_id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}

	if err := r.loadItems(ctx, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepository) GetByPeriodKey(ctx context.Context, periodKey string) (*invoice.Invoice, error) {
	const q = `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE period_key = $1 AND tenant_id = $2 AND invoice_status != $3`

	var inv invoice.Invoice
	err := r.client.DB().GetContext(ctx, &inv, q, periodKey, types.GetTenantID(ctx), types.InvoiceStatusVoid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("no invoice for period").
				WithReportableDetails(map[string]any{"period_key": periodKey}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}

	if err := r.loadItems(ctx, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepository) loadItems(ctx context.Context, inv *invoice.Invoice) error {
	const q = `
		SELECT invoice_id, position, kind, description, amount, metric_id,
		       metadata
		FROM invoice_items
		WHERE invoice_id = $1 AND tenant_id = $2
		ORDER BY position`

	var rows []itemRow
	if err := r.client.DB().SelectContext(ctx, &rows, q, inv.ID, types.GetTenantID(ctx)); err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}

	inv.Items = make([]invoice.Item, 0, len(rows))
	for _, row := range rows {
		item := row.Item
		if len(row.MetadataRaw) > 0 {
			if err := json.Unmarshal(row.MetadataRaw, &item.Metadata); err != nil {
				return ierr.WithError(err).Mark(ierr.ErrDatabase)
			}
		}
		inv.Items = append(inv.Items, item)
	}
	return nil
}

// Update rewrites the invoice header. Items are immutable once created.
func (r *invoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	const q = `
		UPDATE invoices SET
			invoice_status = :invoice_status,
			external_invoice_id = :external_invoice_id,
			paid_at = :paid_at,
			updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`

	res, err := r.client.DB().NamedExecContext(ctx, q, inv)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return ierr.NewError("invoice not found").
			WithReportableDetails(map[string]any{"invoice_id": inv.ID}).
			Mark(ierr.ErrNotFound)
	}
	return nil
}
