package invoice

import "context"

type Repository interface {
	Create(ctx context.Context, invoice *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)

	// GetByPeriodKey returns the non-void invoice for a period key, or
	// ErrNotFound. Void invoices are invisible here so a voided period can
	// be re-invoiced.
	GetByPeriodKey(ctx context.Context, periodKey string) (*Invoice, error)

	Update(ctx context.Context, invoice *Invoice) error
}
