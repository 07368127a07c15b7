package invoice

import (
	"time"

	"github.com/flowbill/flowbill/internal/types"
	"github.com/shopspring/decimal"
)

// Invoice is the priced statement for one billing period. At most one
// non-void invoice exists per period key; the assembler enforces this by
// reading before creating and by passing the period key as the gateway
// idempotency key.
type Invoice struct {
	ID string `db:"id" json:"id"`

	// InvoiceNumber is the short human-facing identifier.
	InvoiceNumber string `db:"invoice_number" json:"invoice_number"`

	SubscriptionID string `db:"subscription_id" json:"subscription_id"`

	// PeriodKey is the deterministic identifier of the billing period,
	// derived from the subscription id and period start.
	PeriodKey string `db:"period_key" json:"period_key"`

	Items []Item `db:"-" json:"items"`

	// Amounts are in minor currency units.
	Subtotal decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax      decimal.Decimal `db:"tax" json:"tax"`
	Total    decimal.Decimal `db:"total" json:"total"`

	Currency string `db:"currency" json:"currency"`

	InvoiceStatus types.InvoiceStatus `db:"invoice_status" json:"invoice_status"`

	// ExternalInvoiceID references the gateway-side invoice record.
	ExternalInvoiceID string `db:"external_invoice_id" json:"external_invoice_id"`

	PaidAt *time.Time `db:"paid_at" json:"paid_at"`

	types.BaseModel
}

// Item is a single invoice line.
type Item struct {
	Kind        types.InvoiceItemKind `db:"kind" json:"kind"`
	Description string                `db:"description" json:"description"`

	// Amount is in minor currency units, negative for credits.
	Amount decimal.Decimal `db:"amount" json:"amount"`

	// MetricID is set for usage items.
	MetricID string `db:"metric_id" json:"metric_id"`

	Metadata types.Metadata `db:"-" json:"metadata,omitempty"`
}
