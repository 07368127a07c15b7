package transaction

import (
	"time"

	"github.com/flowbill/flowbill/internal/types"
	"github.com/shopspring/decimal"
)

// Transaction is one money movement against the gateway. At most one
// completed subscription_charge transaction may exist per
// (subscription, period key); the deterministic idempotency key makes the
// gateway enforce this even across blind retries.
type Transaction struct {
	ID string `db:"id" json:"id"`

	SubscriptionID string `db:"subscription_id" json:"subscription_id"`

	InvoiceID string `db:"invoice_id" json:"invoice_id"`

	PeriodKey string `db:"period_key" json:"period_key"`

	// Amount is in minor currency units, negative for refunds.
	Amount decimal.Decimal `db:"amount" json:"amount"`

	Currency string `db:"currency" json:"currency"`

	TransactionStatus types.TransactionStatus `db:"transaction_status" json:"transaction_status"`

	Kind types.TransactionKind `db:"kind" json:"kind"`

	// FailureClass is set on failed transactions.
	FailureClass *types.FailureClass `db:"failure_class" json:"failure_class"`

	// RelatedTransactionID links a refund to the charge it reverses.
	RelatedTransactionID *string `db:"related_transaction_id" json:"related_transaction_id"`

	IdempotencyKey string `db:"idempotency_key" json:"idempotency_key"`

	// ExternalChargeID references the gateway-side charge.
	ExternalChargeID string `db:"external_charge_id" json:"external_charge_id"`

	// AttemptNumber is 1-indexed within one collection chain.
	AttemptNumber int `db:"attempt_number" json:"attempt_number"`

	Timestamp time.Time `db:"timestamp" json:"timestamp"`

	types.BaseModel
}
