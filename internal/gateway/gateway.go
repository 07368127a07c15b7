package gateway

import (
	"context"

	"github.com/flowbill/flowbill/internal/types"
	"github.com/shopspring/decimal"
)

// ChargeStatus is the outcome of a charge attempt at the gateway.
type ChargeStatus string

const (
	ChargeStatusSucceeded ChargeStatus = "succeeded"
	ChargeStatusFailed    ChargeStatus = "failed"
)

// ChargeRequest describes one charge attempt. Every money-moving request
// carries a deterministic idempotency key so a blind retry after a timeout
// cannot double-charge.
type ChargeRequest struct {
	IdempotencyKey  string
	Amount          decimal.Decimal // minor units
	Currency        string
	CustomerID      string
	PaymentMethodID string
	Description     string
}

// ChargeResult is the gateway's answer to a charge attempt. A decline is a
// result with ChargeStatusFailed and a failure class, not an error; errors
// are reserved for transport-level failures.
type ChargeResult struct {
	Status       ChargeStatus
	ExternalID   string
	FailureClass types.FailureClass
	Message      string
}

// InvoiceItem is one line of a gateway invoice record.
type InvoiceItem struct {
	Description string
	Amount      decimal.Decimal // minor units, negative for credits
}

// InvoiceRequest creates the gateway-side invoice record.
type InvoiceRequest struct {
	IdempotencyKey string
	CustomerID     string
	Currency       string
	Items          []InvoiceItem
}

// PaymentGateway is the narrow interface the billing core consumes.
// Implementations must honor idempotency keys: repeating a request with the
// same key returns the original outcome without a second side effect.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	CreateInvoice(ctx context.Context, req InvoiceRequest) (string, error)
	Refund(ctx context.Context, idempotencyKey, externalChargeID string, amount decimal.Decimal) (string, error)
}
