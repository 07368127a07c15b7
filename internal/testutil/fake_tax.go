package testutil

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// FailingTaxEngine implements tax.Engine and always fails, for exercising
// the non-retryable tax abort path of invoice assembly.
type FailingTaxEngine struct {
	Message string
}

func (e *FailingTaxEngine) ComputeTax(ctx context.Context, subtotal decimal.Decimal, jurisdiction string) (decimal.Decimal, error) {
	msg := e.Message
	if msg == "" {
		msg = "tax service unavailable"
	}
	return decimal.Zero, errors.New(msg)
}
