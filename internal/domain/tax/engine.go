package tax

import (
	"context"

	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/shopspring/decimal"
)

// Engine computes tax on an invoice subtotal. It is an external
// collaborator; the core only requires that failures abort invoice
// assembly with no partial invoice persisted.
type Engine interface {
	ComputeTax(ctx context.Context, subtotal decimal.Decimal, jurisdiction string) (decimal.Decimal, error)
}

// FlatRateEngine applies a fixed percentage per jurisdiction. Suitable for
// deployments that handle tax upstream and only need a pass-through rate.
type FlatRateEngine struct {
	// Rates maps jurisdiction codes to fractional rates, e.g. 0.19.
	Rates map[string]decimal.Decimal

	// DefaultRate applies to unknown jurisdictions.
	DefaultRate decimal.Decimal
}

func NewFlatRateEngine(rates map[string]decimal.Decimal, defaultRate decimal.Decimal) *FlatRateEngine {
	return &FlatRateEngine{Rates: rates, DefaultRate: defaultRate}
}

func (e *FlatRateEngine) ComputeTax(_ context.Context, subtotal decimal.Decimal, jurisdiction string) (decimal.Decimal, error) {
	if subtotal.IsNegative() {
		return decimal.Zero, ierr.NewError("subtotal cannot be negative").
			WithReportableDetails(map[string]any{"subtotal": subtotal}).
			Mark(ierr.ErrTaxComputation)
	}
	rate, ok := e.Rates[jurisdiction]
	if !ok {
		rate = e.DefaultRate
	}
	return subtotal.Mul(rate).Round(0), nil
}
