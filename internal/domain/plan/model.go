package plan

import (
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/shopspring/decimal"
)

// Plan is the priced offering a subscription renews against. A plan is
// immutable once referenced by an active subscription's current period;
// pricing changes ship as new plans.
type Plan struct {
	ID string `db:"id" json:"id"`

	Name string `db:"name" json:"name"`

	// Price is the base recurring charge in minor currency units.
	Price decimal.Decimal `db:"price" json:"price"`

	// Currency is the lowercase 3 letter ISO code
	Currency string `db:"currency" json:"currency"`

	BillingPeriod types.BillingPeriod `db:"billing_period" json:"billing_period"`

	// UsageLimits caps included usage per metric id. A missing entry means
	// the metric is unlimited.
	UsageLimits map[string]decimal.Decimal `db:"-" json:"usage_limits,omitempty"`

	types.BaseModel
}

func (p *Plan) Validate() error {
	if p.Price.IsNegative() {
		return ierr.NewError("plan price cannot be negative").
			WithReportableDetails(map[string]any{"plan_id": p.ID}).
			Mark(ierr.ErrValidation)
	}
	if err := p.BillingPeriod.Validate(); err != nil {
		return ierr.WithError(err).
			WithReportableDetails(map[string]any{"plan_id": p.ID}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
