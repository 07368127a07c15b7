package service

import (
	"context"
	"time"

	"github.com/flowbill/flowbill/internal/domain/plan"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/shopspring/decimal"
)

// ProrationParams holds the input for a mid-period plan change calculation.
type ProrationParams struct {
	OldPlan   *plan.Plan
	NewPlan   *plan.Plan
	Now       time.Time
	PeriodEnd time.Time
}

// ProrationResult is the credit/debit outcome of a plan change.
type ProrationResult struct {
	// Credit is the unused portion of the old plan, minor units.
	Credit decimal.Decimal

	// AmountDue is the immediate charge for the new plan after credit,
	// never negative.
	AmountDue decimal.Decimal

	// OverCredit is the surplus when the credit exceeds the new plan's
	// price (downgrade). Applied as a negative one-time item on the next
	// invoice.
	OverCredit decimal.Decimal

	RemainingDays int
	DaysInPeriod  int
}

type ProrationService interface {
	// Prorate computes the credit for the unused remainder of the old plan
	// and the immediate amount due for the new plan. Pure; no side effects.
	Prorate(ctx context.Context, params ProrationParams) (*ProrationResult, error)
}

type prorationService struct {
	ServiceParams
}

func NewProrationService(params ServiceParams) ProrationService {
	return &prorationService{ServiceParams: params}
}

func (s *prorationService) Prorate(ctx context.Context, params ProrationParams) (*ProrationResult, error) {
	if params.OldPlan == nil || params.NewPlan == nil {
		return nil, ierr.NewError("both plans are required for proration").
			Mark(ierr.ErrValidation)
	}
	if err := params.OldPlan.Validate(); err != nil {
		return nil, err
	}
	if err := params.NewPlan.Validate(); err != nil {
		return nil, err
	}
	if params.OldPlan.Currency != params.NewPlan.Currency {
		return nil, ierr.NewError("plan currencies do not match").
			WithReportableDetails(map[string]any{
				"old_plan": params.OldPlan.ID,
				"new_plan": params.NewPlan.ID,
			}).
			Mark(ierr.ErrValidation)
	}

	// The divisor comes from the old plan's billing cadence. A quarterly
	// or yearly plan must not be credited as if its period were 30 days.
	daysInPeriod := params.OldPlan.BillingPeriod.Days()

	remainingDays := types.CeilDaysBetween(params.Now, params.PeriodEnd)
	if remainingDays > daysInPeriod {
		remainingDays = daysInPeriod
	}

	credit := params.OldPlan.Price.
		Div(decimal.NewFromInt(int64(daysInPeriod))).
		Mul(decimal.NewFromInt(int64(remainingDays))).
		Round(0)

	result := &ProrationResult{
		Credit:        credit,
		AmountDue:     decimal.Zero,
		OverCredit:    decimal.Zero,
		RemainingDays: remainingDays,
		DaysInPeriod:  daysInPeriod,
	}

	due := params.NewPlan.Price.Sub(credit)
	if due.IsPositive() {
		result.AmountDue = due
	} else {
		result.OverCredit = due.Neg()
	}

	s.Logger.Debugw("computed proration",
		"old_plan", params.OldPlan.ID,
		"new_plan", params.NewPlan.ID,
		"remaining_days", remainingDays,
		"days_in_period", daysInPeriod,
		"credit", credit.String(),
		"amount_due", result.AmountDue.String(),
		"over_credit", result.OverCredit.String(),
	)

	return result, nil
}
