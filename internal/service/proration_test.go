package service

import (
	"context"
	"testing"
	"time"

	"github.com/flowbill/flowbill/internal/config"
	"github.com/flowbill/flowbill/internal/domain/plan"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/logger"
	"github.com/flowbill/flowbill/internal/testutil"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type ProrationServiceSuite struct {
	suite.Suite
	ctx     context.Context
	service ProrationService
}

func TestProrationService(t *testing.T) {
	suite.Run(t, new(ProrationServiceSuite))
}

func (s *ProrationServiceSuite) SetupTest() {
	s.ctx = testutil.SetupContext()
	s.service = NewProrationService(ServiceParams{
		Logger: logger.NewNopLogger(),
		Config: config.GetDefaultConfig(),
	})
}

func monthlyPlan(id string, price int64) *plan.Plan {
	return &plan.Plan{
		ID:            id,
		Name:          id,
		Price:         decimal.NewFromInt(price),
		Currency:      "usd",
		BillingPeriod: types.BILLING_PERIOD_MONTHLY,
	}
}

func (s *ProrationServiceSuite) TestUpgradeMidPeriod() {
	// 90 over a 30 day period with 10 days left credits 30; upgrading to a
	// 150 plan charges 120 now.
	now := time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	result, err := s.service.Prorate(s.ctx, ProrationParams{
		OldPlan:   monthlyPlan("plan_basic", 90),
		NewPlan:   monthlyPlan("plan_pro", 150),
		Now:       now,
		PeriodEnd: periodEnd,
	})
	s.NoError(err)
	s.Equal(10, result.RemainingDays)
	s.Equal(30, result.DaysInPeriod)
	s.True(result.Credit.Equal(decimal.NewFromInt(30)), "credit %s", result.Credit)
	s.True(result.AmountDue.Equal(decimal.NewFromInt(120)), "due %s", result.AmountDue)
	s.True(result.OverCredit.IsZero())
}

func (s *ProrationServiceSuite) TestDowngradeProducesOverCredit() {
	// 3000 plan with 20 of 30 days left credits 2000; the new 500 plan
	// leaves 1500 of surplus credit.
	now := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	result, err := s.service.Prorate(s.ctx, ProrationParams{
		OldPlan:   monthlyPlan("plan_pro", 3000),
		NewPlan:   monthlyPlan("plan_basic", 500),
		Now:       now,
		PeriodEnd: periodEnd,
	})
	s.NoError(err)
	s.True(result.Credit.Equal(decimal.NewFromInt(2000)))
	s.True(result.AmountDue.IsZero())
	s.True(result.OverCredit.Equal(decimal.NewFromInt(1500)), "over credit %s", result.OverCredit)
}

func (s *ProrationServiceSuite) TestPartialDayCountsAsFull() {
	// 9.5 days remaining rounds up to 10 whole days of credit.
	now := time.Date(2025, 3, 21, 12, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	result, err := s.service.Prorate(s.ctx, ProrationParams{
		OldPlan:   monthlyPlan("plan_basic", 90),
		NewPlan:   monthlyPlan("plan_pro", 150),
		Now:       now,
		PeriodEnd: periodEnd,
	})
	s.NoError(err)
	s.Equal(10, result.RemainingDays)
	s.True(result.Credit.Equal(decimal.NewFromInt(30)))
}

func (s *ProrationServiceSuite) TestChangeAtPeriodEnd() {
	now := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	result, err := s.service.Prorate(s.ctx, ProrationParams{
		OldPlan:   monthlyPlan("plan_basic", 90),
		NewPlan:   monthlyPlan("plan_pro", 150),
		Now:       now,
		PeriodEnd: now,
	})
	s.NoError(err)
	s.Equal(0, result.RemainingDays)
	s.True(result.Credit.IsZero())
	s.True(result.AmountDue.Equal(decimal.NewFromInt(150)))
}

func (s *ProrationServiceSuite) TestYearlyPlanUsesYearlyDivisor() {
	yearly := &plan.Plan{
		ID:            "plan_yearly",
		Name:          "Yearly",
		Price:         decimal.NewFromInt(36500),
		Currency:      "usd",
		BillingPeriod: types.BILLING_PERIOD_YEARLY,
	}
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := now.AddDate(0, 0, 100)

	result, err := s.service.Prorate(s.ctx, ProrationParams{
		OldPlan:   yearly,
		NewPlan:   monthlyPlan("plan_basic", 500),
		Now:       now,
		PeriodEnd: periodEnd,
	})
	s.NoError(err)
	s.Equal(365, result.DaysInPeriod)
	// 36500/365 * 100 = 10000 credit against a 500 plan.
	s.True(result.Credit.Equal(decimal.NewFromInt(10000)))
	s.True(result.OverCredit.Equal(decimal.NewFromInt(9500)))
}

func (s *ProrationServiceSuite) TestCurrencyMismatchRejected() {
	eur := monthlyPlan("plan_eur", 100)
	eur.Currency = "eur"

	_, err := s.service.Prorate(s.ctx, ProrationParams{
		OldPlan:   monthlyPlan("plan_basic", 90),
		NewPlan:   eur,
		Now:       time.Now().UTC(),
		PeriodEnd: time.Now().UTC().AddDate(0, 0, 10),
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *ProrationServiceSuite) TestMissingPlanRejected() {
	_, err := s.service.Prorate(s.ctx, ProrationParams{
		OldPlan: monthlyPlan("plan_basic", 90),
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}
