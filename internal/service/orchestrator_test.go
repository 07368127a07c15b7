package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flowbill/flowbill/internal/domain/invoice"
	"github.com/flowbill/flowbill/internal/domain/meter"
	"github.com/flowbill/flowbill/internal/domain/plan"
	"github.com/flowbill/flowbill/internal/domain/subscription"
	"github.com/flowbill/flowbill/internal/domain/usage"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/testutil"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type OrchestratorSuite struct {
	suite.Suite
	ctx     context.Context
	params  ServiceParams
	stores  *testStores
	service OrchestratorService

	plan        *plan.Plan
	periodStart time.Time
	periodEnd   time.Time
}

func TestOrchestrator(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = testutil.SetupContext()
	s.params, s.stores = newTestParams()

	// Collapse every backoff so declining-card scenarios run instantly.
	for class, policy := range s.params.Config.Billing.RetryPolicies {
		policy.BaseDelaySeconds = 0
		s.params.Config.Billing.RetryPolicies[class] = policy
	}

	s.service = NewOrchestratorService(s.params)

	s.plan = testPlan("plan_basic", 9000)
	s.NoError(s.stores.plans.Create(s.ctx, s.plan))

	metric := &meter.Metric{
		ID:              "metric_api_calls",
		Name:            "API Calls",
		AggregationType: types.AggregationSum,
		BaseModel:       types.GetDefaultBaseModel(s.ctx),
	}
	s.NoError(s.stores.meters.CreateMetric(s.ctx, metric))
	s.NoError(s.stores.meters.ReplaceTiers(s.ctx, metric.ID, unitTiers()))

	s.periodStart = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s.periodEnd = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
}

func (s *OrchestratorSuite) createSubscription(id string) *subscription.Subscription {
	sub := testSubscription(id, s.plan.ID, s.periodStart, s.periodEnd)
	s.NoError(s.stores.subs.Create(s.ctx, sub))
	return sub
}

func (s *OrchestratorSuite) addUsage(subID string, value int64) {
	s.NoError(s.stores.usage.Append(s.ctx, &usage.Record{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USAGE_RECORD),
		SubscriptionID: subID,
		MetricID:       "metric_api_calls",
		Value:          decimal.NewFromInt(value),
		Timestamp:      s.periodStart.Add(72 * time.Hour),
		BaseModel:      types.GetDefaultBaseModel(s.ctx),
	}))
}

func (s *OrchestratorSuite) getSub(id string) *subscription.Subscription {
	sub, err := s.stores.subs.Get(s.ctx, id)
	s.Require().NoError(err)
	return sub
}

func (s *OrchestratorSuite) TestRenewalHappyPath() {
	sub := s.createSubscription("subs_renew")
	s.addUsage(sub.ID, 150)

	s.NoError(s.service.ProcessRenewal(s.ctx, sub.ID, s.periodEnd))

	after := s.getSub(sub.ID)
	s.Equal(types.SubscriptionStatusActive, after.SubscriptionStatus)
	s.True(after.CurrentPeriodStart.Equal(s.periodEnd))
	s.True(after.CurrentPeriodEnd.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))
	s.Equal(0, after.FailedPaymentCount)

	periodKey := types.PeriodKey(sub.ID, s.periodStart)
	inv, err := s.stores.invoices.GetByPeriodKey(s.ctx, periodKey)
	s.NoError(err)
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)
	// 9000 base plus 1400 for 150 units over the two tiers.
	s.True(inv.Total.Equal(decimal.NewFromInt(10400)), "total %s", inv.Total)

	completed, err := s.stores.txns.CountCompletedCharges(s.ctx, sub.ID, periodKey)
	s.NoError(err)
	s.Equal(1, completed)
}

func (s *OrchestratorSuite) TestRenewalNotDueIsNoop() {
	sub := s.createSubscription("subs_early")

	s.NoError(s.service.ProcessRenewal(s.ctx, sub.ID, s.periodEnd.Add(-time.Hour)))

	s.Equal(0, s.stores.gateway.ExecutedCharges())
	after := s.getSub(sub.ID)
	s.True(after.CurrentPeriodEnd.Equal(s.periodEnd))
}

func (s *OrchestratorSuite) TestRacingWorkersChargeOnce() {
	sub := s.createSubscription("subs_race")
	s.addUsage(sub.ID, 150)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.service.ProcessRenewal(s.ctx, sub.ID, s.periodEnd))
		}()
	}
	wg.Wait()

	// One worker wins the version claim; whatever the interleaving, money
	// moves once and the period advances exactly one month.
	s.Equal(1, s.stores.gateway.ExecutedCharges())
	after := s.getSub(sub.ID)
	s.True(after.CurrentPeriodEnd.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)),
		"period end %s", after.CurrentPeriodEnd)

	// Every completed charge references the same gateway charge.
	txns, err := s.stores.txns.ListBySubscription(s.ctx, sub.ID)
	s.NoError(err)
	externalIDs := map[string]bool{}
	for _, txn := range txns {
		if txn.Kind == types.TransactionKindSubscriptionCharge &&
			txn.TransactionStatus == types.TransactionStatusCompleted {
			externalIDs[txn.ExternalChargeID] = true
		}
	}
	s.Len(externalIDs, 1)
}

func (s *OrchestratorSuite) TestRenewalRunTwiceChargesOnce() {
	sub := s.createSubscription("subs_twice")

	s.NoError(s.service.ProcessRenewal(s.ctx, sub.ID, s.periodEnd))
	s.NoError(s.service.ProcessRenewal(s.ctx, sub.ID, s.periodEnd))

	s.Equal(1, s.stores.gateway.ExecutedCharges())
	after := s.getSub(sub.ID)
	s.True(after.CurrentPeriodEnd.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))
}

func (s *OrchestratorSuite) TestCancellationDuringRenewalAbortsCharge() {
	sub := s.createSubscription("subs_cancel_race")

	// The cancel lands after the renewal claimed the subscription but
	// before any charge: the cancel wins and no money moves.
	s.stores.gateway.InvoiceHook = func() {
		s.stores.gateway.InvoiceHook = nil
		s.NoError(s.service.Cancel(s.ctx, sub.ID, CancelOptions{}, s.periodEnd))
	}

	s.NoError(s.service.ProcessRenewal(s.ctx, sub.ID, s.periodEnd))

	after := s.getSub(sub.ID)
	s.Equal(types.SubscriptionStatusCancelled, after.SubscriptionStatus)
	s.Equal(0, s.stores.gateway.ExecutedCharges())
	s.True(after.CurrentPeriodEnd.Equal(s.periodEnd), "period must not advance")
}

func (s *OrchestratorSuite) TestEndOfPeriodCancellationFinalizesWithoutCharge() {
	sub := s.createSubscription("subs_cancel_eop")
	s.NoError(s.service.Cancel(s.ctx, sub.ID, CancelOptions{}, s.periodEnd.Add(-48*time.Hour)))

	mid := s.getSub(sub.ID)
	s.Equal(types.SubscriptionStatusCancelling, mid.SubscriptionStatus)
	s.True(mid.CancelAtPeriodEnd)

	s.NoError(s.service.ProcessRenewal(s.ctx, sub.ID, s.periodEnd))

	after := s.getSub(sub.ID)
	s.Equal(types.SubscriptionStatusCancelled, after.SubscriptionStatus)
	s.NotNil(after.CancelledAt)
	s.Equal(0, s.stores.gateway.ExecutedCharges())
}

func (s *OrchestratorSuite) TestCancelImmediate() {
	sub := s.createSubscription("subs_cancel_now")
	now := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	s.NoError(s.service.Cancel(s.ctx, sub.ID, CancelOptions{Immediate: true}, now))

	after := s.getSub(sub.ID)
	s.Equal(types.SubscriptionStatusCancelled, after.SubscriptionStatus)
	s.Require().NotNil(after.CancelledAt)
	s.True(after.CancelledAt.Equal(now))

	// Cancelling again is a no-op.
	s.NoError(s.service.Cancel(s.ctx, sub.ID, CancelOptions{Immediate: true}, now.Add(time.Hour)))
}

func (s *OrchestratorSuite) TestFailedCollectionMarksPastDue() {
	sub := s.createSubscription("subs_pastdue")
	s.stores.gateway.ScriptChargeOutcomes(
		testutil.ChargeOutcome{Declined: true, FailureClass: types.FailureClassCardExpired},
	)

	s.NoError(s.service.ProcessRenewal(s.ctx, sub.ID, s.periodEnd))

	after := s.getSub(sub.ID)
	s.Equal(types.SubscriptionStatusPastDue, after.SubscriptionStatus)
	s.Equal(1, after.FailedPaymentCount)
	s.Require().NotNil(after.LastFailureClass)
	s.Equal(types.FailureClassCardExpired, *after.LastFailureClass)
	s.True(after.CurrentPeriodEnd.Equal(s.periodEnd), "period must not advance on failure")

	inv, err := s.stores.invoices.GetByPeriodKey(s.ctx, types.PeriodKey(sub.ID, s.periodStart))
	s.NoError(err)
	s.Equal(types.InvoiceStatusOpen, inv.InvoiceStatus)
}

func (s *OrchestratorSuite) failRenewalOnce(subID string) {
	s.stores.gateway.ScriptChargeOutcomes(
		testutil.ChargeOutcome{Declined: true, FailureClass: types.FailureClassGeneric},
		testutil.ChargeOutcome{Declined: true, FailureClass: types.FailureClassGeneric},
	)
	s.NoError(s.service.ProcessRenewal(s.ctx, subID, s.periodEnd))
	s.Equal(types.SubscriptionStatusPastDue, s.getSub(subID).SubscriptionStatus)
}

func (s *OrchestratorSuite) TestDunningSweepRecoversPastDue() {
	sub := s.createSubscription("subs_dunning")
	s.failRenewalOnce(sub.ID)

	s.NoError(s.service.RunDunningSweep(s.ctx, s.periodEnd.Add(24*time.Hour)))

	after := s.getSub(sub.ID)
	s.Equal(types.SubscriptionStatusActive, after.SubscriptionStatus)
	s.Equal(0, after.FailedPaymentCount)
	s.Nil(after.LastFailureClass)
	s.True(after.CurrentPeriodEnd.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))

	inv, err := s.stores.invoices.GetByPeriodKey(s.ctx, types.PeriodKey(sub.ID, s.periodStart))
	s.NoError(err)
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)
}

func (s *OrchestratorSuite) TestSecondDunningSweepChargesFresh() {
	sub := s.createSubscription("subs_dunning_twice")
	s.failRenewalOnce(sub.ID)

	// Sweep 1: the card still has no funds.
	s.stores.gateway.ScriptChargeOutcomes(
		testutil.ChargeOutcome{Declined: true, FailureClass: types.FailureClassGeneric},
		testutil.ChargeOutcome{Declined: true, FailureClass: types.FailureClassGeneric},
	)
	s.NoError(s.service.RunDunningSweep(s.ctx, s.periodEnd.Add(24*time.Hour)))
	s.Equal(types.SubscriptionStatusPastDue, s.getSub(sub.ID).SubscriptionStatus)
	s.Equal(2, s.getSub(sub.ID).FailedPaymentCount)
	executed := s.stores.gateway.ExecutedCharges()

	// Funds arrived before sweep 2. The sweep must issue a fresh charge
	// instead of replaying sweep 1's recorded declines.
	s.NoError(s.service.RunDunningSweep(s.ctx, s.periodEnd.Add(48*time.Hour)))

	after := s.getSub(sub.ID)
	s.Equal(types.SubscriptionStatusActive, after.SubscriptionStatus)
	s.Equal(0, after.FailedPaymentCount)
	s.Equal(executed+1, s.stores.gateway.ExecutedCharges())

	inv, err := s.stores.invoices.GetByPeriodKey(s.ctx, types.PeriodKey(sub.ID, s.periodStart))
	s.NoError(err)
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)
}

func (s *OrchestratorSuite) TestDunningExhaustionMarksUnpaid() {
	s.params.Config.Billing.DunningMaxAttempts = 2
	s.service = NewOrchestratorService(s.params)

	sub := s.createSubscription("subs_unpaid")
	s.failRenewalOnce(sub.ID)

	s.stores.gateway.ScriptChargeOutcomes(
		testutil.ChargeOutcome{Declined: true, FailureClass: types.FailureClassGeneric},
		testutil.ChargeOutcome{Declined: true, FailureClass: types.FailureClassGeneric},
	)
	s.NoError(s.service.RunDunningSweep(s.ctx, s.periodEnd.Add(24*time.Hour)))

	after := s.getSub(sub.ID)
	s.Equal(types.SubscriptionStatusUnpaid, after.SubscriptionStatus)
	s.Equal(2, after.FailedPaymentCount)

	// Unpaid subscriptions leave the dunning pool.
	executed := s.stores.gateway.ExecutedCharges()
	s.NoError(s.service.RunDunningSweep(s.ctx, s.periodEnd.Add(48*time.Hour)))
	s.Equal(executed, s.stores.gateway.ExecutedCharges())
}

func (s *OrchestratorSuite) TestExpiredCardSkippedByDunningUntilMethodUpdate() {
	sub := s.createSubscription("subs_expired")
	s.stores.gateway.ScriptChargeOutcomes(
		testutil.ChargeOutcome{Declined: true, FailureClass: types.FailureClassCardExpired},
	)
	s.NoError(s.service.ProcessRenewal(s.ctx, sub.ID, s.periodEnd))
	executed := s.stores.gateway.ExecutedCharges()

	// Timer-driven dunning must not touch an expired card.
	s.NoError(s.service.RunDunningSweep(s.ctx, s.periodEnd.Add(24*time.Hour)))
	s.Equal(executed, s.stores.gateway.ExecutedCharges())
	s.Equal(types.SubscriptionStatusPastDue, s.getSub(sub.ID).SubscriptionStatus)

	// A new payment method re-triggers collection exactly once.
	s.NoError(s.service.ResumeAfterMethodUpdate(s.ctx, sub.ID, "pm_new", s.periodEnd.Add(48*time.Hour)))

	after := s.getSub(sub.ID)
	s.Equal(types.SubscriptionStatusActive, after.SubscriptionStatus)
	s.Equal("pm_new", after.PaymentMethodID)
	s.Nil(after.LastFailureClass)
	s.Equal(executed+1, s.stores.gateway.ExecutedCharges())
}

func (s *OrchestratorSuite) TestApplyPlanChangeUpgradeChargesDifference() {
	sub := s.createSubscription("subs_upgrade")
	pro := testPlan("plan_pro", 15000)
	s.NoError(s.stores.plans.Create(s.ctx, pro))

	// 10 of 30 days remain: credit 3000, charge 12000 now.
	now := time.Date(2025, 3, 22, 0, 0, 0, 0, time.UTC)
	s.NoError(s.service.ApplyPlanChange(s.ctx, sub.ID, pro.ID, now))

	after := s.getSub(sub.ID)
	s.Equal(pro.ID, after.PlanID)
	s.True(after.PendingCredit.IsZero())

	s.Require().Equal(1, s.stores.gateway.ExecutedCharges())
	s.True(s.stores.gateway.Charges[0].Amount.Equal(decimal.NewFromInt(12000)),
		"charged %s", s.stores.gateway.Charges[0].Amount)
}

func (s *OrchestratorSuite) TestApplyPlanChangeDowngradeBanksCredit() {
	sub := s.createSubscription("subs_downgrade")
	lite := testPlan("plan_lite", 1500)
	s.NoError(s.stores.plans.Create(s.ctx, lite))

	// Credit 3000 against a 1500 plan banks 1500 for the next invoice.
	now := time.Date(2025, 3, 22, 0, 0, 0, 0, time.UTC)
	s.NoError(s.service.ApplyPlanChange(s.ctx, sub.ID, lite.ID, now))

	after := s.getSub(sub.ID)
	s.Equal(lite.ID, after.PlanID)
	s.True(after.PendingCredit.Equal(decimal.NewFromInt(1500)), "credit %s", after.PendingCredit)
	s.Equal(0, s.stores.gateway.ExecutedCharges())

	// The next renewal applies the banked credit as a negative line item.
	s.NoError(s.service.ProcessRenewal(s.ctx, sub.ID, s.periodEnd))
	inv, err := s.stores.invoices.GetByPeriodKey(s.ctx, types.PeriodKey(sub.ID, s.periodStart))
	s.NoError(err)
	s.True(inv.Total.Equal(decimal.NewFromInt(0)), "total %s", inv.Total)

	credit, found := lo.Find(inv.Items, func(item invoice.Item) bool {
		return item.Kind == types.InvoiceItemKindOneTime
	})
	s.Require().True(found)
	s.True(credit.Amount.Equal(decimal.NewFromInt(-1500)))

	renewed := s.getSub(sub.ID)
	s.True(renewed.PendingCredit.IsZero())
}

func (s *OrchestratorSuite) TestPlanChangeDeclineLeavesPlanUnchanged() {
	sub := s.createSubscription("subs_upgrade_fail")
	pro := testPlan("plan_pro", 15000)
	s.NoError(s.stores.plans.Create(s.ctx, pro))

	s.stores.gateway.ScriptChargeOutcomes(
		testutil.ChargeOutcome{Declined: true, FailureClass: types.FailureClassInsufficientFunds},
	)

	now := time.Date(2025, 3, 22, 0, 0, 0, 0, time.UTC)
	err := s.service.ApplyPlanChange(s.ctx, sub.ID, pro.ID, now)
	s.Error(err)
	s.True(ierr.IsCard(err))

	after := s.getSub(sub.ID)
	s.Equal(s.plan.ID, after.PlanID)
	s.True(after.PendingCredit.IsZero())
}

func (s *OrchestratorSuite) TestPlanChangeRejectedForTerminalSubscription() {
	sub := s.createSubscription("subs_terminal")
	s.NoError(s.service.Cancel(s.ctx, sub.ID, CancelOptions{Immediate: true}, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)))

	pro := testPlan("plan_pro", 15000)
	s.NoError(s.stores.plans.Create(s.ctx, pro))

	err := s.service.ApplyPlanChange(s.ctx, sub.ID, pro.ID, time.Now().UTC())
	s.Error(err)
	s.True(ierr.Is(err, ierr.ErrInvalidOperation))
}

func (s *OrchestratorSuite) TestZeroTotalInvoiceSkipsGatewayCharge() {
	free := testPlan("plan_free", 0)
	s.NoError(s.stores.plans.Create(s.ctx, free))

	sub := testSubscription("subs_free", free.ID, s.periodStart, s.periodEnd)
	s.NoError(s.stores.subs.Create(s.ctx, sub))

	s.NoError(s.service.ProcessRenewal(s.ctx, sub.ID, s.periodEnd))

	s.Equal(0, s.stores.gateway.ExecutedCharges())
	after := s.getSub(sub.ID)
	s.Equal(types.SubscriptionStatusActive, after.SubscriptionStatus)
	s.True(after.CurrentPeriodEnd.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))

	inv, err := s.stores.invoices.GetByPeriodKey(s.ctx, types.PeriodKey(sub.ID, s.periodStart))
	s.NoError(err)
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)
}

func (s *OrchestratorSuite) TestRenewDueProcessesOnlyDueSubscriptions() {
	due := s.createSubscription("subs_due")

	notDue := testSubscription("subs_notdue", s.plan.ID, s.periodStart.AddDate(0, 1, 0), s.periodEnd.AddDate(0, 1, 0))
	s.NoError(s.stores.subs.Create(s.ctx, notDue))

	s.NoError(s.service.RenewDue(s.ctx, s.periodEnd))

	s.True(s.getSub(due.ID).CurrentPeriodEnd.After(s.periodEnd))
	s.True(s.getSub(notDue.ID).CurrentPeriodEnd.Equal(s.periodEnd.AddDate(0, 1, 0)))
}

func (s *OrchestratorSuite) TestTrialingSubscriptionRenewsToActive() {
	sub := testSubscription("subs_trial", s.plan.ID, s.periodStart, s.periodEnd)
	sub.SubscriptionStatus = types.SubscriptionStatusTrialing
	sub.TrialEnd = lo.ToPtr(s.periodEnd)
	s.NoError(s.stores.subs.Create(s.ctx, sub))

	s.NoError(s.service.ProcessRenewal(s.ctx, sub.ID, s.periodEnd))

	after := s.getSub(sub.ID)
	s.Equal(types.SubscriptionStatusActive, after.SubscriptionStatus)
	s.Equal(1, s.stores.gateway.ExecutedCharges())
}
