package service

import (
	"context"
	"time"

	"github.com/flowbill/flowbill/internal/cache"
	"github.com/flowbill/flowbill/internal/domain/meter"
	"github.com/flowbill/flowbill/internal/domain/plan"
	"github.com/flowbill/flowbill/internal/domain/subscription"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// CancelOptions controls cancellation timing.
type CancelOptions struct {
	// Immediate cancels now; otherwise the subscription enters cancelling
	// and the next renewal tick finalizes it instead of charging.
	Immediate bool
}

// OrchestratorService is the public surface the scheduler and admin layer
// drive. Every state-mutating operation on a subscription claims
// per-subscription exclusivity through the version compare-and-swap before
// touching money; losers of a claim race abort without side effects.
type OrchestratorService interface {
	// RenewDue processes every subscription whose period has elapsed.
	RenewDue(ctx context.Context, now time.Time) error

	// ProcessRenewal runs the renewal state machine for one subscription.
	ProcessRenewal(ctx context.Context, subscriptionID string, now time.Time) error

	// RunDunningSweep retries collection for past_due subscriptions and
	// moves the exhausted ones to unpaid.
	RunDunningSweep(ctx context.Context, now time.Time) error

	// ApplyPlanChange prorates and applies a plan change, charging any
	// amount due first; the change is all-or-nothing.
	ApplyPlanChange(ctx context.Context, subscriptionID, newPlanID string, now time.Time) error

	// Cancel requests cancellation, immediate or end-of-period.
	Cancel(ctx context.Context, subscriptionID string, options CancelOptions, now time.Time) error

	// ResumeAfterMethodUpdate attaches a new payment method and, for
	// past_due subscriptions, re-triggers exactly one collection. This is
	// the only way collection resumes after a card_expired failure.
	ResumeAfterMethodUpdate(ctx context.Context, subscriptionID, paymentMethodID string, now time.Time) error
}

type orchestratorService struct {
	ServiceParams

	metering  MeteringService
	proration ProrationService
	invoices  InvoiceService
	payments  PaymentService
}

func NewOrchestratorService(params ServiceParams) OrchestratorService {
	return &orchestratorService{
		ServiceParams: params,
		metering:      NewMeteringService(params),
		proration:     NewProrationService(params),
		invoices:      NewInvoiceService(params),
		payments:      NewPaymentService(params),
	}
}

func (s *orchestratorService) RenewDue(ctx context.Context, now time.Time) error {
	due, err := s.SubRepo.ListDueForRenewal(ctx, now)
	if err != nil {
		return err
	}

	s.Logger.Infow("renewal tick", "due", len(due), "now", now)

	for _, sub := range due {
		if err := s.ProcessRenewal(ctx, sub.ID, now); err != nil {
			// One bad subscription must not starve the rest of the batch.
			s.Logger.Errorw("renewal failed",
				"subscription_id", sub.ID,
				"error", err,
			)
		}
	}
	return nil
}

func (s *orchestratorService) ProcessRenewal(ctx context.Context, subscriptionID string, now time.Time) error {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if !sub.DueForRenewal(now) {
		return nil
	}

	// Claim exclusivity. The CAS bumps the version, so a competing worker
	// holding the same snapshot fails its own claim and aborts here,
	// before any money moves.
	sub.UpdatedAt = now
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		if ierr.IsVersionConflict(err) {
			s.Logger.Debugw("lost renewal claim", "subscription_id", subscriptionID)
			return nil
		}
		return err
	}

	if sub.SubscriptionStatus == types.SubscriptionStatusCancelling || sub.CancelAtPeriodEnd {
		return s.finalizeCancellation(ctx, sub, now)
	}

	pl, err := s.getPlan(ctx, sub.PlanID)
	if err != nil {
		return err
	}

	usageCharges, err := s.computeUsageCharges(ctx, sub)
	if err != nil {
		return err
	}

	oneTime := s.pendingOneTimeCharges(sub)

	inv, err := s.invoices.Assemble(ctx, sub, pl, usageCharges, oneTime)
	if err != nil {
		return err
	}

	// A cancellation may have arrived since the claim. Re-check before
	// committing any charge: the cancel wins and the renewal aborts.
	fresh, err := s.SubRepo.Get(ctx, sub.ID)
	if err != nil {
		return err
	}
	if fresh.SubscriptionStatus == types.SubscriptionStatusCancelling ||
		fresh.SubscriptionStatus == types.SubscriptionStatusCancelled {
		if fresh.SubscriptionStatus == types.SubscriptionStatusCancelling {
			return s.finalizeCancellation(ctx, fresh, now)
		}
		s.Logger.Infow("renewal aborted by cancellation", "subscription_id", sub.ID)
		return nil
	}

	if !inv.Total.IsPositive() {
		// Nothing to collect (free plan or credit covered everything).
		if err := s.invoices.MarkPaid(ctx, inv.ID, now); err != nil {
			return err
		}
		return s.commitRenewal(ctx, sub, pl, now)
	}

	result, err := s.payments.Collect(ctx, sub, inv.ID, inv.Total, types.ChargePurposeRenewal)
	if err != nil {
		return err
	}

	if !result.Succeeded {
		return s.recordCollectionFailure(ctx, sub, result.FailureClass, now)
	}

	if err := s.invoices.MarkPaid(ctx, inv.ID, now); err != nil {
		return err
	}
	return s.commitRenewal(ctx, sub, pl, now)
}

// commitRenewal advances the billing period after a completed charge. The
// period never advances before the charge completes.
func (s *orchestratorService) commitRenewal(ctx context.Context, sub *subscription.Subscription, pl *plan.Plan, now time.Time) error {
	nextStart := sub.CurrentPeriodEnd
	nextEnd, err := types.NextBillingDate(nextStart, pl.BillingPeriod)
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrValidation)
	}

	sub.CurrentPeriodStart = nextStart
	sub.CurrentPeriodEnd = nextEnd
	sub.SubscriptionStatus = types.SubscriptionStatusActive
	sub.FailedPaymentCount = 0
	sub.LastFailureClass = nil
	sub.PendingCredit = decimal.Zero
	sub.UpdatedAt = now

	if err := s.SubRepo.Update(ctx, sub); err != nil {
		if ierr.IsVersionConflict(err) {
			// A cancellation raced in after the charge. The cancel wins
			// the state; the collected payment stays attached to the
			// invoice and can be refunded by the operator.
			s.Logger.Warnw("period advancement lost to concurrent update",
				"subscription_id", sub.ID,
			)
			return nil
		}
		return err
	}

	s.Logger.Infow("renewed subscription",
		"subscription_id", sub.ID,
		"period_start", sub.CurrentPeriodStart,
		"period_end", sub.CurrentPeriodEnd,
	)
	return nil
}

func (s *orchestratorService) recordCollectionFailure(ctx context.Context, sub *subscription.Subscription, class types.FailureClass, now time.Time) error {
	sub.FailedPaymentCount++
	sub.LastFailureClass = lo.ToPtr(class)
	if sub.FailedPaymentCount >= s.Config.Billing.DunningMaxAttempts {
		sub.SubscriptionStatus = types.SubscriptionStatusUnpaid
	} else {
		sub.SubscriptionStatus = types.SubscriptionStatusPastDue
	}
	sub.UpdatedAt = now

	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}

	s.Logger.Warnw("collection failed",
		"subscription_id", sub.ID,
		"failure_class", class,
		"failed_payment_count", sub.FailedPaymentCount,
		"status", sub.SubscriptionStatus,
	)
	return nil
}

func (s *orchestratorService) finalizeCancellation(ctx context.Context, sub *subscription.Subscription, now time.Time) error {
	sub.SubscriptionStatus = types.SubscriptionStatusCancelled
	sub.CancelledAt = lo.ToPtr(now)
	sub.UpdatedAt = now
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		if ierr.IsVersionConflict(err) {
			return nil
		}
		return err
	}
	s.Logger.Infow("finalized cancellation", "subscription_id", sub.ID)
	return nil
}

func (s *orchestratorService) RunDunningSweep(ctx context.Context, now time.Time) error {
	pastDue, err := s.SubRepo.ListPastDue(ctx, s.Config.Billing.DunningMaxAttempts)
	if err != nil {
		return err
	}

	s.Logger.Infow("dunning sweep", "past_due", len(pastDue), "now", now)

	for _, sub := range pastDue {
		if err := s.retryCollection(ctx, sub.ID, types.ChargePurposeDunning, now); err != nil {
			s.Logger.Errorw("dunning retry failed",
				"subscription_id", sub.ID,
				"error", err,
			)
		}
	}
	return nil
}

// retryCollection re-attempts collection of the open invoice for the
// current (not yet advanced) period of a past_due subscription.
func (s *orchestratorService) retryCollection(ctx context.Context, subscriptionID string, purpose types.ChargePurpose, now time.Time) error {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.SubscriptionStatus != types.SubscriptionStatusPastDue {
		return nil
	}
	// An expired card cannot recover on a timer; it waits for
	// ResumeAfterMethodUpdate.
	if purpose == types.ChargePurposeDunning &&
		sub.LastFailureClass != nil && *sub.LastFailureClass == types.FailureClassCardExpired {
		return nil
	}

	// Claim exclusivity.
	sub.UpdatedAt = now
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		if ierr.IsVersionConflict(err) {
			return nil
		}
		return err
	}

	periodKey := types.PeriodKey(sub.ID, sub.CurrentPeriodStart)
	inv, err := s.InvoiceRepo.GetByPeriodKey(ctx, periodKey)
	if err != nil {
		return err
	}
	if inv.InvoiceStatus == types.InvoiceStatusPaid {
		// Paid out-of-band (e.g. webhook); just restore the subscription.
		pl, err := s.getPlan(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		return s.commitRenewal(ctx, sub, pl, now)
	}

	result, err := s.payments.Collect(ctx, sub, inv.ID, inv.Total, purpose)
	if err != nil {
		return err
	}
	if !result.Succeeded {
		return s.recordCollectionFailure(ctx, sub, result.FailureClass, now)
	}

	if err := s.invoices.MarkPaid(ctx, inv.ID, now); err != nil {
		return err
	}
	pl, err := s.getPlan(ctx, sub.PlanID)
	if err != nil {
		return err
	}
	return s.commitRenewal(ctx, sub, pl, now)
}

func (s *orchestratorService) ApplyPlanChange(ctx context.Context, subscriptionID, newPlanID string, now time.Time) error {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.SubscriptionStatus.IsTerminal() {
		return ierr.NewError("cannot change plan of a terminal subscription").
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
				"status":          sub.SubscriptionStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	if sub.PlanID == newPlanID {
		return nil
	}

	oldPlan, err := s.getPlan(ctx, sub.PlanID)
	if err != nil {
		return err
	}
	newPlan, err := s.getPlan(ctx, newPlanID)
	if err != nil {
		return err
	}

	// Claim exclusivity before charging.
	sub.UpdatedAt = now
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}

	result, err := s.proration.Prorate(ctx, ProrationParams{
		OldPlan:   oldPlan,
		NewPlan:   newPlan,
		Now:       now,
		PeriodEnd: sub.CurrentPeriodEnd,
	})
	if err != nil {
		return err
	}

	if result.AmountDue.IsPositive() {
		// The plan change is all-or-nothing: charge first, apply only on
		// success.
		chargeResult, err := s.payments.ChargeOnce(ctx, sub, "", result.AmountDue, types.ChargePurposePlanChange)
		if err != nil {
			return err
		}
		if !chargeResult.Succeeded {
			return ierr.NewError("plan change charge declined").
				WithReportableDetails(map[string]any{
					"subscription_id": subscriptionID,
					"failure_class":   chargeResult.FailureClass,
					"amount_due":      result.AmountDue,
				}).
				Mark(ierr.ErrCard)
		}
	}

	sub.PlanID = newPlanID
	sub.PendingCredit = sub.PendingCredit.Add(result.OverCredit)
	sub.UpdatedAt = now
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}

	s.Logger.Infow("applied plan change",
		"subscription_id", subscriptionID,
		"old_plan", oldPlan.ID,
		"new_plan", newPlan.ID,
		"amount_due", result.AmountDue.String(),
		"over_credit", result.OverCredit.String(),
	)
	return nil
}

func (s *orchestratorService) Cancel(ctx context.Context, subscriptionID string, options CancelOptions, now time.Time) error {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.SubscriptionStatus == types.SubscriptionStatusCancelled {
		return nil
	}

	if options.Immediate {
		sub.SubscriptionStatus = types.SubscriptionStatusCancelled
		sub.CancelledAt = lo.ToPtr(now)
	} else {
		sub.SubscriptionStatus = types.SubscriptionStatusCancelling
		sub.CancelAtPeriodEnd = true
	}
	sub.UpdatedAt = now

	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}

	s.Logger.Infow("cancellation requested",
		"subscription_id", subscriptionID,
		"immediate", options.Immediate,
	)
	return nil
}

func (s *orchestratorService) ResumeAfterMethodUpdate(ctx context.Context, subscriptionID, paymentMethodID string, now time.Time) error {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if paymentMethodID == "" {
		return ierr.NewError("payment method id is required").
			Mark(ierr.ErrValidation)
	}

	sub.PaymentMethodID = paymentMethodID
	sub.LastFailureClass = nil
	sub.UpdatedAt = now
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}

	if sub.SubscriptionStatus == types.SubscriptionStatusPastDue {
		return s.retryCollection(ctx, subscriptionID, types.ChargePurposeRenewal, now)
	}
	return nil
}

// computeUsageCharges meters every configured metric over the current
// period. Metrics without records or without a tier table contribute no
// charge.
func (s *orchestratorService) computeUsageCharges(ctx context.Context, sub *subscription.Subscription) ([]*UsageCharge, error) {
	metrics, err := s.MeterRepo.ListMetrics(ctx)
	if err != nil {
		return nil, err
	}

	charges := make([]*UsageCharge, 0, len(metrics))
	for _, metric := range metrics {
		records, err := s.UsageRepo.ListForPeriod(ctx, sub.ID, metric.ID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			continue
		}

		tiers, err := s.getTiers(ctx, metric.ID)
		if err != nil {
			return nil, err
		}
		if len(tiers) == 0 {
			continue
		}

		charge, err := s.metering.ComputeCharge(ctx, metric, records, tiers)
		if err != nil {
			return nil, err
		}
		charges = append(charges, charge)
	}
	return charges, nil
}

func (s *orchestratorService) pendingOneTimeCharges(sub *subscription.Subscription) []OneTimeCharge {
	if !sub.PendingCredit.IsPositive() {
		return nil
	}
	return []OneTimeCharge{{
		Description: "credit from plan downgrade",
		Amount:      sub.PendingCredit.Neg(),
	}}
}

// getPlan reads a plan through the config cache; plans are immutable once
// referenced so a cached copy is always safe to price against.
func (s *orchestratorService) getPlan(ctx context.Context, planID string) (*plan.Plan, error) {
	key := cache.GenerateKey(cache.PrefixPlan, planID)
	if cached, ok := s.Cache.Get(ctx, key); ok {
		if pl, ok := cached.(*plan.Plan); ok {
			return pl, nil
		}
	}
	pl, err := s.PlanRepo.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	s.Cache.Set(ctx, key, pl, 0)
	return pl, nil
}

func (s *orchestratorService) getTiers(ctx context.Context, metricID string) ([]meter.Tier, error) {
	key := cache.GenerateKey(cache.PrefixTiers, metricID)
	if cached, ok := s.Cache.Get(ctx, key); ok {
		if tiers, ok := cached.([]meter.Tier); ok {
			return tiers, nil
		}
	}
	tiers, err := s.MeterRepo.ListTiers(ctx, metricID)
	if err != nil {
		return nil, err
	}
	s.Cache.Set(ctx, key, tiers, 0)
	return tiers, nil
}
