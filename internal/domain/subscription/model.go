package subscription

import (
	"time"

	"github.com/flowbill/flowbill/internal/types"
	"github.com/shopspring/decimal"
)

// Subscription is the aggregate root for a billing period. It is mutated
// only by the billing cycle orchestrator, always through the repository's
// compare-and-swap update; workers racing on the same subscription detect
// the stale version and abort.
type Subscription struct {
	ID string `db:"id" json:"id"`

	// CustomerID is the identifier of the owning customer.
	CustomerID string `db:"customer_id" json:"customer_id"`

	PlanID string `db:"plan_id" json:"plan_id"`

	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`

	// Currency is the lowercase 3 letter ISO code
	Currency string `db:"currency" json:"currency"`

	// Jurisdiction is the tax jurisdiction passed to the tax engine.
	Jurisdiction string `db:"jurisdiction" json:"jurisdiction"`

	// CurrentPeriodStart/End delimit the period that has been invoiced.
	// The period advances only after a completed charge, never before.
	CurrentPeriodStart time.Time `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd   time.Time `db:"current_period_end" json:"current_period_end"`

	// FailedPaymentCount counts consecutive terminal collection failures.
	// Reset to zero on any completed charge.
	FailedPaymentCount int `db:"failed_payment_count" json:"failed_payment_count"`

	PaymentMethodID string `db:"payment_method_id" json:"payment_method_id"`

	// FallbackPaymentMethodID, when set, is charged exactly once after the
	// primary method exhausts its retry policy.
	FallbackPaymentMethodID *string `db:"fallback_payment_method_id" json:"fallback_payment_method_id"`

	// Version is the optimistic-concurrency token. Incremented on every
	// update; the store rejects writes carrying a stale version.
	Version int64 `db:"version" json:"version"`

	// CancelAtPeriodEnd marks an end-of-period cancellation; the next
	// renewal tick finalizes it instead of charging.
	CancelAtPeriodEnd bool `db:"cancel_at_period_end" json:"cancel_at_period_end"`

	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at"`

	TrialEnd *time.Time `db:"trial_end" json:"trial_end"`

	// LastFailureClass surfaces the latest classified payment failure to
	// the billing UI for remediation guidance.
	LastFailureClass *types.FailureClass `db:"last_failure_class" json:"last_failure_class"`

	// PendingCredit is over-credit from a downgrade, applied as a negative
	// one-time item on the next invoice. Minor units, never negative.
	PendingCredit decimal.Decimal `db:"pending_credit" json:"pending_credit"`

	types.BaseModel
}

// DueForRenewal reports whether the subscription's period has elapsed and
// its status permits renewal.
func (s *Subscription) DueForRenewal(now time.Time) bool {
	if s.SubscriptionStatus.IsTerminal() {
		return false
	}
	switch s.SubscriptionStatus {
	case types.SubscriptionStatusActive, types.SubscriptionStatusTrialing,
		types.SubscriptionStatusCancelling:
		return !s.CurrentPeriodEnd.After(now)
	default:
		return false
	}
}
