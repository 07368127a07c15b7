package types

import "fmt"

// SubscriptionStatus is the status of a subscription. Subscriptions are
// never hard-deleted; cancelled/expired are soft-terminal.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCancelling SubscriptionStatus = "cancelling"
	SubscriptionStatusCancelled  SubscriptionStatus = "cancelled"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusExpired    SubscriptionStatus = "expired"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) Validate() error {
	switch s {
	case SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusCancelling,
		SubscriptionStatusCancelled,
		SubscriptionStatusUnpaid,
		SubscriptionStatusIncomplete,
		SubscriptionStatusExpired:
		return nil
	default:
		return fmt.Errorf("invalid subscription status: %s", s)
	}
}

// IsTerminal reports whether no further renewals may be scheduled.
func (s SubscriptionStatus) IsTerminal() bool {
	switch s {
	case SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return true
	default:
		return false
	}
}

// SubscriptionFilter narrows subscription listings.
type SubscriptionFilter struct {
	CustomerID         string
	PlanID             string
	SubscriptionStatus []SubscriptionStatus
	// PeriodEndBefore selects subscriptions whose current period has ended,
	// i.e. the ones due for renewal.
	PeriodEndBefore *string
}
