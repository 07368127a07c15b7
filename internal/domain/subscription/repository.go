package subscription

import (
	"context"
	"time"

	"github.com/flowbill/flowbill/internal/types"
)

type Repository interface {
	Create(ctx context.Context, subscription *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context, filter *types.SubscriptionFilter) ([]*Subscription, error)

	// Update persists the subscription if and only if the stored version
	// matches subscription.Version, then increments it. A stale version
	// fails with ErrVersionConflict and writes nothing; this is the
	// per-subscription exclusivity contract for all state-mutating
	// billing operations.
	Update(ctx context.Context, subscription *Subscription) error

	// ListDueForRenewal returns non-terminal subscriptions whose current
	// period ended at or before now.
	ListDueForRenewal(ctx context.Context, now time.Time) ([]*Subscription, error)

	// ListPastDue returns past_due subscriptions eligible for a dunning
	// sweep, i.e. with failed payment count below the given threshold.
	ListPastDue(ctx context.Context, maxFailedPayments int) ([]*Subscription, error)
}
