package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/flowbill/flowbill/internal/domain/subscription"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/samber/lo"
)

// InMemorySubscriptionStore implements subscription.Repository for tests,
// including the compare-and-swap Update the concurrency tests depend on.
type InMemorySubscriptionStore struct {
	mu   sync.Mutex
	subs map[string]*subscription.Subscription
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{subs: make(map[string]*subscription.Subscription)}
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.ID]; ok {
		return ierr.NewError("subscription already exists").
			WithReportableDetails(map[string]any{"subscription_id": sub.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	copied := *sub
	s.subs[sub.ID] = &copied
	return nil
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, ierr.NewError("subscription not found").
			WithReportableDetails(map[string]any{"subscription_id": id}).
			Mark(ierr.ErrNotFound)
	}
	copied := *sub
	return &copied, nil
}

func (s *InMemorySubscriptionStore) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*subscription.Subscription
	for _, sub := range s.subs {
		if filter != nil {
			if filter.CustomerID != "" && sub.CustomerID != filter.CustomerID {
				continue
			}
			if filter.PlanID != "" && sub.PlanID != filter.PlanID {
				continue
			}
			if len(filter.SubscriptionStatus) > 0 && !lo.Contains(filter.SubscriptionStatus, sub.SubscriptionStatus) {
				continue
			}
		}
		copied := *sub
		out = append(out, &copied)
	}
	return out, nil
}

// Update applies the compare-and-swap contract: the write succeeds only if
// the stored version matches, and both the stored row and the caller's copy
// advance to the next version.
func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.subs[sub.ID]
	if !ok {
		return ierr.NewError("subscription not found").
			WithReportableDetails(map[string]any{"subscription_id": sub.ID}).
			Mark(ierr.ErrNotFound)
	}
	if stored.Version != sub.Version {
		return ierr.NewError("subscription was modified concurrently").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"stale_version":   sub.Version,
				"stored_version":  stored.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}

	sub.Version++
	copied := *sub
	s.subs[sub.ID] = &copied
	return nil
}

func (s *InMemorySubscriptionStore) ListDueForRenewal(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*subscription.Subscription
	for _, sub := range s.subs {
		if !sub.DueForRenewal(now) {
			continue
		}
		copied := *sub
		out = append(out, &copied)
	}
	return out, nil
}

func (s *InMemorySubscriptionStore) ListPastDue(ctx context.Context, maxFailedPayments int) ([]*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*subscription.Subscription
	for _, sub := range s.subs {
		if sub.SubscriptionStatus != types.SubscriptionStatusPastDue {
			continue
		}
		if sub.FailedPaymentCount >= maxFailedPayments {
			continue
		}
		copied := *sub
		out = append(out, &copied)
	}
	return out, nil
}
