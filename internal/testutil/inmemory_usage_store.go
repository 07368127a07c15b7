package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowbill/flowbill/internal/domain/usage"
)

// InMemoryUsageStore implements usage.Repository for tests. Records are
// append-only, matching the production store.
type InMemoryUsageStore struct {
	mu      sync.RWMutex
	records []*usage.Record
}

func NewInMemoryUsageStore() *InMemoryUsageStore {
	return &InMemoryUsageStore{}
}

func (s *InMemoryUsageStore) Append(ctx context.Context, record *usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *record
	s.records = append(s.records, &copied)
	return nil
}

func (s *InMemoryUsageStore) ListForPeriod(ctx context.Context, subscriptionID, metricID string, start, end time.Time) ([]*usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*usage.Record
	for _, r := range s.records {
		if r.SubscriptionID != subscriptionID || r.MetricID != metricID {
			continue
		}
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		copied := *r
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
