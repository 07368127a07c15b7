package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/flowbill/flowbill/internal/domain/meter"
	ierr "github.com/flowbill/flowbill/internal/errors"
)

// InMemoryMeterStore implements meter.Repository for tests.
type InMemoryMeterStore struct {
	mu      sync.RWMutex
	metrics map[string]*meter.Metric
	tiers   map[string][]meter.Tier
}

func NewInMemoryMeterStore() *InMemoryMeterStore {
	return &InMemoryMeterStore{
		metrics: make(map[string]*meter.Metric),
		tiers:   make(map[string][]meter.Tier),
	}
}

func (s *InMemoryMeterStore) CreateMetric(ctx context.Context, metric *meter.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.metrics[metric.ID]; ok {
		return ierr.NewError("metric already exists").
			WithReportableDetails(map[string]any{"metric_id": metric.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	copied := *metric
	s.metrics[metric.ID] = &copied
	return nil
}

func (s *InMemoryMeterStore) GetMetric(ctx context.Context, id string) (*meter.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metrics[id]
	if !ok {
		return nil, ierr.NewError("metric not found").
			WithReportableDetails(map[string]any{"metric_id": id}).
			Mark(ierr.ErrNotFound)
	}
	copied := *m
	return &copied, nil
}

func (s *InMemoryMeterStore) ListMetrics(ctx context.Context) ([]*meter.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*meter.Metric, 0, len(s.metrics))
	for _, m := range s.metrics {
		copied := *m
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryMeterStore) ListTiers(ctx context.Context, metricID string) ([]meter.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tiers := make([]meter.Tier, len(s.tiers[metricID]))
	copy(tiers, s.tiers[metricID])
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Min.LessThan(tiers[j].Min) })
	return tiers, nil
}

func (s *InMemoryMeterStore) ReplaceTiers(ctx context.Context, metricID string, tiers []meter.Tier) error {
	if err := meter.ValidateTiers(tiers); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]meter.Tier, len(tiers))
	copy(copied, tiers)
	s.tiers[metricID] = copied
	return nil
}
