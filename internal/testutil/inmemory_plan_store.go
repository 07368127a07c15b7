package testutil

import (
	"context"
	"sync"

	"github.com/flowbill/flowbill/internal/domain/plan"
	ierr "github.com/flowbill/flowbill/internal/errors"
)

// InMemoryPlanStore implements plan.Repository for tests.
type InMemoryPlanStore struct {
	mu    sync.RWMutex
	plans map[string]*plan.Plan
}

func NewInMemoryPlanStore() *InMemoryPlanStore {
	return &InMemoryPlanStore{plans: make(map[string]*plan.Plan)}
}

func (s *InMemoryPlanStore) Create(ctx context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[p.ID]; ok {
		return ierr.NewError("plan already exists").
			WithReportableDetails(map[string]any{"plan_id": p.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	copied := *p
	s.plans[p.ID] = &copied
	return nil
}

func (s *InMemoryPlanStore) Get(ctx context.Context, id string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, ierr.NewError("plan not found").
			WithReportableDetails(map[string]any{"plan_id": id}).
			Mark(ierr.ErrNotFound)
	}
	copied := *p
	return &copied, nil
}

func (s *InMemoryPlanStore) List(ctx context.Context) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		copied := *p
		out = append(out, &copied)
	}
	return out, nil
}
