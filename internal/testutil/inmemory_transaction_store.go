package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/flowbill/flowbill/internal/domain/transaction"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/types"
)

// InMemoryTransactionStore implements transaction.Repository for tests.
type InMemoryTransactionStore struct {
	mu   sync.Mutex
	txns map[string]*transaction.Transaction

	// CreateErr, when set, fails the next Create and clears itself.
	CreateErr error
}

func NewInMemoryTransactionStore() *InMemoryTransactionStore {
	return &InMemoryTransactionStore{txns: make(map[string]*transaction.Transaction)}
}

func (s *InMemoryTransactionStore) Create(ctx context.Context, txn *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		err := s.CreateErr
		s.CreateErr = nil
		return err
	}

	copied := *txn
	s.txns[txn.ID] = &copied
	return nil
}

func (s *InMemoryTransactionStore) Get(ctx context.Context, id string) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.txns[id]
	if !ok {
		return nil, ierr.NewError("transaction not found").
			WithReportableDetails(map[string]any{"transaction_id": id}).
			Mark(ierr.ErrNotFound)
	}
	copied := *txn
	return &copied, nil
}

func (s *InMemoryTransactionStore) Update(ctx context.Context, txn *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txns[txn.ID]; !ok {
		return ierr.NewError("transaction not found").
			WithReportableDetails(map[string]any{"transaction_id": txn.ID}).
			Mark(ierr.ErrNotFound)
	}
	copied := *txn
	s.txns[txn.ID] = &copied
	return nil
}

func (s *InMemoryTransactionStore) GetByIdempotencyKey(ctx context.Context, key string) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, txn := range s.txns {
		if txn.IdempotencyKey == key {
			copied := *txn
			return &copied, nil
		}
	}
	return nil, ierr.NewError("no transaction for idempotency key").
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryTransactionStore) GetByExternalID(ctx context.Context, externalID string) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, txn := range s.txns {
		if txn.ExternalChargeID == externalID {
			copied := *txn
			return &copied, nil
		}
	}
	return nil, ierr.NewError("no transaction for external charge id").
		WithReportableDetails(map[string]any{"external_charge_id": externalID}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryTransactionStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*transaction.Transaction
	for _, txn := range s.txns {
		if txn.SubscriptionID != subscriptionID {
			continue
		}
		copied := *txn
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *InMemoryTransactionStore) CountCompletedCharges(ctx context.Context, subscriptionID, periodKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, txn := range s.txns {
		if txn.SubscriptionID == subscriptionID &&
			txn.PeriodKey == periodKey &&
			txn.Kind == types.TransactionKindSubscriptionCharge &&
			txn.TransactionStatus == types.TransactionStatusCompleted {
			n++
		}
	}
	return n, nil
}
