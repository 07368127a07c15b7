package testutil

import (
	"context"
	"sync"

	"github.com/flowbill/flowbill/internal/domain/invoice"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/types"
)

// InMemoryInvoiceStore implements invoice.Repository for tests. It enforces
// the one-non-void-invoice-per-period-key invariant the same way the
// production store's partial unique index does.
type InMemoryInvoiceStore struct {
	mu       sync.Mutex
	invoices map[string]*invoice.Invoice

	// CreateErr, when set, fails the next Create and clears itself. Used to
	// simulate a local persist failure after the gateway invoice exists.
	CreateErr error
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{invoices: make(map[string]*invoice.Invoice)}
}

func (s *InMemoryInvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		err := s.CreateErr
		s.CreateErr = nil
		return err
	}

	for _, existing := range s.invoices {
		if existing.PeriodKey == inv.PeriodKey && existing.InvoiceStatus != types.InvoiceStatusVoid {
			return ierr.NewError("invoice already exists for period").
				WithReportableDetails(map[string]any{"period_key": inv.PeriodKey}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	copied := *inv
	copied.Items = append([]invoice.Item(nil), inv.Items...)
	s.invoices[inv.ID] = &copied
	return nil
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, ierr.NewError("invoice not found").
			WithReportableDetails(map[string]any{"invoice_id": id}).
			Mark(ierr.ErrNotFound)
	}
	return cloneInvoice(inv), nil
}

func (s *InMemoryInvoiceStore) GetByPeriodKey(ctx context.Context, periodKey string) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inv := range s.invoices {
		if inv.PeriodKey == periodKey && inv.InvoiceStatus != types.InvoiceStatusVoid {
			return cloneInvoice(inv), nil
		}
	}
	return nil, ierr.NewError("no invoice for period").
		WithReportableDetails(map[string]any{"period_key": periodKey}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryInvoiceStore) Update(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[inv.ID]; !ok {
		return ierr.NewError("invoice not found").
			WithReportableDetails(map[string]any{"invoice_id": inv.ID}).
			Mark(ierr.ErrNotFound)
	}
	s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

// Count returns the number of non-void invoices for a period key.
func (s *InMemoryInvoiceStore) Count(periodKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, inv := range s.invoices {
		if inv.PeriodKey == periodKey && inv.InvoiceStatus != types.InvoiceStatusVoid {
			n++
		}
	}
	return n
}

func cloneInvoice(inv *invoice.Invoice) *invoice.Invoice {
	copied := *inv
	copied.Items = append([]invoice.Item(nil), inv.Items...)
	return &copied
}
