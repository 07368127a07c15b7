package testutil

import (
	"context"
	"fmt"
	"sync"

	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/gateway"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/shopspring/decimal"
)

// ChargeOutcome scripts one charge execution of the fake gateway. A nil
// FailureClass with Transport false is a success; Transport true simulates a
// network failure where the gateway never recorded an outcome.
type ChargeOutcome struct {
	FailureClass types.FailureClass
	Declined     bool
	Transport    bool
}

// RefundCall records one refund the fake gateway executed.
type RefundCall struct {
	IdempotencyKey   string
	ExternalChargeID string
	Amount           decimal.Decimal
}

// FakeGateway implements gateway.PaymentGateway with scriptable outcomes and
// real idempotency-key semantics: a reused key replays the recorded outcome
// without executing again, which is exactly how declines surface on blind
// key reuse.
type FakeGateway struct {
	mu sync.Mutex

	outcomes []ChargeOutcome
	recorded map[string]gateway.ChargeResult

	// Charges holds the requests that actually executed, replays excluded.
	Charges []gateway.ChargeRequest

	// Invoices holds the invoice requests that actually executed.
	Invoices    []gateway.InvoiceRequest
	invoiceKeys map[string]string

	Refunds []RefundCall

	// InvoiceErr, when set, fails CreateInvoice.
	InvoiceErr error

	// InvoiceHook, when set, runs before each executed CreateInvoice. Tests
	// use it to interleave concurrent state changes mid-assembly.
	InvoiceHook func()

	seq int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		recorded:    make(map[string]gateway.ChargeResult),
		invoiceKeys: make(map[string]string),
	}
}

// ScriptChargeOutcomes queues outcomes consumed one per executed charge.
// When the queue is empty every charge succeeds.
func (g *FakeGateway) ScriptChargeOutcomes(outcomes ...ChargeOutcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes = append(g.outcomes, outcomes...)
}

func (g *FakeGateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if result, ok := g.recorded[req.IdempotencyKey]; ok {
		replay := result
		return &replay, nil
	}

	var outcome ChargeOutcome
	if len(g.outcomes) > 0 {
		outcome = g.outcomes[0]
		g.outcomes = g.outcomes[1:]
	}

	if outcome.Transport {
		// The request never reached the gateway; nothing is recorded for
		// the key, so a retry with the same key executes fresh.
		return nil, ierr.NewError("connection reset").Mark(ierr.ErrGateway)
	}

	g.seq++
	g.Charges = append(g.Charges, req)

	var result gateway.ChargeResult
	if outcome.Declined {
		result = gateway.ChargeResult{
			Status:       gateway.ChargeStatusFailed,
			FailureClass: outcome.FailureClass,
			Message:      "card declined",
		}
	} else {
		result = gateway.ChargeResult{
			Status:     gateway.ChargeStatusSucceeded,
			ExternalID: fmt.Sprintf("ch_fake_%03d", g.seq),
		}
	}

	g.recorded[req.IdempotencyKey] = result
	replay := result
	return &replay, nil
}

func (g *FakeGateway) CreateInvoice(ctx context.Context, req gateway.InvoiceRequest) (string, error) {
	if g.InvoiceHook != nil {
		g.InvoiceHook()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.InvoiceErr != nil {
		return "", g.InvoiceErr
	}
	if id, ok := g.invoiceKeys[req.IdempotencyKey]; ok {
		return id, nil
	}

	g.seq++
	id := fmt.Sprintf("in_fake_%03d", g.seq)
	g.invoiceKeys[req.IdempotencyKey] = id
	g.Invoices = append(g.Invoices, req)
	return id, nil
}

func (g *FakeGateway) Refund(ctx context.Context, idempotencyKey, externalChargeID string, amount decimal.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	g.Refunds = append(g.Refunds, RefundCall{
		IdempotencyKey:   idempotencyKey,
		ExternalChargeID: externalChargeID,
		Amount:           amount,
	})
	return fmt.Sprintf("re_fake_%03d", g.seq), nil
}

// ExecutedCharges returns how many charges actually executed at the gateway.
func (g *FakeGateway) ExecutedCharges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Charges)
}
