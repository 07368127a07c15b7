package webhook

import (
	"context"
	"time"

	"github.com/flowbill/flowbill/internal/cache"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/service"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/samber/lo"
)

// EventType enumerates the gateway notifications the billing core consumes.
type EventType string

const (
	EventChargeSucceeded EventType = "charge.succeeded"
	EventChargeFailed    EventType = "charge.failed"
	EventInvoicePaid     EventType = "invoice.paid"
)

// Event is a normalized gateway notification. PeriodKey travels in the
// gateway object's metadata so paid-invoice events can be matched without a
// reverse lookup by external id.
type Event struct {
	ID               string
	Type             EventType
	ExternalChargeID string
	PeriodKey        string
	FailureClass     types.FailureClass
	OccurredAt       time.Time
}

// eventDedupTTL bounds how long processed event ids are remembered. Gateways
// redeliver within hours, not weeks.
const eventDedupTTL = 72 * time.Hour

// Handler applies gateway events to local billing state. Deliveries are
// at-least-once and unordered; every path here must be idempotent.
type Handler struct {
	service.ServiceParams
}

func NewHandler(params service.ServiceParams) *Handler {
	return &Handler{ServiceParams: params}
}

// Handle processes one event. Redelivered events and events referencing
// charges in a state the event cannot advance are dropped silently.
func (h *Handler) Handle(ctx context.Context, event *Event) error {
	if event.ID == "" {
		return ierr.NewError("webhook event id is required").
			Mark(ierr.ErrValidation)
	}

	dedupKey := cache.GenerateKey(cache.PrefixWebhookEvent, event.ID)
	if _, seen := h.Cache.Get(ctx, dedupKey); seen {
		h.Logger.Debugw("dropping redelivered webhook event", "event_id", event.ID)
		return nil
	}

	var err error
	switch event.Type {
	case EventChargeSucceeded:
		err = h.handleChargeSucceeded(ctx, event)
	case EventChargeFailed:
		err = h.handleChargeFailed(ctx, event)
	case EventInvoicePaid:
		err = h.handleInvoicePaid(ctx, event)
	default:
		h.Logger.Debugw("ignoring webhook event type",
			"event_id", event.ID,
			"type", event.Type,
		)
	}
	if err != nil {
		// Leave the event unmarked so the gateway's redelivery retries it.
		return err
	}

	h.Cache.Set(ctx, dedupKey, true, eventDedupTTL)
	return nil
}

func (h *Handler) handleChargeSucceeded(ctx context.Context, event *Event) error {
	txn, err := h.TransactionRepo.GetByExternalID(ctx, event.ExternalChargeID)
	if err != nil {
		if ierr.IsNotFound(err) {
			// The synchronous collection path has not persisted the charge
			// yet, or the charge originated outside this system.
			h.Logger.Debugw("no transaction for charge event",
				"event_id", event.ID,
				"external_charge_id", event.ExternalChargeID,
			)
			return nil
		}
		return err
	}
	if txn.TransactionStatus != types.TransactionStatusPending {
		return nil
	}

	txn.TransactionStatus = types.TransactionStatusCompleted
	txn.UpdatedAt = time.Now().UTC()
	if err := h.TransactionRepo.Update(ctx, txn); err != nil {
		return err
	}

	h.Logger.Infow("confirmed charge from webhook",
		"event_id", event.ID,
		"transaction_id", txn.ID,
	)
	return nil
}

func (h *Handler) handleChargeFailed(ctx context.Context, event *Event) error {
	txn, err := h.TransactionRepo.GetByExternalID(ctx, event.ExternalChargeID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil
		}
		return err
	}
	if txn.TransactionStatus != types.TransactionStatusPending {
		return nil
	}

	txn.TransactionStatus = types.TransactionStatusFailed
	txn.FailureClass = lo.ToPtr(event.FailureClass)
	txn.UpdatedAt = time.Now().UTC()
	if err := h.TransactionRepo.Update(ctx, txn); err != nil {
		return err
	}

	h.Logger.Warnw("charge failed per webhook",
		"event_id", event.ID,
		"transaction_id", txn.ID,
		"failure_class", event.FailureClass,
	)
	return nil
}

func (h *Handler) handleInvoicePaid(ctx context.Context, event *Event) error {
	inv, err := h.InvoiceRepo.GetByPeriodKey(ctx, event.PeriodKey)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil
		}
		return err
	}
	if inv.InvoiceStatus == types.InvoiceStatusPaid {
		return nil
	}
	if inv.InvoiceStatus == types.InvoiceStatusVoid {
		h.Logger.Warnw("paid event for void invoice",
			"event_id", event.ID,
			"invoice_id", inv.ID,
		)
		return nil
	}

	inv.InvoiceStatus = types.InvoiceStatusPaid
	inv.PaidAt = lo.ToPtr(event.OccurredAt)
	inv.UpdatedAt = time.Now().UTC()
	if err := h.InvoiceRepo.Update(ctx, inv); err != nil {
		return err
	}

	h.Logger.Infow("invoice paid per webhook",
		"event_id", event.ID,
		"invoice_id", inv.ID,
	)
	return nil
}
