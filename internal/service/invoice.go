package service

import (
	"context"
	"fmt"
	"time"

	"github.com/flowbill/flowbill/internal/domain/invoice"
	"github.com/flowbill/flowbill/internal/domain/plan"
	"github.com/flowbill/flowbill/internal/domain/subscription"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/gateway"
	"github.com/flowbill/flowbill/internal/idempotency"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// OneTimeCharge is a pending one-off invoice line, negative for credits.
type OneTimeCharge struct {
	Description string
	Amount      decimal.Decimal
}

type InvoiceService interface {
	// Assemble combines the base plan charge, usage charges and one-off
	// charges into a priced invoice and creates it idempotently: at most
	// one non-void invoice exists per period key, no matter how often the
	// renewal job retries.
	Assemble(ctx context.Context, sub *subscription.Subscription, pl *plan.Plan, usageCharges []*UsageCharge, oneTimeCharges []OneTimeCharge) (*invoice.Invoice, error)

	// MarkPaid transitions an invoice to paid.
	MarkPaid(ctx context.Context, invoiceID string, paidAt time.Time) error
}

type invoiceService struct {
	ServiceParams
}

func NewInvoiceService(params ServiceParams) InvoiceService {
	return &invoiceService{ServiceParams: params}
}

func (s *invoiceService) Assemble(ctx context.Context, sub *subscription.Subscription, pl *plan.Plan, usageCharges []*UsageCharge, oneTimeCharges []OneTimeCharge) (*invoice.Invoice, error) {
	periodKey := types.PeriodKey(sub.ID, sub.CurrentPeriodStart)

	// Idempotent no-op: a retried renewal finds the invoice created by the
	// earlier attempt and returns it unchanged.
	existing, err := s.InvoiceRepo.GetByPeriodKey(ctx, periodKey)
	if err == nil {
		return existing, nil
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}

	items := s.buildItems(pl, usageCharges, oneTimeCharges)

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Amount)
	}

	tax, err := s.TaxEngine.ComputeTax(ctx, subtotal, sub.Jurisdiction)
	if err != nil {
		// Tax failures are non-retryable; assembly aborts with no partial
		// invoice persisted anywhere.
		return nil, ierr.WithError(err).
			WithHint("invoice assembly aborted at tax computation").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"period_key":      periodKey,
			}).
			Mark(ierr.ErrTaxComputation)
	}
	total := subtotal.Add(tax)

	externalID, err := s.createGatewayInvoice(ctx, sub, periodKey, items, tax)
	if err != nil {
		return nil, err
	}

	inv := &invoice.Invoice{
		ID:                types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		InvoiceNumber:     types.GenerateInvoiceNumber(),
		SubscriptionID:    sub.ID,
		PeriodKey:         periodKey,
		Items:             items,
		Subtotal:          subtotal,
		Tax:               tax,
		Total:             total,
		Currency:          sub.Currency,
		InvoiceStatus:     types.InvoiceStatusOpen,
		ExternalInvoiceID: externalID,
		BaseModel:         types.GetDefaultBaseModel(ctx),
	}

	if err := s.InvoiceRepo.Create(ctx, inv); err != nil {
		// The gateway invoice exists but the local persist failed. A
		// competing worker may have won the race; reconcile by re-reading
		// the period key before surfacing a consistency error. The gateway
		// call is idempotent by period key, so a caller retry re-uses the
		// same external invoice instead of creating a second one.
		if recovered, readErr := s.InvoiceRepo.GetByPeriodKey(ctx, periodKey); readErr == nil {
			return recovered, nil
		}
		return nil, ierr.WithError(err).
			WithHint("gateway invoice created but local persist failed; retry with the same period key").
			WithReportableDetails(map[string]any{
				"subscription_id":     sub.ID,
				"period_key":          periodKey,
				"external_invoice_id": externalID,
			}).
			Mark(ierr.ErrConsistency)
	}

	s.Logger.Infow("assembled invoice",
		"invoice_id", inv.ID,
		"subscription_id", sub.ID,
		"period_key", periodKey,
		"subtotal", subtotal.String(),
		"tax", tax.String(),
		"total", total.String(),
	)

	return inv, nil
}

func (s *invoiceService) buildItems(pl *plan.Plan, usageCharges []*UsageCharge, oneTimeCharges []OneTimeCharge) []invoice.Item {
	items := []invoice.Item{
		{
			Kind:        types.InvoiceItemKindSubscription,
			Description: fmt.Sprintf("%s (%s)", pl.Name, pl.BillingPeriod),
			Amount:      pl.Price,
		},
	}

	for _, charge := range usageCharges {
		if charge.Amount.IsZero() {
			continue
		}
		items = append(items, invoice.Item{
			Kind:        types.InvoiceItemKindUsage,
			Description: fmt.Sprintf("usage for metric %s", charge.MetricID),
			Amount:      charge.Amount,
			MetricID:    charge.MetricID,
			Metadata:    usageMetadata(charge),
		})
	}

	for _, oneTime := range oneTimeCharges {
		items = append(items, invoice.Item{
			Kind:        types.InvoiceItemKindOneTime,
			Description: oneTime.Description,
			Amount:      oneTime.Amount,
		})
	}

	return items
}

// usageMetadata flattens the tier breakdown into invoice item metadata so
// the charge stays auditable after the raw records age out.
func usageMetadata(charge *UsageCharge) types.Metadata {
	md := types.Metadata{
		"usage": charge.Usage.String(),
	}
	for i, tier := range charge.Breakdown {
		prefix := fmt.Sprintf("tier_%d_", i)
		md[prefix+"range"] = fmt.Sprintf("%s-%s", tier.Min, tier.Max)
		md[prefix+"kind"] = string(tier.Kind)
		md[prefix+"usage"] = tier.Usage.String()
		md[prefix+"rate"] = tier.Rate.String()
		md[prefix+"amount"] = tier.Amount.String()
	}
	return md
}

func (s *invoiceService) createGatewayInvoice(ctx context.Context, sub *subscription.Subscription, periodKey string, items []invoice.Item, tax decimal.Decimal) (string, error) {
	gatewayItems := lo.Map(items, func(item invoice.Item, _ int) gateway.InvoiceItem {
		return gateway.InvoiceItem{Description: item.Description, Amount: item.Amount}
	})
	if tax.IsPositive() {
		gatewayItems = append(gatewayItems, gateway.InvoiceItem{Description: "tax", Amount: tax})
	}

	idempotencyKey := s.IdempotencyGen.GenerateKey(idempotency.ScopeSubscriptionInvoice, map[string]interface{}{
		"subscription_id": sub.ID,
		"period_key":      periodKey,
	})

	externalID, err := s.Gateway.CreateInvoice(ctx, gateway.InvoiceRequest{
		IdempotencyKey: idempotencyKey,
		CustomerID:     sub.CustomerID,
		Currency:       sub.Currency,
		Items:          gatewayItems,
	})
	if err != nil {
		return "", err
	}
	return externalID, nil
}

func (s *invoiceService) MarkPaid(ctx context.Context, invoiceID string, paidAt time.Time) error {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.InvoiceStatus == types.InvoiceStatusPaid {
		return nil
	}
	if inv.InvoiceStatus == types.InvoiceStatusVoid {
		return ierr.NewError("cannot pay a void invoice").
			WithReportableDetails(map[string]any{"invoice_id": invoiceID}).
			Mark(ierr.ErrInvalidOperation)
	}
	inv.InvoiceStatus = types.InvoiceStatusPaid
	inv.PaidAt = lo.ToPtr(paidAt)
	inv.UpdatedAt = time.Now().UTC()
	return s.InvoiceRepo.Update(ctx, inv)
}
