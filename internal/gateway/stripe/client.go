package stripe

import (
	"context"

	"github.com/flowbill/flowbill/internal/config"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/gateway"
	"github.com/flowbill/flowbill/internal/logger"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Gateway implements gateway.PaymentGateway on Stripe PaymentIntents and
// Invoices.
type Gateway struct {
	api    *client.API
	logger *logger.Logger
}

func NewGateway(cfg *config.Configuration, logger *logger.Logger) *Gateway {
	api := &client.API{}
	api.Init(cfg.Stripe.APIKey, nil)
	return &Gateway{api: api, logger: logger}
}

func (g *Gateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	params := &stripego.PaymentIntentParams{
		Params: stripego.Params{
			Context:        ctx,
			IdempotencyKey: stripego.String(req.IdempotencyKey),
		},
		Amount:        stripego.Int64(req.Amount.IntPart()),
		Currency:      stripego.String(req.Currency),
		Customer:      stripego.String(req.CustomerID),
		PaymentMethod: stripego.String(req.PaymentMethodID),
		Description:   stripego.String(req.Description),
		Confirm:       stripego.Bool(true),
		OffSession:    stripego.Bool(true),
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		if result, ok := classifyChargeError(err); ok {
			g.logger.Warnw("charge declined",
				"idempotency_key", req.IdempotencyKey,
				"failure_class", result.FailureClass,
			)
			return result, nil
		}
		return nil, ierr.WithError(err).
			WithHint("stripe charge request failed").
			WithReportableDetails(map[string]any{
				"idempotency_key": req.IdempotencyKey,
			}).
			Mark(ierr.ErrGateway)
	}

	return &gateway.ChargeResult{
		Status:     gateway.ChargeStatusSucceeded,
		ExternalID: pi.ID,
	}, nil
}

func (g *Gateway) CreateInvoice(ctx context.Context, req gateway.InvoiceRequest) (string, error) {
	for _, item := range req.Items {
		_, err := g.api.InvoiceItems.New(&stripego.InvoiceItemParams{
			Params:      stripego.Params{Context: ctx},
			Customer:    stripego.String(req.CustomerID),
			Amount:      stripego.Int64(item.Amount.IntPart()),
			Currency:    stripego.String(req.Currency),
			Description: stripego.String(item.Description),
		})
		if err != nil {
			return "", ierr.WithError(err).
				WithHint("failed to create stripe invoice item").
				Mark(ierr.ErrGateway)
		}
	}

	inv, err := g.api.Invoices.New(&stripego.InvoiceParams{
		Params: stripego.Params{
			Context:        ctx,
			IdempotencyKey: stripego.String(req.IdempotencyKey),
		},
		Customer: stripego.String(req.CustomerID),
	})
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("failed to create stripe invoice").
			WithReportableDetails(map[string]any{
				"idempotency_key": req.IdempotencyKey,
			}).
			Mark(ierr.ErrGateway)
	}

	return inv.ID, nil
}

func (g *Gateway) Refund(ctx context.Context, idempotencyKey, externalChargeID string, amount decimal.Decimal) (string, error) {
	refund, err := g.api.Refunds.New(&stripego.RefundParams{
		Params: stripego.Params{
			Context:        ctx,
			IdempotencyKey: stripego.String(idempotencyKey),
		},
		PaymentIntent: stripego.String(externalChargeID),
		Amount:        stripego.Int64(amount.IntPart()),
	})
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("stripe refund request failed").
			WithReportableDetails(map[string]any{
				"external_charge_id": externalChargeID,
			}).
			Mark(ierr.ErrGateway)
	}
	return refund.ID, nil
}

// classifyChargeError maps a stripe card error to a declined charge result.
// Transport-level errors are not declines and return ok=false.
func classifyChargeError(err error) (*gateway.ChargeResult, bool) {
	var stripeErr *stripego.Error
	if !ierr.As(err, &stripeErr) {
		return nil, false
	}
	if stripeErr.Type != stripego.ErrorTypeCard {
		return nil, false
	}

	class := types.FailureClassGeneric
	switch {
	case stripeErr.Code == stripego.ErrorCodeExpiredCard:
		class = types.FailureClassCardExpired
	case stripeErr.DeclineCode == stripego.DeclineCodeInsufficientFunds:
		class = types.FailureClassInsufficientFunds
	case stripeErr.Code == stripego.ErrorCodeProcessingError:
		class = types.FailureClassNetworkError
	}

	externalID := ""
	if stripeErr.PaymentIntent != nil {
		externalID = stripeErr.PaymentIntent.ID
	}

	return &gateway.ChargeResult{
		Status:       gateway.ChargeStatusFailed,
		ExternalID:   externalID,
		FailureClass: class,
		Message:      stripeErr.Msg,
	}, true
}
