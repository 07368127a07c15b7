package service

import (
	"context"
	"math"
	"time"

	"github.com/flowbill/flowbill/internal/domain/subscription"
	"github.com/flowbill/flowbill/internal/domain/transaction"
	ierr "github.com/flowbill/flowbill/internal/errors"
	"github.com/flowbill/flowbill/internal/gateway"
	"github.com/flowbill/flowbill/internal/idempotency"
	"github.com/flowbill/flowbill/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// CollectionResult is the terminal outcome of one collection chain.
type CollectionResult struct {
	Succeeded bool

	// Transaction is the completed subscription_charge when Succeeded.
	Transaction *transaction.Transaction

	// FailureClass is the last classified failure when not Succeeded.
	FailureClass types.FailureClass

	Attempts     int
	FallbackUsed bool
}

type PaymentService interface {
	// Collect drives the full charge/retry/fallback chain for one amount
	// against the subscription's payment method. It classifies failures,
	// applies the per-class backoff policy, and attempts the fallback
	// method exactly once after the primary exhausts its attempts. It
	// never mutates the subscription; the orchestrator owns state
	// transitions.
	Collect(ctx context.Context, sub *subscription.Subscription, invoiceID string, amount decimal.Decimal, purpose types.ChargePurpose) (*CollectionResult, error)

	// ChargeOnce performs a single attempt with no retries, for
	// all-or-nothing flows like plan changes.
	ChargeOnce(ctx context.Context, sub *subscription.Subscription, invoiceID string, amount decimal.Decimal, purpose types.ChargePurpose) (*CollectionResult, error)

	// Refund reverses a completed charge, fully or partially.
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*transaction.Transaction, error)
}

type paymentService struct {
	ServiceParams

	// wait pauses between retry attempts; tests replace it to run the
	// backoff schedule instantly.
	wait func(ctx context.Context, d time.Duration) error
}

func NewPaymentService(params ServiceParams) PaymentService {
	return &paymentService{
		ServiceParams: params,
		wait:          waitWithContext,
	}
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DelayForAttempt returns the backoff delay before attempt n (1-indexed).
// Attempt 1 is immediate; attempt n>=2 waits base * multiplier^(n-2).
func DelayForAttempt(policy types.RetryPolicy, n int) time.Duration {
	if n < 2 {
		return 0
	}
	seconds := float64(policy.BaseDelaySeconds) * math.Pow(policy.BackoffMultiplier, float64(n-2))
	return time.Duration(seconds * float64(time.Second))
}

func (s *paymentService) Collect(ctx context.Context, sub *subscription.Subscription, invoiceID string, amount decimal.Decimal, purpose types.ChargePurpose) (*CollectionResult, error) {
	return s.collect(ctx, sub, invoiceID, amount, purpose, false)
}

func (s *paymentService) ChargeOnce(ctx context.Context, sub *subscription.Subscription, invoiceID string, amount decimal.Decimal, purpose types.ChargePurpose) (*CollectionResult, error) {
	return s.collect(ctx, sub, invoiceID, amount, purpose, true)
}

func (s *paymentService) collect(ctx context.Context, sub *subscription.Subscription, invoiceID string, amount decimal.Decimal, purpose types.ChargePurpose, single bool) (*CollectionResult, error) {
	if !amount.IsPositive() {
		return nil, ierr.NewError("charge amount must be positive").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"amount":          amount,
			}).
			Mark(ierr.ErrValidation)
	}

	periodKey := types.PeriodKey(sub.ID, sub.CurrentPeriodStart)

	// One subscription_charge transaction per chain; failed attempts are
	// recorded separately as retry_attempt rows so the audit trail
	// survives without breaking the at-most-one-completed invariant.
	chargeTxn, err := s.createChargeTransaction(ctx, sub, invoiceID, periodKey, amount)
	if err != nil {
		return nil, err
	}

	result := &CollectionResult{FailureClass: types.FailureClassGeneric}

	// Nothing may strand the pending charge row: any exit without a
	// completed gateway charge closes it as failed, even when the chain
	// dies mid-backoff with a cancelled context.
	settled := false
	defer func() {
		if settled {
			return
		}
		chargeTxn.TransactionStatus = types.TransactionStatusFailed
		chargeTxn.FailureClass = lo.ToPtr(result.FailureClass)
		chargeTxn.UpdatedAt = time.Now().UTC()
		if updateErr := s.TransactionRepo.Update(context.WithoutCancel(ctx), chargeTxn); updateErr != nil {
			s.Logger.Errorw("failed to close charge transaction",
				"transaction_id", chargeTxn.ID,
				"error", updateErr,
			)
		}
	}()

	// Policy is selected by the most recent failure class; until the
	// first failure the generic policy bounds the chain.
	policy := s.Config.Billing.RetryPolicyFor(types.FailureClassGeneric)

	// declined counts definitive declines. Network errors retry under the
	// same idempotency key, so an ambiguous outcome can never be charged
	// twice; declines advance the key because the gateway would otherwise
	// replay the recorded decline.
	declined := 0

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		key := s.chargeKey(idempotency.ScopeCharge, sub.ID, periodKey, purpose, sub.PaymentMethodID, sub.FailedPaymentCount, declined)
		chargeResult, err := s.attemptCharge(ctx, sub, sub.PaymentMethodID, amount, key, attempt, invoiceID, periodKey)
		if err != nil {
			return nil, err
		}

		if chargeResult.Status == gateway.ChargeStatusSucceeded {
			// The money moved; a failed completion write must leave the row
			// pending for the charge.succeeded webhook, not flip it to failed.
			settled = true
			if err := s.completeChargeTransaction(ctx, chargeTxn, chargeResult.ExternalID); err != nil {
				return nil, err
			}
			result.Succeeded = true
			result.Transaction = chargeTxn
			return result, nil
		}

		class := chargeResult.FailureClass
		result.FailureClass = class
		if class != types.FailureClassNetworkError {
			declined++
		}

		// Expired cards are never retried on a timer; they need an
		// out-of-band payment method update.
		if single || !class.Retryable() {
			break
		}

		policy = s.Config.Billing.RetryPolicyFor(class)
		if attempt >= policy.MaxAttempts {
			break
		}

		delay := DelayForAttempt(policy, attempt+1)
		s.Logger.Infow("charge failed, backing off",
			"subscription_id", sub.ID,
			"attempt", attempt,
			"failure_class", class,
			"delay", delay.String(),
		)
		if err := s.wait(ctx, delay); err != nil {
			return nil, ierr.WithError(err).
				WithHint("collection interrupted during backoff").
				Mark(ierr.ErrSystem)
		}
	}

	// Primary method exhausted. Exactly one fallback attempt when the
	// policy allows it and an alternate method is on file.
	if !single {
		policy = s.Config.Billing.RetryPolicyFor(result.FailureClass)
		if policy.FallbackEnabled && sub.FallbackPaymentMethodID != nil {
			result.FallbackUsed = true
			result.Attempts++

			key := s.chargeKey(idempotency.ScopeFallbackCharge, sub.ID, periodKey, purpose, *sub.FallbackPaymentMethodID, sub.FailedPaymentCount, 0)
			chargeResult, err := s.attemptCharge(ctx, sub, *sub.FallbackPaymentMethodID, amount, key, result.Attempts, invoiceID, periodKey)
			if err != nil {
				return nil, err
			}
			if chargeResult.Status == gateway.ChargeStatusSucceeded {
				settled = true
				if err := s.completeChargeTransaction(ctx, chargeTxn, chargeResult.ExternalID); err != nil {
					return nil, err
				}
				result.Succeeded = true
				result.Transaction = chargeTxn
				return result, nil
			}
			result.FailureClass = chargeResult.FailureClass
		}
	}

	// Terminal failure: the deferred close records it on the charge row.
	s.Logger.Warnw("collection chain terminated",
		"subscription_id", sub.ID,
		"attempts", result.Attempts,
		"fallback_used", result.FallbackUsed,
		"failure_class", result.FailureClass,
	)

	return result, nil
}

// attemptCharge performs one gateway charge and records a retry_attempt
// transaction for it when it fails. Transport errors surface as
// network_error failures so the backoff machine handles them uniformly.
func (s *paymentService) attemptCharge(ctx context.Context, sub *subscription.Subscription, paymentMethodID string, amount decimal.Decimal, key string, attempt int, invoiceID, periodKey string) (*gateway.ChargeResult, error) {
	chargeResult, err := s.Gateway.CreateCharge(ctx, gateway.ChargeRequest{
		IdempotencyKey:  key,
		Amount:          amount,
		Currency:        sub.Currency,
		CustomerID:      sub.CustomerID,
		PaymentMethodID: paymentMethodID,
		Description:     "subscription renewal",
	})
	if err != nil {
		if !ierr.IsGateway(err) {
			return nil, err
		}
		s.Logger.Warnw("gateway unreachable, treating as network error",
			"subscription_id", sub.ID,
			"attempt", attempt,
			"error", err,
		)
		chargeResult = &gateway.ChargeResult{
			Status:       gateway.ChargeStatusFailed,
			FailureClass: types.FailureClassNetworkError,
			Message:      err.Error(),
		}
	}

	if chargeResult.Status == gateway.ChargeStatusFailed {
		attemptTxn := &transaction.Transaction{
			ID:                types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TRANSACTION),
			SubscriptionID:    sub.ID,
			InvoiceID:         invoiceID,
			PeriodKey:         periodKey,
			Amount:            amount,
			Currency:          sub.Currency,
			TransactionStatus: types.TransactionStatusFailed,
			Kind:              types.TransactionKindRetryAttempt,
			FailureClass:      lo.ToPtr(chargeResult.FailureClass),
			IdempotencyKey:    key,
			ExternalChargeID:  chargeResult.ExternalID,
			AttemptNumber:     attempt,
			Timestamp:         time.Now().UTC(),
			BaseModel:         types.GetDefaultBaseModel(ctx),
		}
		if err := s.TransactionRepo.Create(ctx, attemptTxn); err != nil {
			s.Logger.Errorw("failed to record charge attempt", "error", err)
		}
	}

	return chargeResult, nil
}

func (s *paymentService) createChargeTransaction(ctx context.Context, sub *subscription.Subscription, invoiceID, periodKey string, amount decimal.Decimal) (*transaction.Transaction, error) {
	txn := &transaction.Transaction{
		ID:                types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TRANSACTION),
		SubscriptionID:    sub.ID,
		InvoiceID:         invoiceID,
		PeriodKey:         periodKey,
		Amount:            amount,
		Currency:          sub.Currency,
		TransactionStatus: types.TransactionStatusPending,
		Kind:              types.TransactionKindSubscriptionCharge,
		AttemptNumber:     1,
		Timestamp:         time.Now().UTC(),
		BaseModel:         types.GetDefaultBaseModel(ctx),
	}
	if err := s.TransactionRepo.Create(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *paymentService) completeChargeTransaction(ctx context.Context, txn *transaction.Transaction, externalID string) error {
	txn.TransactionStatus = types.TransactionStatusCompleted
	txn.ExternalChargeID = externalID
	txn.UpdatedAt = time.Now().UTC()
	return s.TransactionRepo.Update(ctx, txn)
}

func (s *paymentService) chargeKey(scope idempotency.Scope, subscriptionID, periodKey string, purpose types.ChargePurpose, paymentMethodID string, epoch, declined int) string {
	// The payment method and the persisted failure count both participate
	// in the key. Charging a replacement card, or retrying in a later
	// dunning sweep, is a new request, not a replay of one the gateway
	// already declined; in-chain network retries keep their key.
	params := map[string]interface{}{
		"subscription_id":   subscriptionID,
		"period_key":        periodKey,
		"purpose":           string(purpose),
		"payment_method_id": paymentMethodID,
		"attempt_epoch":     epoch,
	}
	if declined > 0 {
		params["declined"] = declined
	}
	return s.IdempotencyGen.GenerateKey(scope, params)
}

func (s *paymentService) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*transaction.Transaction, error) {
	original, err := s.TransactionRepo.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if original.TransactionStatus != types.TransactionStatusCompleted {
		return nil, ierr.NewError("only completed transactions can be refunded").
			WithReportableDetails(map[string]any{
				"transaction_id": transactionID,
				"status":         original.TransactionStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	if amount.GreaterThan(original.Amount) {
		return nil, ierr.NewError("refund exceeds original charge").
			WithReportableDetails(map[string]any{
				"transaction_id": transactionID,
				"amount":         amount,
			}).
			Mark(ierr.ErrValidation)
	}

	key := s.IdempotencyGen.GenerateKey(idempotency.ScopeRefund, map[string]interface{}{
		"transaction_id": transactionID,
		"amount":         amount.String(),
	})

	externalID, err := s.Gateway.Refund(ctx, key, original.ExternalChargeID, amount)
	if err != nil {
		return nil, err
	}

	refund := &transaction.Transaction{
		ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TRANSACTION),
		SubscriptionID:       original.SubscriptionID,
		InvoiceID:            original.InvoiceID,
		PeriodKey:            original.PeriodKey,
		Amount:               amount.Neg(),
		Currency:             original.Currency,
		TransactionStatus:    types.TransactionStatusCompleted,
		Kind:                 types.TransactionKindRefund,
		RelatedTransactionID: lo.ToPtr(original.ID),
		IdempotencyKey:       key,
		ExternalChargeID:     externalID,
		AttemptNumber:        1,
		Timestamp:            time.Now().UTC(),
		BaseModel:            types.GetDefaultBaseModel(ctx),
	}
	if err := s.TransactionRepo.Create(ctx, refund); err != nil {
		return nil, ierr.WithError(err).
			WithHint("refund executed at gateway but local record failed").
			WithReportableDetails(map[string]any{
				"external_refund_id": externalID,
			}).
			Mark(ierr.ErrConsistency)
	}

	return refund, nil
}
