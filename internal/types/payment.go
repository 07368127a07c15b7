package types

import "fmt"

// TransactionStatus is the status of a single money movement.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

func (s TransactionStatus) String() string {
	return string(s)
}

// TransactionKind classifies transactions.
type TransactionKind string

const (
	TransactionKindSubscriptionCharge TransactionKind = "subscription_charge"
	TransactionKindRefund             TransactionKind = "refund"
	TransactionKindRetryAttempt       TransactionKind = "retry_attempt"
)

// FailureClass is the closed set of payment failure classifications. The
// taxonomy is fixed; every class must be handled exhaustively when selecting
// a retry policy.
type FailureClass string

const (
	FailureClassInsufficientFunds FailureClass = "insufficient_funds"
	FailureClassCardExpired       FailureClass = "card_expired"
	FailureClassNetworkError      FailureClass = "network_error"
	FailureClassGeneric           FailureClass = "generic"
)

func (c FailureClass) Validate() error {
	switch c {
	case FailureClassInsufficientFunds, FailureClassCardExpired,
		FailureClassNetworkError, FailureClassGeneric:
		return nil
	default:
		return fmt.Errorf("invalid failure class: %s", c)
	}
}

// Retryable reports whether the class is eligible for timed retries.
// Expired cards need an out-of-band payment method update first.
func (c FailureClass) Retryable() bool {
	return c != FailureClassCardExpired
}

// RetryPolicy is the static backoff configuration selected per failure
// class. Delay before attempt n (1-indexed, n>=2) is
// BaseDelaySeconds * BackoffMultiplier^(n-2).
type RetryPolicy struct {
	Name              string  `mapstructure:"name"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	BaseDelaySeconds  int     `mapstructure:"base_delay_seconds"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	FallbackEnabled   bool    `mapstructure:"fallback_enabled"`
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy %s: max attempts must be >= 1", p.Name)
	}
	if p.BaseDelaySeconds < 0 {
		return fmt.Errorf("retry policy %s: base delay must be >= 0", p.Name)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("retry policy %s: backoff multiplier must be >= 1", p.Name)
	}
	return nil
}

// ChargePurpose distinguishes gateway idempotency scopes for charges made
// within the same billing period.
type ChargePurpose string

const (
	ChargePurposeRenewal    ChargePurpose = "renewal"
	ChargePurposeFallback   ChargePurpose = "fallback"
	ChargePurposePlanChange ChargePurpose = "plan_change"
	ChargePurposeDunning    ChargePurpose = "dunning"
)
