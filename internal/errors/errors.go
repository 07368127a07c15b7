package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors marking the billing error taxonomy. Callers classify with
// the Is* helpers rather than string matching.
var (
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = new(ErrCodeAlreadyExists, "resource already exists")
	ErrVersionConflict  = new(ErrCodeVersionConflict, "version conflict")
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrGateway          = new(ErrCodeGateway, "payment gateway error")
	ErrCard             = new(ErrCodeCard, "card error")
	ErrConsistency      = new(ErrCodeConsistency, "consistency error")
	ErrEmptyUsage       = new(ErrCodeEmptyUsage, "no usage records")
	ErrTaxComputation   = new(ErrCodeTaxComputation, "tax computation error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrDatabase         = new(ErrCodeDatabase, "database error")
	ErrSystem           = new(ErrCodeSystemError, "system error")
)

const (
	ErrCodeNotFound         = "not_found"
	ErrCodeAlreadyExists    = "already_exists"
	ErrCodeVersionConflict  = "version_conflict"
	ErrCodeValidation       = "validation_error"
	ErrCodeGateway          = "gateway_error"
	ErrCodeCard             = "card_error"
	ErrCodeConsistency      = "consistency_error"
	ErrCodeEmptyUsage       = "empty_usage_error"
	ErrCodeTaxComputation   = "tax_computation_error"
	ErrCodeInvalidOperation = "invalid_operation"
	ErrCodeDatabase         = "database_error"
	ErrCodeSystemError      = "system_error"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsVersionConflict checks if an error is an optimistic-concurrency conflict
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsGateway checks if an error is a transient gateway error, i.e. one the
// retry coordinator may fold into its backoff schedule.
func IsGateway(err error) bool {
	return errors.Is(err, ErrGateway)
}

// IsCard checks if an error is a classified card decline
func IsCard(err error) bool {
	return errors.Is(err, ErrCard)
}

// IsConsistency checks if an error requires reconciliation via idempotent
// re-read rather than blind retry
func IsConsistency(err error) bool {
	return errors.Is(err, ErrConsistency)
}

// IsEmptyUsage checks if an error came from aggregating zero usage records
func IsEmptyUsage(err error) bool {
	return errors.Is(err, ErrEmptyUsage)
}

// IsTaxComputation checks if an error aborted invoice assembly at the tax step
func IsTaxComputation(err error) bool {
	return errors.Is(err, ErrTaxComputation)
}
