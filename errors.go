package tokenledger

import (
	"errors"
	"fmt"

	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/subscription"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound        = errors.New("tokenledger: not found")
	ErrAccountNotFound = errors.New("tokenledger: account not found")

	// Ledger errors
	ErrInsufficientBalance  = errors.New("tokenledger: insufficient balance")
	ErrDuplicateTransaction = errors.New("tokenledger: duplicate transaction")
	ErrTransactionNotFound  = errors.New("tokenledger: transaction not found")
	ErrConcurrencyConflict  = errors.New("tokenledger: concurrent modification")
	ErrLedgerDrift          = errors.New("tokenledger: ledger does not reconcile")

	// Catalog errors
	ErrPlanNotFound   = errors.New("tokenledger: plan not found")
	ErrBundleNotFound = errors.New("tokenledger: bundle not found")
	ErrPlanArchived   = errors.New("tokenledger: plan is not purchasable")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("tokenledger: subscription not found")
	ErrSubscriptionCanceled = subscription.ErrCanceled
	ErrInvalidTransition    = subscription.ErrInvalidTransition

	// Invoice errors
	ErrInvoiceNotFound  = errors.New("tokenledger: invoice not found")
	ErrDuplicateInvoice = errors.New("tokenledger: duplicate invoice")
	ErrAlreadySettled   = invoice.ErrAlreadySettled
	ErrPaymentFailed    = errors.New("tokenledger: payment failed")

	// Analytics errors
	ErrAnalyticsUnavailable = errors.New("tokenledger: analytics unavailable")

	// Store errors
	ErrStoreClosed     = errors.New("tokenledger: store is closed")
	ErrMigrationFailed = errors.New("tokenledger: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("tokenledger: validation failed for %s: %s", e.Field, e.Message)
}

// MultiError collects independent failures of one batch operation, such as
// a renewal sweep.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "tokenledger: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("tokenledger: %d errors occurred, first: %v", len(e.Errors), e.Errors[0])
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrBundleNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrInvoiceNotFound)
}

// IsValidation returns true if the error is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// IsConflict returns true if the request conflicts with the current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrSubscriptionCanceled) ||
		errors.Is(err, ErrPlanArchived)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrAnalyticsUnavailable)
}
