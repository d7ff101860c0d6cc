// Package invoice models subscription and purchase invoices. An invoice is
// created Pending and settles exactly once to Paid or Failed.
package invoice

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/types"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusPaid || s == StatusFailed }

type Kind string

const (
	KindRenewal        Kind = "renewal"
	KindBundlePurchase Kind = "bundle_purchase"
	KindPlanChange     Kind = "plan_change"
)

// Outcome is the payment processor's verdict on a charge.
type Outcome string

const (
	OutcomePaid   Outcome = "paid"
	OutcomeFailed Outcome = "failed"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool { return o == OutcomePaid || o == OutcomeFailed }

// Status maps the outcome to the terminal invoice status.
func (o Outcome) Status() Status {
	if o == OutcomePaid {
		return StatusPaid
	}
	return StatusFailed
}

var ErrAlreadySettled = errors.New("invoice: already settled")

type Invoice struct {
	types.Entity
	ID             id.InvoiceID      `json:"id"`
	AccountID      string            `json:"account_id"`
	Kind           Kind              `json:"kind"`
	CorrelationID  string            `json:"correlation_id"`
	Date           time.Time         `json:"date"`
	Description    string            `json:"description"`
	Amount         types.Money       `json:"amount"`
	Status         Status            `json:"status"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	BundleID       id.BundleID       `json:"bundle_id"`
	TokenCount     int64             `json:"token_count"`
	SettledAt      *time.Time        `json:"settled_at,omitempty"`
	PaymentRef     string            `json:"payment_ref,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`

	// Replayed marks a create that returned an existing invoice for the same
	// correlation id. It is never persisted.
	Replayed bool `json:"replayed,omitempty"`
}

// Settle moves a pending invoice to its terminal status.
func (i *Invoice) Settle(outcome Outcome, at time.Time, paymentRef, reason string) error {
	if i.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadySettled, i.ID, i.Status)
	}
	at = at.UTC()
	i.Status = outcome.Status()
	i.SettledAt = &at
	i.PaymentRef = paymentRef
	if outcome == OutcomeFailed {
		i.FailureReason = reason
	}
	i.Touch(at)
	return nil
}

// Credits reports whether settling this invoice Paid adds tokens to the ledger.
func (i *Invoice) Credits() bool { return i.Status == StatusPaid && i.TokenCount > 0 }
