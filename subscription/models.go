// Package subscription models the per-account subscription and its renewal
// state machine. Transitions are pure methods on Subscription; persistence
// and invoice side effects live in the engine.
package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/types"
)

type Status string

const (
	StatusActive         Status = "active"
	StatusPendingRenewal Status = "pending_renewal"
	StatusPastDue        Status = "past_due"
	StatusCanceled       Status = "canceled"
)

// MaxConsecutiveFailures is the number of failed renewal charges after which
// the subscription is canceled.
const MaxConsecutiveFailures = 2

var (
	ErrInvalidTransition = errors.New("subscription: invalid state transition")
	ErrCanceled          = errors.New("subscription: canceled")
)

type Subscription struct {
	types.Entity
	ID               id.SubscriptionID `json:"id"`
	AccountID        string            `json:"account_id"`
	PlanID           id.PlanID         `json:"current_plan_id"`
	BillingCycle     plan.BillingCycle `json:"billing_cycle"`
	Status           Status            `json:"status"`
	NextBillingDate  time.Time         `json:"next_billing_date"`
	AutoRenew        bool              `json:"auto_renew"`
	CycleCount       int               `json:"cycle_count"`
	FailedAttempts   int               `json:"failed_attempts"`
	RetryAt          *time.Time        `json:"retry_at,omitempty"`
	PendingInvoiceID id.InvoiceID      `json:"pending_invoice_id"`
	PendingSince     *time.Time        `json:"pending_since,omitempty"`
	CanceledAt       *time.Time        `json:"canceled_at,omitempty"`
}

// New creates an active subscription whose first renewal is one cycle away.
func New(accountID string, planID id.PlanID, cycle plan.BillingCycle, now time.Time) *Subscription {
	now = now.UTC()
	return &Subscription{
		Entity:          types.NewEntity(now),
		ID:              id.NewSubscriptionID(),
		AccountID:       accountID,
		PlanID:          planID,
		BillingCycle:    cycle,
		Status:          StatusActive,
		NextBillingDate: cycle.Advance(now),
		AutoRenew:       true,
	}
}

// Resubscribe moves any state back to Active on the given plan and cycle.
// The cycle count survives so renewal correlation ids stay unique.
func (s *Subscription) Resubscribe(planID id.PlanID, cycle plan.BillingCycle, now time.Time) {
	now = now.UTC()
	s.PlanID = planID
	s.BillingCycle = cycle
	s.Status = StatusActive
	s.NextBillingDate = cycle.Advance(now)
	s.AutoRenew = true
	s.CanceledAt = nil
	s.clearPending()
	s.resetFailures()
	s.Touch(now)
}

// ChangePlan swaps the plan of an active subscription. Billing dates are kept.
func (s *Subscription) ChangePlan(planID id.PlanID, now time.Time) error {
	if s.Status != StatusActive {
		return s.invalid("change plan")
	}
	s.PlanID = planID
	s.Touch(now)
	return nil
}

// SetAutoRenew toggles future renewal firings without changing the state.
func (s *Subscription) SetAutoRenew(enabled bool, now time.Time) error {
	if s.Status == StatusCanceled {
		return ErrCanceled
	}
	s.AutoRenew = enabled
	s.Touch(now)
	return nil
}

// RenewalDue reports whether the renewal clock should fire at now.
func (s *Subscription) RenewalDue(now time.Time) bool {
	if !s.AutoRenew {
		return false
	}
	switch s.Status {
	case StatusActive:
		return !now.Before(s.NextBillingDate)
	case StatusPastDue:
		return s.RetryAt != nil && !now.Before(*s.RetryAt)
	default:
		return false
	}
}

// RenewalCorrelationID names the next renewal charge. It is stable across
// repeated firings for the same cycle and attempt.
func (s *Subscription) RenewalCorrelationID() string {
	return fmt.Sprintf("%s:cycle:%d:attempt:%d", s.ID, s.CycleCount+1, s.FailedAttempts+1)
}

// BeginRenewal records the outstanding renewal invoice.
func (s *Subscription) BeginRenewal(invoiceID id.InvoiceID, now time.Time) error {
	if s.Status != StatusActive && s.Status != StatusPastDue {
		return s.invalid("begin renewal")
	}
	now = now.UTC()
	s.Status = StatusPendingRenewal
	s.PendingInvoiceID = invoiceID
	s.PendingSince = &now
	s.RetryAt = nil
	s.Touch(now)
	return nil
}

// RenewalPaid completes the outstanding renewal. It reports false when the
// invoice is not the one being waited on, which makes redelivery a no-op.
func (s *Subscription) RenewalPaid(invoiceID id.InvoiceID, now time.Time) bool {
	if s.Status != StatusPendingRenewal || s.PendingInvoiceID != invoiceID {
		return false
	}
	s.Status = StatusActive
	s.NextBillingDate = s.BillingCycle.Advance(s.NextBillingDate)
	s.CycleCount++
	s.clearPending()
	s.resetFailures()
	s.Touch(now)
	return true
}

// RenewalFailed records a failed charge: the first failure moves to PastDue
// with a retry scheduled, the second consecutive one cancels.
func (s *Subscription) RenewalFailed(invoiceID id.InvoiceID, now time.Time, retryInterval time.Duration) bool {
	if s.Status != StatusPendingRenewal || s.PendingInvoiceID != invoiceID {
		return false
	}
	now = now.UTC()
	s.FailedAttempts++
	s.clearPending()
	if s.FailedAttempts >= MaxConsecutiveFailures {
		s.Status = StatusCanceled
		s.CanceledAt = &now
	} else {
		retry := now.Add(retryInterval)
		s.Status = StatusPastDue
		s.RetryAt = &retry
	}
	s.Touch(now)
	return true
}

// Cancel ends the subscription at the user's request.
func (s *Subscription) Cancel(now time.Time) error {
	if s.Status == StatusCanceled {
		return ErrCanceled
	}
	now = now.UTC()
	s.Status = StatusCanceled
	s.AutoRenew = false
	s.CanceledAt = &now
	s.RetryAt = nil
	s.Touch(now)
	return nil
}

// PendingExpired reports whether a renewal charge has been waiting for the
// processor longer than grace.
func (s *Subscription) PendingExpired(now time.Time, grace time.Duration) bool {
	return s.Status == StatusPendingRenewal && s.PendingSince != nil && now.Sub(*s.PendingSince) >= grace
}

func (s *Subscription) clearPending() {
	s.PendingInvoiceID = id.Nil
	s.PendingSince = nil
}

func (s *Subscription) resetFailures() {
	s.FailedAttempts = 0
	s.RetryAt = nil
}

func (s *Subscription) invalid(op string) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, s.Status)
}
