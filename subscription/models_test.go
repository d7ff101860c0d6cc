package subscription

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/plan"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	s := New("acct-1", id.NewPlanID(), plan.CycleMonthly, t0)
	if s.Status != StatusActive {
		t.Errorf("status = %q, want active", s.Status)
	}
	if !s.AutoRenew {
		t.Error("new subscription should auto-renew")
	}
	if want := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC); !s.NextBillingDate.Equal(want) {
		t.Errorf("next billing = %v, want %v", s.NextBillingDate, want)
	}
}

func TestRenewalDue(t *testing.T) {
	s := New("acct-1", id.NewPlanID(), plan.CycleMonthly, t0)
	if s.RenewalDue(t0) {
		t.Error("should not be due right after subscribing")
	}
	if !s.RenewalDue(s.NextBillingDate) {
		t.Error("should be due at next billing date")
	}

	_ = s.SetAutoRenew(false, t0)
	if s.RenewalDue(s.NextBillingDate.Add(time.Hour)) {
		t.Error("auto-renew off must suppress firing")
	}
}

func TestRenewalPaidAdvancesCycle(t *testing.T) {
	s := New("acct-1", id.NewPlanID(), plan.CycleMonthly, t0)
	due := s.NextBillingDate
	inv := id.NewInvoiceID()

	if err := s.BeginRenewal(inv, due); err != nil {
		t.Fatalf("BeginRenewal: %v", err)
	}
	if s.Status != StatusPendingRenewal {
		t.Fatalf("status = %q, want pending_renewal", s.Status)
	}
	if s.RenewalDue(due.Add(time.Hour)) {
		t.Error("pending renewal must not fire again")
	}

	if s.RenewalPaid(id.NewInvoiceID(), due) {
		t.Error("paid for an unrelated invoice must be ignored")
	}
	if !s.RenewalPaid(inv, due) {
		t.Fatal("RenewalPaid returned false")
	}
	if s.Status != StatusActive || s.CycleCount != 1 {
		t.Errorf("status=%q cycles=%d", s.Status, s.CycleCount)
	}
	if want := due.AddDate(0, 1, 0); !s.NextBillingDate.Equal(want) {
		t.Errorf("next billing = %v, want %v", s.NextBillingDate, want)
	}
	if s.RenewalPaid(inv, due) {
		t.Error("second delivery of the same payment must be a no-op")
	}
}

func TestRenewalFailedTwiceCancels(t *testing.T) {
	s := New("acct-1", id.NewPlanID(), plan.CycleMonthly, t0)
	due := s.NextBillingDate

	first := id.NewInvoiceID()
	firstCorr := s.RenewalCorrelationID()
	_ = s.BeginRenewal(first, due)
	if !s.RenewalFailed(first, due, 24*time.Hour) {
		t.Fatal("RenewalFailed returned false")
	}
	if s.Status != StatusPastDue {
		t.Fatalf("status = %q, want past_due", s.Status)
	}
	if s.RenewalDue(due.Add(time.Hour)) {
		t.Error("past due must wait for the retry time")
	}
	retry := due.Add(24 * time.Hour)
	if !s.RenewalDue(retry) {
		t.Error("past due should fire at the retry time")
	}

	secondCorr := s.RenewalCorrelationID()
	if secondCorr == firstCorr {
		t.Errorf("retry correlation id %q must differ from first attempt", secondCorr)
	}
	if !strings.HasSuffix(secondCorr, ":cycle:1:attempt:2") {
		t.Errorf("correlation id = %q", secondCorr)
	}

	second := id.NewInvoiceID()
	_ = s.BeginRenewal(second, retry)
	s.RenewalFailed(second, retry, 24*time.Hour)
	if s.Status != StatusCanceled {
		t.Fatalf("status = %q, want canceled", s.Status)
	}
	if s.CanceledAt == nil {
		t.Error("canceled_at not set")
	}
	if s.RenewalDue(retry.AddDate(1, 0, 0)) {
		t.Error("canceled subscription must never fire")
	}
}

func TestInvalidTransitions(t *testing.T) {
	s := New("acct-1", id.NewPlanID(), plan.CycleAnnual, t0)
	_ = s.BeginRenewal(id.NewInvoiceID(), t0)

	if err := s.ChangePlan(id.NewPlanID(), t0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("ChangePlan while pending: %v", err)
	}
	if err := s.BeginRenewal(id.NewInvoiceID(), t0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("BeginRenewal while pending: %v", err)
	}

	_ = s.Cancel(t0)
	if err := s.Cancel(t0); !errors.Is(err, ErrCanceled) {
		t.Errorf("double cancel: %v", err)
	}
	if err := s.SetAutoRenew(true, t0); !errors.Is(err, ErrCanceled) {
		t.Errorf("auto-renew on canceled: %v", err)
	}
}

func TestResubscribeKeepsCycleCount(t *testing.T) {
	s := New("acct-1", id.NewPlanID(), plan.CycleMonthly, t0)
	inv := id.NewInvoiceID()
	_ = s.BeginRenewal(inv, s.NextBillingDate)
	s.RenewalPaid(inv, s.NextBillingDate)
	_ = s.Cancel(t0)

	s.Resubscribe(id.NewPlanID(), plan.CycleAnnual, t0)
	if s.Status != StatusActive || s.CycleCount != 1 || s.FailedAttempts != 0 {
		t.Errorf("status=%q cycles=%d failures=%d", s.Status, s.CycleCount, s.FailedAttempts)
	}
	if s.CanceledAt != nil {
		t.Error("canceled_at should be cleared")
	}
}

func TestPendingExpired(t *testing.T) {
	s := New("acct-1", id.NewPlanID(), plan.CycleMonthly, t0)
	_ = s.BeginRenewal(id.NewInvoiceID(), t0)
	if s.PendingExpired(t0.Add(71*time.Hour), 72*time.Hour) {
		t.Error("should not expire before grace")
	}
	if !s.PendingExpired(t0.Add(72*time.Hour), 72*time.Hour) {
		t.Error("should expire at grace")
	}
}
