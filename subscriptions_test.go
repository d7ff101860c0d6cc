package tokenledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/store/memory"
	"github.com/xraph/tokenledger/subscription"
)

func TestRenewalPaidCreditsAllowance(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	p := seedPlan(t, l, "Pro", 4900, 1000)

	sub, err := l.Subscribe(ctx, "acct-1", p.ID.String(), plan.CycleMonthly)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	firstDue := sub.NextBillingDate

	if _, err := l.RenewalDue(ctx, "acct-1"); !errors.Is(err, tokenledger.ErrInvalidTransition) {
		t.Errorf("renewal before due date: err = %v", err)
	}

	clock.Set(firstDue)
	inv, err := l.RenewalDue(ctx, "acct-1")
	if err != nil {
		t.Fatalf("RenewalDue: %v", err)
	}
	if inv.Kind != invoice.KindRenewal || inv.Amount.Amount != 4900 || inv.TokenCount != 1000 {
		t.Errorf("renewal invoice = %+v", inv)
	}

	// Suppressed while pending.
	again, err := l.RenewalDue(ctx, "acct-1")
	if err != nil || again.ID != inv.ID {
		t.Errorf("second firing: %v, %v", again, err)
	}
	all, _ := l.ListInvoices(ctx, "acct-1", invoice.ListOpts{Kind: invoice.KindRenewal})
	if len(all) != 1 {
		t.Errorf("%d renewal invoices, want 1", len(all))
	}

	if _, err := l.Settle(ctx, inv.ID.String(), invoice.OutcomePaid, tokenledger.SettleOpts{}); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	sub, _ = l.GetSubscription(ctx, "acct-1")
	if sub.Status != subscription.StatusActive || sub.CycleCount != 1 {
		t.Errorf("after paid: status=%q cycles=%d", sub.Status, sub.CycleCount)
	}
	if want := firstDue.AddDate(0, 1, 0); !sub.NextBillingDate.Equal(want) {
		t.Errorf("next billing = %v, want %v", sub.NextBillingDate, want)
	}
	assertBalance(t, l, "acct-1", 1000, 1000, 0)
}

func TestRenewalFailsTwiceThenCancels(t *testing.T) {
	l, clock := newTestLedger(t, tokenledger.WithRetryInterval(24*time.Hour))
	ctx := context.Background()
	p := seedPlan(t, l, "Basic", 1900, 200)

	sub, _ := l.Subscribe(ctx, "acct-1", p.ID.String(), plan.CycleMonthly)
	clock.Set(sub.NextBillingDate)

	first, err := l.RenewalDue(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Settle(ctx, first.ID.String(), invoice.OutcomeFailed, tokenledger.SettleOpts{Reason: "insufficient funds"}); err != nil {
		t.Fatal(err)
	}

	sub, _ = l.GetSubscription(ctx, "acct-1")
	if sub.Status != subscription.StatusPastDue {
		t.Fatalf("after first failure: %q, want past_due", sub.Status)
	}
	if _, err := l.RenewalDue(ctx, "acct-1"); !errors.Is(err, tokenledger.ErrInvalidTransition) {
		t.Errorf("retry before retry time: err = %v", err)
	}

	clock.Advance(24 * time.Hour)
	second, err := l.RenewalDue(ctx, "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == first.ID || second.CorrelationID == first.CorrelationID {
		t.Fatal("retry reused the first invoice")
	}
	if _, err := l.Settle(ctx, second.ID.String(), invoice.OutcomeFailed, tokenledger.SettleOpts{}); err != nil {
		t.Fatal(err)
	}

	sub, _ = l.GetSubscription(ctx, "acct-1")
	if sub.Status != subscription.StatusCanceled {
		t.Fatalf("after second failure: %q, want canceled", sub.Status)
	}
	if _, err := l.RenewalDue(ctx, "acct-1"); !errors.Is(err, tokenledger.ErrSubscriptionCanceled) {
		t.Errorf("renewal after cancel: err = %v", err)
	}
	assertBalance(t, l, "acct-1", 0, 0, 0)
}

func TestSweepRenewalsAndGracePeriod(t *testing.T) {
	l, clock := newTestLedger(t, tokenledger.WithGracePeriod(72*time.Hour))
	ctx := context.Background()
	p := seedPlan(t, l, "Pro", 4900, 100)

	subA, _ := l.Subscribe(ctx, "acct-a", p.ID.String(), plan.CycleMonthly)
	_, _ = l.Subscribe(ctx, "acct-b", p.ID.String(), plan.CycleAnnual)
	_, _ = l.Subscribe(ctx, "acct-c", p.ID.String(), plan.CycleMonthly)
	_, _ = l.ToggleAutoRenew(ctx, "acct-c", false)

	clock.Set(subA.NextBillingDate)
	res, err := l.SweepRenewals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fired != 1 || res.Expired != 0 {
		t.Fatalf("first sweep = %+v, want one firing", res)
	}

	// Nothing new before the grace period lapses.
	clock.Advance(71 * time.Hour)
	if res, _ := l.SweepRenewals(ctx); res.Fired != 0 || res.Expired != 0 {
		t.Fatalf("sweep inside grace = %+v", res)
	}

	clock.Advance(time.Hour)
	res, _ = l.SweepRenewals(ctx)
	if res.Expired != 1 {
		t.Fatalf("sweep after grace = %+v, want one expiry", res)
	}

	sub, _ := l.GetSubscription(ctx, "acct-a")
	if sub.Status != subscription.StatusPastDue {
		t.Errorf("status = %q, want past_due", sub.Status)
	}
	invs, _ := l.ListInvoices(ctx, "acct-a", invoice.ListOpts{})
	if len(invs) != 1 || invs[0].Status != invoice.StatusFailed || invs[0].FailureReason != tokenledger.PaymentTimeoutReason {
		t.Errorf("invoices = %+v", invs)
	}

	// A late processor callback cannot resurrect the charge.
	if _, err := l.Settle(ctx, invs[0].ID.String(), invoice.OutcomePaid, tokenledger.SettleOpts{}); !errors.Is(err, tokenledger.ErrAlreadySettled) {
		t.Errorf("late paid callback: err = %v", err)
	}
	assertBalance(t, l, "acct-a", 0, 0, 0)
}

// invoiceOutageStore refuses to create invoices for one account.
type invoiceOutageStore struct {
	*memory.Store
	account string
}

var errInvoiceOutage = errors.New("invoice table unavailable")

func (s invoiceOutageStore) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	if inv.AccountID == s.account {
		return errInvoiceOutage
	}
	return s.Store.CreateInvoice(ctx, inv)
}

func TestSweepRenewalsCollectsFailures(t *testing.T) {
	clock := newFakeClock()
	l := tokenledger.New(invoiceOutageStore{Store: memory.New(), account: "acct-bad"},
		tokenledger.WithClock(clock.Now),
		tokenledger.WithRenewalSchedule(""),
	)
	ctx := context.Background()
	p := seedPlan(t, l, "Pro", 4900, 100)

	good, err := l.Subscribe(ctx, "acct-good", p.ID.String(), plan.CycleMonthly)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Subscribe(ctx, "acct-bad", p.ID.String(), plan.CycleMonthly); err != nil {
		t.Fatal(err)
	}

	clock.Set(good.NextBillingDate)
	res, err := l.SweepRenewals(ctx)
	if res.Fired != 1 || res.Failed != 1 {
		t.Fatalf("sweep = %+v, want one fired and one failed", res)
	}

	var multi tokenledger.MultiError
	if !errors.As(err, &multi) || len(multi.Errors) != 1 {
		t.Fatalf("err = %v, want a MultiError with one entry", err)
	}
	if !errors.Is(err, errInvoiceOutage) || !errors.Is(multi.First(), errInvoiceOutage) {
		t.Errorf("err = %v does not carry the store failure", err)
	}

	sub, _ := l.GetSubscription(ctx, "acct-good")
	if sub.Status != subscription.StatusPendingRenewal {
		t.Errorf("healthy account status = %q, want pending_renewal", sub.Status)
	}
}

func TestChangePlanRecordsInvoice(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	basic := seedPlan(t, l, "Basic", 1900, 100)
	pro := seedPlan(t, l, "Pro", 4900, 500)

	sub, _ := l.Subscribe(ctx, "acct-1", basic.ID.String(), plan.CycleMonthly)
	due := sub.NextBillingDate

	sub, err := l.ChangePlan(ctx, "acct-1", pro.ID.String())
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if sub.PlanID != pro.ID || !sub.NextBillingDate.Equal(due) {
		t.Errorf("after change: %+v", sub)
	}

	invs, _ := l.ListInvoices(ctx, "acct-1", invoice.ListOpts{Kind: invoice.KindPlanChange})
	if len(invs) != 1 {
		t.Fatalf("%d plan change invoices, want 1", len(invs))
	}
	if invs[0].Status != invoice.StatusPaid || !invs[0].Amount.IsZero() {
		t.Errorf("plan change invoice = %+v", invs[0])
	}

	// Same plan is a no-op.
	if _, err := l.ChangePlan(ctx, "acct-1", pro.ID.String()); err != nil {
		t.Fatal(err)
	}
	invs, _ = l.ListInvoices(ctx, "acct-1", invoice.ListOpts{Kind: invoice.KindPlanChange})
	if len(invs) != 1 {
		t.Errorf("no-op change created an invoice")
	}
}

func TestCancelAndResubscribe(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	p := seedPlan(t, l, "Pro", 4900, 0)

	if _, err := l.CancelSubscription(ctx, "acct-1"); !tokenledger.IsNotFound(err) {
		t.Errorf("cancel without subscription: err = %v", err)
	}

	_, _ = l.Subscribe(ctx, "acct-1", p.ID.String(), plan.CycleMonthly)
	sub, err := l.CancelSubscription(ctx, "acct-1")
	if err != nil || sub.Status != subscription.StatusCanceled {
		t.Fatalf("cancel: %v %v", sub, err)
	}
	if _, err := l.ToggleAutoRenew(ctx, "acct-1", true); !errors.Is(err, tokenledger.ErrSubscriptionCanceled) {
		t.Errorf("toggle on canceled: err = %v", err)
	}

	sub, err = l.Subscribe(ctx, "acct-1", p.ID.String(), plan.CycleAnnual)
	if err != nil || sub.Status != subscription.StatusActive || sub.BillingCycle != plan.CycleAnnual {
		t.Fatalf("resubscribe: %+v %v", sub, err)
	}
}

func TestResubscribeFailsPendingRenewal(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()
	p := seedPlan(t, l, "Pro", 4900, 100)

	sub, err := l.Subscribe(ctx, "acct-1", p.ID.String(), plan.CycleMonthly)
	if err != nil {
		t.Fatal(err)
	}
	clock.Set(sub.NextBillingDate)
	pending, err := l.RenewalDue(ctx, "acct-1")
	if err != nil {
		t.Fatalf("RenewalDue: %v", err)
	}

	sub, err = l.Subscribe(ctx, "acct-1", p.ID.String(), plan.CycleAnnual)
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if sub.Status != subscription.StatusActive || !sub.PendingInvoiceID.IsNil() {
		t.Fatalf("subscription = %+v", sub)
	}

	inv, err := l.GetInvoice(ctx, pending.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != invoice.StatusFailed || inv.FailureReason != tokenledger.SupersededReason {
		t.Fatalf("superseded invoice = %+v", inv)
	}

	// A late payment for the replaced charge credits nothing.
	if _, err := l.Settle(ctx, pending.ID.String(), invoice.OutcomePaid, tokenledger.SettleOpts{}); !errors.Is(err, tokenledger.ErrAlreadySettled) {
		t.Errorf("late paid callback: err = %v", err)
	}
	assertBalance(t, l, "acct-1", 0, 0, 0)

	after, _ := l.GetSubscription(ctx, "acct-1")
	if after.Status != subscription.StatusActive || after.BillingCycle != plan.CycleAnnual {
		t.Errorf("subscription moved: %+v", after)
	}
}

func TestSubscribeRejectsArchivedPlan(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	p := seedPlan(t, l, "Legacy", 900, 0)
	if err := l.ArchivePlan(ctx, p.ID.String()); err != nil {
		t.Fatal(err)
	}

	if _, err := l.Subscribe(ctx, "acct-1", p.ID.String(), plan.CycleMonthly); !errors.Is(err, tokenledger.ErrPlanArchived) {
		t.Errorf("err = %v, want ErrPlanArchived", err)
	}
	if _, err := l.Subscribe(ctx, "acct-1", "plan_nope", plan.CycleMonthly); !tokenledger.IsValidation(err) {
		t.Errorf("bad id: err = %v", err)
	}
}
