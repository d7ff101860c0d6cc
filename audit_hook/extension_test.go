package audithook_test

import (
	"context"
	"errors"
	"testing"

	audithook "github.com/xraph/tokenledger/audit_hook"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
	"github.com/xraph/tokenledger/types"
)

func collect(events *[]*audithook.AuditEvent) audithook.RecorderFunc {
	return func(_ context.Context, evt *audithook.AuditEvent) error {
		*events = append(*events, evt)
		return nil
	}
}

func TestTransactionAppendedEvent(t *testing.T) {
	var events []*audithook.AuditEvent
	ext := audithook.New(collect(&events))

	tx := &transaction.Transaction{
		ID:        id.NewTransactionID(),
		AccountID: "acct-1",
		Amount:    25,
		Kind:      transaction.KindSpent,
		Category:  "chat",
	}
	if err := ext.OnTransactionAppended(context.Background(), tx); err != nil {
		t.Fatalf("OnTransactionAppended: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.Action != audithook.ActionTransactionAppended {
		t.Errorf("action = %q", evt.Action)
	}
	if evt.ResourceID != tx.ID.String() {
		t.Errorf("resource id = %q, want %q", evt.ResourceID, tx.ID.String())
	}
	if evt.Metadata["amount"] != int64(25) || evt.Metadata["kind"] != "spent" {
		t.Errorf("unexpected metadata: %v", evt.Metadata)
	}
}

func TestInvoiceFailedCarriesReason(t *testing.T) {
	var events []*audithook.AuditEvent
	ext := audithook.New(collect(&events))

	inv := &invoice.Invoice{ID: id.NewInvoiceID(), AccountID: "acct-1", Amount: types.USD(999)}
	if err := ext.OnInvoiceFailed(context.Background(), inv, "card_declined"); err != nil {
		t.Fatalf("OnInvoiceFailed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Outcome != audithook.OutcomeFailure {
		t.Errorf("outcome = %q", events[0].Outcome)
	}
	if events[0].Reason != "card_declined" {
		t.Errorf("reason = %q", events[0].Reason)
	}
}

func TestDisabledActions(t *testing.T) {
	var events []*audithook.AuditEvent
	ext := audithook.New(collect(&events),
		audithook.WithDisabledActions(audithook.ActionSpendRejected),
	)
	ctx := context.Background()

	_ = ext.OnSpendRejected(ctx, "acct-1", 50, 10)
	_ = ext.OnPlanArchived(ctx, "plan_x")

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Action != audithook.ActionPlanArchived {
		t.Errorf("action = %q", events[0].Action)
	}
}

func TestEnabledActions(t *testing.T) {
	var events []*audithook.AuditEvent
	ext := audithook.New(collect(&events),
		audithook.WithEnabledActions(audithook.ActionSubscriptionCanceled),
	)
	ctx := context.Background()
	sub := &subscription.Subscription{ID: id.NewSubscriptionID(), AccountID: "acct-1"}

	_ = ext.OnSubscriptionCreated(ctx, sub)
	_ = ext.OnSubscriptionCanceled(ctx, sub, "user")

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Metadata["reason"] != "user" {
		t.Errorf("unexpected metadata: %v", events[0].Metadata)
	}
}

func TestCategoryFilter(t *testing.T) {
	var events []*audithook.AuditEvent
	ext := audithook.New(collect(&events),
		audithook.WithCategories(audithook.CategoryPayment),
	)
	ctx := context.Background()
	inv := &invoice.Invoice{ID: id.NewInvoiceID(), AccountID: "acct-1"}

	_ = ext.OnSpendRejected(ctx, "acct-1", 50, 10)
	_ = ext.OnInvoicePaid(ctx, inv)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Action != audithook.ActionInvoicePaid {
		t.Errorf("action = %q", events[0].Action)
	}
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	}))

	if err := ext.OnLedgerDrift(context.Background(), "acct-1", errors.New("drift")); err != nil {
		t.Fatalf("expected recorder failure to be swallowed, got %v", err)
	}
}
