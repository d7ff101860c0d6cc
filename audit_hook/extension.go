// Package audithook bridges tokenledger lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not import an
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/plugin"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnTransactionAppended  = (*Extension)(nil)
	_ plugin.OnSpendRejected        = (*Extension)(nil)
	_ plugin.OnLedgerDrift          = (*Extension)(nil)
	_ plugin.OnPlanCreated          = (*Extension)(nil)
	_ plugin.OnPlanArchived         = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated  = (*Extension)(nil)
	_ plugin.OnSubscriptionChanged  = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled = (*Extension)(nil)
	_ plugin.OnRenewalDue           = (*Extension)(nil)
	_ plugin.OnInvoiceCreated       = (*Extension)(nil)
	_ plugin.OnInvoicePaid          = (*Extension)(nil)
	_ plugin.OnInvoiceFailed        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges tokenledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder   Recorder
	enabled    map[string]bool // nil = all enabled
	categories map[string]bool // nil = all categories
	logger     *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionAppended implements plugin.OnTransactionAppended.
func (e *Extension) OnTransactionAppended(ctx context.Context, tx *transaction.Transaction) error {
	return e.record(ctx, ActionTransactionAppended, SeverityInfo, OutcomeSuccess,
		ResourceLedger, tx.ID.String(), CategoryLedger, nil,
		"account_id", tx.AccountID,
		"kind", string(tx.Kind),
		"amount", tx.Amount,
		"category", tx.Category,
		"sequence_no", tx.SequenceNo,
		"resulting_available", tx.ResultingAvailable,
	)
}

// OnSpendRejected implements plugin.OnSpendRejected.
func (e *Extension) OnSpendRejected(ctx context.Context, accountID string, requested, available int64) error {
	return e.record(ctx, ActionSpendRejected, SeverityWarning, OutcomeFailure,
		ResourceLedger, accountID, CategoryLedger, nil,
		"account_id", accountID,
		"requested", requested,
		"available", available,
	)
}

// OnLedgerDrift implements plugin.OnLedgerDrift.
func (e *Extension) OnLedgerDrift(ctx context.Context, accountID string, err error) error {
	return e.record(ctx, ActionLedgerDrift, SeverityCritical, OutcomeFailure,
		ResourceLedger, accountID, CategoryLedger, err,
		"account_id", accountID,
	)
}

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (e *Extension) OnPlanCreated(ctx context.Context, p *plan.Plan) error {
	return e.record(ctx, ActionPlanCreated, SeverityInfo, OutcomeSuccess,
		ResourcePlan, p.ID.String(), CategoryBilling, nil,
		"slug", p.Slug,
		"token_allowance", p.TokenAllowance,
		"price_monthly", p.PriceMonthly.String(),
	)
}

// OnPlanArchived implements plugin.OnPlanArchived.
func (e *Extension) OnPlanArchived(ctx context.Context, planID string) error {
	return e.record(ctx, ActionPlanArchived, SeverityInfo, OutcomeSuccess,
		ResourcePlan, planID, CategoryBilling, nil,
		"plan_id", planID,
	)
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"account_id", sub.AccountID,
		"plan_id", sub.PlanID.String(),
		"billing_cycle", string(sub.BillingCycle),
	)
}

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (e *Extension) OnSubscriptionChanged(ctx context.Context, sub *subscription.Subscription, oldPlan, newPlan id.PlanID) error {
	return e.record(ctx, ActionSubscriptionChanged, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"account_id", sub.AccountID,
		"old_plan_id", oldPlan.String(),
		"new_plan_id", newPlan.String(),
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription, reason string) error {
	return e.record(ctx, ActionSubscriptionCanceled, SeverityWarning, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"account_id", sub.AccountID,
		"reason", reason,
		"failed_attempts", sub.FailedAttempts,
	)
}

// OnRenewalDue implements plugin.OnRenewalDue.
func (e *Extension) OnRenewalDue(ctx context.Context, sub *subscription.Subscription, inv *invoice.Invoice) error {
	return e.record(ctx, ActionRenewalDue, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"account_id", sub.AccountID,
		"invoice_id", inv.ID.String(),
		"amount", inv.Amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceCreated implements plugin.OnInvoiceCreated.
func (e *Extension) OnInvoiceCreated(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoiceCreated, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryPayment, nil,
		"account_id", inv.AccountID,
		"kind", string(inv.Kind),
		"amount", inv.Amount.String(),
	)
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (e *Extension) OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoicePaid, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryPayment, nil,
		"account_id", inv.AccountID,
		"amount", inv.Amount.String(),
		"payment_ref", inv.PaymentRef,
	)
}

// OnInvoiceFailed implements plugin.OnInvoiceFailed.
func (e *Extension) OnInvoiceFailed(ctx context.Context, inv *invoice.Invoice, reason string) error {
	return e.record(ctx, ActionInvoiceFailed, SeverityWarning, OutcomeFailure,
		ResourceInvoice, inv.ID.String(), CategoryPayment, errors.New(reason),
		"account_id", inv.AccountID,
		"amount", inv.Amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Internal
// ──────────────────────────────────────────────────

func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}
	if e.categories != nil && !e.categories[category] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
