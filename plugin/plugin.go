// Package plugin provides an extensible plugin system for tokenledger.
// Plugins hook into ledger, subscription and invoice lifecycle events.
// Hooks run after the state change has been committed; a failing or slow
// plugin is logged and never rolls anything back.
package plugin

import (
	"context"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionAppended is called once per committed ledger entry. Replayed
// appends do not fire it.
type OnTransactionAppended interface {
	Plugin
	OnTransactionAppended(ctx context.Context, tx *transaction.Transaction) error
}

// OnSpendRejected is called when a spend exceeds the available balance.
type OnSpendRejected interface {
	Plugin
	OnSpendRejected(ctx context.Context, accountID string, requested, available int64) error
}

// OnLedgerDrift is called when reconciliation finds a ledger whose recorded
// balances disagree with its entries.
type OnLedgerDrift interface {
	Plugin
	OnLedgerDrift(ctx context.Context, accountID string, err error) error
}

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

type OnPlanCreated interface {
	Plugin
	OnPlanCreated(ctx context.Context, p *plan.Plan) error
}

type OnPlanArchived interface {
	Plugin
	OnPlanArchived(ctx context.Context, planID string) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionChanged is called when an active subscription moves to
// another plan.
type OnSubscriptionChanged interface {
	Plugin
	OnSubscriptionChanged(ctx context.Context, sub *subscription.Subscription, oldPlan, newPlan id.PlanID) error
}

// OnSubscriptionCanceled is called for user cancellations and for
// cancellations caused by repeated payment failure.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription, reason string) error
}

// OnRenewalDue is called when the renewal clock issues a renewal invoice.
type OnRenewalDue interface {
	Plugin
	OnRenewalDue(ctx context.Context, sub *subscription.Subscription, inv *invoice.Invoice) error
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceCreated is called for every new pending invoice. Payment
// integrations use it to start a charge.
type OnInvoiceCreated interface {
	Plugin
	OnInvoiceCreated(ctx context.Context, inv *invoice.Invoice) error
}

type OnInvoicePaid interface {
	Plugin
	OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error
}

type OnInvoiceFailed interface {
	Plugin
	OnInvoiceFailed(ctx context.Context, inv *invoice.Invoice, reason string) error
}
