// Package observability provides a metrics extension for tokenledger that
// records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/plugin"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnTransactionAppended  = (*MetricsExtension)(nil)
	_ plugin.OnSpendRejected        = (*MetricsExtension)(nil)
	_ plugin.OnLedgerDrift          = (*MetricsExtension)(nil)
	_ plugin.OnPlanCreated          = (*MetricsExtension)(nil)
	_ plugin.OnPlanArchived         = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionChanged  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled = (*MetricsExtension)(nil)
	_ plugin.OnRenewalDue           = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceCreated       = (*MetricsExtension)(nil)
	_ plugin.OnInvoicePaid          = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceFailed        = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a tokenledger plugin to track ledger and billing metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Ledger metrics
	TokensEarned  Counter
	TokensSpent   Counter
	EntriesEarned Counter
	EntriesSpent  Counter
	SpendRejected Counter
	SpendSize     Histogram
	LedgerDrift   Counter

	// Catalog metrics
	PlanCreated  Counter
	PlanArchived Counter

	// Subscription metrics
	SubscriptionCreated  Counter
	SubscriptionChanged  Counter
	SubscriptionCanceled Counter
	RenewalDue           Counter

	// Invoice metrics
	InvoiceCreated Counter
	InvoicePaid    Counter
	InvoiceFailed  Counter
	InvoiceTotal   Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Ledger metrics
		TokensEarned:  factory.Counter("tokenledger.tokens.earned"),
		TokensSpent:   factory.Counter("tokenledger.tokens.spent"),
		EntriesEarned: factory.Counter("tokenledger.entries.earned"),
		EntriesSpent:  factory.Counter("tokenledger.entries.spent"),
		SpendRejected: factory.Counter("tokenledger.spend.rejected"),
		SpendSize:     factory.Histogram("tokenledger.spend.size"),
		LedgerDrift:   factory.Counter("tokenledger.ledger.drift"),

		// Catalog metrics
		PlanCreated:  factory.Counter("tokenledger.plan.created"),
		PlanArchived: factory.Counter("tokenledger.plan.archived"),

		// Subscription metrics
		SubscriptionCreated:  factory.Counter("tokenledger.subscription.created"),
		SubscriptionChanged:  factory.Counter("tokenledger.subscription.changed"),
		SubscriptionCanceled: factory.Counter("tokenledger.subscription.canceled"),
		RenewalDue:           factory.Counter("tokenledger.subscription.renewal_due"),

		// Invoice metrics
		InvoiceCreated: factory.Counter("tokenledger.invoice.created"),
		InvoicePaid:    factory.Counter("tokenledger.invoice.paid"),
		InvoiceFailed:  factory.Counter("tokenledger.invoice.failed"),
		InvoiceTotal:   factory.Histogram("tokenledger.invoice.total_cents"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionAppended implements plugin.OnTransactionAppended.
func (m *MetricsExtension) OnTransactionAppended(_ context.Context, tx *transaction.Transaction) error {
	switch tx.Kind {
	case transaction.KindEarned:
		m.EntriesEarned.Inc()
		m.TokensEarned.Add(float64(tx.Amount))
	case transaction.KindSpent:
		m.EntriesSpent.Inc()
		m.TokensSpent.Add(float64(tx.Amount))
		m.SpendSize.Observe(float64(tx.Amount))
	}
	return nil
}

// OnSpendRejected implements plugin.OnSpendRejected.
func (m *MetricsExtension) OnSpendRejected(_ context.Context, _ string, _, _ int64) error {
	m.SpendRejected.Inc()
	return nil
}

// OnLedgerDrift implements plugin.OnLedgerDrift.
func (m *MetricsExtension) OnLedgerDrift(_ context.Context, _ string, _ error) error {
	m.LedgerDrift.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (m *MetricsExtension) OnPlanCreated(_ context.Context, _ *plan.Plan) error {
	m.PlanCreated.Inc()
	return nil
}

// OnPlanArchived implements plugin.OnPlanArchived.
func (m *MetricsExtension) OnPlanArchived(_ context.Context, _ string) error {
	m.PlanArchived.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (m *MetricsExtension) OnSubscriptionChanged(_ context.Context, _ *subscription.Subscription, _, _ id.PlanID) error {
	m.SubscriptionChanged.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ *subscription.Subscription, _ string) error {
	m.SubscriptionCanceled.Inc()
	return nil
}

// OnRenewalDue implements plugin.OnRenewalDue.
func (m *MetricsExtension) OnRenewalDue(_ context.Context, _ *subscription.Subscription, _ *invoice.Invoice) error {
	m.RenewalDue.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceCreated implements plugin.OnInvoiceCreated.
func (m *MetricsExtension) OnInvoiceCreated(_ context.Context, inv *invoice.Invoice) error {
	m.InvoiceCreated.Inc()
	m.InvoiceTotal.Observe(float64(inv.Amount.Amount))
	return nil
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (m *MetricsExtension) OnInvoicePaid(_ context.Context, _ *invoice.Invoice) error {
	m.InvoicePaid.Inc()
	return nil
}

// OnInvoiceFailed implements plugin.OnInvoiceFailed.
func (m *MetricsExtension) OnInvoiceFailed(_ context.Context, _ *invoice.Invoice, _ string) error {
	m.InvoiceFailed.Inc()
	return nil
}
