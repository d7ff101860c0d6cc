// Package store defines the unified persistence contract for tokenledger.
// Backends live in the sub-packages: memory, postgres, sqlite and mongo.
package store

import (
	"context"
	"time"

	"github.com/xraph/tokenledger/analytics"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// Store is the unified storage interface for all tokenledger entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to keep the full contract in one place.
//
// Implementations report misses with the tokenledger not-found sentinels and
// map unique-key violations to ErrConcurrencyConflict,
// ErrDuplicateTransaction or ErrDuplicateInvoice.
type Store interface {
	// Ledger methods
	AppendTransaction(ctx context.Context, tx *transaction.Transaction) error
	GetTransaction(ctx context.Context, accountID, txID string) (*transaction.Transaction, error)
	GetTransactionByKey(ctx context.Context, accountID, idempotencyKey string) (*transaction.Transaction, error)
	LatestTransaction(ctx context.Context, accountID string) (*transaction.Transaction, error)
	ListTransactions(ctx context.Context, accountID string, opts transaction.ListOpts) ([]*transaction.Transaction, error)

	// Catalog methods
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, planID string) (*plan.Plan, error)
	ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error)
	ArchivePlan(ctx context.Context, planID string) error
	CreateBundle(ctx context.Context, b *plan.Bundle) error
	GetBundle(ctx context.Context, bundleID string) (*plan.Bundle, error)
	ListBundles(ctx context.Context, opts plan.ListOpts) ([]*plan.Bundle, error)

	// Subscription methods
	CreateSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, accountID string) (*subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, s *subscription.Subscription) error
	ListDueSubscriptions(ctx context.Context, now, pendingBefore time.Time, limit int) ([]*subscription.Subscription, error)

	// Invoice methods
	CreateInvoice(ctx context.Context, inv *invoice.Invoice) error
	GetInvoice(ctx context.Context, invoiceID string) (*invoice.Invoice, error)
	GetInvoiceByCorrelation(ctx context.Context, accountID, correlationID string) (*invoice.Invoice, error)
	ListInvoices(ctx context.Context, accountID string, opts invoice.ListOpts) ([]*invoice.Invoice, error)
	SettleInvoice(ctx context.Context, inv *invoice.Invoice) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Compile-time checks that Store satisfies the per-domain contracts.
var (
	_ transaction.Store  = (Store)(nil)
	_ plan.Store         = (Store)(nil)
	_ subscription.Store = (Store)(nil)
	_ invoice.Store      = (Store)(nil)
)

// UsageAggregator is implemented by stores that can total a ledger by
// category server-side. The engine prefers it over streaming the ledger.
type UsageAggregator interface {
	SumByCategory(ctx context.Context, accountID string, since time.Time) ([]analytics.CategoryTotal, error)
}
