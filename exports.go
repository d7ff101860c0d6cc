package tokenledger

import (
	"github.com/xraph/tokenledger/analytics"
	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
	"github.com/xraph/tokenledger/types"
)

// Re-export common types for convenience so users don't have to import the
// model packages for everyday calls.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

type (
	Transaction  = transaction.Transaction
	Kind         = transaction.Kind
	Balance      = balance.Snapshot
	Usage        = analytics.Usage
	Period       = analytics.Period
	Plan         = plan.Plan
	Bundle       = plan.Bundle
	BillingCycle = plan.BillingCycle
	Subscription = subscription.Subscription
	Invoice      = invoice.Invoice
	Outcome      = invoice.Outcome
)

const (
	Earned = transaction.KindEarned
	Spent  = transaction.KindSpent

	Monthly = plan.CycleMonthly
	Annual  = plan.CycleAnnual

	Paid   = invoice.OutcomePaid
	Failed = invoice.OutcomeFailed
)

// Re-export Money constructors
var (
	USD  = types.USD
	Zero = types.Zero
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
