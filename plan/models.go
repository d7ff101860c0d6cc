// Package plan holds the published catalog: subscription plans and token
// bundles. Catalog entries are reference data and are immutable once active.
package plan

import (
	"time"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/types"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDraft    Status = "draft"
)

// BillingCycle is the renewal cadence chosen for a subscription.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

// ParseCycle accepts the cycle names plus the "yearly" alias.
func ParseCycle(s string) (BillingCycle, bool) {
	switch s {
	case "monthly", "month":
		return CycleMonthly, true
	case "annual", "yearly", "year":
		return CycleAnnual, true
	default:
		return "", false
	}
}

// Valid reports whether c is a known cycle.
func (c BillingCycle) Valid() bool { return c == CycleMonthly || c == CycleAnnual }

// Advance returns t moved forward by one cycle.
func (c BillingCycle) Advance(t time.Time) time.Time {
	if c == CycleAnnual {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

type Plan struct {
	types.Entity
	ID             id.PlanID   `json:"id"`
	Name           string      `json:"name"`
	Slug           string      `json:"slug"`
	Description    string      `json:"description"`
	PriceMonthly   types.Money `json:"price_monthly"`
	PriceAnnual    types.Money `json:"price_annual"`
	Features       []string    `json:"features"`
	TokenAllowance int64       `json:"token_allowance"`
	Status         Status      `json:"status"`
}

// PriceFor returns the charge for one cycle.
func (p *Plan) PriceFor(c BillingCycle) types.Money {
	if c == CycleAnnual {
		return p.PriceAnnual
	}
	return p.PriceMonthly
}

// Purchasable reports whether new subscriptions may reference the plan.
func (p *Plan) Purchasable() bool { return p.Status == StatusActive }

type Bundle struct {
	types.Entity
	ID         id.BundleID `json:"id"`
	Name       string      `json:"name"`
	TokenCount int64       `json:"token_count"`
	Price      types.Money `json:"price"`
	Popular    bool        `json:"popular"`
	Status     Status      `json:"status"`
}

func (b *Bundle) Purchasable() bool { return b.Status == StatusActive && b.TokenCount > 0 }
