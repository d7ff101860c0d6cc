// Package entitlement decides whether an account may use a plan feature.
package entitlement

import (
	"slices"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/subscription"
)

// Reasons a check is denied.
const (
	ReasonNoSubscription = "no_subscription"
	ReasonInactive       = "subscription_inactive"
	ReasonNotInPlan      = "feature_not_in_plan"
)

// Result is the outcome of a feature check.
type Result struct {
	Allowed bool      `json:"allowed"`
	Feature string    `json:"feature"`
	PlanID  id.PlanID `json:"plan_id"`
	Status  string    `json:"status,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// Evaluate checks feature against the account's subscription and its plan.
// sub and p may be nil when the account has no subscription. Active and
// pending-renewal subscriptions keep their features; past-due and canceled
// ones lose them.
func Evaluate(feature string, sub *subscription.Subscription, p *plan.Plan) Result {
	res := Result{Feature: feature}
	if sub == nil || p == nil {
		res.Reason = ReasonNoSubscription
		return res
	}
	res.PlanID = sub.PlanID
	res.Status = string(sub.Status)

	switch sub.Status {
	case subscription.StatusActive, subscription.StatusPendingRenewal:
	default:
		res.Reason = ReasonInactive
		return res
	}
	if !slices.Contains(p.Features, feature) {
		res.Reason = ReasonNotInPlan
		return res
	}
	res.Allowed = true
	return res
}
