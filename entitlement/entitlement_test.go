package entitlement_test

import (
	"testing"

	"github.com/xraph/tokenledger/entitlement"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/subscription"
)

func TestEvaluate(t *testing.T) {
	p := &plan.Plan{ID: id.NewPlanID(), Features: []string{"chat", "documents"}}
	sub := func(status subscription.Status) *subscription.Subscription {
		return &subscription.Subscription{PlanID: p.ID, Status: status}
	}

	tests := []struct {
		name    string
		feature string
		sub     *subscription.Subscription
		allowed bool
		reason  string
	}{
		{"no subscription", "chat", nil, false, entitlement.ReasonNoSubscription},
		{"active with feature", "chat", sub(subscription.StatusActive), true, ""},
		{"pending renewal keeps access", "documents", sub(subscription.StatusPendingRenewal), true, ""},
		{"past due loses access", "chat", sub(subscription.StatusPastDue), false, entitlement.ReasonInactive},
		{"canceled loses access", "chat", sub(subscription.StatusCanceled), false, entitlement.ReasonInactive},
		{"feature not in plan", "video", sub(subscription.StatusActive), false, entitlement.ReasonNotInPlan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pl *plan.Plan
			if tt.sub != nil {
				pl = p
			}
			got := entitlement.Evaluate(tt.feature, tt.sub, pl)
			if got.Allowed != tt.allowed || got.Reason != tt.reason {
				t.Errorf("Evaluate = %+v, want allowed=%v reason=%q", got, tt.allowed, tt.reason)
			}
			if got.Feature != tt.feature {
				t.Errorf("feature = %q", got.Feature)
			}
		})
	}
}
