package tokenledger

import (
	"context"
	"strings"

	"github.com/xraph/tokenledger/entitlement"
)

// CheckFeature reports whether the account's current plan grants feature.
// A missing subscription is a denied result, not an error.
func (l *Ledger) CheckFeature(ctx context.Context, accountID, feature string) (entitlement.Result, error) {
	if err := validateAccountID(accountID); err != nil {
		return entitlement.Result{}, err
	}
	feature = strings.TrimSpace(feature)
	if feature == "" {
		return entitlement.Result{}, ValidationError{Field: "feature", Message: "required"}
	}

	sub, err := l.store.GetSubscription(ctx, accountID)
	if IsNotFound(err) {
		return entitlement.Evaluate(feature, nil, nil), nil
	}
	if err != nil {
		return entitlement.Result{}, err
	}
	p, err := l.store.GetPlan(ctx, sub.PlanID.String())
	if err != nil {
		return entitlement.Result{}, err
	}
	return entitlement.Evaluate(feature, sub, p), nil
}
