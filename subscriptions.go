package tokenledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/types"
)

// SupersededReason is recorded on a pending renewal invoice that was
// replaced by a new subscription before the payment processor answered.
const SupersededReason = "superseded by resubscribe"

// Subscribe puts the account on planID with the given billing cycle. It
// creates the subscription on first use and otherwise returns any existing
// one to Active with a fresh billing date. An outstanding renewal charge is
// failed first so a late payment cannot settle it.
func (l *Ledger) Subscribe(ctx context.Context, accountID, planID string, cycle plan.BillingCycle) (*subscription.Subscription, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	if !cycle.Valid() {
		return nil, ValidationError{Field: "billing_cycle", Message: fmt.Sprintf("unknown cycle %q", cycle)}
	}
	p, err := l.purchasablePlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	now := l.now()
	sub, err := l.store.GetSubscription(ctx, accountID)
	switch {
	case IsNotFound(err):
		sub = subscription.New(accountID, p.ID, cycle, now)
		if err := l.store.CreateSubscription(ctx, sub); err != nil {
			return nil, err
		}
		l.plugins.EmitSubscriptionCreated(ctx, sub)
	case err != nil:
		return nil, err
	default:
		if err := l.supersedePending(ctx, sub); err != nil {
			return nil, err
		}
		if sub, err = l.store.GetSubscription(ctx, accountID); err != nil {
			return nil, err
		}
		oldPlan := sub.PlanID
		sub.Resubscribe(p.ID, cycle, now)
		if err := l.store.UpdateSubscription(ctx, sub); err != nil {
			return nil, err
		}
		l.plugins.EmitSubscriptionChanged(ctx, sub, oldPlan, p.ID)
	}

	l.logger.Info("subscribed",
		"account_id", accountID,
		"plan_id", p.ID.String(),
		"billing_cycle", cycle,
		"next_billing_date", sub.NextBillingDate,
	)
	return sub, nil
}

// supersedePending fails the outstanding renewal invoice of sub. An invoice
// that was already settled elsewhere is applied instead. Callers hold the
// account lock.
func (l *Ledger) supersedePending(ctx context.Context, sub *subscription.Subscription) error {
	if sub.Status != subscription.StatusPendingRenewal || sub.PendingInvoiceID.IsNil() {
		return nil
	}

	inv, err := l.store.GetInvoice(ctx, sub.PendingInvoiceID.String())
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if !inv.Status.Terminal() {
		if err := inv.Settle(invoice.OutcomeFailed, l.now(), "", SupersededReason); err != nil {
			return err
		}
		err := l.store.SettleInvoice(ctx, inv)
		if err == nil {
			l.logger.Info("pending renewal superseded",
				"account_id", sub.AccountID,
				"invoice_id", inv.ID.String(),
			)
			l.plugins.EmitInvoiceFailed(ctx, inv, inv.FailureReason)
			return nil
		}
		if !errors.Is(err, ErrAlreadySettled) {
			return err
		}
		if inv, err = l.store.GetInvoice(ctx, inv.ID.String()); err != nil {
			return err
		}
	}

	return l.applySettlement(ctx, inv)
}

// GetSubscription returns the account's subscription.
func (l *Ledger) GetSubscription(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	return l.store.GetSubscription(ctx, accountID)
}

// ChangePlan moves an active subscription to another plan without
// pro-ration. When the price differs a zero-amount plan_change invoice is
// recorded for the account's history.
func (l *Ledger) ChangePlan(ctx context.Context, accountID, planID string) (*subscription.Subscription, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	next, err := l.purchasablePlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	sub, err := l.store.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sub.PlanID == next.ID {
		return sub, nil
	}

	oldPlanID := sub.PlanID
	now := l.now()
	if err := sub.ChangePlan(next.ID, now); err != nil {
		return nil, err
	}
	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	prev, err := l.store.GetPlan(ctx, oldPlanID.String())
	if err != nil && !IsNotFound(err) {
		return sub, err
	}
	if prev == nil || !prev.PriceFor(sub.BillingCycle).Equal(next.PriceFor(sub.BillingCycle)) {
		if err := l.recordPlanChange(ctx, sub, prev, next); err != nil {
			l.logger.Warn("plan change invoice failed",
				"account_id", accountID,
				"error", err,
			)
		}
	}

	l.plugins.EmitSubscriptionChanged(ctx, sub, oldPlanID, next.ID)
	return sub, nil
}

func (l *Ledger) recordPlanChange(ctx context.Context, sub *subscription.Subscription, prev, next *plan.Plan) error {
	from := "previous plan"
	if prev != nil {
		from = fmt.Sprintf("%s (%s)", prev.Name, prev.PriceFor(sub.BillingCycle))
	}
	now := l.now()
	inv, err := l.createInvoice(ctx, CreateInvoiceRequest{
		AccountID:      sub.AccountID,
		Kind:           invoice.KindPlanChange,
		CorrelationID:  fmt.Sprintf("%s:plan:%s:%d", sub.ID, next.ID, now.UnixNano()),
		Description:    fmt.Sprintf("Plan changed from %s to %s (%s), effective next billing date", from, next.Name, next.PriceFor(sub.BillingCycle)),
		Amount:         types.Zero(l.currency),
		SubscriptionID: sub.ID,
	})
	if err != nil {
		return err
	}
	return l.settleImmediately(ctx, inv, now)
}

// ToggleAutoRenew enables or disables future renewals without changing state.
func (l *Ledger) ToggleAutoRenew(ctx context.Context, accountID string, enabled bool) (*subscription.Subscription, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	sub, err := l.store.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := sub.SetAutoRenew(enabled, l.now()); err != nil {
		return nil, err
	}
	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// CancelSubscription ends the account's subscription immediately.
func (l *Ledger) CancelSubscription(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	sub, err := l.store.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := sub.Cancel(l.now()); err != nil {
		return nil, err
	}
	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	l.plugins.EmitSubscriptionCanceled(ctx, sub, "canceled by account")
	return sub, nil
}

// RenewalDue fires the renewal of an account whose billing date (or retry
// time) has passed. It moves the subscription to PendingRenewal and issues
// the renewal invoice. While a renewal is pending, further calls return the
// outstanding invoice and create nothing.
func (l *Ledger) RenewalDue(ctx context.Context, accountID string) (*invoice.Invoice, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	sub, err := l.store.GetSubscription(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if sub.Status == subscription.StatusPendingRenewal {
		return l.store.GetInvoice(ctx, sub.PendingInvoiceID.String())
	}

	now := l.now()
	if !sub.RenewalDue(now) {
		if sub.Status == subscription.StatusCanceled {
			return nil, ErrSubscriptionCanceled
		}
		return nil, fmt.Errorf("%w: renewal not due for %s (%s)", ErrInvalidTransition, accountID, sub.Status)
	}

	p, err := l.store.GetPlan(ctx, sub.PlanID.String())
	if err != nil {
		return nil, err
	}

	inv, err := l.createInvoice(ctx, CreateInvoiceRequest{
		AccountID:      accountID,
		Kind:           invoice.KindRenewal,
		CorrelationID:  sub.RenewalCorrelationID(),
		Description:    renewalDescription(p, sub),
		Amount:         p.PriceFor(sub.BillingCycle),
		TokenCount:     p.TokenAllowance,
		SubscriptionID: sub.ID,
	})
	if err != nil {
		return nil, err
	}

	if err := sub.BeginRenewal(inv.ID, now); err != nil {
		return nil, err
	}
	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	// A replayed invoice may have been settled before the subscription
	// recorded it as pending; catch up now.
	if inv.Status.Terminal() {
		if err := l.applySettlement(ctx, inv); err != nil {
			return inv, err
		}
	}

	l.plugins.EmitRenewalDue(ctx, sub, inv)
	l.logger.Info("renewal due",
		"account_id", accountID,
		"invoice_id", inv.ID.String(),
		"correlation_id", inv.CorrelationID,
	)
	return inv, nil
}

func renewalDescription(p *plan.Plan, sub *subscription.Subscription) string {
	return fmt.Sprintf("%s subscription, %s renewal (cycle %d)", p.Name, sub.BillingCycle, sub.CycleCount+1)
}

func (l *Ledger) purchasablePlan(ctx context.Context, planID string) (*plan.Plan, error) {
	if _, err := id.ParsePlanID(planID); err != nil {
		return nil, ValidationError{Field: "plan_id", Message: err.Error()}
	}
	p, err := l.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !p.Purchasable() {
		return nil, fmt.Errorf("%w: %s", ErrPlanArchived, p.ID)
	}
	return p, nil
}
