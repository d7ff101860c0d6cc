package tokenledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/subscription"
)

// PaymentTimeoutReason is recorded on renewal invoices that never heard back
// from the payment processor within the grace period.
const PaymentTimeoutReason = "payment confirmation timeout"

// SweepResult counts what one renewal sweep did.
type SweepResult struct {
	Fired   int `json:"fired"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// SweepRenewals fires every due renewal and fails every renewal charge that
// has been pending longer than the grace period. It is what the renewal
// clock runs; calling it directly is safe at any time. One subscription
// failing does not stop the sweep: per-subscription errors are returned
// together as a MultiError alongside the counts.
func (l *Ledger) SweepRenewals(ctx context.Context) (SweepResult, error) {
	var (
		res  SweepResult
		errs MultiError
	)

	now := l.now()
	due, err := l.store.ListDueSubscriptions(ctx, now, now.Add(-l.gracePeriod), l.sweepBatchSize)
	if err != nil {
		return res, err
	}

	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if sub.Status == subscription.StatusPendingRenewal {
			if err := l.expirePending(ctx, sub); err != nil {
				res.Failed++
				errs.Add(fmt.Errorf("expire renewal of %s: %w", sub.AccountID, err))
				continue
			}
			res.Expired++
			continue
		}

		if _, err := l.RenewalDue(ctx, sub.AccountID); err != nil {
			// The subscription moved on since it was listed.
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrSubscriptionCanceled) {
				continue
			}
			res.Failed++
			errs.Add(fmt.Errorf("renew %s: %w", sub.AccountID, err))
			continue
		}
		res.Fired++
	}

	if errs.HasErrors() {
		return res, errs
	}
	return res, nil
}

func (l *Ledger) expirePending(ctx context.Context, sub *subscription.Subscription) error {
	if !sub.PendingExpired(l.now(), l.gracePeriod) {
		return nil
	}
	_, err := l.Settle(ctx, sub.PendingInvoiceID.String(), invoice.OutcomeFailed, SettleOpts{
		Reason: PaymentTimeoutReason,
	})
	if errors.Is(err, ErrAlreadySettled) {
		return nil
	}
	return err
}
