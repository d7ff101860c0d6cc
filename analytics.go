package tokenledger

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/xraph/tokenledger/analytics"
	"github.com/xraph/tokenledger/store"
)

// UsageBreakdown groups the account's ledger within period by category.
// Identical concurrent requests share one computation. Any failure is
// reported as ErrAnalyticsUnavailable and has no effect on the ledger.
func (l *Ledger) UsageBreakdown(ctx context.Context, accountID string, period analytics.Period) ([]analytics.Usage, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	period, err := analytics.ParsePeriod(string(period))
	if err != nil {
		return nil, ValidationError{Field: "period", Message: err.Error()}
	}

	since := period.Since(l.now())
	key := accountID + "\x00" + string(period)

	// The shared computation outlives any single caller's cancellation.
	shared := context.WithoutCancel(ctx)
	v, err, _ := l.flight.Do(key, func() (any, error) {
		return l.usage(shared, accountID, since)
	})
	if err != nil {
		l.logger.Warn("usage breakdown failed",
			"account_id", accountID,
			"period", period,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrAnalyticsUnavailable, err)
	}

	// Results are shared between callers of the same flight.
	return slices.Clone(v.([]analytics.Usage)), nil
}

func (l *Ledger) usage(ctx context.Context, accountID string, since time.Time) ([]analytics.Usage, error) {
	f := analytics.NewFolder(since)

	if agg, ok := l.store.(store.UsageAggregator); ok {
		totals, err := agg.SumByCategory(ctx, accountID, since)
		if err != nil {
			return nil, err
		}
		for _, t := range totals {
			f.AddTotal(t)
		}
		return f.Result(), nil
	}

	for tx, err := range l.List(ctx, accountID, ListOpts{Since: since}) {
		if err != nil {
			return nil, err
		}
		f.Add(tx)
	}
	return f.Result(), nil
}
