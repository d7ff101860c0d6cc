package tokenledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/store/memory"
	"github.com/xraph/tokenledger/types"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLedger(t *testing.T, opts ...tokenledger.Option) (*tokenledger.Ledger, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	base := []tokenledger.Option{
		tokenledger.WithClock(clock.Now),
		tokenledger.WithRenewalSchedule(""),
	}
	l := tokenledger.New(memory.New(), append(base, opts...)...)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })
	return l, clock
}

func earn(t *testing.T, l *tokenledger.Ledger, account string, amount int64, key string) {
	t.Helper()
	if _, err := l.Append(context.Background(), tokenledger.AppendRequest{
		AccountID: account, Amount: amount, Kind: tokenledger.Earned, IdempotencyKey: key,
	}); err != nil {
		t.Fatalf("earn %d: %v", amount, err)
	}
}

func spend(l *tokenledger.Ledger, account string, amount int64, key, category string) error {
	_, err := l.Append(context.Background(), tokenledger.AppendRequest{
		AccountID: account, Amount: amount, Kind: tokenledger.Spent, IdempotencyKey: key, Category: category,
	})
	return err
}

func seedPlan(t *testing.T, l *tokenledger.Ledger, name string, monthly int64, allowance int64) *plan.Plan {
	t.Helper()
	p := &plan.Plan{
		Name:           name,
		Description:    name + " plan",
		PriceMonthly:   types.USD(monthly),
		PriceAnnual:    types.USD(monthly * 10),
		Features:       []string{"chat", "documents"},
		TokenAllowance: allowance,
	}
	if err := l.CreatePlan(context.Background(), p); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	return p
}

func seedBundle(t *testing.T, l *tokenledger.Ledger, tokens, price int64) *plan.Bundle {
	t.Helper()
	b := &plan.Bundle{Name: "Bundle", TokenCount: tokens, Price: types.USD(price)}
	if err := l.CreateBundle(context.Background(), b); err != nil {
		t.Fatalf("CreateBundle: %v", err)
	}
	return b
}

func assertBalance(t *testing.T, l *tokenledger.Ledger, account string, available, total, spent int64) {
	t.Helper()
	b, err := l.GetBalance(context.Background(), account)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.Available != available || b.Total != total || b.Spent != spent {
		t.Fatalf("balance = {%d,%d,%d}, want {%d,%d,%d}",
			b.Available, b.Total, b.Spent, available, total, spent)
	}
	if b.Available != b.Total-b.Spent || b.Available < 0 {
		t.Fatalf("invariant broken: %+v", b)
	}
}
