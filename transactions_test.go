package tokenledger_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/transaction"
)

func TestBalanceScenario(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	assertBalance(t, l, "acct-1", 0, 0, 0)

	earn(t, l, "acct-1", 100, "k1")
	assertBalance(t, l, "acct-1", 100, 100, 0)

	if err := spend(l, "acct-1", 30, "k2", "chat"); err != nil {
		t.Fatalf("spend 30: %v", err)
	}
	assertBalance(t, l, "acct-1", 70, 100, 30)

	earn(t, l, "acct-1", 20, "k3")
	assertBalance(t, l, "acct-1", 90, 120, 30)

	err := spend(l, "acct-1", 95, "k4", "chat")
	if !errors.Is(err, tokenledger.ErrInsufficientBalance) {
		t.Fatalf("spend 95: err = %v, want ErrInsufficientBalance", err)
	}
	assertBalance(t, l, "acct-1", 90, 120, 30)

	n := 0
	for _, err := range l.List(ctx, "acct-1", tokenledger.ListOpts{}) {
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != 3 {
		t.Errorf("ledger has %d entries, want 3 (rejected spend must not be written)", n)
	}
}

func TestAppendIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	earn(t, l, "acct-1", 100, "seed")

	req := tokenledger.AppendRequest{
		AccountID: "acct-1", Amount: 40, Kind: tokenledger.Spent, IdempotencyKey: "spend-1", Category: "documents",
	}
	first, err := l.Append(ctx, req)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if first.Replayed {
		t.Error("first append marked replayed")
	}

	for range 3 {
		again, err := l.Append(ctx, req)
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		if !again.Replayed {
			t.Error("replay not marked")
		}
		if again.ID != first.ID || again.SequenceNo != first.SequenceNo {
			t.Errorf("replay returned a different record: %v vs %v", again.ID, first.ID)
		}
	}

	assertBalance(t, l, "acct-1", 60, 100, 40)
}

func TestConcurrentSpendsNeverOverdraw(t *testing.T) {
	l, _ := newTestLedger(t)
	earn(t, l, "acct-1", 100, "seed")

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, amount := range []int64{70, 50} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = spend(l, "acct-1", amount, fmt.Sprintf("spend-%d", amount), "chat")
		}()
	}
	wg.Wait()

	ok, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, tokenledger.ErrInsufficientBalance):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("ok=%d rejected=%d, want exactly one of each", ok, rejected)
	}

	b, _ := l.GetBalance(context.Background(), "acct-1")
	if b.Available != 30 && b.Available != 50 {
		t.Errorf("available = %d, want 30 or 50", b.Available)
	}
	if b.Available != b.Total-b.Spent {
		t.Errorf("invariant broken: %+v", b)
	}
}

func TestConcurrentAppendsManyAccounts(t *testing.T) {
	l, _ := newTestLedger(t)

	var wg sync.WaitGroup
	for a := range 8 {
		account := fmt.Sprintf("acct-%d", a)
		for i := range 25 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Append(context.Background(), tokenledger.AppendRequest{
					AccountID: account, Amount: 2, Kind: tokenledger.Earned,
					IdempotencyKey: fmt.Sprintf("%s-%d", account, i),
				})
				if err != nil {
					t.Errorf("append: %v", err)
				}
			}()
		}
	}
	wg.Wait()

	for a := range 8 {
		account := fmt.Sprintf("acct-%d", a)
		assertBalance(t, l, account, 50, 50, 0)

		var prev int64 = 1 << 62
		for tx, err := range l.List(context.Background(), account, tokenledger.ListOpts{PageSize: 7}) {
			if err != nil {
				t.Fatal(err)
			}
			if tx.SequenceNo >= prev {
				t.Fatalf("sequence not strictly decreasing: %d after %d", tx.SequenceNo, prev)
			}
			prev = tx.SequenceNo
		}
		if prev != 1 {
			t.Errorf("%s: oldest sequence = %d, want 1", account, prev)
		}
	}
}

func TestAppendRejectsTotalOverflow(t *testing.T) {
	l, _ := newTestLedger(t)
	earn(t, l, "acct-1", math.MaxInt64, "big-1")

	_, err := l.Append(context.Background(), tokenledger.AppendRequest{
		AccountID: "acct-1", Amount: math.MaxInt64, Kind: tokenledger.Earned, IdempotencyKey: "big-2",
	})
	var ve tokenledger.ValidationError
	if !errors.As(err, &ve) || ve.Field != "amount" {
		t.Fatalf("err = %v, want amount validation error", err)
	}
	assertBalance(t, l, "acct-1", math.MaxInt64, math.MaxInt64, 0)

	if err := spend(l, "acct-1", 5, "s1", "chat"); err != nil {
		t.Fatalf("spend: %v", err)
	}
	assertBalance(t, l, "acct-1", math.MaxInt64-5, math.MaxInt64, 5)
}

func TestAppendValidation(t *testing.T) {
	l, _ := newTestLedger(t)

	tests := []struct {
		name string
		req  tokenledger.AppendRequest
	}{
		{"missing account", tokenledger.AppendRequest{Amount: 1, Kind: tokenledger.Earned, IdempotencyKey: "k"}},
		{"zero amount", tokenledger.AppendRequest{AccountID: "a", Kind: tokenledger.Earned, IdempotencyKey: "k"}},
		{"negative amount", tokenledger.AppendRequest{AccountID: "a", Amount: -5, Kind: tokenledger.Earned, IdempotencyKey: "k"}},
		{"bad kind", tokenledger.AppendRequest{AccountID: "a", Amount: 1, Kind: "refund", IdempotencyKey: "k"}},
		{"missing key", tokenledger.AppendRequest{AccountID: "a", Amount: 1, Kind: tokenledger.Earned}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Append(context.Background(), tt.req)
			if !tokenledger.IsValidation(err) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestListFiltersAndRestarts(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()

	earn(t, l, "acct-1", 100, "e1")
	clock.Advance(48 * time.Hour)
	cutoff := clock.Now()
	_ = spend(l, "acct-1", 10, "s1", "chat")
	clock.Advance(time.Hour)
	earn(t, l, "acct-1", 5, "e2")
	_ = spend(l, "acct-1", 7, "s2", "video")

	collect := func(opts tokenledger.ListOpts) []*transaction.Transaction {
		var out []*transaction.Transaction
		for tx, err := range l.List(ctx, "acct-1", opts) {
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, tx)
		}
		return out
	}

	all := collect(tokenledger.ListOpts{PageSize: 2})
	if len(all) != 4 {
		t.Fatalf("len(all) = %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.After(all[i-1].Timestamp) {
			t.Errorf("not timestamp-descending at %d", i)
		}
	}

	recent := collect(tokenledger.ListOpts{Since: cutoff})
	if len(recent) != 3 {
		t.Errorf("since filter returned %d entries, want 3", len(recent))
	}

	spends := collect(tokenledger.ListOpts{Kind: tokenledger.Spent, PageSize: 1})
	if len(spends) != 2 || spends[0].Category != "video" {
		t.Errorf("kind filter = %+v", spends)
	}

	seq := l.List(ctx, "acct-1", tokenledger.ListOpts{PageSize: 3})
	count := func() (n int) {
		for range seq {
			n++
		}
		return n
	}
	if a, b := count(), count(); a != 4 || b != 4 {
		t.Errorf("restart counts %d, %d", a, b)
	}
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	l, clock := newTestLedger(t)

	earn(t, l, "acct-1", 10, "e1")
	clock.Advance(-time.Hour) // wall clock stepped back
	earn(t, l, "acct-1", 10, "e2")

	var ts []time.Time
	for tx, err := range l.List(context.Background(), "acct-1", tokenledger.ListOpts{}) {
		if err != nil {
			t.Fatal(err)
		}
		ts = append(ts, tx.Timestamp)
	}
	if ts[0].Before(ts[1]) {
		t.Errorf("newer entry has older timestamp: %v < %v", ts[0], ts[1])
	}
}

func TestGetTransaction(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	tx, err := l.Append(ctx, tokenledger.AppendRequest{
		AccountID: "acct-1", Amount: 5, Kind: tokenledger.Earned, IdempotencyKey: "k",
	})
	if err != nil {
		t.Fatal(err)
	}
	if tx.Category != transaction.CategoryGeneral {
		t.Errorf("earned category = %q, want general", tx.Category)
	}

	got, err := l.GetTransaction(ctx, "acct-1", tx.ID.String())
	if err != nil || got.ID != tx.ID {
		t.Fatalf("GetTransaction: %v", err)
	}
	if _, err := l.GetTransaction(ctx, "acct-2", tx.ID.String()); !tokenledger.IsNotFound(err) {
		t.Errorf("other account lookup: err = %v", err)
	}
}

func TestReconcile(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Reconcile(ctx, "nobody"); !errors.Is(err, tokenledger.ErrAccountNotFound) {
		t.Errorf("empty account: err = %v", err)
	}

	earn(t, l, "acct-1", 100, "e1")
	_ = spend(l, "acct-1", 30, "s1", "chat")
	earn(t, l, "acct-1", 20, "e2")

	report, err := l.Reconcile(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if b := report.Balance; b.Available != 90 || b.Total != 120 || b.Spent != 30 || b.SequenceNo != 3 {
		t.Errorf("reconciled = %+v", b)
	}
	if report.CacheRepaired {
		t.Error("consistent cache reported as repaired")
	}
}
