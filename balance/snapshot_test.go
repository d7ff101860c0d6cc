package balance

import (
	"errors"
	"iter"
	"math"
	"testing"
	"time"

	"github.com/xraph/tokenledger/transaction"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestApplyScenario(t *testing.T) {
	s := Zero("acct-1")

	steps := []struct {
		kind                   transaction.Kind
		amount                 int64
		available, total, sent int64
	}{
		{transaction.KindEarned, 100, 100, 100, 0},
		{transaction.KindSpent, 30, 70, 100, 30},
		{transaction.KindEarned, 20, 90, 120, 30},
	}

	for i, st := range steps {
		var err error
		s, err = s.Apply(st.kind, st.amount, t0)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if s.Available != st.available || s.Total != st.total || s.Spent != st.sent {
			t.Fatalf("step %d: got {%d,%d,%d}, want {%d,%d,%d}", i,
				s.Available, s.Total, s.Spent, st.available, st.total, st.sent)
		}
		if !s.Valid() {
			t.Fatalf("step %d: invariant broken: %+v", i, s)
		}
		if s.SequenceNo != int64(i+1) {
			t.Errorf("step %d: sequence = %d", i, s.SequenceNo)
		}
	}

	rejected, err := s.Apply(transaction.KindSpent, 95, t0)
	if !errors.Is(err, ErrOverdraw) {
		t.Fatalf("spend 95 of 90: err = %v", err)
	}
	if rejected != s {
		t.Error("rejected spend must return the unchanged snapshot")
	}
}

func TestApplyRejectsOverflow(t *testing.T) {
	s, err := Zero("acct-1").Apply(transaction.KindEarned, math.MaxInt64, t0)
	if err != nil {
		t.Fatalf("first earn: %v", err)
	}

	rejected, err := s.Apply(transaction.KindEarned, 1, t0)
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}
	if rejected != s {
		t.Error("rejected earn must return the unchanged snapshot")
	}

	// Spending frees available tokens but never lowers the total.
	s, err = s.Apply(transaction.KindSpent, 10, t0)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if _, err := s.Apply(transaction.KindEarned, 1, t0); !errors.Is(err, ErrOverflow) {
		t.Fatalf("earn after spend: err = %v, want ErrOverflow", err)
	}
	if !s.Valid() {
		t.Fatalf("invariant broken: %+v", s)
	}
}

// ledger builds committed rows oldest first and returns them newest first.
func ledger(t *testing.T, entries ...transaction.Transaction) []*transaction.Transaction {
	t.Helper()
	s := Zero("acct-1")
	out := make([]*transaction.Transaction, len(entries))
	for i := range entries {
		e := entries[i]
		next, err := s.Apply(e.Kind, e.Amount, t0.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("entry %d: %v", i, err)
		}
		s = next
		e.AccountID = "acct-1"
		e.SequenceNo = s.SequenceNo
		e.Timestamp = s.AsOf
		e.ResultingAvailable, e.ResultingTotal, e.ResultingSpent = s.Available, s.Total, s.Spent
		out[len(entries)-1-i] = &e
	}
	return out
}

func seq(rows []*transaction.Transaction) iter.Seq2[*transaction.Transaction, error] {
	return func(yield func(*transaction.Transaction, error) bool) {
		for _, r := range rows {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func TestFold(t *testing.T) {
	rows := ledger(t,
		transaction.Transaction{Kind: transaction.KindEarned, Amount: 100},
		transaction.Transaction{Kind: transaction.KindSpent, Amount: 30},
		transaction.Transaction{Kind: transaction.KindEarned, Amount: 20},
	)

	got, err := Fold("acct-1", seq(rows))
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	want := Snapshot{AccountID: "acct-1", SequenceNo: 3, Available: 90, Total: 120, Spent: 30, AsOf: rows[0].Timestamp}
	if got != want {
		t.Errorf("Fold = %+v, want %+v", got, want)
	}
}

func TestFoldEmpty(t *testing.T) {
	got, err := Fold("acct-1", seq(nil))
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if got != Zero("acct-1") {
		t.Errorf("Fold(empty) = %+v", got)
	}
}

func TestFoldDetectsDrift(t *testing.T) {
	rows := ledger(t,
		transaction.Transaction{Kind: transaction.KindEarned, Amount: 100},
		transaction.Transaction{Kind: transaction.KindSpent, Amount: 30},
		transaction.Transaction{Kind: transaction.KindEarned, Amount: 20},
	)
	rows[1].ResultingAvailable = 75 // corrupt the middle row

	got, err := Fold("acct-1", seq(rows))
	var drift *DriftError
	if !errors.As(err, &drift) {
		t.Fatalf("expected DriftError, got %v", err)
	}
	if drift.SequenceNo != 2 {
		t.Errorf("drift at sequence %d, want 2", drift.SequenceNo)
	}
	if got.Available != 90 {
		t.Errorf("recomputed available = %d, want 90", got.Available)
	}
}

func TestFoldPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	failing := func(yield func(*transaction.Transaction, error) bool) {
		yield(nil, boom)
	}
	if _, err := Fold("acct-1", failing); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
