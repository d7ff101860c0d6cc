package transaction

import (
	"context"
	"errors"
	"testing"
)

type fakeLister struct {
	rows  []*Transaction // newest first
	calls int
	err   error
}

func (f *fakeLister) ListTransactions(_ context.Context, _ string, opts ListOpts) ([]*Transaction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []*Transaction
	for _, r := range f.rows {
		if opts.BeforeSeq > 0 && r.SequenceNo >= opts.BeforeSeq {
			continue
		}
		if opts.Kind != "" && r.Kind != opts.Kind {
			continue
		}
		out = append(out, r)
		if len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func rows(n int) []*Transaction {
	out := make([]*Transaction, n)
	for i := range n {
		out[i] = &Transaction{SequenceNo: int64(n - i), Kind: KindEarned, Amount: 1}
	}
	return out
}

func TestIteratePagesLazily(t *testing.T) {
	l := &fakeLister{rows: rows(7)}
	seq := Iterate(context.Background(), l, "acct-1", ListOpts{Limit: 3})

	var got []int64
	for tx, err := range seq {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, tx.SequenceNo)
	}
	if len(got) != 7 || got[0] != 7 || got[6] != 1 {
		t.Errorf("sequence = %v", got)
	}
	if l.calls != 3 {
		t.Errorf("calls = %d, want 3", l.calls)
	}
}

func TestIterateStopsEarly(t *testing.T) {
	l := &fakeLister{rows: rows(10)}
	for tx := range Iterate(context.Background(), l, "acct-1", ListOpts{Limit: 2}) {
		if tx.SequenceNo == 9 {
			break
		}
	}
	if l.calls != 1 {
		t.Errorf("calls = %d, want 1", l.calls)
	}
}

func TestIterateIsRestartable(t *testing.T) {
	l := &fakeLister{rows: rows(4)}
	seq := Iterate(context.Background(), l, "acct-1", ListOpts{Limit: 3})

	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	if a, b := count(), count(); a != 4 || b != 4 {
		t.Errorf("first=%d second=%d, want 4 each", a, b)
	}
}

func TestIterateYieldsError(t *testing.T) {
	boom := errors.New("boom")
	l := &fakeLister{err: boom}
	n := 0
	for _, err := range Iterate(context.Background(), l, "acct-1", ListOpts{}) {
		n++
		if !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
	}
	if n != 1 {
		t.Errorf("yielded %d times, want 1", n)
	}
}

func TestIterateHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, err := range Iterate(ctx, &fakeLister{rows: rows(2)}, "acct-1", ListOpts{}) {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	}
}
