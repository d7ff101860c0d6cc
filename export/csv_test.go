package export_test

import (
	"bytes"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/xraph/tokenledger/export"
	"github.com/xraph/tokenledger/transaction"
)

func seq(txs []*transaction.Transaction, tail error) iter.Seq2[*transaction.Transaction, error] {
	return func(yield func(*transaction.Transaction, error) bool) {
		for _, tx := range txs {
			if !yield(tx, nil) {
				return
			}
		}
		if tail != nil {
			yield(nil, tail)
		}
	}
}

func ledgerDesc() []*transaction.Transaction {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return []*transaction.Transaction{
		{AccountID: "acct-1", SequenceNo: 3, Timestamp: t0.Add(2 * time.Hour), Kind: transaction.KindEarned, Amount: 20, ResultingAvailable: 90},
		{AccountID: "acct-1", SequenceNo: 2, Timestamp: t0.Add(time.Hour), Kind: transaction.KindSpent, Amount: 30, ResultingAvailable: 70},
		{AccountID: "acct-1", SequenceNo: 1, Timestamp: t0, Kind: transaction.KindEarned, Amount: 100, ResultingAvailable: 100},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	n, err := export.WriteCSV(&buf, seq(ledgerDesc(), nil))
	if err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if n != 3 {
		t.Errorf("rows = %d, want 3", n)
	}

	want := strings.Join([]string{
		"date,type,amount,accountId,resultingBalance",
		"2025-06-01T12:00:00Z,earned,20,acct-1,90",
		"2025-06-01T11:00:00Z,spent,30,acct-1,70",
		"2025-06-01T10:00:00Z,earned,100,acct-1,100",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("csv mismatch\ngot:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestRoundTrip(t *testing.T) {
	txs := ledgerDesc()
	var buf bytes.Buffer
	if _, err := export.WriteCSV(&buf, seq(txs, nil)); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	rows, err := export.ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != len(txs) {
		t.Fatalf("rows = %d, want %d", len(rows), len(txs))
	}
	for i, tx := range txs {
		want := export.RowOf(tx)
		got := rows[i]
		if !got.Date.Equal(want.Date) {
			t.Errorf("row %d date = %v, want %v", i, got.Date, want.Date)
		}
		got.Date, want.Date = time.Time{}, time.Time{}
		if got != want {
			t.Errorf("row %d = %+v, want %+v", i, got, want)
		}
	}
}

func TestWriteCSVEmptyLedger(t *testing.T) {
	var buf bytes.Buffer
	n, err := export.WriteCSV(&buf, seq(nil, nil))
	if err != nil || n != 0 {
		t.Fatalf("WriteCSV: n=%d err=%v", n, err)
	}
	if buf.String() != "date,type,amount,accountId,resultingBalance\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestWriteCSVStopsOnError(t *testing.T) {
	boom := errors.New("store down")
	var buf bytes.Buffer
	n, err := export.WriteCSV(&buf, seq(ledgerDesc()[:1], boom))
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if n != 1 {
		t.Errorf("rows before failure = %d, want 1", n)
	}
}

func TestReadCSVRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad header", "when,type,amount,accountId,resultingBalance\n"},
		{"bad kind", "date,type,amount,accountId,resultingBalance\n2025-06-01T10:00:00Z,refund,1,a,1\n"},
		{"bad amount", "date,type,amount,accountId,resultingBalance\n2025-06-01T10:00:00Z,spent,x,a,1\n"},
		{"short row", "date,type,amount,accountId,resultingBalance\n2025-06-01T10:00:00Z,spent,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := export.ReadCSV(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
