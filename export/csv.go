// Package export writes and reads the CSV form of an account's ledger.
//
// The file has a header row followed by one row per entry, newest first:
//
//	date,type,amount,accountId,resultingBalance
//	2025-06-01T10:00:00Z,spent,30,acct-1,70
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"time"

	"github.com/xraph/tokenledger/transaction"
)

// Header is the fixed column list.
var Header = []string{"date", "type", "amount", "accountId", "resultingBalance"}

// ErrBadHeader is returned by ReadCSV when the first row is not Header.
var ErrBadHeader = errors.New("export: unexpected csv header")

// Row is one exported ledger entry.
type Row struct {
	Date             time.Time
	Type             transaction.Kind
	Amount           int64
	AccountID        string
	ResultingBalance int64
}

// RowOf converts a ledger entry; ResultingBalance is the available balance
// after the entry.
func RowOf(tx *transaction.Transaction) Row {
	return Row{
		Date:             tx.Timestamp.UTC(),
		Type:             tx.Kind,
		Amount:           tx.Amount,
		AccountID:        tx.AccountID,
		ResultingBalance: tx.ResultingAvailable,
	}
}

func (r Row) record() []string {
	return []string{
		r.Date.UTC().Format(time.RFC3339Nano),
		string(r.Type),
		strconv.FormatInt(r.Amount, 10),
		r.AccountID,
		strconv.FormatInt(r.ResultingBalance, 10),
	}
}

// WriteCSV writes the header and one row per entry in iteration order and
// returns the number of rows written. The sequence is consumed lazily, so an
// error part way through leaves the rows already flushed in w.
func WriteCSV(w io.Writer, txs iter.Seq2[*transaction.Transaction, error]) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, err
	}

	n := 0
	for tx, err := range txs {
		if err != nil {
			cw.Flush()
			return n, fmt.Errorf("export: read ledger: %w", err)
		}
		if err := cw.Write(RowOf(tx).record()); err != nil {
			return n, err
		}
		n++
	}

	cw.Flush()
	return n, cw.Error()
}

// ReadCSV parses a file produced by WriteCSV.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("export: read header: %w", err)
	}
	for i, col := range Header {
		if head[i] != col {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, i+1, head[i], col)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("export: line %d: %w", line, err)
		}
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("export: line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
}

func parseRow(rec []string) (Row, error) {
	date, err := time.Parse(time.RFC3339Nano, rec[0])
	if err != nil {
		return Row{}, fmt.Errorf("date: %w", err)
	}
	kind := transaction.Kind(rec[1])
	if !kind.Valid() {
		return Row{}, fmt.Errorf("type: unknown kind %q", rec[1])
	}
	amount, err := strconv.ParseInt(rec[2], 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("amount: %w", err)
	}
	bal, err := strconv.ParseInt(rec[4], 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("resultingBalance: %w", err)
	}
	return Row{
		Date:             date.UTC(),
		Type:             kind,
		Amount:           amount,
		AccountID:        rec[3],
		ResultingBalance: bal,
	}, nil
}
