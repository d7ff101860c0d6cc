// Package balance derives account balances from the transaction ledger and
// caches the latest derived value per account.
package balance

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/xraph/tokenledger/transaction"
)

// ErrOverdraw is returned by Apply when a spend exceeds the available balance.
var ErrOverdraw = errors.New("balance: spend exceeds available tokens")

// ErrOverflow is returned by Apply when an earn would push the total past
// the largest representable token count.
var ErrOverflow = errors.New("balance: total token count overflows")

// Snapshot is the balance of an account as of a ledger sequence number.
// Snapshots are values: every change produces a new one.
type Snapshot struct {
	AccountID  string    `json:"account_id"`
	SequenceNo int64     `json:"sequence_no"`
	Available  int64     `json:"available"`
	Total      int64     `json:"total"`
	Spent      int64     `json:"spent"`
	AsOf       time.Time `json:"as_of"`
}

// Zero is the snapshot of an account with no ledger entries.
func Zero(accountID string) Snapshot {
	return Snapshot{AccountID: accountID}
}

// Of reads the snapshot carried by a committed transaction.
func Of(tx *transaction.Transaction) Snapshot {
	return Snapshot{
		AccountID:  tx.AccountID,
		SequenceNo: tx.SequenceNo,
		Available:  tx.ResultingAvailable,
		Total:      tx.ResultingTotal,
		Spent:      tx.ResultingSpent,
		AsOf:       tx.Timestamp,
	}
}

// Apply returns the snapshot after one more entry of the given kind.
func (s Snapshot) Apply(kind transaction.Kind, amount int64, at time.Time) (Snapshot, error) {
	next := s
	next.SequenceNo++
	next.AsOf = at
	switch kind {
	case transaction.KindEarned:
		if amount > math.MaxInt64-s.Total {
			return s, fmt.Errorf("%w: total %d, earned %d", ErrOverflow, s.Total, amount)
		}
		next.Available += amount
		next.Total += amount
	case transaction.KindSpent:
		if amount > s.Available {
			return s, fmt.Errorf("%w: available %d, requested %d", ErrOverdraw, s.Available, amount)
		}
		next.Available -= amount
		next.Spent += amount
	default:
		return s, fmt.Errorf("balance: unknown kind %q", kind)
	}
	return next, nil
}

// Valid reports whether the snapshot satisfies available == total - spent
// with nothing negative.
func (s Snapshot) Valid() bool {
	return s.Available == s.Total-s.Spent && s.Available >= 0 && s.Spent >= 0
}

// Fold recomputes the balance from a newest-first ledger sequence and checks
// each row's recorded balance against the row after it, then checks that the
// oldest row starts from zero. Memory use does not grow with history. The
// returned snapshot is the recomputed balance; a row that disagrees yields a
// *DriftError alongside it.
func Fold(accountID string, txs iter.Seq2[*transaction.Transaction, error]) (Snapshot, error) {
	var (
		earned, spent int64
		head          *transaction.Transaction
		before        Snapshot // expected balance before the previous (newer) row
		drift         *DriftError
	)

	for tx, err := range txs {
		if err != nil {
			return Zero(accountID), err
		}

		switch tx.Kind {
		case transaction.KindEarned:
			earned += tx.Amount
		case transaction.KindSpent:
			spent += tx.Amount
		}

		recorded := Of(tx)
		if head == nil {
			head = tx
		} else if drift == nil && !sameBalance(recorded, before) {
			drift = &DriftError{AccountID: accountID, SequenceNo: tx.SequenceNo, Recorded: recorded, Expected: before}
		}
		if drift == nil && !recorded.Valid() {
			drift = &DriftError{AccountID: accountID, SequenceNo: tx.SequenceNo, Recorded: recorded, Expected: before}
		}
		before = unapply(recorded, tx)
	}

	if head == nil {
		return Zero(accountID), nil
	}

	folded := Snapshot{
		AccountID:  accountID,
		SequenceNo: head.SequenceNo,
		Available:  earned - spent,
		Total:      earned,
		Spent:      spent,
		AsOf:       head.Timestamp,
	}

	if drift != nil {
		return folded, drift
	}
	if !sameBalance(before, Snapshot{}) {
		return folded, &DriftError{AccountID: accountID, SequenceNo: 0, Recorded: before}
	}
	if !sameBalance(folded, Of(head)) {
		return folded, &DriftError{AccountID: accountID, SequenceNo: head.SequenceNo, Recorded: Of(head), Expected: folded}
	}

	return folded, nil
}

// unapply returns the balance that preceded tx.
func unapply(s Snapshot, tx *transaction.Transaction) Snapshot {
	switch tx.Kind {
	case transaction.KindEarned:
		s.Available -= tx.Amount
		s.Total -= tx.Amount
	case transaction.KindSpent:
		s.Available += tx.Amount
		s.Spent -= tx.Amount
	}
	return s
}

func sameBalance(a, b Snapshot) bool {
	return a.Available == b.Available && a.Total == b.Total && a.Spent == b.Spent
}

// DriftError reports a ledger row whose recorded balance does not match the
// fold of the rows before it.
type DriftError struct {
	AccountID  string
	SequenceNo int64
	Recorded   Snapshot
	Expected   Snapshot
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("balance: drift for %s at sequence %d: recorded {%d,%d,%d}, expected {%d,%d,%d}",
		e.AccountID, e.SequenceNo,
		e.Recorded.Available, e.Recorded.Total, e.Recorded.Spent,
		e.Expected.Available, e.Expected.Total, e.Expected.Spent)
}
