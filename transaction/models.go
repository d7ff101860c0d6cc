// Package transaction defines the immutable entries of the per-account token
// ledger and the read/write contract a backing store must honor for them.
package transaction

import (
	"time"

	"github.com/xraph/tokenledger/id"
)

// Kind is the direction of a ledger entry.
type Kind string

const (
	KindEarned Kind = "earned"
	KindSpent  Kind = "spent"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindEarned || k == KindSpent }

// CategoryGeneral tags entries that were not attributed to a usage category.
const CategoryGeneral = "general"

// Transaction is one committed earn or spend event. Once appended it is never
// updated or deleted. The Resulting* fields hold the balance fold including
// this entry, so the newest row of an account is its balance snapshot.
type Transaction struct {
	ID                 id.TransactionID `json:"id"`
	AccountID          string           `json:"account_id"`
	SequenceNo         int64            `json:"sequence_no"`
	Timestamp          time.Time        `json:"timestamp"`
	Amount             int64            `json:"amount"`
	Kind               Kind             `json:"kind"`
	Category           string           `json:"category"`
	Description        string           `json:"description,omitempty"`
	IdempotencyKey     string           `json:"idempotency_key"`
	InvoiceID          id.InvoiceID     `json:"invoice_id"`
	ResultingAvailable int64            `json:"resulting_available"`
	ResultingTotal     int64            `json:"resulting_total"`
	ResultingSpent     int64            `json:"resulting_spent"`

	// Replayed is set on the returned record when an append matched an
	// already committed idempotency key. It is never persisted.
	Replayed bool `json:"replayed,omitempty"`
}

// Signed returns the amount as it affects the available balance.
func (t *Transaction) Signed() int64 {
	if t.Kind == KindSpent {
		return -t.Amount
	}
	return t.Amount
}
