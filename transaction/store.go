package transaction

import (
	"context"
	"time"
)

// Store is the persistence contract for the ledger.
//
// AppendTransaction must insert atomically and reject an entry whose
// (account, sequence) pair is taken or whose (account, idempotency key) pair
// was already committed. Implementations report those cases with
// tokenledger.ErrConcurrencyConflict and tokenledger.ErrDuplicateTransaction.
type Store interface {
	AppendTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, accountID, txID string) (*Transaction, error)
	GetTransactionByKey(ctx context.Context, accountID, idempotencyKey string) (*Transaction, error)
	LatestTransaction(ctx context.Context, accountID string) (*Transaction, error)
	ListTransactions(ctx context.Context, accountID string, opts ListOpts) ([]*Transaction, error)
}

// ListOpts filters a page of transactions. Pages are returned newest first.
type ListOpts struct {
	// Since keeps entries with Timestamp >= Since. Zero means no lower bound.
	Since time.Time
	// Kind keeps only entries of this kind when set.
	Kind Kind
	// BeforeSeq keeps entries with SequenceNo < BeforeSeq. Zero means the head.
	BeforeSeq int64
	Limit     int
}
