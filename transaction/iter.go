package transaction

import (
	"context"
	"iter"
)

// DefaultPageSize is used by Iterate when opts.Limit is not set.
const DefaultPageSize = 200

// Lister is the subset of Store needed to page through an account's history.
type Lister interface {
	ListTransactions(ctx context.Context, accountID string, opts ListOpts) ([]*Transaction, error)
}

// Iterate returns a lazy, newest-first sequence over an account's ledger.
// Pages are fetched on demand using a sequence cursor, so ranging over a long
// history never holds more than one page. Each range starts from the head, so
// the sequence can be consumed again to restart an export. A store error is
// yielded once and ends the sequence.
func Iterate(ctx context.Context, l Lister, accountID string, opts ListOpts) iter.Seq2[*Transaction, error] {
	pageSize := opts.Limit
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return func(yield func(*Transaction, error) bool) {
		page := opts
		page.Limit = pageSize
		page.BeforeSeq = opts.BeforeSeq

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			txs, err := l.ListTransactions(ctx, accountID, page)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, tx := range txs {
				if !yield(tx, nil) {
					return
				}
			}

			if len(txs) < pageSize {
				return
			}
			page.BeforeSeq = txs[len(txs)-1].SequenceNo
		}
	}
}
