package tokenledger

import (
	"context"

	"github.com/xraph/tokenledger/balance"
)

// GetBalance returns the account's balance as of its latest committed entry.
// Reads are served from the snapshot cache and never wait on writers; on a
// miss the snapshot is taken from the newest ledger row and published. An
// account with no entries has a zero balance.
func (l *Ledger) GetBalance(ctx context.Context, accountID string) (balance.Snapshot, error) {
	if err := validateAccountID(accountID); err != nil {
		return balance.Snapshot{}, err
	}

	snap, ok, err := l.cache.Get(ctx, accountID)
	if err != nil {
		l.logger.Warn("balance cache read failed, falling back to store",
			"account_id", accountID,
			"error", err,
		)
	}
	if ok {
		return snap, nil
	}

	snap, _, err = l.head(ctx, accountID)
	if err != nil {
		return balance.Snapshot{}, err
	}
	if snap.SequenceNo > 0 {
		l.publish(ctx, snap)
	}
	return snap, nil
}

// publish offers a snapshot to the cache. Failures only cost a cache miss.
func (l *Ledger) publish(ctx context.Context, snap balance.Snapshot) {
	if err := l.cache.Publish(ctx, snap); err != nil {
		l.logger.Warn("balance cache publish failed",
			"account_id", snap.AccountID,
			"sequence_no", snap.SequenceNo,
			"error", err,
		)
	}
}
