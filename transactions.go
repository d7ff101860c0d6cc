package tokenledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xraph/tokenledger/account"
	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/transaction"
)

// MaxIdempotencyKeyLen bounds caller supplied idempotency keys.
const MaxIdempotencyKeyLen = 128

// CreditKeyPrefix starts the idempotency keys of invoice credits. Callers
// may not use it for their own entries.
const CreditKeyPrefix = "invoice:"

func creditKey(invoiceID id.InvoiceID) string {
	return CreditKeyPrefix + invoiceID.String()
}

// AppendRequest describes one earn or spend event.
type AppendRequest struct {
	AccountID      string
	Amount         int64
	Kind           transaction.Kind
	IdempotencyKey string
	Category       string
	Description    string
	InvoiceID      id.InvoiceID
}

func (r AppendRequest) validate() error {
	if err := validateAccountID(r.AccountID); err != nil {
		return err
	}
	if r.Amount <= 0 {
		return ValidationError{Field: "amount", Message: "must be positive"}
	}
	if !r.Kind.Valid() {
		return ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	if r.IdempotencyKey == "" {
		return ValidationError{Field: "idempotency_key", Message: "required"}
	}
	if len(r.IdempotencyKey) > MaxIdempotencyKeyLen {
		return ValidationError{Field: "idempotency_key", Message: fmt.Sprintf("longer than %d bytes", MaxIdempotencyKeyLen)}
	}
	if strings.HasPrefix(r.IdempotencyKey, CreditKeyPrefix) {
		return ValidationError{Field: "idempotency_key", Message: fmt.Sprintf("prefix %q is reserved", CreditKeyPrefix)}
	}
	return nil
}

func validateAccountID(accountID string) error {
	if err := account.ValidateID(accountID); err != nil {
		return ValidationError{Field: "account_id", Message: err.Error()}
	}
	return nil
}

// Append commits one ledger entry. Appends for the same account are applied
// one at a time in arrival order; a spend that would take the available
// balance below zero fails with ErrInsufficientBalance and writes nothing.
// Repeating an idempotency key returns the originally committed entry with
// Replayed set.
func (l *Ledger) Append(ctx context.Context, req AppendRequest) (*transaction.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(req.AccountID)
	defer unlock()

	return l.appendLocked(ctx, req)
}

// appendLocked is Append for callers already holding the account lock.
func (l *Ledger) appendLocked(ctx context.Context, req AppendRequest) (*transaction.Transaction, error) {
	if req.Kind == transaction.KindEarned && req.Category == "" {
		req.Category = transaction.CategoryGeneral
	}

	attempt := func() (*transaction.Transaction, error) {
		prior, err := l.store.GetTransactionByKey(ctx, req.AccountID, req.IdempotencyKey)
		switch {
		case err == nil:
			prior.Replayed = true
			return prior, nil
		case !IsNotFound(err):
			return nil, backoff.Permanent(err)
		}

		head, prevTS, err := l.head(ctx, req.AccountID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		// Never let time run backwards within an account's ledger.
		ts := l.now()
		if ts.Before(prevTS) {
			ts = prevTS
		}

		next, err := head.Apply(req.Kind, req.Amount, ts)
		if errors.Is(err, balance.ErrOverdraw) {
			l.plugins.EmitSpendRejected(ctx, req.AccountID, req.Amount, head.Available)
			return nil, backoff.Permanent(fmt.Errorf("%w: available %d, requested %d",
				ErrInsufficientBalance, head.Available, req.Amount))
		}
		if errors.Is(err, balance.ErrOverflow) {
			return nil, backoff.Permanent(ValidationError{
				Field:   "amount",
				Message: fmt.Sprintf("total would exceed %d tokens", int64(math.MaxInt64)),
			})
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		tx := &transaction.Transaction{
			ID:                 id.NewTransactionID(),
			AccountID:          req.AccountID,
			SequenceNo:         next.SequenceNo,
			Timestamp:          ts,
			Amount:             req.Amount,
			Kind:               req.Kind,
			Category:           req.Category,
			Description:        req.Description,
			IdempotencyKey:     req.IdempotencyKey,
			InvoiceID:          req.InvoiceID,
			ResultingAvailable: next.Available,
			ResultingTotal:     next.Total,
			ResultingSpent:     next.Spent,
		}

		err = l.store.AppendTransaction(ctx, tx)
		switch {
		case err == nil:
			return tx, nil
		case errors.Is(err, ErrConcurrencyConflict), errors.Is(err, ErrDuplicateTransaction):
			// Another process won the race; the next attempt re-reads the
			// head or finds the committed duplicate.
			l.logger.Debug("append lost race, retrying",
				"account_id", req.AccountID,
				"sequence_no", tx.SequenceNo,
				"error", err,
			)
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	tx, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(l.appendAttempts),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		if errors.Is(err, ErrDuplicateTransaction) {
			err = fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
		}
		return nil, err
	}

	if tx.Replayed {
		return tx, nil
	}

	l.publish(ctx, balance.Of(tx))
	l.plugins.EmitTransactionAppended(ctx, tx)
	l.logger.Debug("transaction appended",
		"account_id", tx.AccountID,
		"sequence_no", tx.SequenceNo,
		"kind", tx.Kind,
		"amount", tx.Amount,
		"available", tx.ResultingAvailable,
	)

	return tx, nil
}

// head returns the committed balance of an account and the timestamp of its
// newest entry. It always reads the store, never the cache.
func (l *Ledger) head(ctx context.Context, accountID string) (balance.Snapshot, time.Time, error) {
	last, err := l.store.LatestTransaction(ctx, accountID)
	if err != nil {
		if IsNotFound(err) {
			return balance.Zero(accountID), time.Time{}, nil
		}
		return balance.Snapshot{}, time.Time{}, err
	}
	return balance.Of(last), last.Timestamp, nil
}

// ListOpts filters List.
type ListOpts struct {
	// Since keeps entries at or after this instant. Zero keeps everything.
	Since time.Time
	// Kind keeps only earned or spent entries when set.
	Kind transaction.Kind
	// PageSize is the store page size used while iterating.
	PageSize int
}

// List returns an account's ledger newest first. The sequence is lazy: pages
// are fetched from the store as the caller ranges, and ranging again restarts
// from the newest entry.
func (l *Ledger) List(ctx context.Context, accountID string, opts ListOpts) iter.Seq2[*transaction.Transaction, error] {
	if err := validateAccountID(accountID); err != nil {
		return func(yield func(*transaction.Transaction, error) bool) { yield(nil, err) }
	}
	if opts.Kind != "" && !opts.Kind.Valid() {
		err := ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", opts.Kind)}
		return func(yield func(*transaction.Transaction, error) bool) { yield(nil, err) }
	}
	return transaction.Iterate(ctx, l.store, accountID, transaction.ListOpts{
		Since: opts.Since,
		Kind:  opts.Kind,
		Limit: opts.PageSize,
	})
}

// GetTransaction returns one committed entry of an account.
func (l *Ledger) GetTransaction(ctx context.Context, accountID, txID string) (*transaction.Transaction, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	if _, err := id.ParseTransactionID(txID); err != nil {
		return nil, ValidationError{Field: "transaction_id", Message: err.Error()}
	}
	return l.store.GetTransaction(ctx, accountID, txID)
}

// ReconcileReport is the result of Reconcile.
type ReconcileReport struct {
	// Balance is recomputed from every ledger entry.
	Balance balance.Snapshot `json:"balance"`
	// Cached is the snapshot the read path held before reconciling, if any.
	Cached *balance.Snapshot `json:"cached,omitempty"`
	// CacheRepaired is set when the cached snapshot disagreed and was replaced.
	CacheRepaired bool `json:"cache_repaired"`
}

// Reconcile folds an account's full ledger, verifies every entry's recorded
// balance, and repairs the balance cache if it disagrees. A ledger whose rows
// do not fold consistently returns ErrLedgerDrift wrapping a
// *balance.DriftError.
func (l *Ledger) Reconcile(ctx context.Context, accountID string) (*ReconcileReport, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	folded, err := balance.Fold(accountID, l.List(ctx, accountID, ListOpts{}))
	report := &ReconcileReport{Balance: folded}

	var drift *balance.DriftError
	if errors.As(err, &drift) {
		l.plugins.EmitLedgerDrift(ctx, accountID, drift)
		l.logger.Error("ledger drift detected",
			"account_id", accountID,
			"sequence_no", drift.SequenceNo,
		)
		return report, fmt.Errorf("%w: %w", ErrLedgerDrift, drift)
	}
	if err != nil {
		return nil, err
	}
	if folded.SequenceNo == 0 {
		return report, fmt.Errorf("%w: %s has no ledger entries", ErrAccountNotFound, accountID)
	}

	cached, ok, err := l.cache.Get(ctx, accountID)
	if err != nil {
		l.logger.Warn("balance cache read failed", "account_id", accountID, "error", err)
	}
	if ok {
		c := cached
		report.Cached = &c
		if c.SequenceNo != folded.SequenceNo || c.Available != folded.Available ||
			c.Total != folded.Total || c.Spent != folded.Spent {
			if err := l.cache.Invalidate(ctx, accountID); err != nil {
				l.logger.Warn("balance cache invalidate failed", "account_id", accountID, "error", err)
			}
			report.CacheRepaired = true
		}
	}
	l.publish(ctx, folded)

	return report, nil
}
