// Package memory provides an in-process Store for tests and the dev server.
// Every read returns a copy so callers can never mutate stored records.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

var _ store.Store = (*Store)(nil)

type accountLedger struct {
	txs   []*transaction.Transaction // ascending by sequence, txs[i].SequenceNo == i+1
	byKey map[string]*transaction.Transaction
	byID  map[string]*transaction.Transaction
}

type Store struct {
	mu sync.RWMutex

	ledgers       map[string]*accountLedger
	plans         map[string]*plan.Plan
	bundles       map[string]*plan.Bundle
	subscriptions map[string]*subscription.Subscription // by account
	invoices      map[string]*invoice.Invoice
	correlations  map[string]string // account + correlation -> invoice id
	closed        bool
}

func New() *Store {
	return &Store{
		ledgers:       make(map[string]*accountLedger),
		plans:         make(map[string]*plan.Plan),
		bundles:       make(map[string]*plan.Bundle),
		subscriptions: make(map[string]*subscription.Subscription),
		invoices:      make(map[string]*invoice.Invoice),
		correlations:  make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

func (s *Store) AppendTransaction(_ context.Context, tx *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.ledgers[tx.AccountID]
	if !ok {
		l = &accountLedger{
			byKey: make(map[string]*transaction.Transaction),
			byID:  make(map[string]*transaction.Transaction),
		}
		s.ledgers[tx.AccountID] = l
	}

	if _, dup := l.byKey[tx.IdempotencyKey]; dup {
		return tokenledger.ErrDuplicateTransaction
	}
	if tx.SequenceNo != int64(len(l.txs))+1 {
		return fmt.Errorf("%w: sequence %d, head %d", tokenledger.ErrConcurrencyConflict, tx.SequenceNo, len(l.txs))
	}

	c := *tx
	c.Replayed = false
	l.txs = append(l.txs, &c)
	l.byKey[c.IdempotencyKey] = &c
	l.byID[c.ID.String()] = &c
	return nil
}

func (s *Store) GetTransaction(_ context.Context, accountID, txID string) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if l, ok := s.ledgers[accountID]; ok {
		if tx, ok := l.byID[txID]; ok {
			c := *tx
			return &c, nil
		}
	}
	return nil, tokenledger.ErrTransactionNotFound
}

func (s *Store) GetTransactionByKey(_ context.Context, accountID, key string) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if l, ok := s.ledgers[accountID]; ok {
		if tx, ok := l.byKey[key]; ok {
			c := *tx
			return &c, nil
		}
	}
	return nil, tokenledger.ErrTransactionNotFound
}

func (s *Store) LatestTransaction(_ context.Context, accountID string) (*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ledgers[accountID]
	if !ok || len(l.txs) == 0 {
		return nil, tokenledger.ErrTransactionNotFound
	}
	c := *l.txs[len(l.txs)-1]
	return &c, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ledgers[accountID]
	if !ok {
		return []*transaction.Transaction{}, nil
	}

	start := len(l.txs) - 1
	if opts.BeforeSeq > 0 && opts.BeforeSeq-2 < int64(start) {
		start = int(opts.BeforeSeq) - 2
	}

	result := make([]*transaction.Transaction, 0)
	for i := start; i >= 0; i-- {
		tx := l.txs[i]
		// Timestamps never decrease with sequence, so nothing older can match.
		if !opts.Since.IsZero() && tx.Timestamp.Before(opts.Since) {
			break
		}
		if opts.Kind != "" && tx.Kind != opts.Kind {
			continue
		}
		c := *tx
		result = append(result, &c)
		if opts.Limit > 0 && len(result) == opts.Limit {
			break
		}
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Catalog
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; exists {
		return fmt.Errorf("%w: plan %s exists", tokenledger.ErrConcurrencyConflict, p.ID)
	}
	c := *p
	c.Features = slices.Clone(p.Features)
	s.plans[p.ID.String()] = &c
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID]; ok {
		c := *p
		c.Features = slices.Clone(p.Features)
		return &c, nil
	}
	return nil, tokenledger.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if opts.Status == "" || p.Status == opts.Status {
			c := *p
			c.Features = slices.Clone(p.Features)
			result = append(result, &c)
		}
	}
	slices.SortFunc(result, func(a, b *plan.Plan) int {
		return cmp.Or(
			cmp.Compare(a.PriceMonthly.Amount, b.PriceMonthly.Amount),
			cmp.Compare(a.ID.String(), b.ID.String()),
		)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ArchivePlan(_ context.Context, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planID]
	if !ok {
		return tokenledger.ErrPlanNotFound
	}
	p.Status = plan.StatusArchived
	p.Touch(time.Now())
	return nil
}

func (s *Store) CreateBundle(_ context.Context, b *plan.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bundles[b.ID.String()]; exists {
		return fmt.Errorf("%w: bundle %s exists", tokenledger.ErrConcurrencyConflict, b.ID)
	}
	c := *b
	s.bundles[b.ID.String()] = &c
	return nil
}

func (s *Store) GetBundle(_ context.Context, bundleID string) (*plan.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.bundles[bundleID]; ok {
		c := *b
		return &c, nil
	}
	return nil, tokenledger.ErrBundleNotFound
}

func (s *Store) ListBundles(_ context.Context, opts plan.ListOpts) ([]*plan.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Bundle, 0, len(s.bundles))
	for _, b := range s.bundles {
		if opts.Status == "" || b.Status == opts.Status {
			c := *b
			result = append(result, &c)
		}
	}
	slices.SortFunc(result, func(a, b *plan.Bundle) int {
		return cmp.Or(
			cmp.Compare(a.TokenCount, b.TokenCount),
			cmp.Compare(a.ID.String(), b.ID.String()),
		)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	c := *sub
	if sub.RetryAt != nil {
		t := *sub.RetryAt
		c.RetryAt = &t
	}
	if sub.PendingSince != nil {
		t := *sub.PendingSince
		c.PendingSince = &t
	}
	if sub.CanceledAt != nil {
		t := *sub.CanceledAt
		c.CanceledAt = &t
	}
	return &c
}

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.AccountID]; exists {
		return fmt.Errorf("%w: account %s already subscribed", tokenledger.ErrConcurrencyConflict, sub.AccountID)
	}
	s.subscriptions[sub.AccountID] = copySubscription(sub)
	return nil
}

func (s *Store) GetSubscription(_ context.Context, accountID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[accountID]; ok {
		return copySubscription(sub), nil
	}
	return nil, tokenledger.ErrSubscriptionNotFound
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.AccountID]; !exists {
		return tokenledger.ErrSubscriptionNotFound
	}
	s.subscriptions[sub.AccountID] = copySubscription(sub)
	return nil
}

func (s *Store) ListDueSubscriptions(_ context.Context, now, pendingBefore time.Time, limit int) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		due := false
		switch sub.Status {
		case subscription.StatusActive:
			due = sub.AutoRenew && !sub.NextBillingDate.After(now)
		case subscription.StatusPastDue:
			due = sub.AutoRenew && sub.RetryAt != nil && !sub.RetryAt.After(now)
		case subscription.StatusPendingRenewal:
			due = sub.PendingSince != nil && !sub.PendingSince.After(pendingBefore)
		}
		if due {
			result = append(result, copySubscription(sub))
		}
	}
	slices.SortFunc(result, func(a, b *subscription.Subscription) int {
		return cmp.Compare(a.AccountID, b.AccountID)
	})
	return paginate(result, 0, limit), nil
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

func correlationKey(accountID, correlationID string) string {
	return accountID + "\x00" + correlationID
}

func copyInvoice(inv *invoice.Invoice) *invoice.Invoice {
	c := *inv
	c.Replayed = false
	if inv.SettledAt != nil {
		t := *inv.SettledAt
		c.SettledAt = &t
	}
	return &c
}

func (s *Store) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := correlationKey(inv.AccountID, inv.CorrelationID)
	if _, dup := s.correlations[key]; dup {
		return tokenledger.ErrDuplicateInvoice
	}
	if _, exists := s.invoices[inv.ID.String()]; exists {
		return tokenledger.ErrDuplicateInvoice
	}
	s.invoices[inv.ID.String()] = copyInvoice(inv)
	s.correlations[key] = inv.ID.String()
	return nil
}

func (s *Store) GetInvoice(_ context.Context, invoiceID string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if inv, ok := s.invoices[invoiceID]; ok {
		return copyInvoice(inv), nil
	}
	return nil, tokenledger.ErrInvoiceNotFound
}

func (s *Store) GetInvoiceByCorrelation(_ context.Context, accountID, correlationID string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if invID, ok := s.correlations[correlationKey(accountID, correlationID)]; ok {
		return copyInvoice(s.invoices[invID]), nil
	}
	return nil, tokenledger.ErrInvoiceNotFound
}

func (s *Store) ListInvoices(_ context.Context, accountID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*invoice.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.AccountID != accountID {
			continue
		}
		if opts.Status != "" && inv.Status != opts.Status {
			continue
		}
		if opts.Kind != "" && inv.Kind != opts.Kind {
			continue
		}
		result = append(result, copyInvoice(inv))
	}
	slices.SortFunc(result, func(a, b *invoice.Invoice) int {
		return cmp.Or(
			b.Date.Compare(a.Date),
			cmp.Compare(b.ID.String(), a.ID.String()),
		)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) SettleInvoice(_ context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.invoices[inv.ID.String()]
	if !ok {
		return tokenledger.ErrInvoiceNotFound
	}
	if cur.Status != invoice.StatusPending {
		return fmt.Errorf("%w: %s is %s", invoice.ErrAlreadySettled, inv.ID, cur.Status)
	}
	s.invoices[inv.ID.String()] = copyInvoice(inv)
	return nil
}

// ──────────────────────────────────────────────────
// Core
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return tokenledger.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
