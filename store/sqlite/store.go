package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/analytics"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// compile-time interface checks
var (
	_ store.Store           = (*Store)(nil)
	_ store.UsageAggregator = (*Store)(nil)
)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("tokenledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: %w", tokenledger.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Ledger Store ====================

// AppendTransaction inserts a ledger row. The unique (account_id,
// sequence_no) and (account_id, idempotency_key) indexes turn a lost race
// into a skipped insert, which is then classified.
func (s *Store) AppendTransaction(ctx context.Context, tx *transaction.Transaction) error {
	m := toTransactionModel(tx)
	res, err := s.sdb.NewInsert(m).
		OnConflict("DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	if _, err := s.GetTransactionByKey(ctx, tx.AccountID, tx.IdempotencyKey); err == nil {
		return tokenledger.ErrDuplicateTransaction
	}
	return fmt.Errorf("%w: sequence %d taken for %s", tokenledger.ErrConcurrencyConflict, tx.SequenceNo, tx.AccountID)
}

func (s *Store) GetTransaction(ctx context.Context, accountID, txID string) (*transaction.Transaction, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID).
		Where("id = ?", txID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tokenledger.ErrTransactionNotFound
		}
		return nil, err
	}
	return fromTransactionModel(m)
}

func (s *Store) GetTransactionByKey(ctx context.Context, accountID, key string) (*transaction.Transaction, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID).
		Where("idempotency_key = ?", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tokenledger.ErrTransactionNotFound
		}
		return nil, err
	}
	return fromTransactionModel(m)
}

func (s *Store) LatestTransaction(ctx context.Context, accountID string) (*transaction.Transaction, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID).
		OrderExpr("sequence_no DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tokenledger.ErrTransactionNotFound
		}
		return nil, err
	}
	return fromTransactionModel(m)
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var models []transactionModel
	q := s.sdb.NewSelect(&models).Where("account_id = ?", accountID)

	if opts.BeforeSeq > 0 {
		q = q.Where("sequence_no < ?", opts.BeforeSeq)
	}
	if !opts.Since.IsZero() {
		q = q.Where("timestamp >= ?", opts.Since)
	}
	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	q = q.OrderExpr("sequence_no DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromTransactionModels(models)
}

// SumByCategory totals the account's ledger per category inside the
// database. The grouped rows come back as one JSON document.
func (s *Store) SumByCategory(ctx context.Context, accountID string, since time.Time) ([]analytics.CategoryTotal, error) {
	var raw string
	err := s.sdb.NewRaw(`
		SELECT COALESCE(json_group_array(json_object('category', category, 'earned', earned, 'spent', spent)), '[]')
		FROM (
			SELECT category,
			       COALESCE(SUM(CASE WHEN kind = 'earned' THEN amount END), 0) AS earned,
			       COALESCE(SUM(CASE WHEN kind = 'spent' THEN amount END), 0)  AS spent
			FROM ledger_transactions
			WHERE account_id = ? AND timestamp >= ?
			GROUP BY category
		)
	`, accountID, since).Scan(ctx, &raw)
	if err != nil {
		return nil, err
	}

	var totals []analytics.CategoryTotal
	if err := json.Unmarshal([]byte(raw), &totals); err != nil {
		return nil, fmt.Errorf("tokenledger/sqlite: decode category totals: %w", err)
	}
	return totals, nil
}

// ==================== Catalog Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID string) (*plan.Plan, error) {
	m := new(planModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", planID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tokenledger.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel
	q := s.sdb.NewSelect(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) ArchivePlan(ctx context.Context, planID string) error {
	res, err := s.sdb.NewUpdate((*planModel)(nil)).
		Set("status = ?", string(plan.StatusArchived)).
		Set("updated_at = ?", now()).
		Where("id = ?", planID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tokenledger.ErrPlanNotFound
	}
	return nil
}

func (s *Store) CreateBundle(ctx context.Context, b *plan.Bundle) error {
	m := toBundleModel(b)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetBundle(ctx context.Context, bundleID string) (*plan.Bundle, error) {
	m := new(bundleModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", bundleID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tokenledger.ErrBundleNotFound
		}
		return nil, err
	}
	return fromBundleModel(m)
}

func (s *Store) ListBundles(ctx context.Context, opts plan.ListOpts) ([]*plan.Bundle, error) {
	var models []bundleModel
	q := s.sdb.NewSelect(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("token_count ASC, created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*plan.Bundle, len(models))
	for i := range models {
		b, err := fromBundleModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = b
	}
	return result, nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.sdb.NewInsert(m).
		OnConflict("(account_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: account %s already subscribed", tokenledger.ErrConcurrencyConflict, sub.AccountID)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tokenledger.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tokenledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListDueSubscriptions(ctx context.Context, now, pendingBefore time.Time, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).
		Where(`(status = ? AND auto_renew = 1 AND next_billing_date <= ?)
			OR (status = ? AND auto_renew = 1 AND retry_at <= ?)
			OR (status = ? AND pending_since <= ?)`,
			string(subscription.StatusActive), now,
			string(subscription.StatusPastDue), now,
			string(subscription.StatusPendingRenewal), pendingBefore,
		).
		OrderExpr("account_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// ==================== Invoice Store ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	m := toInvoiceModel(inv)
	res, err := s.sdb.NewInsert(m).
		OnConflict("DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tokenledger.ErrDuplicateInvoice
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", invoiceID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tokenledger.ErrInvoiceNotFound
		}
		return nil, err
	}
	return fromInvoiceModel(m)
}

func (s *Store) GetInvoiceByCorrelation(ctx context.Context, accountID, correlationID string) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID).
		Where("correlation_id = ?", correlationID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tokenledger.ErrInvoiceNotFound
		}
		return nil, err
	}
	return fromInvoiceModel(m)
}

func (s *Store) ListInvoices(ctx context.Context, accountID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel
	q := s.sdb.NewSelect(&models).Where("account_id = ?", accountID)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("date DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*invoice.Invoice, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	return result, nil
}

// SettleInvoice writes the terminal state only while the row is pending.
func (s *Store) SettleInvoice(ctx context.Context, inv *invoice.Invoice) error {
	res, err := s.sdb.NewUpdate((*invoiceModel)(nil)).
		Set("status = ?", string(inv.Status)).
		Set("settled_at = ?", inv.SettledAt).
		Set("payment_ref = ?", inv.PaymentRef).
		Set("failure_reason = ?", inv.FailureReason).
		Set("updated_at = ?", inv.UpdatedAt).
		Where("id = ?", inv.ID.String()).
		Where("status = ?", string(invoice.StatusPending)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	cur, err := s.GetInvoice(ctx, inv.ID.String())
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", invoice.ErrAlreadySettled, cur.ID, cur.Status)
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
