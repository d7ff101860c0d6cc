package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("tokenledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %w", tokenledger.ErrMigrationFailed, err)
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
	res, err := s.pg.NewInsert(m).
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
	err := s.pg.NewSelect(m).
		Where("account_id = $1", accountID).
		Where("id = $2", txID).
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
	err := s.pg.NewSelect(m).
		Where("account_id = $1", accountID).
		Where("idempotency_key = $2", key).
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
	err := s.pg.NewSelect(m).
		Where("account_id = $1", accountID).
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
	q := s.pg.NewSelect(&models).Where("account_id = $1", accountID)

	argIdx := 1
	if opts.BeforeSeq > 0 {
		argIdx++
		q = q.Where(fmt.Sprintf("sequence_no < $%d", argIdx), opts.BeforeSeq)
	}
	if !opts.Since.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("timestamp >= $%d", argIdx), opts.Since)
	}
	if opts.Kind != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("kind = $%d", argIdx), string(opts.Kind))
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
	err := s.pg.NewRaw(`
		SELECT COALESCE(json_agg(t), '[]'::json)::text FROM (
			SELECT category,
			       COALESCE(SUM(amount) FILTER (WHERE kind = 'earned'), 0) AS earned,
			       COALESCE(SUM(amount) FILTER (WHERE kind = 'spent'), 0)  AS spent
			FROM ledger_transactions
			WHERE account_id = $1 AND timestamp >= $2
			GROUP BY category
		) t
	`, accountID, since).Scan(ctx, &raw)
	if err != nil {
		return nil, err
	}

	var totals []analytics.CategoryTotal
	if err := json.Unmarshal([]byte(raw), &totals); err != nil {
		return nil, fmt.Errorf("tokenledger/postgres: decode category totals: %w", err)
	}
	return totals, nil
}

// ==================== Catalog Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID string) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", planID).
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
	q := s.pg.NewSelect(&models)

	if opts.Status != "" {
		q = q.Where("status = $1", string(opts.Status))
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
	res, err := s.pg.NewUpdate((*planModel)(nil)).
		Set("status = $1", string(plan.StatusArchived)).
		Set("updated_at = $2", now()).
		Where("id = $3", planID).
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
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetBundle(ctx context.Context, bundleID string) (*plan.Bundle, error) {
	m := new(bundleModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", bundleID).
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
	q := s.pg.NewSelect(&models)

	if opts.Status != "" {
		q = q.Where("status = $1", string(opts.Status))
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
	res, err := s.pg.NewInsert(m).
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
	err := s.pg.NewSelect(m).
		Where("account_id = $1", accountID).
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
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
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
	q := s.pg.NewSelect(&models).
		Where(`(status = $1 AND auto_renew AND next_billing_date <= $2)
			OR (status = $3 AND auto_renew AND retry_at <= $4)
			OR (status = $5 AND pending_since <= $6)`,
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
	res, err := s.pg.NewInsert(m).
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
	err := s.pg.NewSelect(m).
		Where("id = $1", invoiceID).
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
	err := s.pg.NewSelect(m).
		Where("account_id = $1", accountID).
		Where("correlation_id = $2", correlationID).
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
	q := s.pg.NewSelect(&models).Where("account_id = $1", accountID)

	argIdx := 1
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Kind != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("kind = $%d", argIdx), string(opts.Kind))
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
	res, err := s.pg.NewUpdate((*invoiceModel)(nil)).
		Set("status = $1", string(inv.Status)).
		Set("settled_at = $2", inv.SettledAt).
		Set("payment_ref = $3", inv.PaymentRef).
		Set("failure_reason = $4", inv.FailureReason).
		Set("updated_at = $5", inv.UpdatedAt).
		Where("id = $6", inv.ID.String()).
		Where("status = $7", string(invoice.StatusPending)).
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
