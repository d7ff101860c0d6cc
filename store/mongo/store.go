package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/analytics"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// Collection name constants.
const (
	colTransactions  = "ledger_transactions"
	colPlans         = "ledger_plans"
	colBundles       = "ledger_bundles"
	colSubscriptions = "ledger_subscriptions"
	colInvoices      = "ledger_invoices"
)

// compile-time interface checks
var (
	_ store.Store           = (*Store)(nil)
	_ store.UsageAggregator = (*Store)(nil)
)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all tokenledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: mongo %s indexes: %w", tokenledger.ErrMigrationFailed, col, err)
		}
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

func (s *Store) AppendTransaction(ctx context.Context, tx *transaction.Transaction) error {
	m := toTransactionModel(tx)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("tokenledger/mongo: append transaction: %w", err)
	}

	if _, err := s.GetTransactionByKey(ctx, tx.AccountID, tx.IdempotencyKey); err == nil {
		return tokenledger.ErrDuplicateTransaction
	}
	return fmt.Errorf("%w: sequence %d taken for %s", tokenledger.ErrConcurrencyConflict, tx.SequenceNo, tx.AccountID)
}

func (s *Store) findTransaction(ctx context.Context, filter bson.M) (*transaction.Transaction, error) {
	var m transactionModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tokenledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("tokenledger/mongo: get transaction: %w", err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) GetTransaction(ctx context.Context, accountID, txID string) (*transaction.Transaction, error) {
	return s.findTransaction(ctx, bson.M{"_id": txID, "account_id": accountID})
}

func (s *Store) GetTransactionByKey(ctx context.Context, accountID, key string) (*transaction.Transaction, error) {
	return s.findTransaction(ctx, bson.M{"account_id": accountID, "idempotency_key": key})
}

func (s *Store) LatestTransaction(ctx context.Context, accountID string) (*transaction.Transaction, error) {
	var m transactionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"account_id": accountID}).
		Sort(bson.D{{Key: "sequence_no", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tokenledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("tokenledger/mongo: latest transaction: %w", err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	var models []transactionModel

	filter := bson.M{"account_id": accountID}
	if opts.BeforeSeq > 0 {
		filter["sequence_no"] = bson.M{"$lt": opts.BeforeSeq}
	}
	if !opts.Since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": opts.Since}
	}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "sequence_no", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tokenledger/mongo: list transactions: %w", err)
	}

	result := make([]*transaction.Transaction, len(models))
	for i := range models {
		tx, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = tx
	}
	return result, nil
}

// SumByCategory totals the account's ledger per category with an
// aggregation pipeline.
func (s *Store) SumByCategory(ctx context.Context, accountID string, since time.Time) ([]analytics.CategoryTotal, error) {
	sumOf := func(kind transaction.Kind) bson.M {
		return bson.M{"$sum": bson.M{
			"$cond": bson.A{bson.M{"$eq": bson.A{"$kind", string(kind)}}, "$amount", 0},
		}}
	}

	pipeline := bson.A{
		bson.M{
			"$match": bson.M{
				"account_id": accountID,
				"timestamp":  bson.M{"$gte": since},
			},
		},
		bson.M{
			"$group": bson.M{
				"_id":    "$category",
				"earned": sumOf(transaction.KindEarned),
				"spent":  sumOf(transaction.KindSpent),
			},
		},
	}

	cursor, err := s.mdb.Collection(colTransactions).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("tokenledger/mongo: aggregate: %w", err)
	}
	defer cursor.Close(ctx)

	var totals []analytics.CategoryTotal
	if err := cursor.All(ctx, &totals); err != nil {
		return nil, fmt.Errorf("tokenledger/mongo: aggregate decode: %w", err)
	}
	return totals, nil
}

// ==================== Catalog Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenledger/mongo: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID string) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": planID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tokenledger.ErrPlanNotFound
		}
		return nil, fmt.Errorf("tokenledger/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tokenledger/mongo: list plans: %w", err)
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
	res, err := s.mdb.NewUpdate((*planModel)(nil)).
		Filter(bson.M{"_id": planID}).
		Set("status", string(plan.StatusArchived)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenledger/mongo: archive plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tokenledger.ErrPlanNotFound
	}
	return nil
}

func (s *Store) CreateBundle(ctx context.Context, b *plan.Bundle) error {
	m := toBundleModel(b)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenledger/mongo: create bundle: %w", err)
	}
	return nil
}

func (s *Store) GetBundle(ctx context.Context, bundleID string) (*plan.Bundle, error) {
	var m bundleModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": bundleID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tokenledger.ErrBundleNotFound
		}
		return nil, fmt.Errorf("tokenledger/mongo: get bundle: %w", err)
	}
	return fromBundleModel(&m)
}

func (s *Store) ListBundles(ctx context.Context, opts plan.ListOpts) ([]*plan.Bundle, error) {
	var models []bundleModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "token_count", Value: 1}, {Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tokenledger/mongo: list bundles: %w", err)
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: account %s already subscribed", tokenledger.ErrConcurrencyConflict, sub.AccountID)
		}
		return fmt.Errorf("tokenledger/mongo: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"account_id": accountID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tokenledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("tokenledger/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenledger/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tokenledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListDueSubscriptions(ctx context.Context, now, pendingBefore time.Time, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{"$or": bson.A{
		bson.M{
			"status":            string(subscription.StatusActive),
			"auto_renew":        true,
			"next_billing_date": bson.M{"$lte": now},
		},
		bson.M{
			"status":     string(subscription.StatusPastDue),
			"auto_renew": true,
			"retry_at":   bson.M{"$lte": now},
		},
		bson.M{
			"status":        string(subscription.StatusPendingRenewal),
			"pending_since": bson.M{"$lte": pendingBefore},
		},
	}}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "account_id", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tokenledger/mongo: list due subscriptions: %w", err)
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return tokenledger.ErrDuplicateInvoice
		}
		return fmt.Errorf("tokenledger/mongo: create invoice: %w", err)
	}
	return nil
}

func (s *Store) findInvoice(ctx context.Context, filter bson.M) (*invoice.Invoice, error) {
	var m invoiceModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tokenledger.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("tokenledger/mongo: get invoice: %w", err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, bson.M{"_id": invoiceID})
}

func (s *Store) GetInvoiceByCorrelation(ctx context.Context, accountID, correlationID string) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, bson.M{"account_id": accountID, "correlation_id": correlationID})
}

func (s *Store) ListInvoices(ctx context.Context, accountID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel

	filter := bson.M{"account_id": accountID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tokenledger/mongo: list invoices: %w", err)
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

// SettleInvoice writes the terminal state only while the document is pending.
func (s *Store) SettleInvoice(ctx context.Context, inv *invoice.Invoice) error {
	res, err := s.mdb.NewUpdate((*invoiceModel)(nil)).
		Filter(bson.M{"_id": inv.ID.String(), "status": string(invoice.StatusPending)}).
		Set("status", string(inv.Status)).
		Set("settled_at", inv.SettledAt).
		Set("payment_ref", inv.PaymentRef).
		Set("failure_reason", inv.FailureReason).
		Set("updated_at", inv.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tokenledger/mongo: settle invoice: %w", err)
	}
	if res.MatchedCount() > 0 {
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

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all tokenledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colTransactions: {
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "sequence_no", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
		colPlans: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colBundles: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "token_count", Value: 1}}},
		},
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_billing_date", Value: 1}}},
		},
		colInvoices: {
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "correlation_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "date", Value: -1}}},
			{Keys: bson.D{{Key: "subscription_id", Value: 1}}},
		},
	}
}
