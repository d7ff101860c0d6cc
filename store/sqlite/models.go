package sqlite

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
	"github.com/xraph/tokenledger/types"
)

// parseOptional parses an id column that may be empty.
func parseOptional(s string, parse func(string) (id.ID, error)) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return parse(s)
}

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:ledger_transactions"`

	ID                 string    `grove:"id,pk"`
	AccountID          string    `grove:"account_id"`
	SequenceNo         int64     `grove:"sequence_no"`
	Timestamp          time.Time `grove:"timestamp"`
	Amount             int64     `grove:"amount"`
	Kind               string    `grove:"kind"`
	Category           string    `grove:"category"`
	Description        string    `grove:"description"`
	IdempotencyKey     string    `grove:"idempotency_key"`
	InvoiceID          string    `grove:"invoice_id"`
	ResultingAvailable int64     `grove:"resulting_available"`
	ResultingTotal     int64     `grove:"resulting_total"`
	ResultingSpent     int64     `grove:"resulting_spent"`
}

func toTransactionModel(tx *transaction.Transaction) *transactionModel {
	return &transactionModel{
		ID:                 tx.ID.String(),
		AccountID:          tx.AccountID,
		SequenceNo:         tx.SequenceNo,
		Timestamp:          tx.Timestamp,
		Amount:             tx.Amount,
		Kind:               string(tx.Kind),
		Category:           tx.Category,
		Description:        tx.Description,
		IdempotencyKey:     tx.IdempotencyKey,
		InvoiceID:          tx.InvoiceID.String(),
		ResultingAvailable: tx.ResultingAvailable,
		ResultingTotal:     tx.ResultingTotal,
		ResultingSpent:     tx.ResultingSpent,
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	invID, err := parseOptional(m.InvoiceID, id.ParseInvoiceID)
	if err != nil {
		return nil, err
	}

	return &transaction.Transaction{
		ID:                 txID,
		AccountID:          m.AccountID,
		SequenceNo:         m.SequenceNo,
		Timestamp:          m.Timestamp.UTC(),
		Amount:             m.Amount,
		Kind:               transaction.Kind(m.Kind),
		Category:           m.Category,
		Description:        m.Description,
		IdempotencyKey:     m.IdempotencyKey,
		InvoiceID:          invID,
		ResultingAvailable: m.ResultingAvailable,
		ResultingTotal:     m.ResultingTotal,
		ResultingSpent:     m.ResultingSpent,
	}, nil
}

func fromTransactionModels(models []transactionModel) ([]*transaction.Transaction, error) {
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

// ==================== Catalog models ====================

type planModel struct {
	grove.BaseModel `grove:"table:ledger_plans"`

	ID                string          `grove:"id,pk"`
	Name              string          `grove:"name"`
	Slug              string          `grove:"slug"`
	Description       string          `grove:"description"`
	PriceMonthlyCents int64           `grove:"price_monthly_cents"`
	PriceAnnualCents  int64           `grove:"price_annual_cents"`
	Currency          string          `grove:"currency"`
	Features          string          `grove:"features"`
	TokenAllowance    int64           `grove:"token_allowance"`
	Status            string          `grove:"status"`
	CreatedAt         time.Time       `grove:"created_at"`
	UpdatedAt         time.Time       `grove:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	features, _ := json.Marshal(p.Features) //nolint:errcheck // []string always marshals

	return &planModel{
		ID:                p.ID.String(),
		Name:              p.Name,
		Slug:              p.Slug,
		Description:       p.Description,
		PriceMonthlyCents: p.PriceMonthly.Amount,
		PriceAnnualCents:  p.PriceAnnual.Amount,
		Currency:          p.PriceMonthly.Currency,
		Features:          string(features),
		TokenAllowance:    p.TokenAllowance,
		Status:            string(p.Status),
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}

	var features []string
	if len(m.Features) > 0 {
		if err := json.Unmarshal([]byte(m.Features), &features); err != nil {
			return nil, err
		}
	}

	return &plan.Plan{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             planID,
		Name:           m.Name,
		Slug:           m.Slug,
		Description:    m.Description,
		PriceMonthly:   types.New(m.PriceMonthlyCents, m.Currency),
		PriceAnnual:    types.New(m.PriceAnnualCents, m.Currency),
		Features:       features,
		TokenAllowance: m.TokenAllowance,
		Status:         plan.Status(m.Status),
	}, nil
}

type bundleModel struct {
	grove.BaseModel `grove:"table:ledger_bundles"`

	ID         string    `grove:"id,pk"`
	Name       string    `grove:"name"`
	TokenCount int64     `grove:"token_count"`
	PriceCents int64     `grove:"price_cents"`
	Currency   string    `grove:"currency"`
	Popular    bool      `grove:"popular"`
	Status     string    `grove:"status"`
	CreatedAt  time.Time `grove:"created_at"`
	UpdatedAt  time.Time `grove:"updated_at"`
}

func toBundleModel(b *plan.Bundle) *bundleModel {
	return &bundleModel{
		ID:         b.ID.String(),
		Name:       b.Name,
		TokenCount: b.TokenCount,
		PriceCents: b.Price.Amount,
		Currency:   b.Price.Currency,
		Popular:    b.Popular,
		Status:     string(b.Status),
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func fromBundleModel(m *bundleModel) (*plan.Bundle, error) {
	bundleID, err := id.ParseBundleID(m.ID)
	if err != nil {
		return nil, err
	}
	return &plan.Bundle{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         bundleID,
		Name:       m.Name,
		TokenCount: m.TokenCount,
		Price:      types.New(m.PriceCents, m.Currency),
		Popular:    m.Popular,
		Status:     plan.Status(m.Status),
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:ledger_subscriptions"`

	ID               string     `grove:"id,pk"`
	AccountID        string     `grove:"account_id"`
	PlanID           string     `grove:"plan_id"`
	BillingCycle     string     `grove:"billing_cycle"`
	Status           string     `grove:"status"`
	NextBillingDate  time.Time  `grove:"next_billing_date"`
	AutoRenew        bool       `grove:"auto_renew"`
	CycleCount       int        `grove:"cycle_count"`
	FailedAttempts   int        `grove:"failed_attempts"`
	RetryAt          *time.Time `grove:"retry_at"`
	PendingInvoiceID string     `grove:"pending_invoice_id"`
	PendingSince     *time.Time `grove:"pending_since"`
	CanceledAt       *time.Time `grove:"canceled_at"`
	CreatedAt        time.Time  `grove:"created_at"`
	UpdatedAt        time.Time  `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:               s.ID.String(),
		AccountID:        s.AccountID,
		PlanID:           s.PlanID.String(),
		BillingCycle:     string(s.BillingCycle),
		Status:           string(s.Status),
		NextBillingDate:  s.NextBillingDate,
		AutoRenew:        s.AutoRenew,
		CycleCount:       s.CycleCount,
		FailedAttempts:   s.FailedAttempts,
		RetryAt:          s.RetryAt,
		PendingInvoiceID: s.PendingInvoiceID.String(),
		PendingSince:     s.PendingSince,
		CanceledAt:       s.CanceledAt,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParsePlanID(m.PlanID)
	if err != nil {
		return nil, err
	}
	pendingID, err := parseOptional(m.PendingInvoiceID, id.ParseInvoiceID)
	if err != nil {
		return nil, err
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               subID,
		AccountID:        m.AccountID,
		PlanID:           planID,
		BillingCycle:     plan.BillingCycle(m.BillingCycle),
		Status:           subscription.Status(m.Status),
		NextBillingDate:  m.NextBillingDate.UTC(),
		AutoRenew:        m.AutoRenew,
		CycleCount:       m.CycleCount,
		FailedAttempts:   m.FailedAttempts,
		RetryAt:          m.RetryAt,
		PendingInvoiceID: pendingID,
		PendingSince:     m.PendingSince,
		CanceledAt:       m.CanceledAt,
	}, nil
}

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:ledger_invoices"`

	ID             string     `grove:"id,pk"`
	AccountID      string     `grove:"account_id"`
	Kind           string     `grove:"kind"`
	CorrelationID  string     `grove:"correlation_id"`
	Date           time.Time  `grove:"date"`
	Description    string     `grove:"description"`
	AmountCents    int64      `grove:"amount_cents"`
	Currency       string     `grove:"currency"`
	Status         string     `grove:"status"`
	SubscriptionID string     `grove:"subscription_id"`
	BundleID       string     `grove:"bundle_id"`
	TokenCount     int64      `grove:"token_count"`
	SettledAt      *time.Time `grove:"settled_at"`
	PaymentRef     string     `grove:"payment_ref"`
	FailureReason  string     `grove:"failure_reason"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	return &invoiceModel{
		ID:             inv.ID.String(),
		AccountID:      inv.AccountID,
		Kind:           string(inv.Kind),
		CorrelationID:  inv.CorrelationID,
		Date:           inv.Date,
		Description:    inv.Description,
		AmountCents:    inv.Amount.Amount,
		Currency:       inv.Amount.Currency,
		Status:         string(inv.Status),
		SubscriptionID: inv.SubscriptionID.String(),
		BundleID:       inv.BundleID.String(),
		TokenCount:     inv.TokenCount,
		SettledAt:      inv.SettledAt,
		PaymentRef:     inv.PaymentRef,
		FailureReason:  inv.FailureReason,
		CreatedAt:      inv.CreatedAt,
		UpdatedAt:      inv.UpdatedAt,
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := parseOptional(m.SubscriptionID, id.ParseSubscriptionID)
	if err != nil {
		return nil, err
	}
	bundleID, err := parseOptional(m.BundleID, id.ParseBundleID)
	if err != nil {
		return nil, err
	}

	return &invoice.Invoice{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             invID,
		AccountID:      m.AccountID,
		Kind:           invoice.Kind(m.Kind),
		CorrelationID:  m.CorrelationID,
		Date:           m.Date.UTC(),
		Description:    m.Description,
		Amount:         types.New(m.AmountCents, m.Currency),
		Status:         invoice.Status(m.Status),
		SubscriptionID: subID,
		BundleID:       bundleID,
		TokenCount:     m.TokenCount,
		SettledAt:      m.SettledAt,
		PaymentRef:     m.PaymentRef,
		FailureReason:  m.FailureReason,
	}, nil
}
