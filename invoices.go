package tokenledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
	"github.com/xraph/tokenledger/types"
)

// MaxCorrelationIDLen bounds invoice correlation ids.
const MaxCorrelationIDLen = 200

// CreateInvoiceRequest describes a pending charge.
type CreateInvoiceRequest struct {
	AccountID      string
	Kind           invoice.Kind
	CorrelationID  string
	Description    string
	Amount         types.Money
	TokenCount     int64
	SubscriptionID id.SubscriptionID
	BundleID       id.BundleID
}

func (r CreateInvoiceRequest) validate(currency string) error {
	if err := validateAccountID(r.AccountID); err != nil {
		return err
	}
	if strings.TrimSpace(r.CorrelationID) == "" {
		return ValidationError{Field: "correlation_id", Message: "required"}
	}
	if len(r.CorrelationID) > MaxCorrelationIDLen {
		return ValidationError{Field: "correlation_id", Message: fmt.Sprintf("longer than %d bytes", MaxCorrelationIDLen)}
	}
	if r.Amount.IsNegative() {
		return ValidationError{Field: "amount", Message: "must not be negative"}
	}
	if r.Amount.Currency != "" && r.Amount.Currency != currency {
		return ValidationError{Field: "amount", Message: "currency must be " + currency}
	}
	if r.TokenCount < 0 {
		return ValidationError{Field: "token_count", Message: "must not be negative"}
	}
	switch r.Kind {
	case invoice.KindRenewal, invoice.KindBundlePurchase, invoice.KindPlanChange:
	default:
		return ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	return nil
}

// CreateInvoice creates a pending invoice. A repeated correlation id for the
// same account returns the existing invoice with Replayed set.
func (l *Ledger) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*invoice.Invoice, error) {
	if err := req.validate(l.currency); err != nil {
		return nil, err
	}
	return l.createInvoice(ctx, req)
}

func (l *Ledger) createInvoice(ctx context.Context, req CreateInvoiceRequest) (*invoice.Invoice, error) {
	now := l.now()
	amount := req.Amount
	if amount.Currency == "" {
		amount = types.New(amount.Amount, l.currency)
	}

	inv := &invoice.Invoice{
		Entity:         types.NewEntity(now),
		ID:             id.NewInvoiceID(),
		AccountID:      req.AccountID,
		Kind:           req.Kind,
		CorrelationID:  req.CorrelationID,
		Date:           now,
		Description:    req.Description,
		Amount:         amount,
		Status:         invoice.StatusPending,
		SubscriptionID: req.SubscriptionID,
		BundleID:       req.BundleID,
		TokenCount:     req.TokenCount,
	}

	err := l.store.CreateInvoice(ctx, inv)
	if errors.Is(err, ErrDuplicateInvoice) {
		existing, gerr := l.store.GetInvoiceByCorrelation(ctx, req.AccountID, req.CorrelationID)
		if gerr != nil {
			return nil, gerr
		}
		existing.Replayed = true
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	l.plugins.EmitInvoiceCreated(ctx, inv)
	l.logger.Info("invoice created",
		"account_id", inv.AccountID,
		"invoice_id", inv.ID.String(),
		"kind", inv.Kind,
		"amount", inv.Amount.String(),
	)

	return inv, nil
}

// SettleOpts carries the processor's details for a settlement.
type SettleOpts struct {
	PaymentRef string
	Reason     string
}

// Settle records the payment outcome of a pending invoice. It succeeds once
// per invoice; later calls return the settled invoice with ErrAlreadySettled.
// Every call, including repeats, makes sure the settlement's effects exist:
// a paid invoice's tokens are credited exactly once (keyed by the invoice
// id) and a renewal invoice moves its subscription along. A crash between
// the status write and those effects therefore heals on redelivery.
func (l *Ledger) Settle(ctx context.Context, invoiceID string, outcome invoice.Outcome, opts SettleOpts) (*invoice.Invoice, error) {
	if _, err := id.ParseInvoiceID(invoiceID); err != nil {
		return nil, ValidationError{Field: "invoice_id", Message: err.Error()}
	}
	if !outcome.Valid() {
		return nil, ValidationError{Field: "outcome", Message: fmt.Sprintf("unknown outcome %q", outcome)}
	}

	inv, err := l.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(inv.AccountID)
	defer unlock()

	return l.settleLocked(ctx, invoiceID, outcome, opts)
}

func (l *Ledger) settleLocked(ctx context.Context, invoiceID string, outcome invoice.Outcome, opts SettleOpts) (*invoice.Invoice, error) {
	inv, err := l.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if inv.Status.Terminal() {
		return l.redrive(ctx, inv)
	}

	reason := opts.Reason
	if outcome == invoice.OutcomeFailed && reason == "" {
		reason = ErrPaymentFailed.Error()
	}
	if err := inv.Settle(outcome, l.now(), opts.PaymentRef, reason); err != nil {
		return nil, err
	}

	if err := l.store.SettleInvoice(ctx, inv); err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			// Another process settled first; apply what it decided.
			current, gerr := l.store.GetInvoice(ctx, invoiceID)
			if gerr != nil {
				return nil, gerr
			}
			return l.redrive(ctx, current)
		}
		return nil, err
	}

	l.logger.Info("invoice settled",
		"account_id", inv.AccountID,
		"invoice_id", inv.ID.String(),
		"status", inv.Status,
	)

	if err := l.applySettlement(ctx, inv); err != nil {
		return inv, err
	}

	switch inv.Status {
	case invoice.StatusPaid:
		l.plugins.EmitInvoicePaid(ctx, inv)
	case invoice.StatusFailed:
		l.plugins.EmitInvoiceFailed(ctx, inv, inv.FailureReason)
	}

	return inv, nil
}

// redrive re-applies the effects of an already settled invoice and reports
// ErrAlreadySettled.
func (l *Ledger) redrive(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	if err := l.applySettlement(ctx, inv); err != nil {
		return inv, err
	}
	return inv, fmt.Errorf("%w: %s is %s", ErrAlreadySettled, inv.ID, inv.Status)
}

// applySettlement credits a paid invoice and advances the subscription of a
// renewal invoice. Both steps are idempotent. Callers hold the account lock.
func (l *Ledger) applySettlement(ctx context.Context, inv *invoice.Invoice) error {
	if inv.Credits() {
		tx, err := l.appendLocked(ctx, AppendRequest{
			AccountID:      inv.AccountID,
			Amount:         inv.TokenCount,
			Kind:           transaction.KindEarned,
			IdempotencyKey: creditKey(inv.ID),
			Category:       transaction.CategoryGeneral,
			Description:    inv.Description,
			InvoiceID:      inv.ID,
		})
		if err != nil {
			return fmt.Errorf("tokenledger: credit invoice %s: %w", inv.ID, err)
		}
		if tx.Kind != transaction.KindEarned || tx.InvoiceID.String() != inv.ID.String() || tx.Amount != inv.TokenCount {
			return fmt.Errorf("tokenledger: credit invoice %s: key %s holds entry %s: %w",
				inv.ID, tx.IdempotencyKey, tx.ID, ErrDuplicateTransaction)
		}
	}

	if inv.Kind != invoice.KindRenewal {
		return nil
	}

	sub, err := l.store.GetSubscription(ctx, inv.AccountID)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	return l.applyRenewalOutcome(ctx, sub, inv)
}

// applyRenewalOutcome moves a PendingRenewal subscription according to its
// settled invoice. Unrelated or repeated invoices leave it untouched.
func (l *Ledger) applyRenewalOutcome(ctx context.Context, sub *subscription.Subscription, inv *invoice.Invoice) error {
	now := l.now()

	var changed bool
	switch inv.Status {
	case invoice.StatusPaid:
		changed = sub.RenewalPaid(inv.ID, now)
	case invoice.StatusFailed:
		changed = sub.RenewalFailed(inv.ID, now, l.retryInterval)
	}
	if !changed {
		return nil
	}

	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	l.logger.Info("subscription renewal settled",
		"account_id", sub.AccountID,
		"invoice_id", inv.ID.String(),
		"status", sub.Status,
		"next_billing_date", sub.NextBillingDate,
	)

	if sub.Status == subscription.StatusCanceled {
		l.plugins.EmitSubscriptionCanceled(ctx, sub, inv.FailureReason)
	}
	return nil
}

// PurchaseBundle opens a pending invoice for a token bundle. purchaseKey
// makes the request idempotent: the same key returns the same invoice.
func (l *Ledger) PurchaseBundle(ctx context.Context, accountID, bundleID, purchaseKey string) (*invoice.Invoice, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	if purchaseKey == "" {
		purchaseKey = id.NewPurchaseID().String()
	}

	b, err := l.GetBundle(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if !b.Purchasable() {
		return nil, fmt.Errorf("%w: bundle %s", ErrPlanArchived, b.ID)
	}

	return l.CreateInvoice(ctx, CreateInvoiceRequest{
		AccountID:     accountID,
		Kind:          invoice.KindBundlePurchase,
		CorrelationID: "bundle:" + purchaseKey,
		Description:   bundleDescription(b),
		Amount:        b.Price,
		TokenCount:    b.TokenCount,
		BundleID:      b.ID,
	})
}

func bundleDescription(b *plan.Bundle) string {
	if b.Name != "" {
		return fmt.Sprintf("%s (%d tokens)", b.Name, b.TokenCount)
	}
	return fmt.Sprintf("%d tokens", b.TokenCount)
}

// GetInvoice returns an invoice by id.
func (l *Ledger) GetInvoice(ctx context.Context, invoiceID string) (*invoice.Invoice, error) {
	if _, err := id.ParseInvoiceID(invoiceID); err != nil {
		return nil, ValidationError{Field: "invoice_id", Message: err.Error()}
	}
	return l.store.GetInvoice(ctx, invoiceID)
}

// ListInvoices returns an account's invoices, newest first.
func (l *Ledger) ListInvoices(ctx context.Context, accountID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	return l.store.ListInvoices(ctx, accountID, opts)
}

// settleImmediately marks a zero-amount informational invoice as paid.
func (l *Ledger) settleImmediately(ctx context.Context, inv *invoice.Invoice, at time.Time) error {
	if inv.Status.Terminal() {
		return nil
	}
	if err := inv.Settle(invoice.OutcomePaid, at, "", ""); err != nil {
		return err
	}
	if err := l.store.SettleInvoice(ctx, inv); err != nil && !errors.Is(err, ErrAlreadySettled) {
		return err
	}
	return nil
}
