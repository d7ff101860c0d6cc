package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	tokenledger "github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/analytics"
	"github.com/xraph/tokenledger/export"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/transaction"
)

// Page limits for list endpoints.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// BalanceResponse is returned by GET /balance.
type BalanceResponse struct {
	Available  int64 `json:"available"`
	Total      int64 `json:"total"`
	Spent      int64 `json:"spent"`
	SequenceNo int64 `json:"sequence_no"`
}

// SpendRequest is the body of POST /transactions/spend.
type SpendRequest struct {
	Amount         int64  `json:"amount"          validate:"required,gt=0"`
	Category       string `json:"category"        validate:"required,max=64"`
	Description    string `json:"description"     validate:"max=512"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

// SubscribeRequest is the body of POST /subscription.
type SubscribeRequest struct {
	PlanID       string `json:"planId"       validate:"required"`
	BillingCycle string `json:"billingCycle" validate:"required"`
}

// AutoRenewRequest is the body of POST /subscription/auto-renew.
type AutoRenewRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// ChangePlanRequest is the body of POST /subscription/plan.
type ChangePlanRequest struct {
	PlanID string `json:"planId" validate:"required"`
}

// PurchaseRequest is the body of POST /tokens/purchase.
type PurchaseRequest struct {
	BundleID       string `json:"bundleId"        validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

// PaymentCallbackRequest is what the payment processor posts once a charge
// for an invoice succeeds or fails.
type PaymentCallbackRequest struct {
	InvoiceID  string `json:"invoiceId"  validate:"required"`
	Outcome    string `json:"outcome"    validate:"required,oneof=paid failed"`
	PaymentRef string `json:"paymentRef" validate:"max=256"`
	Reason     string `json:"reason"     validate:"max=512"`
}

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	snap, err := s.engine.GetBalance(r.Context(), ref.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Available:  snap.Available,
		Total:      snap.Total,
		Spent:      snap.Spent,
		SequenceNo: snap.SequenceNo,
	})
}

func (s *Server) listOpts(r *http.Request) (tokenledger.ListOpts, error) {
	q := r.URL.Query()
	var opts tokenledger.ListOpts
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, tokenledger.ValidationError{Field: "since", Message: "must be an RFC 3339 timestamp"}
		}
		opts.Since = since
	}
	if v := q.Get("kind"); v != "" {
		opts.Kind = transaction.Kind(v)
		if !opts.Kind.Valid() {
			return opts, tokenledger.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", v)}
		}
	}
	return opts, nil
}

func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, tokenledger.ValidationError{Field: "limit", Message: "must be a positive integer"}
	}
	return min(n, maxLimit), nil
}

func parseOffset(r *http.Request) (int, error) {
	v := r.URL.Query().Get("offset")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, tokenledger.ValidationError{Field: "offset", Message: "must be a non-negative integer"}
	}
	return n, nil
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	opts, err := s.listOpts(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opts.PageSize = limit

	txs := make([]*transaction.Transaction, 0, limit)
	for tx, err := range s.engine.List(r.Context(), ref.ID, opts) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		txs = append(txs, tx)
		if len(txs) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) exportTransactions(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	opts, err := s.listOpts(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Pull the first entry before committing to a 200 so that a failing
	// store still yields a JSON error.
	txs := s.engine.List(r.Context(), ref.ID, opts)
	for _, err := range txs {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		break
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="transactions-%s.csv"`, ref.ID))
	w.WriteHeader(http.StatusOK)
	if _, err := export.WriteCSV(w, txs); err != nil {
		s.logger.Error("api: csv export interrupted", "account_id", ref.ID, "error", err)
	}
}

func (s *Server) spend(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	var req SpendRequest
	if !s.decode(w, r, &req) {
		return
	}
	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" {
		key = req.IdempotencyKey
	}

	tx, err := s.engine.Append(r.Context(), tokenledger.AppendRequest{
		AccountID:      ref.ID,
		Amount:         req.Amount,
		Kind:           transaction.KindSpent,
		IdempotencyKey: key,
		Category:       req.Category,
		Description:    req.Description,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if tx.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, tx)
}

func (s *Server) getAnalytics(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	period, err := analytics.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.writeError(w, r, tokenledger.ValidationError{Field: "period", Message: err.Error()})
		return
	}
	usage, err := s.engine.UsageBreakdown(r.Context(), ref.ID, period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// ──────────────────────────────────────────────────
// Subscription
// ──────────────────────────────────────────────────

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	sub, err := s.engine.GetSubscription(r.Context(), ref.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	var req SubscribeRequest
	if !s.decode(w, r, &req) {
		return
	}
	cycle, ok := plan.ParseCycle(req.BillingCycle)
	if !ok {
		s.writeError(w, r, tokenledger.ValidationError{Field: "billingCycle", Message: fmt.Sprintf("unknown cycle %q", req.BillingCycle)})
		return
	}
	sub, err := s.engine.Subscribe(r.Context(), ref.ID, req.PlanID, cycle)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) toggleAutoRenew(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	var req AutoRenewRequest
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.engine.ToggleAutoRenew(r.Context(), ref.ID, *req.Enabled)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) changePlan(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	var req ChangePlanRequest
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.engine.ChangePlan(r.Context(), ref.ID, req.PlanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	sub, err := s.engine.CancelSubscription(r.Context(), ref.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) checkFeature(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	res, err := s.engine.CheckFeature(r.Context(), ref.ID, mux.Vars(r)["feature"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ──────────────────────────────────────────────────
// Catalog
// ──────────────────────────────────────────────────

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.engine.ListPlans(r.Context(), plan.ListOpts{Status: plan.StatusActive})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) listBundles(w http.ResponseWriter, r *http.Request) {
	bundles, err := s.engine.ListBundles(r.Context(), plan.ListOpts{Status: plan.StatusActive})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bundles)
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

func (s *Server) purchase(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	var req PurchaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" {
		key = req.IdempotencyKey
	}

	inv, err := s.engine.PurchaseBundle(r.Context(), ref.ID, req.BundleID, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if inv.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, inv)
}

func (s *Server) listInvoices(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := parseOffset(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opts := invoice.ListOpts{
		Status: invoice.Status(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	invs, err := s.engine.ListInvoices(r.Context(), ref.ID, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invs)
}

func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	inv, err := s.engine.GetInvoice(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if inv.AccountID != ref.ID && !ref.CanAdminister() {
		s.writeError(w, r, tokenledger.ErrInvoiceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// paymentCallback is called by the payment integration, which acts as an
// admin account.
func (s *Server) paymentCallback(w http.ResponseWriter, r *http.Request) {
	ref, _ := AccountFrom(r.Context())
	if !ref.CanAdminister() {
		writeErrorMessage(w, http.StatusForbidden, "payment callbacks require an admin account")
		return
	}
	var req PaymentCallbackRequest
	if !s.decode(w, r, &req) {
		return
	}
	outcome := invoice.Outcome(req.Outcome)

	inv, err := s.engine.Settle(r.Context(), req.InvoiceID, outcome, tokenledger.SettleOpts{
		PaymentRef: req.PaymentRef,
		Reason:     req.Reason,
	})
	if errors.Is(err, tokenledger.ErrAlreadySettled) && inv != nil && inv.Status == outcome.Status() {
		// Processor redelivery of the outcome already recorded.
		w.Header().Set(HeaderReplayed, "true")
		writeJSON(w, http.StatusOK, inv)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}
