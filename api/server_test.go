package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tokenledger "github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/api"
	"github.com/xraph/tokenledger/entitlement"
	"github.com/xraph/tokenledger/export"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/store/memory"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
	"github.com/xraph/tokenledger/types"
)

type fixture struct {
	t      *testing.T
	ledger *tokenledger.Ledger
	server *api.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := tokenledger.New(memory.New(), tokenledger.WithRenewalSchedule(""))
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop() })

	return &fixture{t: t, ledger: l, server: api.NewServer(l)}
}

func (f *fixture) do(method, path, acct, acctType string, body any, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/tokens"+path, &buf)
	if acct != "" {
		req.Header.Set(api.HeaderAccountID, acct)
		req.Header.Set(api.HeaderAccountType, acctType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) earn(acct string, amount int64, key string) {
	f.t.Helper()
	_, err := f.ledger.Append(context.Background(), tokenledger.AppendRequest{
		AccountID: acct, Amount: amount, Kind: transaction.KindEarned, IdempotencyKey: key,
	})
	require.NoError(f.t, err)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAccountHeadersRequired(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/balance", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/balance", "acct-1", "robot", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/balance", "acct-1", "Client", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBalanceAndSpend(t *testing.T) {
	f := newFixture(t)
	f.earn("acct-1", 100, "grant-1")

	bal := decode[api.BalanceResponse](t, f.do(http.MethodGet, "/balance", "acct-1", "client", nil))
	assert.Equal(t, api.BalanceResponse{Available: 100, Total: 100, SequenceNo: 1}, bal)

	spend := api.SpendRequest{Amount: 30, Category: "chat", Description: "summary"}
	rec := f.do(http.MethodPost, "/transactions/spend", "acct-1", "client", spend, api.HeaderIdempotencyKey, "s-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tx := decode[transaction.Transaction](t, rec)
	assert.Equal(t, int64(70), tx.ResultingAvailable)

	// Same key and body: original response, no second spend.
	rec = f.do(http.MethodPost, "/transactions/spend", "acct-1", "client", spend, api.HeaderIdempotencyKey, "s-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(api.HeaderReplayed))

	// Same key, different body.
	other := api.SpendRequest{Amount: 31, Category: "chat"}
	rec = f.do(http.MethodPost, "/transactions/spend", "acct-1", "client", other, api.HeaderIdempotencyKey, "s-1")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Overdraw.
	big := api.SpendRequest{Amount: 95, Category: "chat", IdempotencyKey: "s-2"}
	rec = f.do(http.MethodPost, "/transactions/spend", "acct-1", "client", big)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	bal = decode[api.BalanceResponse](t, f.do(http.MethodGet, "/balance", "acct-1", "client", nil))
	assert.Equal(t, api.BalanceResponse{Available: 70, Total: 100, Spent: 30, SequenceNo: 2}, bal)
}

func TestSpendValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"zero amount", api.SpendRequest{Amount: 0, Category: "chat", IdempotencyKey: "k"}, "amount"},
		{"missing category", api.SpendRequest{Amount: 5, IdempotencyKey: "k"}, "category"},
		{"missing key", api.SpendRequest{Amount: 5, Category: "chat"}, "idempotency_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/transactions/spend", "acct-1", "client", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.field, decode[api.ErrorResponse](t, rec).Field)
		})
	}

	rec := f.do(http.MethodPost, "/transactions/spend", "acct-1", "client", map[string]any{"amount": 1, "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndExportTransactions(t *testing.T) {
	f := newFixture(t)
	f.earn("acct-1", 100, "g1")
	f.earn("acct-1", 20, "g2")
	f.earn("acct-2", 5, "g3")

	rec := f.do(http.MethodGet, "/transactions?limit=1", "acct-1", "client", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode[[]transaction.Transaction](t, rec)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(2), txs[0].SequenceNo)

	rec = f.do(http.MethodGet, "/transactions?kind=refund", "acct-1", "client", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/transactions?since=yesterday", "acct-1", "client", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/transactions/export", "acct-1", "client", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))

	rows, err := export.ReadCSV(rec.Body)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(20), rows[0].Amount)
	assert.Equal(t, int64(120), rows[0].ResultingBalance)
	assert.Equal(t, "acct-1", rows[1].AccountID)
}

func TestExportRoundTripMatchesBalance(t *testing.T) {
	f := newFixture(t)
	f.earn("acct-1", 100, "g1")
	rec := f.do(http.MethodPost, "/transactions/spend", "acct-1", "client",
		api.SpendRequest{Amount: 30, Category: "chat", IdempotencyKey: "s1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	f.earn("acct-1", 20, "g2")
	rec = f.do(http.MethodPost, "/transactions/spend", "acct-1", "client",
		api.SpendRequest{Amount: 15, Category: "documents", IdempotencyKey: "s2"})
	require.Equal(t, http.StatusCreated, rec.Code)
	f.earn("acct-1", 7, "g3")
	f.earn("acct-2", 999, "other")

	rec = f.do(http.MethodGet, "/transactions/export", "acct-1", "client", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows, err := export.ReadCSV(rec.Body)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	var net int64
	for i, row := range rows {
		assert.Equal(t, "acct-1", row.AccountID)
		switch row.Type {
		case transaction.KindEarned:
			net += row.Amount
		case transaction.KindSpent:
			net -= row.Amount
		default:
			t.Fatalf("row %d: unexpected type %q", i, row.Type)
		}
		if i > 0 {
			assert.False(t, row.Date.After(rows[i-1].Date), "rows must be newest first")
		}
	}

	b, err := f.ledger.GetBalance(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, b.Total-b.Spent, net)
	assert.Equal(t, b.Available, rows[0].ResultingBalance)
	assert.Equal(t, int64(82), net)
}

func TestSpendRejectsReservedKey(t *testing.T) {
	f := newFixture(t)
	f.earn("acct-1", 10, "g1")

	rec := f.do(http.MethodPost, "/transactions/spend", "acct-1", "client",
		api.SpendRequest{Amount: 1, Category: "chat", IdempotencyKey: tokenledger.CreditKeyPrefix + "inv_x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "idempotency_key", decode[api.ErrorResponse](t, rec).Field)
}

func TestAnalyticsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.earn("acct-1", 100, "g1")
	rec := f.do(http.MethodPost, "/transactions/spend", "acct-1", "client",
		api.SpendRequest{Amount: 40, Category: "chat", IdempotencyKey: "s1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/analytics?period=week", "acct-1", "client", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"category":"chat"`)

	rec = f.do(http.MethodGet, "/analytics?period=decade", "acct-1", "client", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurchaseAndPaymentCallback(t *testing.T) {
	f := newFixture(t)
	b := &plan.Bundle{Name: "Starter", TokenCount: 500, Price: types.USD(999)}
	require.NoError(t, f.ledger.CreateBundle(context.Background(), b))

	bundles := decode[[]plan.Bundle](t, f.do(http.MethodGet, "/bundles", "acct-1", "client", nil))
	require.Len(t, bundles, 1)

	rec := f.do(http.MethodPost, "/tokens/purchase", "acct-1", "client",
		api.PurchaseRequest{BundleID: b.ID.String()}, api.HeaderIdempotencyKey, "buy-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inv := decode[invoice.Invoice](t, rec)
	assert.Equal(t, invoice.StatusPending, inv.Status)

	// Another account cannot read it.
	rec = f.do(http.MethodGet, "/invoices/"+inv.ID.String(), "acct-2", "client", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cb := api.PaymentCallbackRequest{InvoiceID: inv.ID.String(), Outcome: "paid", PaymentRef: "ch_1"}
	rec = f.do(http.MethodPost, "/payments/callback", "acct-1", "client", cb)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/payments/callback", "processor", "admin", cb)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, invoice.StatusPaid, decode[invoice.Invoice](t, rec).Status)

	// Redelivery of the same outcome is accepted; a contradicting one is not.
	rec = f.do(http.MethodPost, "/payments/callback", "processor", "admin", cb)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(api.HeaderReplayed))

	cb.Outcome = "failed"
	rec = f.do(http.MethodPost, "/payments/callback", "processor", "admin", cb)
	assert.Equal(t, http.StatusConflict, rec.Code)

	bal := decode[api.BalanceResponse](t, f.do(http.MethodGet, "/balance", "acct-1", "client", nil))
	assert.Equal(t, int64(500), bal.Available)

	invs := decode[[]invoice.Invoice](t, f.do(http.MethodGet, "/invoices", "acct-1", "client", nil))
	require.Len(t, invs, 1)
	assert.Equal(t, inv.ID, invs[0].ID)
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	basic := &plan.Plan{Name: "Basic", Features: []string{"documents"}, PriceMonthly: types.USD(1000), PriceAnnual: types.USD(10000), TokenAllowance: 1000}
	pro := &plan.Plan{Name: "Pro", PriceMonthly: types.USD(3000), PriceAnnual: types.USD(30000), TokenAllowance: 5000}
	require.NoError(t, f.ledger.CreatePlan(ctx, basic))
	require.NoError(t, f.ledger.CreatePlan(ctx, pro))

	rec := f.do(http.MethodGet, "/subscription", "acct-1", "lawyer", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/subscription", "acct-1", "lawyer",
		api.SubscribeRequest{PlanID: basic.ID.String(), BillingCycle: "fortnightly"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/subscription", "acct-1", "lawyer",
		api.SubscribeRequest{PlanID: basic.ID.String(), BillingCycle: "yearly"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sub := decode[subscription.Subscription](t, rec)
	assert.Equal(t, plan.CycleAnnual, sub.BillingCycle)

	ent := decode[entitlement.Result](t, f.do(http.MethodGet, "/entitlements/chat", "acct-1", "lawyer", nil))
	assert.False(t, ent.Allowed)
	assert.Equal(t, entitlement.ReasonNotInPlan, ent.Reason)
	ent = decode[entitlement.Result](t, f.do(http.MethodGet, "/entitlements/documents", "acct-1", "lawyer", nil))
	assert.True(t, ent.Allowed)

	off := false
	rec = f.do(http.MethodPost, "/subscription/auto-renew", "acct-1", "lawyer", api.AutoRenewRequest{Enabled: &off})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[subscription.Subscription](t, rec).AutoRenew)

	rec = f.do(http.MethodPost, "/subscription/auto-renew", "acct-1", "lawyer", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/subscription/plan", "acct-1", "lawyer", api.ChangePlanRequest{PlanID: pro.ID.String()})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pro.ID, decode[subscription.Subscription](t, rec).PlanID)

	ent = decode[entitlement.Result](t, f.do(http.MethodGet, "/entitlements/documents", "acct-1", "lawyer", nil))
	assert.False(t, ent.Allowed, "pro plan has no documents feature")

	rec = f.do(http.MethodPost, "/subscription/cancel", "acct-1", "lawyer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, subscription.StatusCanceled, decode[subscription.Subscription](t, rec).Status)

	rec = f.do(http.MethodPost, "/subscription/plan", "acct-1", "lawyer", api.ChangePlanRequest{PlanID: basic.ID.String()})
	assert.Equal(t, http.StatusConflict, rec.Code)

	plans := decode[[]plan.Plan](t, f.do(http.MethodGet, "/plans", "acct-1", "lawyer", nil))
	assert.Len(t, plans, 2)
}

func TestCustomBasePath(t *testing.T) {
	l := tokenledger.New(memory.New(), tokenledger.WithRenewalSchedule(""))
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop() })
	srv := api.NewServer(l, api.WithBasePath("/v1/ledger/"))

	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/balance", nil)
	req.Header.Set(api.HeaderAccountID, "acct-1")
	req.Header.Set(api.HeaderAccountType, "admin")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
