// Package api exposes the tokenledger engine over HTTP.
//
// Every route acts on the account named by the X-Account-ID and
// X-Account-Type headers, which the surrounding authentication layer sets.
// Mutating routes honor an Idempotency-Key header: a retried request with the
// same key and payload receives the original response.
package api

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	tokenledger "github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/analytics"
	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/entitlement"
	"github.com/xraph/tokenledger/idempotency"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// DefaultBasePath is the prefix all routes are mounted under.
const DefaultBasePath = "/tokens"

// Engine is the part of *tokenledger.Ledger the handlers use.
type Engine interface {
	GetBalance(ctx context.Context, accountID string) (balance.Snapshot, error)
	List(ctx context.Context, accountID string, opts tokenledger.ListOpts) iter.Seq2[*transaction.Transaction, error]
	Append(ctx context.Context, req tokenledger.AppendRequest) (*transaction.Transaction, error)
	UsageBreakdown(ctx context.Context, accountID string, period analytics.Period) ([]analytics.Usage, error)

	GetSubscription(ctx context.Context, accountID string) (*subscription.Subscription, error)
	Subscribe(ctx context.Context, accountID, planID string, cycle plan.BillingCycle) (*subscription.Subscription, error)
	ChangePlan(ctx context.Context, accountID, planID string) (*subscription.Subscription, error)
	ToggleAutoRenew(ctx context.Context, accountID string, enabled bool) (*subscription.Subscription, error)
	CancelSubscription(ctx context.Context, accountID string) (*subscription.Subscription, error)
	CheckFeature(ctx context.Context, accountID, feature string) (entitlement.Result, error)

	ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error)
	ListBundles(ctx context.Context, opts plan.ListOpts) ([]*plan.Bundle, error)

	PurchaseBundle(ctx context.Context, accountID, bundleID, purchaseKey string) (*invoice.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*invoice.Invoice, error)
	ListInvoices(ctx context.Context, accountID string, opts invoice.ListOpts) ([]*invoice.Invoice, error)
	Settle(ctx context.Context, invoiceID string, outcome invoice.Outcome, opts tokenledger.SettleOpts) (*invoice.Invoice, error)
}

var _ Engine = (*tokenledger.Ledger)(nil)

// Server serves the tokenledger HTTP routes.
type Server struct {
	engine   Engine
	router   *mux.Router
	guard    *idempotency.Guard
	validate *validator.Validate
	logger   *slog.Logger
	basePath string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithBasePath mounts the routes under path instead of DefaultBasePath.
func WithBasePath(path string) Option {
	return func(s *Server) { s.basePath = path }
}

// WithIdempotencyStore sets where replayable responses are kept. The default
// is an in-process store holding responses for 24 hours.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(s *Server) { s.guard = idempotency.NewGuard(store) }
}

// NewServer creates a Server for engine.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		router:   mux.NewRouter(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.Default(),
		basePath: DefaultBasePath,
	}
	s.validate.RegisterTagNameFunc(jsonFieldName)
	for _, opt := range opts {
		opt(s)
	}
	if s.guard == nil {
		s.guard = idempotency.NewGuard(idempotency.NewMemoryStore(0, 24*time.Hour))
	}
	s.basePath = "/" + strings.Trim(s.basePath, "/")
	if s.basePath == "/" {
		s.basePath = ""
	}

	s.setupRoutes()
	return s
}

// jsonFieldName makes validation errors name the JSON field.
func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// setupRoutes configures all the API routes.
func (s *Server) setupRoutes() {
	r := s.router
	if s.basePath != "" {
		r = s.router.PathPrefix(s.basePath).Subrouter()
	}
	r.Use(s.recoverPanics, s.requireAccount)

	// Ledger
	r.HandleFunc("/balance", s.getBalance).Methods(http.MethodGet)
	r.HandleFunc("/transactions", s.listTransactions).Methods(http.MethodGet)
	r.HandleFunc("/transactions/export", s.exportTransactions).Methods(http.MethodGet)
	r.Handle("/transactions/spend", s.idempotent(s.spend)).Methods(http.MethodPost)
	r.HandleFunc("/analytics", s.getAnalytics).Methods(http.MethodGet)

	// Subscription
	r.HandleFunc("/subscription", s.getSubscription).Methods(http.MethodGet)
	r.Handle("/subscription", s.idempotent(s.subscribe)).Methods(http.MethodPost)
	r.Handle("/subscription/auto-renew", s.idempotent(s.toggleAutoRenew)).Methods(http.MethodPost)
	r.Handle("/subscription/plan", s.idempotent(s.changePlan)).Methods(http.MethodPost)
	r.Handle("/subscription/cancel", s.idempotent(s.cancelSubscription)).Methods(http.MethodPost)
	r.HandleFunc("/entitlements/{feature}", s.checkFeature).Methods(http.MethodGet)

	// Catalog
	r.HandleFunc("/plans", s.listPlans).Methods(http.MethodGet)
	r.HandleFunc("/bundles", s.listBundles).Methods(http.MethodGet)

	// Invoices
	r.Handle("/tokens/purchase", s.idempotent(s.purchase)).Methods(http.MethodPost)
	r.HandleFunc("/invoices", s.listInvoices).Methods(http.MethodGet)
	r.HandleFunc("/invoices/{id}", s.getInvoice).Methods(http.MethodGet)
	r.Handle("/payments/callback", s.idempotent(s.paymentCallback)).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router so callers can mount extra routes.
func (s *Server) Router() *mux.Router { return s.router }
