package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/invoice"
	"github.com/xraph/tokenledger/plan"
	"github.com/xraph/tokenledger/subscription"
	"github.com/xraph/tokenledger/transaction"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Each hook interface is resolved once at registration, so dispatch walks a
// pre-filtered slice.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                 []OnInit
	onShutdown             []OnShutdown
	onTransactionAppended  []OnTransactionAppended
	onSpendRejected        []OnSpendRejected
	onLedgerDrift          []OnLedgerDrift
	onPlanCreated          []OnPlanCreated
	onPlanArchived         []OnPlanArchived
	onSubscriptionCreated  []OnSubscriptionCreated
	onSubscriptionChanged  []OnSubscriptionChanged
	onSubscriptionCanceled []OnSubscriptionCanceled
	onRenewalDue           []OnRenewalDue
	onInvoiceCreated       []OnInvoiceCreated
	onInvoicePaid          []OnInvoicePaid
	onInvoiceFailed        []OnInvoiceFailed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnTransactionAppended); ok {
		r.onTransactionAppended = append(r.onTransactionAppended, v)
		hooks = append(hooks, "OnTransactionAppended")
	}
	if v, ok := p.(OnSpendRejected); ok {
		r.onSpendRejected = append(r.onSpendRejected, v)
		hooks = append(hooks, "OnSpendRejected")
	}
	if v, ok := p.(OnLedgerDrift); ok {
		r.onLedgerDrift = append(r.onLedgerDrift, v)
		hooks = append(hooks, "OnLedgerDrift")
	}
	if v, ok := p.(OnPlanCreated); ok {
		r.onPlanCreated = append(r.onPlanCreated, v)
		hooks = append(hooks, "OnPlanCreated")
	}
	if v, ok := p.(OnPlanArchived); ok {
		r.onPlanArchived = append(r.onPlanArchived, v)
		hooks = append(hooks, "OnPlanArchived")
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
		hooks = append(hooks, "OnSubscriptionCreated")
	}
	if v, ok := p.(OnSubscriptionChanged); ok {
		r.onSubscriptionChanged = append(r.onSubscriptionChanged, v)
		hooks = append(hooks, "OnSubscriptionChanged")
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
		hooks = append(hooks, "OnSubscriptionCanceled")
	}
	if v, ok := p.(OnRenewalDue); ok {
		r.onRenewalDue = append(r.onRenewalDue, v)
		hooks = append(hooks, "OnRenewalDue")
	}
	if v, ok := p.(OnInvoiceCreated); ok {
		r.onInvoiceCreated = append(r.onInvoiceCreated, v)
		hooks = append(hooks, "OnInvoiceCreated")
	}
	if v, ok := p.(OnInvoicePaid); ok {
		r.onInvoicePaid = append(r.onInvoicePaid, v)
		hooks = append(hooks, "OnInvoicePaid")
	}
	if v, ok := p.(OnInvoiceFailed); ok {
		r.onInvoiceFailed = append(r.onInvoiceFailed, v)
		hooks = append(hooks, "OnInvoiceFailed")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// snapshot copies a hook slice under the read lock.
func snapshot[T Plugin](r *Registry, hooks *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *hooks
}

// dispatch runs fn for every hook, logging failures.
func dispatch[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, fn func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin hook failed",
				"plugin", p.Name(),
				"hook", hook,
				"error", err,
			)
		}
	}
}

func (r *Registry) EmitInit(ctx context.Context, engine any) {
	dispatch(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	dispatch(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

func (r *Registry) EmitTransactionAppended(ctx context.Context, tx *transaction.Transaction) {
	dispatch(ctx, r, "OnTransactionAppended", snapshot(r, &r.onTransactionAppended), func(p OnTransactionAppended) error {
		return p.OnTransactionAppended(ctx, tx)
	})
}

func (r *Registry) EmitSpendRejected(ctx context.Context, accountID string, requested, available int64) {
	dispatch(ctx, r, "OnSpendRejected", snapshot(r, &r.onSpendRejected), func(p OnSpendRejected) error {
		return p.OnSpendRejected(ctx, accountID, requested, available)
	})
}

func (r *Registry) EmitLedgerDrift(ctx context.Context, accountID string, drift error) {
	dispatch(ctx, r, "OnLedgerDrift", snapshot(r, &r.onLedgerDrift), func(p OnLedgerDrift) error {
		return p.OnLedgerDrift(ctx, accountID, drift)
	})
}

func (r *Registry) EmitPlanCreated(ctx context.Context, pl *plan.Plan) {
	dispatch(ctx, r, "OnPlanCreated", snapshot(r, &r.onPlanCreated), func(p OnPlanCreated) error {
		return p.OnPlanCreated(ctx, pl)
	})
}

func (r *Registry) EmitPlanArchived(ctx context.Context, planID string) {
	dispatch(ctx, r, "OnPlanArchived", snapshot(r, &r.onPlanArchived), func(p OnPlanArchived) error {
		return p.OnPlanArchived(ctx, planID)
	})
}

func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) {
	dispatch(ctx, r, "OnSubscriptionCreated", snapshot(r, &r.onSubscriptionCreated), func(p OnSubscriptionCreated) error {
		return p.OnSubscriptionCreated(ctx, sub)
	})
}

func (r *Registry) EmitSubscriptionChanged(ctx context.Context, sub *subscription.Subscription, oldPlan, newPlan id.PlanID) {
	dispatch(ctx, r, "OnSubscriptionChanged", snapshot(r, &r.onSubscriptionChanged), func(p OnSubscriptionChanged) error {
		return p.OnSubscriptionChanged(ctx, sub, oldPlan, newPlan)
	})
}

func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription, reason string) {
	dispatch(ctx, r, "OnSubscriptionCanceled", snapshot(r, &r.onSubscriptionCanceled), func(p OnSubscriptionCanceled) error {
		return p.OnSubscriptionCanceled(ctx, sub, reason)
	})
}

func (r *Registry) EmitRenewalDue(ctx context.Context, sub *subscription.Subscription, inv *invoice.Invoice) {
	dispatch(ctx, r, "OnRenewalDue", snapshot(r, &r.onRenewalDue), func(p OnRenewalDue) error {
		return p.OnRenewalDue(ctx, sub, inv)
	})
}

func (r *Registry) EmitInvoiceCreated(ctx context.Context, inv *invoice.Invoice) {
	dispatch(ctx, r, "OnInvoiceCreated", snapshot(r, &r.onInvoiceCreated), func(p OnInvoiceCreated) error {
		return p.OnInvoiceCreated(ctx, inv)
	})
}

func (r *Registry) EmitInvoicePaid(ctx context.Context, inv *invoice.Invoice) {
	dispatch(ctx, r, "OnInvoicePaid", snapshot(r, &r.onInvoicePaid), func(p OnInvoicePaid) error {
		return p.OnInvoicePaid(ctx, inv)
	})
}

func (r *Registry) EmitInvoiceFailed(ctx context.Context, inv *invoice.Invoice, reason string) {
	dispatch(ctx, r, "OnInvoiceFailed", snapshot(r, &r.onInvoiceFailed), func(p OnInvoiceFailed) error {
		return p.OnInvoiceFailed(ctx, inv, reason)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
