package tokenledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/plugin"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/types"
)

// Defaults applied by New.
const (
	DefaultRenewalSchedule = "@every 1m"
	DefaultGracePeriod     = 72 * time.Hour
	DefaultRetryInterval   = 24 * time.Hour
	DefaultAppendAttempts  = 5
	DefaultSweepBatchSize  = 100
)

// Ledger is the token accounting and subscription billing engine.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	cache   balance.Cache
	clock   func() time.Time
	locks   *keyedMutex
	flight  singleflight.Group

	// Renewal clock
	cron            *cron.Cron
	renewalSchedule string
	startMu         sync.Mutex
	started         bool

	// Configuration
	currency       string
	gracePeriod    time.Duration
	retryInterval  time.Duration
	appendAttempts uint
	sweepBatchSize int
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:           s,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		clock:           time.Now,
		locks:           newKeyedMutex(),
		renewalSchedule: DefaultRenewalSchedule,
		currency:        types.DefaultCurrency,
		gracePeriod:     DefaultGracePeriod,
		retryInterval:   DefaultRetryInterval,
		appendAttempts:  DefaultAppendAttempts,
		sweepBatchSize:  DefaultSweepBatchSize,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.cache == nil {
		l.cache = balance.NewLRUCache(0)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithBalanceCache replaces the default in-process LRU balance cache.
func WithBalanceCache(c balance.Cache) Option {
	return func(l *Ledger) {
		l.cache = c
	}
}

// WithClock overrides the time source. Tests use it to drive renewals.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = now
	}
}

// WithRenewalSchedule sets the cron expression of the renewal sweep. An empty expression
// disables the background clock; SweepRenewals can still be called directly.
func WithRenewalSchedule(expr string) Option {
	return func(l *Ledger) {
		l.renewalSchedule = expr
	}
}

// WithGracePeriod sets how long a renewal charge may wait for the payment
// processor before it is treated as failed.
func WithGracePeriod(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.gracePeriod = d
		}
	}
}

// WithRetryInterval sets the delay between a failed renewal charge and the
// retry attempt.
func WithRetryInterval(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.retryInterval = d
		}
	}
}

// WithAppendAttempts bounds the retries of an append that lost a sequence race
// against another process.
func WithAppendAttempts(n uint) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.appendAttempts = n
		}
	}
}

// WithSweepBatchSize bounds the subscriptions handled per renewal sweep.
func WithSweepBatchSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.sweepBatchSize = n
		}
	}
}

// WithCurrency sets the single billing currency of the catalog.
func WithCurrency(code string) Option {
	return func(l *Ledger) {
		if code != "" {
			l.currency = types.New(0, code).Currency
		}
	}
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Currency returns the billing currency.
func (l *Ledger) Currency() string { return l.currency }

func (l *Ledger) now() time.Time { return l.clock().UTC() }

// Start migrates the store, initializes plugins and starts the renewal clock.
func (l *Ledger) Start(ctx context.Context) error {
	l.startMu.Lock()
	defer l.startMu.Unlock()

	if l.started {
		return nil
	}

	if err := l.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	l.plugins.EmitInit(ctx, l)

	if l.renewalSchedule != "" {
		c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
		if _, err := c.AddFunc(l.renewalSchedule, l.runSweep); err != nil {
			return fmt.Errorf("tokenledger: renewal schedule %q: %w", l.renewalSchedule, err)
		}
		c.Start()
		l.cron = c
	}

	l.started = true
	l.logger.Info("tokenledger started",
		"renewal_schedule", l.renewalSchedule,
		"grace_period", l.gracePeriod,
		"retry_interval", l.retryInterval,
		"currency", l.currency,
	)

	return nil
}

// Stop waits for a running sweep, shuts plugins down and closes the store.
func (l *Ledger) Stop() error {
	l.startMu.Lock()
	defer l.startMu.Unlock()

	if l.cron != nil {
		<-l.cron.Stop().Done()
		l.cron = nil
	}

	l.plugins.EmitShutdown(context.Background())
	l.started = false

	return l.store.Close()
}

func (l *Ledger) runSweep() {
	ctx := context.Background()
	res, err := l.SweepRenewals(ctx)
	var partial MultiError
	switch {
	case errors.As(err, &partial):
		for _, e := range partial.Errors {
			l.logger.Warn("renewal sweep item failed", "error", e)
		}
	case err != nil:
		l.logger.Error("renewal sweep failed", "error", err)
		return
	}
	if res.Fired > 0 || res.Expired > 0 || res.Failed > 0 {
		l.logger.Info("renewal sweep",
			"fired", res.Fired,
			"expired", res.Expired,
			"failed", res.Failed,
		)
	}
}
