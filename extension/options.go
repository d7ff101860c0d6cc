package extension

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	tokenledger "github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/plugin"
	"github.com/xraph/tokenledger/store"
)

// Option configures the tokenledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithRedis uses an existing Redis client instead of dialing RedisAddr.
func WithRedis(client redis.UniversalClient) Option {
	return func(e *Extension) {
		e.redis = client
	}
}

// WithLogger sets the structured logger used by the engine and HTTP handler.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) {
		e.slogger = logger
	}
}

// WithLedgerOption passes a tokenledger.Option through to the underlying engine.
func WithLedgerOption(opt tokenledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a tokenledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, tokenledger.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents the HTTP handler from being built.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableRenewals turns off the in-process renewal clock.
func WithDisableRenewals() Option {
	return func(e *Extension) { e.config.DisableRenewals = true }
}

// WithBasePath sets the URL prefix for tokenledger routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithGracePeriod sets how long a renewal invoice may stay unpaid.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Extension) { e.config.GracePeriod = d }
}

// WithRetryInterval sets the wait before a failed renewal is retried.
func WithRetryInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.RetryInterval = d }
}

// WithRenewalSchedule sets the cron expression of the renewal sweep.
func WithRenewalSchedule(expr string) Option {
	return func(e *Extension) { e.config.RenewalSchedule = expr }
}

// WithRedisAddr moves the balance cache and idempotency records into Redis.
func WithRedisAddr(addr string) Option {
	return func(e *Extension) { e.config.RedisAddr = addr }
}
