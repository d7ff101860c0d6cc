// Package extension provides the Forge extension adapter for tokenledger.
//
// It implements the forge.Extension interface to integrate the token ledger
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.tokenledger" or
// "tokenledger" keys.
package extension

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	tokenledger "github.com/xraph/tokenledger"
	"github.com/xraph/tokenledger/api"
	"github.com/xraph/tokenledger/balance"
	"github.com/xraph/tokenledger/idempotency"
	"github.com/xraph/tokenledger/store"
	"github.com/xraph/tokenledger/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "tokenledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Token ledger and subscription billing core"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts tokenledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *tokenledger.Ledger
	handler    *api.Server
	store      store.Store
	redis      redis.UniversalClient
	ownsRedis  bool
	slogger    *slog.Logger
	ledgerOpts []tokenledger.Option
}

// New creates a new tokenledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *tokenledger.Ledger { return e.engine }

// Handler returns the HTTP handler serving the tokenledger routes, or nil
// when routes are disabled. Mount it on the application's router.
func (e *Extension) Handler() http.Handler {
	if e.handler == nil {
		return nil
	}
	return e.handler
}

// Register implements [forge.Extension]. It loads configuration,
// initializes the ledger engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.build(); err != nil {
		return err
	}

	return vessel.Provide(fapp.Container(), func() (*tokenledger.Ledger, error) {
		return e.engine, nil
	})
}

// build wires the store, caches, engine and HTTP handler from e.config.
func (e *Extension) build() error {
	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	if e.redis == nil && e.config.RedisAddr != "" {
		e.redis = redis.NewClient(&redis.Options{Addr: e.config.RedisAddr})
		e.ownsRedis = true
	}

	eng := tokenledger.New(e.store, e.buildLedgerOpts()...)
	e.engine = eng

	if !e.config.DisableRoutes {
		apiOpts := []api.Option{
			api.WithBasePath(e.config.BasePath),
			api.WithIdempotencyStore(e.idempotencyStore()),
		}
		if logger := e.logger(); logger != nil {
			apiOpts = append(apiOpts, api.WithLogger(logger))
		}
		e.handler = api.NewServer(eng, apiOpts...)
	}
	return nil
}

func (e *Extension) idempotencyStore() idempotency.Store {
	if e.redis != nil {
		return idempotency.NewRedisStore(e.redis, "tokenledger:idem:", e.config.IdempotencyTTL)
	}
	return idempotency.NewMemoryStore(0, e.config.IdempotencyTTL)
}

// logger returns the slog logger handed to the engine and HTTP handler, if any.
func (e *Extension) logger() *slog.Logger { return e.slogger }

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("tokenledger: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	defer e.MarkStopped()

	var errs []error
	if e.engine != nil {
		errs = append(errs, e.engine.Stop())
	}
	if e.ownsRedis && e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	return errors.Join(errs...)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("tokenledger: store not initialized")
	}
	if err := e.store.Ping(ctx); err != nil {
		return err
	}
	if e.redis != nil {
		return e.redis.Ping(ctx).Err()
	}
	return nil
}

// buildLedgerOpts constructs tokenledger.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []tokenledger.Option {
	opts := make([]tokenledger.Option, 0, len(e.ledgerOpts)+8)

	opts = append(opts,
		tokenledger.WithCurrency(e.config.Currency),
		tokenledger.WithGracePeriod(e.config.GracePeriod),
		tokenledger.WithRetryInterval(e.config.RetryInterval),
		tokenledger.WithSweepBatchSize(e.config.SweepBatchSize),
	)

	if e.config.DisableRenewals {
		opts = append(opts, tokenledger.WithRenewalSchedule(""))
	} else if e.config.RenewalSchedule != "" {
		opts = append(opts, tokenledger.WithRenewalSchedule(e.config.RenewalSchedule))
	}

	if e.redis != nil {
		opts = append(opts, tokenledger.WithBalanceCache(balance.NewRedisCache(e.redis, "tokenledger:balance", 0)))
	} else if e.config.BalanceCacheSize > 0 {
		opts = append(opts, tokenledger.WithBalanceCache(balance.NewLRUCache(e.config.BalanceCacheSize)))
	}

	if logger := e.logger(); logger != nil {
		opts = append(opts, tokenledger.WithLogger(logger))
	}

	// Append any pass-through ledger options.
	opts = append(opts, e.ledgerOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("tokenledger: configuration is required but not found in config files; " +
				"ensure 'extensions.tokenledger' or 'tokenledger' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("tokenledger: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_renewals", e.config.DisableRenewals),
		forge.F("base_path", e.config.BasePath),
		forge.F("currency", e.config.Currency),
		forge.F("renewal_schedule", e.config.RenewalSchedule),
		forge.F("grace_period", e.config.GracePeriod),
		forge.F("retry_interval", e.config.RetryInterval),
		forge.F("redis", e.config.RedisAddr != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.tokenledger" first (namespaced pattern).
	if cm.IsSet("extensions.tokenledger") {
		if err := cm.Bind("extensions.tokenledger", &cfg); err == nil {
			e.Logger().Debug("tokenledger: loaded config from file",
				forge.F("key", "extensions.tokenledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("tokenledger: failed to bind extensions.tokenledger config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "tokenledger" key.
	if cm.IsSet("tokenledger") {
		if err := cm.Bind("tokenledger", &cfg); err == nil {
			e.Logger().Debug("tokenledger: loaded config from file",
				forge.F("key", "tokenledger"),
			)
			return cfg, true
		}
		e.Logger().Warn("tokenledger: failed to bind tokenledger config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.RenewalSchedule == "" {
		cfg.RenewalSchedule = defaults.RenewalSchedule
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = defaults.GracePeriod
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = defaults.SweepBatchSize
	}
	if cfg.BalanceCacheSize == 0 {
		cfg.BalanceCacheSize = defaults.BalanceCacheSize
	}
	if cfg.IdempotencyTTL == 0 {
		cfg.IdempotencyTTL = defaults.IdempotencyTTL
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableRenewals {
		yamlConfig.DisableRenewals = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.Currency == "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}
	if yamlConfig.RenewalSchedule == "" {
		yamlConfig.RenewalSchedule = programmaticConfig.RenewalSchedule
	}
	if yamlConfig.RedisAddr == "" {
		yamlConfig.RedisAddr = programmaticConfig.RedisAddr
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.GracePeriod == 0 {
		yamlConfig.GracePeriod = programmaticConfig.GracePeriod
	}
	if yamlConfig.RetryInterval == 0 {
		yamlConfig.RetryInterval = programmaticConfig.RetryInterval
	}
	if yamlConfig.SweepBatchSize == 0 {
		yamlConfig.SweepBatchSize = programmaticConfig.SweepBatchSize
	}
	if yamlConfig.BalanceCacheSize == 0 {
		yamlConfig.BalanceCacheSize = programmaticConfig.BalanceCacheSize
	}
	if yamlConfig.IdempotencyTTL == 0 {
		yamlConfig.IdempotencyTTL = programmaticConfig.IdempotencyTTL
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
