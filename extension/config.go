package extension

import "time"

// Config holds the tokenledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.tokenledger" or "tokenledger" keys).
type Config struct {
	// DisableRoutes prevents the HTTP handler from being built.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableRenewals turns off the in-process renewal clock. Use it when a
	// separate worker calls SweepRenewals.
	DisableRenewals bool `json:"disable_renewals" mapstructure:"disable_renewals" yaml:"disable_renewals"`

	// BasePath is the URL prefix for tokenledger routes (default: "/tokens").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// Currency is the billing currency for plans, bundles and invoices (default: "usd").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// RenewalSchedule is the cron expression of the renewal sweep (default: "@every 1m").
	RenewalSchedule string `json:"renewal_schedule" mapstructure:"renewal_schedule" yaml:"renewal_schedule"`

	// GracePeriod is how long a renewal invoice may stay unpaid before it
	// counts as a failed payment (default: 72h).
	GracePeriod time.Duration `json:"grace_period" mapstructure:"grace_period" yaml:"grace_period"`

	// RetryInterval is the wait before a failed renewal is charged again (default: 24h).
	RetryInterval time.Duration `json:"retry_interval" mapstructure:"retry_interval" yaml:"retry_interval"`

	// SweepBatchSize bounds how many due subscriptions one sweep handles (default: 100).
	SweepBatchSize int `json:"sweep_batch_size" mapstructure:"sweep_batch_size" yaml:"sweep_batch_size"`

	// BalanceCacheSize is the number of account snapshots kept in process
	// when no Redis address is configured (default: 10000).
	BalanceCacheSize int `json:"balance_cache_size" mapstructure:"balance_cache_size" yaml:"balance_cache_size"`

	// RedisAddr, when set, moves the balance cache and idempotency records
	// into Redis so several processes share them.
	RedisAddr string `json:"redis_addr" mapstructure:"redis_addr" yaml:"redis_addr"`

	// IdempotencyTTL is how long replayable responses are kept (default: 24h).
	IdempotencyTTL time.Duration `json:"idempotency_ttl" mapstructure:"idempotency_ttl" yaml:"idempotency_ttl"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:         "/tokens",
		Currency:         "usd",
		RenewalSchedule:  "@every 1m",
		GracePeriod:      72 * time.Hour,
		RetryInterval:    24 * time.Hour,
		SweepBatchSize:   100,
		BalanceCacheSize: 10_000,
		IdempotencyTTL:   24 * time.Hour,
	}
}
