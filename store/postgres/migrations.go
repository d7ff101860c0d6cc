package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the tokenledger store.
var Migrations = migrate.NewGroup("tokenledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_ledger_transactions",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_transactions (
    id                  TEXT PRIMARY KEY,
    account_id          TEXT NOT NULL,
    sequence_no         BIGINT NOT NULL,
    timestamp           TIMESTAMPTZ NOT NULL,
    amount              BIGINT NOT NULL CHECK (amount > 0),
    kind                TEXT NOT NULL,
    category            TEXT NOT NULL DEFAULT 'general',
    description         TEXT NOT NULL DEFAULT '',
    idempotency_key     TEXT NOT NULL,
    invoice_id          TEXT NOT NULL DEFAULT '',
    resulting_available BIGINT NOT NULL CHECK (resulting_available >= 0),
    resulting_total     BIGINT NOT NULL,
    resulting_spent     BIGINT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_tx_account_seq ON ledger_transactions (account_id, sequence_no);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_tx_account_key ON ledger_transactions (account_id, idempotency_key);
CREATE INDEX IF NOT EXISTS idx_ledger_tx_account_ts ON ledger_transactions (account_id, timestamp);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_transactions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_catalog",
			Version: "20250301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_plans (
    id                  TEXT PRIMARY KEY,
    name                TEXT NOT NULL DEFAULT '',
    slug                TEXT NOT NULL DEFAULT '',
    description         TEXT NOT NULL DEFAULT '',
    price_monthly_cents BIGINT NOT NULL DEFAULT 0,
    price_annual_cents  BIGINT NOT NULL DEFAULT 0,
    currency            TEXT NOT NULL DEFAULT 'usd',
    features            JSONB NOT NULL DEFAULT '[]',
    token_allowance     BIGINT NOT NULL DEFAULT 0,
    status              TEXT NOT NULL DEFAULT 'active',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ledger_plans_status ON ledger_plans (status, created_at);

CREATE TABLE IF NOT EXISTS ledger_bundles (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    token_count BIGINT NOT NULL DEFAULT 0,
    price_cents BIGINT NOT NULL DEFAULT 0,
    currency    TEXT NOT NULL DEFAULT 'usd',
    popular     BOOLEAN NOT NULL DEFAULT FALSE,
    status      TEXT NOT NULL DEFAULT 'active',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ledger_bundles_status ON ledger_bundles (status, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_bundles; DROP TABLE IF EXISTS ledger_plans`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_subscriptions",
			Version: "20250301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_subscriptions (
    id                 TEXT PRIMARY KEY,
    account_id         TEXT NOT NULL,
    plan_id            TEXT NOT NULL,
    billing_cycle      TEXT NOT NULL DEFAULT 'monthly',
    status             TEXT NOT NULL DEFAULT 'active',
    next_billing_date  TIMESTAMPTZ NOT NULL,
    auto_renew         BOOLEAN NOT NULL DEFAULT TRUE,
    cycle_count        INT NOT NULL DEFAULT 0,
    failed_attempts    INT NOT NULL DEFAULT 0,
    retry_at           TIMESTAMPTZ,
    pending_invoice_id TEXT NOT NULL DEFAULT '',
    pending_since      TIMESTAMPTZ,
    canceled_at        TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_subs_account ON ledger_subscriptions (account_id);
CREATE INDEX IF NOT EXISTS idx_ledger_subs_due ON ledger_subscriptions (status, next_billing_date);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ledger_invoices",
			Version: "20250301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_invoices (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL,
    kind            TEXT NOT NULL,
    correlation_id  TEXT NOT NULL,
    date            TIMESTAMPTZ NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    amount_cents    BIGINT NOT NULL DEFAULT 0 CHECK (amount_cents >= 0),
    currency        TEXT NOT NULL DEFAULT 'usd',
    status          TEXT NOT NULL DEFAULT 'pending',
    subscription_id TEXT NOT NULL DEFAULT '',
    bundle_id       TEXT NOT NULL DEFAULT '',
    token_count     BIGINT NOT NULL DEFAULT 0,
    settled_at      TIMESTAMPTZ,
    payment_ref     TEXT NOT NULL DEFAULT '',
    failure_reason  TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_invoices_correlation ON ledger_invoices (account_id, correlation_id);
CREATE INDEX IF NOT EXISTS idx_ledger_invoices_account_date ON ledger_invoices (account_id, date DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_invoices_sub ON ledger_invoices (subscription_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ledger_invoices`)
				return err
			},
		},
	)
}
