package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the tokenledger store (SQLite).
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
    sequence_no         INTEGER NOT NULL,
    timestamp           TEXT NOT NULL,
    amount              INTEGER NOT NULL CHECK (amount > 0),
    kind                TEXT NOT NULL,
    category            TEXT NOT NULL DEFAULT 'general',
    description         TEXT NOT NULL DEFAULT '',
    idempotency_key     TEXT NOT NULL,
    invoice_id          TEXT NOT NULL DEFAULT '',
    resulting_available INTEGER NOT NULL CHECK (resulting_available >= 0),
    resulting_total     INTEGER NOT NULL,
    resulting_spent     INTEGER NOT NULL
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
    price_monthly_cents INTEGER NOT NULL DEFAULT 0,
    price_annual_cents  INTEGER NOT NULL DEFAULT 0,
    currency            TEXT NOT NULL DEFAULT 'usd',
    features            TEXT NOT NULL DEFAULT '[]',
    token_allowance     INTEGER NOT NULL DEFAULT 0,
    status              TEXT NOT NULL DEFAULT 'active',
    created_at          TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at          TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_ledger_plans_status ON ledger_plans (status, created_at);

CREATE TABLE IF NOT EXISTS ledger_bundles (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    token_count INTEGER NOT NULL DEFAULT 0,
    price_cents INTEGER NOT NULL DEFAULT 0,
    currency    TEXT NOT NULL DEFAULT 'usd',
    popular     INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT 'active',
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
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
    next_billing_date  TEXT NOT NULL,
    auto_renew         INTEGER NOT NULL DEFAULT 1,
    cycle_count        INTEGER NOT NULL DEFAULT 0,
    failed_attempts    INTEGER NOT NULL DEFAULT 0,
    retry_at           TEXT,
    pending_invoice_id TEXT NOT NULL DEFAULT '',
    pending_since      TEXT,
    canceled_at        TEXT,
    created_at         TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
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
    date            TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    amount_cents    INTEGER NOT NULL DEFAULT 0 CHECK (amount_cents >= 0),
    currency        TEXT NOT NULL DEFAULT 'usd',
    status          TEXT NOT NULL DEFAULT 'pending',
    subscription_id TEXT NOT NULL DEFAULT '',
    bundle_id       TEXT NOT NULL DEFAULT '',
    token_count     INTEGER NOT NULL DEFAULT 0,
    settled_at      TEXT,
    payment_ref     TEXT NOT NULL DEFAULT '',
    failure_reason  TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
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
