package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var tables = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_name_key ON users (lower(name))`,
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		retail_price NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (retail_price >= 0),
		wholesale_price NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (wholesale_price >= 0),
		vip_price NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (vip_price >= 0),
		on_hand NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (on_hand >= 0),
		wholesale_threshold NUMERIC(18,4) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS products_name_key ON products (lower(name))`,
	`CREATE TABLE IF NOT EXISTS price_history (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL,
		tier TEXT NOT NULL,
		old_price NUMERIC(18,4) NOT NULL,
		new_price NUMERIC(18,4) NOT NULL,
		user_id BIGINT NOT NULL,
		changed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS price_history_product_idx ON price_history (product_id, tier, changed_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		action TEXT NOT NULL,
		quantity NUMERIC(18,4) NOT NULL,
		on_hand_before NUMERIC(18,4) NOT NULL,
		on_hand_after NUMERIC(18,4) NOT NULL,
		applied_unit_price NUMERIC(18,4) NOT NULL DEFAULT 0,
		union_delta NUMERIC(18,4) NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		customer_label TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		gross_total NUMERIC(18,4) NOT NULL,
		discount NUMERIC(18,4) NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS invoice_lines (
		id BIGSERIAL PRIMARY KEY,
		invoice_id BIGINT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL REFERENCES products(id),
		quantity NUMERIC(18,4) NOT NULL CHECK (quantity > 0),
		tier TEXT NOT NULL,
		unit_price NUMERIC(18,4) NOT NULL CHECK (unit_price >= 0),
		discount NUMERIC(18,4) NOT NULL DEFAULT 0,
		is_issued BOOLEAN NOT NULL,
		note TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS invoice_lines_invoice_idx ON invoice_lines (invoice_id)`,
	`CREATE INDEX IF NOT EXISTS invoice_lines_deferred_idx ON invoice_lines (product_id) WHERE NOT is_issued`,
	`CREATE TABLE IF NOT EXISTS opening_pools (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		product_id BIGINT NOT NULL REFERENCES products(id),
		quantity NUMERIC(18,4) NOT NULL CHECK (quantity > 0),
		tier TEXT NOT NULL,
		unit_price_at_record NUMERIC(18,4) NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS overdraws (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		product_id BIGINT NOT NULL,
		quantity NUMERIC(18,4) NOT NULL,
		tier TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS union_differences (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		product_id BIGINT NOT NULL,
		quantity NUMERIC(18,4) NOT NULL,
		source_tier TEXT NOT NULL,
		export_tier TEXT NOT NULL,
		sold_unit_price NUMERIC(18,4) NOT NULL,
		export_unit_price NUMERIC(18,4) NOT NULL,
		amount NUMERIC(18,4) NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fund_transfers (
		id BIGSERIAL PRIMARY KEY,
		from_user_id BIGINT NOT NULL,
		to_user_id BIGINT,
		amount NUMERIC(18,4) NOT NULL CHECK (amount > 0),
		invoice_id BIGINT,
		note TEXT NOT NULL DEFAULT '',
		created_by BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS fund_transfers_invoice_idx ON fund_transfers (invoice_id) WHERE invoice_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		actor_id BIGINT NOT NULL,
		action TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		meta JSONB,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
}

// columns were added after the first release; older databases gain them with safe defaults.
var columns = []struct {
	table, column, definition string
}{
	{"users", "balance", "NUMERIC(18,4) NOT NULL DEFAULT 0"},
	{"stock_movements", "tier", "TEXT NOT NULL DEFAULT ''"},
	{"stock_movements", "reason", "TEXT NOT NULL DEFAULT ''"},
	{"stock_movements", "reference", "TEXT NOT NULL DEFAULT ''"},
	{"invoice_lines", "source_line_id", "BIGINT"},
	{"invoice_lines", "discharged_at", "TIMESTAMPTZ"},
	{"union_differences", "is_current_price", "BOOLEAN NOT NULL DEFAULT false"},
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS stock_movements_reference_idx ON stock_movements (reference) WHERE reference <> ''`,
}

// Migrate creates missing tables and adds missing columns.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range tables {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store/postgres: migrate: %w", err)
		}
	}
	for _, c := range columns {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", c.table, c.column, c.definition)
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store/postgres: add column %s.%s: %w", c.table, c.column, err)
		}
	}
	for _, stmt := range indexes {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store/postgres: migrate: %w", err)
		}
	}
	return nil
}
