package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		asin TEXT,
		storefront_id TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT true,
		price DOUBLE PRECISION NOT NULL DEFAULT 0,
		stock INTEGER NOT NULL DEFAULT 0,
		erp_obs TEXT NOT NULL DEFAULT '',
		storefront_price DOUBLE PRECISION,
		sync_error BOOLEAN NOT NULL DEFAULT false,
		sync_error_message TEXT NOT NULL DEFAULT '',
		last_sync_at TIMESTAMPTZ,
		pricing JSONB NOT NULL DEFAULT '{}'::jsonb,
		competitor_checked_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS products_asin_key ON products (asin) WHERE asin IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS products_competitor_check_idx ON products (competitor_checked_at NULLS FIRST) WHERE active AND asin IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS pending_actions (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		sku TEXT NOT NULL DEFAULT '',
		action_type TEXT NOT NULL,
		priority TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		data JSONB NOT NULL DEFAULT '{}'::jsonb,
		status TEXT NOT NULL,
		occurrence_count INTEGER NOT NULL DEFAULT 1,
		first_detected TIMESTAMPTZ NOT NULL,
		last_checked TIMESTAMPTZ NOT NULL,
		auto_resolve_enabled BOOLEAN NOT NULL DEFAULT true,
		resolved_at TIMESTAMPTZ,
		resolved_by TEXT NOT NULL DEFAULT '',
		resolution_note TEXT NOT NULL DEFAULT '',
		resolution_method TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	// at most one open action per (product, type)
	`CREATE UNIQUE INDEX IF NOT EXISTS pending_actions_open_key ON pending_actions (product_id, action_type)
		WHERE status IN ('pending', 'in_progress')`,
	`CREATE INDEX IF NOT EXISTS pending_actions_status_idx ON pending_actions (status, priority)`,
	`CREATE TABLE IF NOT EXISTS price_history (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		sku TEXT NOT NULL,
		before_snapshot JSONB NOT NULL,
		after_snapshot JSONB NOT NULL,
		trigger_context JSONB NOT NULL,
		strategy TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		actor JSONB NOT NULL,
		changed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS price_history_product_idx ON price_history (product_id, changed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS pricing_config (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		config JSONB NOT NULL,
		updated_by TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the tables and indexes the store needs. Every statement is
// idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
