package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements create the tables the engine needs. Idempotent so
// startup can always run them.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS crawl_tasks (
		id            UUID PRIMARY KEY,
		type          TEXT NOT NULL,
		target_site   TEXT NOT NULL,
		params        JSONB NOT NULL DEFAULT '{}',
		priority      INTEGER NOT NULL DEFAULT 0,
		status        TEXT NOT NULL DEFAULT 'pending',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at    TIMESTAMPTZ,
		ended_at      TIMESTAMPTZ,
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_crawl_tasks_status_priority
		ON crawl_tasks (status, priority DESC, created_at ASC)`,
	`CREATE TABLE IF NOT EXISTS sale_records (
		id       BIGSERIAL PRIMARY KEY,
		isbn     TEXT NOT NULL,
		site     TEXT NOT NULL,
		shop_id  TEXT NOT NULL DEFAULT '',
		title    TEXT NOT NULL DEFAULT '',
		price    NUMERIC(10,2) NOT NULL DEFAULT 0,
		quality  TEXT NOT NULL DEFAULT '',
		sold_at  TIMESTAMPTZ NOT NULL,
		seen_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_records_isbn_sold
		ON sale_records (isbn, sold_at DESC)`,
	`CREATE TABLE IF NOT EXISTS book_listings (
		id        BIGSERIAL PRIMARY KEY,
		isbn      TEXT NOT NULL DEFAULT '',
		item_id   TEXT NOT NULL DEFAULT '',
		shop_id   TEXT NOT NULL,
		title     TEXT NOT NULL,
		author    TEXT NOT NULL DEFAULT '',
		publisher TEXT NOT NULL DEFAULT '',
		quality   TEXT NOT NULL DEFAULT '',
		price     NUMERIC(10,2) NOT NULL DEFAULT 0,
		url       TEXT NOT NULL DEFAULT '',
		seen_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (shop_id, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS price_quotes (
		id         BIGSERIAL PRIMARY KEY,
		isbn       TEXT NOT NULL,
		site       TEXT NOT NULL,
		price      NUMERIC(10,2) NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_price_quotes_isbn_site
		ON price_quotes (isbn, site, fetched_at DESC)`,
}

// EnsureSchema creates any missing tables and indexes.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
