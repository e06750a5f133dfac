package db

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order. Every statement is idempotent.
//
// scheduled_checks deliberately has no foreign key to feeds: a feed delete
// removes its schedule row from outside the delete's transaction, and a FK
// would make that statement wait on the transaction's row lock.
var schema = []struct {
	name string
	stmt string
}{
	{"feeds", `
CREATE TABLE IF NOT EXISTS feeds (
    id               TEXT PRIMARY KEY,
    chat_id          BIGINT NOT NULL,
    url              TEXT NOT NULL,
    title            TEXT NOT NULL DEFAULT '',
    interval_minutes INTEGER NOT NULL,
    last_item_id     TEXT NOT NULL DEFAULT '',
    enabled          BOOLEAN NOT NULL DEFAULT TRUE,
    failure_count    INTEGER NOT NULL DEFAULT 0,
    last_checked_at  TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (chat_id, url)
)`},
	{"idx_feeds_enabled", `CREATE INDEX IF NOT EXISTS idx_feeds_enabled ON feeds(enabled) WHERE enabled = TRUE`},
	{"scheduled_checks", `
CREATE TABLE IF NOT EXISTS scheduled_checks (
    feed_id          TEXT PRIMARY KEY,
    chat_id          BIGINT NOT NULL,
    feed_url         TEXT NOT NULL,
    last_item_id     TEXT NOT NULL DEFAULT '',
    interval_minutes INTEGER NOT NULL,
    scheduled_at     TIMESTAMPTZ NOT NULL
)`},
	{"dedupe_records", `
CREATE TABLE IF NOT EXISTS dedupe_records (
    feed_id    TEXT NOT NULL,
    item_id    TEXT NOT NULL,
    seen_at    TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (feed_id, item_id)
)`},
	{"idx_dedupe_records_expires_at", `CREATE INDEX IF NOT EXISTS idx_dedupe_records_expires_at ON dedupe_records(expires_at)`},
}

// MigrateUp creates the relay's tables and indexes.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	for _, s := range schema {
		if _, err := db.ExecContext(ctx, s.stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.name, err)
		}
	}
	return nil
}

// MigrateDown drops the relay's tables. All data is lost.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	for _, table := range []string{"dedupe_records", "scheduled_checks", "feeds"} {
		if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}
