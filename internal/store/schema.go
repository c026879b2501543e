package store

import (
	"database/sql"
	"fmt"
)

// migration is one ordered, transactional schema change. The schema
// version advances only after the migration's SQL commits successfully.
type migration struct {
	id  int
	sql string
}

// migrations is the authoritative schema definition, applied in order.
// Each entry runs inside its own transaction (see ApplySchema).
var migrations = []migration{
	{1, `
CREATE TABLE IF NOT EXISTS watches (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    url               TEXT NOT NULL,
    engine            TEXT NOT NULL DEFAULT 'http',
    extraction_mode   TEXT NOT NULL DEFAULT 'auto',
    extraction_css    TEXT NOT NULL DEFAULT '',
    strip_whitespace  INTEGER NOT NULL DEFAULT 1,
    strip_dates       INTEGER NOT NULL DEFAULT 0,
    strip_random_ids  INTEGER NOT NULL DEFAULT 0,
    filters_json      TEXT NOT NULL DEFAULT '[]',
    agent_enabled     INTEGER NOT NULL DEFAULT 0,
    agent_instr       TEXT NOT NULL DEFAULT '',
    agent_use_profile INTEGER NOT NULL DEFAULT 0,
    interval_secs     INTEGER NOT NULL DEFAULT 900,
    enabled           INTEGER NOT NULL DEFAULT 1,
    headers_json      TEXT NOT NULL DEFAULT '{}',
    cookie_file       TEXT NOT NULL DEFAULT '',
    storage_state     TEXT NOT NULL DEFAULT '',
    notify_target     TEXT NOT NULL DEFAULT '',
    tags_json         TEXT NOT NULL DEFAULT '[]',
    last_checked_at   INTEGER,
    last_hash         TEXT NOT NULL DEFAULT '',
    last_status       TEXT NOT NULL DEFAULT 'pending',
    last_error        TEXT NOT NULL DEFAULT '',
    fail_count        INTEGER NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_watches_name ON watches(name);
CREATE INDEX IF NOT EXISTS idx_watches_due ON watches(enabled, last_checked_at);

CREATE TABLE IF NOT EXISTS snapshots (
    id             TEXT PRIMARY KEY,
    watch_id       TEXT NOT NULL REFERENCES watches(id) ON DELETE CASCADE,
    fetched_at     INTEGER NOT NULL,
    raw            BLOB,
    extracted      TEXT NOT NULL,
    content_hash   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_watch ON snapshots(watch_id, fetched_at DESC);

CREATE TABLE IF NOT EXISTS changes (
    id               TEXT PRIMARY KEY,
    watch_id         TEXT NOT NULL REFERENCES watches(id) ON DELETE CASCADE,
    detected_at      INTEGER NOT NULL,
    old_snapshot_id  TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    new_snapshot_id  TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    diff             TEXT NOT NULL DEFAULT '',
    filter_passed    INTEGER NOT NULL DEFAULT 0,
    agent_response   TEXT,
    notified         INTEGER NOT NULL DEFAULT 0,
    notify_attempts  INTEGER NOT NULL DEFAULT 0,
    next_notify_at   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_changes_watch ON changes(watch_id, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_changes_pending_notify ON changes(notified, next_notify_at);

CREATE TABLE IF NOT EXISTS agent_memory (
    watch_id    TEXT PRIMARY KEY REFERENCES watches(id) ON DELETE CASCADE,
    memory_json TEXT NOT NULL DEFAULT '{}',
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS global_memory (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    memory_json TEXT NOT NULL DEFAULT '{}',
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fetch_log (
    id            TEXT PRIMARY KEY,
    watch_id      TEXT NOT NULL REFERENCES watches(id) ON DELETE CASCADE,
    status        TEXT NOT NULL,
    status_code   INTEGER NOT NULL DEFAULT 0,
    content_hash  TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    fetched_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_log_watch ON fetch_log(watch_id, fetched_at DESC);
`},
	{2, `
CREATE VIRTUAL TABLE IF NOT EXISTS changes_fts USING fts5(
    change_id UNINDEXED, watch_id UNINDEXED, diff, extracted,
    tokenize='unicode61 remove_diacritics 2'
);
`},
	{3, `
ALTER TABLE watches ADD COLUMN original_interval_secs INTEGER;
`},
	{4, `
ALTER TABLE watches ADD COLUMN last_etag TEXT NOT NULL DEFAULT '';
ALTER TABLE watches ADD COLUMN last_modified TEXT NOT NULL DEFAULT '';
`},
}

// ApplySchema runs all pending migrations against db, each in its own
// transaction, advancing a tracked schema_migrations ledger. Safe to
// call on every process start; already-applied migrations are skipped.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		id INTEGER PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.Query(`SELECT id FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[id] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.id] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.id, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.id, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (id, applied_at) VALUES (?, strftime('%s','now')*1000)`, m.id); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.id, err)
		}
	}
	return nil
}
