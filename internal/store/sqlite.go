// Package store provides SQLite-backed persistence for pattern aggregates,
// rule and command candidates, and the governance audit log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates an optimistic update lost the race;
	// callers reload and retry a bounded number of times.
	ErrVersionConflict = errors.New("version conflict: row was modified concurrently")
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS patterns (
	class            TEXT NOT NULL,
	identity         TEXT NOT NULL,
	occurrence_count INTEGER NOT NULL DEFAULT 0,
	sessions_seen    INTEGER NOT NULL DEFAULT 0,
	first_seen       INTEGER NOT NULL,
	last_seen        INTEGER NOT NULL,
	examples_json    TEXT NOT NULL DEFAULT '[]',
	version          INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (class, identity)
);
CREATE INDEX IF NOT EXISTS idx_patterns_last_seen ON patterns(last_seen);

CREATE TABLE IF NOT EXISTS pattern_sessions (
	class      TEXT NOT NULL,
	identity   TEXT NOT NULL,
	session_id TEXT NOT NULL,
	PRIMARY KEY (class, identity, session_id)
);

CREATE TABLE IF NOT EXISTS rules (
	id                  TEXT PRIMARY KEY,
	text                TEXT NOT NULL,
	scope               TEXT NOT NULL,
	category            TEXT NOT NULL,
	source_pattern_ids  TEXT NOT NULL DEFAULT '[]',
	confidence          REAL NOT NULL DEFAULT 0,
	status              TEXT NOT NULL DEFAULT 'candidate',
	created_at          INTEGER NOT NULL,
	decided_at          INTEGER
);
CREATE INDEX IF NOT EXISTS idx_rules_status ON rules(status);

CREATE TABLE IF NOT EXISTS command_candidates (
	id                  TEXT PRIMARY KEY,
	command_name        TEXT NOT NULL,
	body                TEXT NOT NULL,
	scope               TEXT NOT NULL,
	category            TEXT NOT NULL,
	source_pattern_ids  TEXT NOT NULL DEFAULT '[]',
	confidence          REAL NOT NULL DEFAULT 0,
	status              TEXT NOT NULL DEFAULT 'candidate',
	created_at          INTEGER NOT NULL,
	decided_at          INTEGER
);
CREATE INDEX IF NOT EXISTS idx_commands_status ON command_candidates(status);

CREATE TABLE IF NOT EXISTS ingest_counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	item_id    TEXT NOT NULL,
	item_type  TEXT NOT NULL,
	action     TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_item ON audit_log(item_id);
`

// Open opens (creating if necessary) the SQLite database at path with WAL
// mode and a single writer connection, and runs migrations.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL allows concurrent reads but SQLite has a single writer.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
