package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

CREATE TABLE IF NOT EXISTS user_settings (
	owner                   TEXT PRIMARY KEY,
	status_interval_seconds INTEGER,
	upload_mode             TEXT,
	updated_at              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS premium_grants (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	granted_at TEXT NOT NULL,
	expires_at TEXT,
	revoked_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_grants_owner ON premium_grants(owner);

CREATE TABLE IF NOT EXISTS task_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id     INTEGER NOT NULL,
	owner       TEXT NOT NULL,
	url         TEXT NOT NULL,
	kind        TEXT NOT NULL,
	state       TEXT NOT NULL,
	bytes_done  INTEGER NOT NULL DEFAULT 0,
	bytes_total INTEGER NOT NULL DEFAULT 0,
	files       INTEGER NOT NULL DEFAULT 0,
	error_code  TEXT,
	error       TEXT,
	created_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_owner ON task_history(owner);
`

// Open opens (creating if needed) the sqlite database at path and applies
// the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite allows a single writer; funnel everything through one
	// connection to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
