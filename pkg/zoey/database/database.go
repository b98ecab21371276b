// Package database provides the central SQLite database for Zoey.
// A single zoey.db file holds pending reminders, contacts, known users and
// reminders whose delivery was abandoned.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "./data/zoey.db"

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Pending reminders. due_at is ISO-8601 UTC.
CREATE TABLE IF NOT EXISTS reminders (
    id          TEXT PRIMARY KEY,
    destination TEXT NOT NULL,
    task        TEXT NOT NULL,
    due_at      TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'pending',
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(status, due_at);
CREATE INDEX IF NOT EXISTS idx_reminders_dest ON reminders(destination);

-- Per-owner contact directory. name is normalized.
CREATE TABLE IF NOT EXISTS contacts (
    owner       TEXT NOT NULL,
    name        TEXT NOT NULL,
    destination TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    UNIQUE(owner, name)
);

-- Users seen by the bot (broadcast targets and behavioural preferences).
CREATE TABLE IF NOT EXISTS users (
    id          TEXT PRIMARY KEY,
    destination TEXT NOT NULL,
    name        TEXT DEFAULT '',
    concise     INTEGER DEFAULT 0,
    first_seen  TEXT NOT NULL
);

-- Reminders whose delivery failed after every retry.
CREATE TABLE IF NOT EXISTS dead_letters (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    reminder_id TEXT NOT NULL,
    destination TEXT NOT NULL,
    task        TEXT NOT NULL,
    due_at      TEXT NOT NULL,
    error       TEXT DEFAULT '',
    failed_at   TEXT NOT NULL
);
`

// Open opens (or creates) the central database at the given path.
// It enables WAL mode for concurrent read performance and creates all tables.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultPath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}
