// Package store provides the embedded SQLite persistence layer for the
// scanner sync service.
//
// The database runs in embedded mode with WAL enabled so the HTTP handlers
// can read concurrently while a push commits. It holds the append-only event
// log, the mutation ledger used for idempotent retries, the current-state
// tables the baseline endpoint serves from, and the users/sessions tables the
// auth boundary checks against.
//
// All sequence-number bookkeeping lives here: server sequence numbers are
// assigned inside the push transaction, never by in-process counters, so
// correctness holds across multiple server instances pointed at the same
// database file.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection pool with sync-specific functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, the file is created; call InitSchema to
// create the tables.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	// WAL mode for concurrent reads during push commits
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Contending pushes wait on the write lock instead of failing immediately
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
//
// Idempotent - safe to call multiple times.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	-- Append-only event log. server_seq is unique per scope and assigned
	-- inside the push transaction; rows are never updated or deleted.
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		server_seq INTEGER NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		dedupe_key TEXT,
		UNIQUE (scope, server_seq)
	);

	CREATE INDEX IF NOT EXISTS idx_events_scope_seq ON events(scope, server_seq);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedupe
	    ON events(scope, dedupe_key) WHERE dedupe_key IS NOT NULL;

	-- Mutation ledger: one row per accepted push, keyed by the client's
	-- idempotency id. client_id is audit metadata, not part of the key.
	CREATE TABLE IF NOT EXISTS mutations (
		client_mutation_id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		client_id TEXT NOT NULL,
		event_count INTEGER NOT NULL,
		first_server_seq INTEGER NOT NULL,
		last_server_seq INTEGER NOT NULL,
		applied_at TEXT NOT NULL
	);

	-- Current-state tables the baseline endpoint pages over. Updated by the
	-- projector inside the same transaction that commits events.
	CREATE TABLE IF NOT EXISTS inventory_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 0,
		retired INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		holder TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'issued',
		scanned_at TEXT,
		updated_at TEXT NOT NULL
	);

	-- Scanner auth: active web-app users and their sessions.
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		deactivated INTEGER NOT NULL DEFAULT 0,
		permissions TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
