// Package db provides a centralized database connection and schema for dashd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Visibility ledger - append-only history of element visibility changes
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS visibility_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			element_id TEXT NOT NULL DEFAULT '',
			visible INTEGER,
			timestamp INTEGER NOT NULL,
			reason TEXT,
			payload TEXT,
			idempotency_key TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_visibility_element_ts ON visibility_ledger(element_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_visibility_type_ts ON visibility_ledger(event_type, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create visibility_ledger table: %w", err)
	}

	// A replayed change with the same key is recorded once
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_visibility_idempotency
		ON visibility_ledger(idempotency_key)
		WHERE idempotency_key IS NOT NULL AND idempotency_key != '';
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_visibility_idempotency index: %w", err)
	}

	// Resource state - generic JSON state store keyed by (kind, id)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS resource_state (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			payload TEXT NOT NULL,
			version INTEGER DEFAULT 1,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (kind, id)
		);
		CREATE INDEX IF NOT EXISTS idx_resource_state_kind ON resource_state(kind);
	`)
	if err != nil {
		return fmt.Errorf("failed to create resource_state table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
