// Package storage persists JSON documents keyed by (kind, id) in the
// resource_state table.
package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store provides generic versioned state storage with JSON payloads.
// Every Set bumps the row version, so readers can tell how often a document
// changed since it was created.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new generic state store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves payload and version for a resource.
// Returns empty payload and version 0 if not found.
func (s *Store) Get(kind, id string) (payload []byte, version int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payloadStr string
	err = s.db.QueryRow(`
		SELECT payload, version FROM resource_state
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&payloadStr, &version)

	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	return []byte(payloadStr), version, nil
}

const upsertSQL = `
	INSERT INTO resource_state (kind, id, payload, version, updated_at)
	VALUES (?, ?, ?, 1, ?)
	ON CONFLICT(kind, id) DO UPDATE SET
		payload = excluded.payload,
		version = version + 1,
		updated_at = excluded.updated_at
`

// Set stores payload, incrementing version automatically.
func (s *Store) Set(kind, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(upsertSQL, kind, id, string(payload), time.Now().UTC().Unix())
	if err == nil {
		log.Trace().
			Str("kind", kind).
			Str("id", id).
			Int("bytes", len(payload)).
			Msg("Store.Set completed")
	}
	return err
}

// SetMany stores several payloads of one kind in a single transaction.
func (s *Store) SetMany(kind string, payloads map[string][]byte) error {
	if len(payloads) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(upsertSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Unix()
	for id, payload := range payloads {
		if _, err := stmt.Exec(kind, id, string(payload), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to store %s/%s: %w", kind, id, err)
		}
	}
	return tx.Commit()
}

// Delete removes a resource state entry.
func (s *Store) Delete(kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		DELETE FROM resource_state WHERE kind = ? AND id = ?
	`, kind, id)

	return err
}

// Clear removes all state for a kind. If kind is empty, clears all state.
func (s *Store) Clear(kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if kind == "" {
		_, err = s.db.Exec(`DELETE FROM resource_state`)
	} else {
		_, err = s.db.Exec(`DELETE FROM resource_state WHERE kind = ?`, kind)
	}

	return err
}

// Count returns the number of entries of a kind.
func (s *Store) Count(kind string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM resource_state WHERE kind = ?`, kind).Scan(&n)
	return n, err
}

// GetAll returns all entries for a kind with their versions.
func (s *Store) GetAll(kind string) (map[string][]byte, map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, payload, version FROM resource_state WHERE kind = ?
	`, kind)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	payloads := make(map[string][]byte)
	versions := make(map[string]int64)

	for rows.Next() {
		var id, payloadStr string
		var version int64

		if err := rows.Scan(&id, &payloadStr, &version); err != nil {
			return nil, nil, err
		}

		payloads[id] = []byte(payloadStr)
		versions[id] = version
	}

	return payloads, versions, rows.Err()
}
