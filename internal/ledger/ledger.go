// Package ledger provides an append-only history of dashboard visibility
// changes and reloads.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventVisibilityChanged EventType = "visibility_changed"
	EventDashboardReloaded EventType = "dashboard_reloaded"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID             int64          `json:"id"`
	EventType      EventType      `json:"event_type"`
	ElementID      string         `json:"element_id,omitempty"`
	Visible        *bool          `json:"visible,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Reason         string         `json:"reason,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Ledger provides append-only event logging with deduplication
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger. Entries sharing a non-empty
// idempotency key are recorded once: the first writer wins.
func (l *Ledger) Append(e *Entry) error {
	var payloadJSON []byte
	var err error

	if e.Payload != nil {
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}

	var visible sql.NullInt64
	if e.Visible != nil {
		visible.Valid = true
		if *e.Visible {
			visible.Int64 = 1
		}
	}

	_, err = l.db.Exec(`
		INSERT OR IGNORE INTO visibility_ledger
			(event_type, element_id, visible, timestamp, reason, payload, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(e.EventType), e.ElementID, visible, ts.UTC().UnixMilli(), e.Reason, string(payloadJSON), e.IdempotencyKey)

	return err
}

// RecordVisibility appends a visibility change of one element.
func (l *Ledger) RecordVisibility(idempotencyKey, elementID string, visible bool, reason string) error {
	return l.Append(&Entry{
		EventType:      EventVisibilityChanged,
		ElementID:      elementID,
		Visible:        &visible,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
	})
}

// HasRecorded checks whether an event with the given idempotency key exists
func (l *Ledger) HasRecorded(idempotencyKey string) bool {
	if idempotencyKey == "" {
		return false // Empty key = no dedupe
	}

	var exists int
	err := l.db.QueryRow(`
		SELECT 1 FROM visibility_ledger
		WHERE idempotency_key = ?
		LIMIT 1
	`, idempotencyKey).Scan(&exists)

	return err == nil && exists == 1
}

const selectColumns = `SELECT id, event_type, element_id, visible, timestamp, reason, payload, idempotency_key FROM visibility_ledger`

// History returns the most recent entries of one element, newest first
func (l *Ledger) History(elementID string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(selectColumns+`
		WHERE element_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, elementID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(selectColumns+`
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByTimeRange returns entries within a time range
func (l *Ledger) GetByTimeRange(start, end time.Time, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(selectColumns+`
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, start.UTC().UnixMilli(), end.UTC().UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`
		DELETE FROM visibility_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, reason, idempotencyKey sql.NullString
		var visible sql.NullInt64
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &entry.ElementID, &visible, &timestamp, &reason, &payloadStr, &idempotencyKey,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		if visible.Valid {
			v := visible.Int64 == 1
			entry.Visible = &v
		}
		if reason.Valid {
			entry.Reason = reason.String
		}
		if idempotencyKey.Valid {
			entry.IdempotencyKey = idempotencyKey.String
		}

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
