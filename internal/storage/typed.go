package storage

import (
	"encoding/json"
	"fmt"
)

// TypedStore wraps Store with JSON marshaling for a specific type.
type TypedStore[T any] struct {
	store *Store
	kind  string
}

// NewTypedStore creates a new typed store wrapper for the given kind.
func NewTypedStore[T any](store *Store, kind string) *TypedStore[T] {
	return &TypedStore[T]{
		store: store,
		kind:  kind,
	}
}

// Kind returns the resource kind this store handles.
func (s *TypedStore[T]) Kind() string {
	return s.kind
}

// Get retrieves and unmarshals the state for an ID.
// Returns zero value and version 0 if not found.
func (s *TypedStore[T]) Get(id string) (value T, version int64, err error) {
	payload, version, err := s.store.Get(s.kind, id)
	if err != nil {
		return value, 0, err
	}

	if payload == nil {
		return value, 0, nil
	}

	if err := json.Unmarshal(payload, &value); err != nil {
		return value, 0, fmt.Errorf("failed to unmarshal %s/%s: %w", s.kind, id, err)
	}

	return value, version, nil
}

// Set marshals and stores the state for an ID.
func (s *TypedStore[T]) Set(id string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", s.kind, id, err)
	}

	return s.store.Set(s.kind, id, payload)
}

// SetAll marshals and stores every value in one transaction.
func (s *TypedStore[T]) SetAll(values map[string]T) error {
	payloads := make(map[string][]byte, len(values))
	for id, value := range values {
		payload, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s/%s: %w", s.kind, id, err)
		}
		payloads[id] = payload
	}
	return s.store.SetMany(s.kind, payloads)
}

// Delete removes the state for an ID.
func (s *TypedStore[T]) Delete(id string) error {
	return s.store.Delete(s.kind, id)
}

// Clear removes all state for this kind.
func (s *TypedStore[T]) Clear() error {
	return s.store.Clear(s.kind)
}

// Count returns the number of stored entries.
func (s *TypedStore[T]) Count() (int, error) {
	return s.store.Count(s.kind)
}

// GetAll retrieves all entries for this kind.
func (s *TypedStore[T]) GetAll() (map[string]T, error) {
	payloads, _, err := s.store.GetAll(s.kind)
	if err != nil {
		return nil, err
	}

	values := make(map[string]T, len(payloads))
	for id, payload := range payloads {
		var value T
		if err := json.Unmarshal(payload, &value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s/%s: %w", s.kind, id, err)
		}
		values[id] = value
	}

	return values, nil
}

// Update applies a modification function to the current state.
// If the ID doesn't exist, the modify function receives the zero value.
func (s *TypedStore[T]) Update(id string, modify func(current T) T) error {
	current, _, err := s.Get(id)
	if err != nil {
		return err
	}

	return s.Set(id, modify(current))
}
