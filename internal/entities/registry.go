// Package entities holds the live entity states dashboards are evaluated
// against.
package entities

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dashd/internal/condition"
	"github.com/dokzlo13/dashd/internal/eventbus"
	"github.com/dokzlo13/dashd/internal/storage"
)

// Kind is the resource kind entity states are persisted under.
const Kind = "entity"

// ErrInvalidEntityID is returned for ids not shaped like domain.object_id.
var ErrInvalidEntityID = errors.New("invalid entity id")

// Entity is an entity id with its state.
type Entity struct {
	ID string `json:"entity_id"`
	condition.EntityState
}

// Registry is the in-memory entity state tree, optionally backed by a store
// and announcing changes on a bus.
type Registry struct {
	mu     sync.RWMutex
	states map[string]condition.EntityState

	store *storage.TypedStore[condition.EntityState]
	bus   *eventbus.Bus
}

// New creates a registry. store and bus may be nil.
func New(store *storage.TypedStore[condition.EntityState], bus *eventbus.Bus) *Registry {
	return &Registry{
		states: make(map[string]condition.EntityState),
		store:  store,
		bus:    bus,
	}
}

// Restore loads persisted states, replacing the in-memory tree.
func (r *Registry) Restore() (int, error) {
	if r.store == nil {
		return 0, nil
	}
	saved, err := r.store.GetAll()
	if err != nil {
		return 0, fmt.Errorf("failed to restore entity states: %w", err)
	}

	r.mu.Lock()
	r.states = saved
	r.mu.Unlock()
	return len(saved), nil
}

// Set stores the state of one entity. It reports whether anything changed;
// an identical update is not persisted or announced.
func (r *Registry) Set(id string, st condition.EntityState) (bool, error) {
	if !condition.IsValidEntityID(id) {
		return false, fmt.Errorf("%w: %q", ErrInvalidEntityID, id)
	}

	r.mu.Lock()
	old, existed := r.states[id]
	if existed && old.State == st.State && reflect.DeepEqual(old.Attributes, st.Attributes) {
		r.mu.Unlock()
		return false, nil
	}
	r.states[id] = st
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Set(id, st); err != nil {
			log.Error().Err(err).Str("entity_id", id).Msg("Failed to persist entity state")
		}
	}

	log.Debug().
		Str("entity_id", id).
		Str("state", st.State).
		Msg("Entity state changed")

	if r.bus != nil {
		data := map[string]interface{}{
			"entity_id": id,
			"new_state": st.State,
		}
		if existed {
			data["old_state"] = old.State
		}
		r.bus.Publish(eventbus.NewEvent(eventbus.EventTypeStateChanged, data))
	}
	return true, nil
}

// Get returns the state of one entity.
func (r *Registry) Get(id string) (condition.EntityState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[id]
	return st, ok
}

// Remove forgets an entity. Conditions then see it as unavailable.
func (r *Registry) Remove(id string) (bool, error) {
	r.mu.Lock()
	old, ok := r.states[id]
	delete(r.states, id)
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	if r.store != nil {
		if err := r.store.Delete(id); err != nil {
			return true, fmt.Errorf("failed to delete entity %s: %w", id, err)
		}
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.NewEvent(eventbus.EventTypeStateChanged, map[string]interface{}{
			"entity_id": id,
			"old_state": old.State,
			"new_state": condition.Unavailable,
		}))
	}
	return true, nil
}

// All returns every entity sorted by id.
func (r *Registry) All() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entity, 0, len(r.states))
	for id, st := range r.states {
		out = append(out, Entity{ID: id, EntityState: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns a copy of the state tree for evaluation. Attribute maps are
// shared and must not be modified.
func (r *Registry) Snapshot() map[string]condition.EntityState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]condition.EntityState, len(r.states))
	for id, st := range r.states {
		out[id] = st
	}
	return out
}

// Len returns the number of known entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
