package entities

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/dokzlo13/dashd/internal/condition"
)

// IngestPaths are gjson paths locating the entity id, state and attributes in a
// posted event.
type IngestPaths struct {
	Entity     string
	State      string
	Attributes string
}

// DefaultIngestPaths match a Home Assistant state_changed event.
var DefaultIngestPaths = IngestPaths{
	Entity:     "data.entity_id",
	State:      "data.new_state.state",
	Attributes: "data.new_state.attributes",
}

// IngestResult summarizes one ingestion call.
type IngestResult struct {
	Received int      `json:"received"`
	Changed  []string `json:"changed"`
	Removed  []string `json:"removed"`
}

// IngestJSON applies one event, or an array of events, to the registry. An
// event whose state is null removes the entity.
func (r *Registry) IngestJSON(data []byte, paths IngestPaths) (*IngestResult, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}

	root := gjson.ParseBytes(data)
	events := []gjson.Result{root}
	if root.IsArray() {
		events = root.Array()
	}

	res := &IngestResult{Changed: []string{}, Removed: []string{}}
	for i, ev := range events {
		res.Received++

		id := ev.Get(paths.Entity)
		if id.Type != gjson.String || id.String() == "" {
			return res, fmt.Errorf("event %d: no entity id at %q", i, paths.Entity)
		}
		state := ev.Get(paths.State)
		if !state.Exists() {
			return res, fmt.Errorf("event %d: no state at %q", i, paths.State)
		}

		if state.Type == gjson.Null {
			removed, err := r.Remove(id.String())
			if err != nil {
				return res, fmt.Errorf("event %d: %w", i, err)
			}
			if removed {
				res.Removed = append(res.Removed, id.String())
			}
			continue
		}

		st := condition.EntityState{State: state.String()}
		if paths.Attributes != "" {
			if attrs := ev.Get(paths.Attributes); attrs.IsObject() {
				if m, ok := attrs.Value().(map[string]interface{}); ok && len(m) > 0 {
					st.Attributes = m
				}
			}
		}

		changed, err := r.Set(id.String(), st)
		if err != nil {
			return res, fmt.Errorf("event %d: %w", i, err)
		}
		if changed {
			res.Changed = append(res.Changed, id.String())
		}
	}
	return res, nil
}
