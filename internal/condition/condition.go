// Package condition implements the visibility rule language used by dashboard
// elements: a tree of leaf conditions (state, numeric_state, screen, user, time)
// combined with and/or/not.
//
// Trees are decoded once from dashboard configuration and never mutated.
// Evaluation, extraction and validation are pure functions over a tree and a
// caller-owned Snapshot.
package condition

import "time"

// Kind is the discriminator stored in the `condition` field.
type Kind string

const (
	KindState        Kind = "state"
	KindNumericState Kind = "numeric_state"
	KindScreen       Kind = "screen"
	KindUser         Kind = "user"
	KindTime         Kind = "time"
	KindAnd          Kind = "and"
	KindOr           Kind = "or"
	KindNot          Kind = "not"

	// KindLegacy marks the condition-less {entity, state, state_not} shorthand.
	// It is never written back to configuration.
	KindLegacy Kind = ""
)

// Unavailable is the value a missing entity compares as.
const Unavailable = "unavailable"

// Condition is a node of a condition tree. The set of implementations is closed;
// use a type switch over the concrete types below.
type Condition interface {
	Kind() Kind
	isCondition()
}

// List is an ordered list of conditions. A top-level List is an implicit AND.
type List []Condition

// StateCondition holds when the entity's state is (or is not) in a set of values.
type StateCondition struct {
	Entity   string
	State    StringList
	StateNot StringList
}

// LegacyStateCondition is the pre-`condition:` shorthand. It evaluates exactly
// like StateCondition.
type LegacyStateCondition struct {
	Entity   string
	State    StringList
	StateNot StringList
}

// NumericStateCondition holds when the entity's numeric state lies strictly
// between Above and Below.
type NumericStateCondition struct {
	Entity string
	Above  *Threshold
	Below  *Threshold
}

// ScreenCondition holds when MediaQuery currently matches the viewport.
type ScreenCondition struct {
	MediaQuery *string
}

// UserCondition holds when the current user id is listed.
type UserCondition struct {
	Users []string
}

// TimeCondition holds inside the [After, Before) window on one of Weekdays.
type TimeCondition struct {
	After    *string
	Before   *string
	Weekdays []string
}

// AndCondition holds when every child holds. A nil Conditions means the field
// was absent; an empty non-nil slice means it was present but empty.
type AndCondition struct {
	Conditions List
}

// OrCondition holds when any child holds.
type OrCondition struct {
	Conditions List
}

// NotCondition holds when the AND of its children does not hold.
type NotCondition struct {
	Conditions List
}

func (*StateCondition) Kind() Kind        { return KindState }
func (*LegacyStateCondition) Kind() Kind  { return KindLegacy }
func (*NumericStateCondition) Kind() Kind { return KindNumericState }
func (*ScreenCondition) Kind() Kind       { return KindScreen }
func (*UserCondition) Kind() Kind         { return KindUser }
func (*TimeCondition) Kind() Kind         { return KindTime }
func (*AndCondition) Kind() Kind          { return KindAnd }
func (*OrCondition) Kind() Kind           { return KindOr }
func (*NotCondition) Kind() Kind          { return KindNot }

func (*StateCondition) isCondition()        {}
func (*LegacyStateCondition) isCondition()  {}
func (*NumericStateCondition) isCondition() {}
func (*ScreenCondition) isCondition()       {}
func (*UserCondition) isCondition()         {}
func (*TimeCondition) isCondition()         {}
func (*AndCondition) isCondition()          {}
func (*OrCondition) isCondition()           {}
func (*NotCondition) isCondition()          {}

// children returns the nested list of a combinator, or nil for leaves.
func children(c Condition) List {
	switch v := c.(type) {
	case *AndCondition:
		return v.Conditions
	case *OrCondition:
		return v.Conditions
	case *NotCondition:
		return v.Conditions
	}
	return nil
}

// EntityState is one entry of the live state tree.
type EntityState struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// MediaMatcher reports whether a CSS media query currently matches.
type MediaMatcher interface {
	Matches(query string) bool
}

// Snapshot is the read-only view of live state a tree is evaluated against.
// It is owned by the caller and must not change during one evaluation.
type Snapshot struct {
	States   map[string]EntityState
	UserID   string
	Location *time.Location
	// Now is the instant used for time conditions. Zero means time.Now().
	Now   time.Time
	Media MediaMatcher
}

func (s *Snapshot) now() time.Time {
	if s == nil || s.Now.IsZero() {
		return time.Now()
	}
	return s.Now
}

func (s *Snapshot) location() *time.Location {
	if s == nil || s.Location == nil {
		return time.Local
	}
	return s.Location
}

func (s *Snapshot) lookup(entityID string) (EntityState, bool) {
	if s == nil || s.States == nil || entityID == "" {
		return EntityState{}, false
	}
	st, ok := s.States[entityID]
	return st, ok
}

// stateOf returns the entity's state, or Unavailable when it is not known.
func (s *Snapshot) stateOf(entityID string) string {
	st, ok := s.lookup(entityID)
	if !ok {
		return Unavailable
	}
	return st.State
}
