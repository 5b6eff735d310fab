package condition

import (
	"math"
	"strconv"
	"strings"
)

// CheckConditionsMet evaluates conds as an implicit AND. An empty list holds.
func CheckConditionsMet(conds List, s *Snapshot) bool {
	for _, c := range conds {
		if !Evaluate(c, s) {
			return false
		}
	}
	return true
}

// Evaluate evaluates a single condition against s. Malformed conditions
// evaluate to false; Evaluate never panics on bad data.
func Evaluate(c Condition, s *Snapshot) bool {
	switch v := c.(type) {
	case *StateCondition:
		return checkState(v.Entity, v.State, v.StateNot, s)
	case *LegacyStateCondition:
		return checkState(v.Entity, v.State, v.StateNot, s)
	case *NumericStateCondition:
		return checkNumericState(v, s)
	case *ScreenCondition:
		return checkScreen(v, s)
	case *UserCondition:
		return checkUser(v, s)
	case *TimeCondition:
		return CheckTimeInRange(v, s.now(), s.location())
	case *AndCondition:
		// absent or empty children place no constraint
		return CheckConditionsMet(v.Conditions, s)
	case *OrCondition:
		if len(v.Conditions) == 0 {
			return true
		}
		for _, child := range v.Conditions {
			if Evaluate(child, s) {
				return true
			}
		}
		return false
	case *NotCondition:
		if v.Conditions == nil {
			return true
		}
		return !CheckConditionsMet(v.Conditions, s)
	}
	return false
}

// checkState compares the entity's state against the configured values. Each
// value that names a known entity also contributes that entity's live state.
func checkState(entity string, state, stateNot StringList, s *Snapshot) bool {
	values := state
	if values == nil {
		values = stateNot
	}
	if values == nil {
		return false
	}

	current := s.stateOf(entity)
	found := false
	for _, v := range values {
		if v == current {
			found = true
			break
		}
		if resolved, ok := s.resolveEntityValue(v); ok && resolved == current {
			found = true
			break
		}
	}

	if state != nil {
		return found
	}
	return !found
}

func checkNumericState(c *NumericStateCondition, s *Snapshot) bool {
	st, ok := s.lookup(c.Entity)
	if !ok {
		return false
	}
	value, ok := parseNumber(st.State)
	if !ok {
		return false
	}

	if above, ok := resolveBound(c.Above, s); ok && !(above < value) {
		return false
	}
	if below, ok := resolveBound(c.Below, s); ok && !(value < below) {
		return false
	}
	return true
}

// resolveBound returns the numeric value of a bound. A bound that is absent or
// does not resolve to a number is reported as not applicable.
func resolveBound(t *Threshold, s *Snapshot) (float64, bool) {
	if t == nil {
		return 0, false
	}
	if t.IsNumber() {
		return t.num, !math.IsNaN(t.num)
	}
	raw := t.String()
	if resolved, ok := s.resolveEntityValue(raw); ok {
		raw = resolved
	}
	return parseNumber(raw)
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func checkScreen(c *ScreenCondition, s *Snapshot) bool {
	if c.MediaQuery == nil || *c.MediaQuery == "" || s == nil || s.Media == nil {
		return false
	}
	return s.Media.Matches(*c.MediaQuery)
}

func checkUser(c *UserCondition, s *Snapshot) bool {
	if c.Users == nil || s == nil || s.UserID == "" {
		return false
	}
	for _, u := range c.Users {
		if u == s.UserID {
			return true
		}
	}
	return false
}
