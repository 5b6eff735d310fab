package condition

import "strings"

// IsValidEntityID reports whether s has the shape `domain.object_id`: both parts
// made of lowercase letters, digits and underscores, neither part starting or
// ending with an underscore, and no double underscore anywhere.
func IsValidEntityID(s string) bool {
	domain, object, ok := strings.Cut(s, ".")
	if !ok || strings.Contains(s, "__") {
		return false
	}
	return validSlug(domain) && validSlug(object)
}

func validSlug(s string) bool {
	if s == "" || s[0] == '_' || s[len(s)-1] == '_' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

// resolveEntityValue returns the live state of value when value names a known
// entity.
func (s *Snapshot) resolveEntityValue(value string) (string, bool) {
	if !IsValidEntityID(value) {
		return "", false
	}
	st, ok := s.lookup(value)
	if !ok {
		return "", false
	}
	return st.State, true
}

// AddEntityToConditions returns a copy of conds where every state,
// numeric_state and legacy leaf without an entity reads entityID instead.
// Nested combinators are copied recursively; the input is left untouched.
func AddEntityToConditions(conds List, entityID string) List {
	if conds == nil {
		return nil
	}
	out := make(List, 0, len(conds))
	for _, c := range conds {
		out = append(out, addEntity(c, entityID))
	}
	return out
}

func addEntity(c Condition, entityID string) Condition {
	switch v := c.(type) {
	case *StateCondition:
		if v.Entity == "" {
			cp := *v
			cp.Entity = entityID
			return &cp
		}
	case *LegacyStateCondition:
		if v.Entity == "" {
			cp := *v
			cp.Entity = entityID
			return &cp
		}
	case *NumericStateCondition:
		if v.Entity == "" {
			cp := *v
			cp.Entity = entityID
			return &cp
		}
	case *AndCondition:
		return &AndCondition{Conditions: AddEntityToConditions(v.Conditions, entityID)}
	case *OrCondition:
		return &OrCondition{Conditions: AddEntityToConditions(v.Conditions, entityID)}
	case *NotCondition:
		return &NotCondition{Conditions: AddEntityToConditions(v.Conditions, entityID)}
	}
	return c
}
