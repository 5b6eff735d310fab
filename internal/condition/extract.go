package condition

// ExtractMediaQueries returns the media query of every screen leaf in the tree,
// depth-first and left to right. Duplicates are kept.
func ExtractMediaQueries(conds List) []string {
	var out []string
	walk(conds, func(c Condition) {
		if sc, ok := c.(*ScreenCondition); ok && sc.MediaQuery != nil {
			out = append(out, *sc.MediaQuery)
		}
	})
	if out == nil {
		return []string{}
	}
	return out
}

// ExtractTimeConditions returns every time leaf in the tree, depth-first and
// left to right.
func ExtractTimeConditions(conds List) []*TimeCondition {
	var out []*TimeCondition
	walk(conds, func(c Condition) {
		if tc, ok := c.(*TimeCondition); ok {
			out = append(out, tc)
		}
	})
	if out == nil {
		return []*TimeCondition{}
	}
	return out
}

// ExtractEntityIDs returns the distinct entity ids the tree reads, in discovery
// order: leaf entities plus values of state, state_not, above and below that
// look like entity ids.
func ExtractEntityIDs(conds List) []string {
	seen := make(map[string]struct{})
	out := []string{}
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	addRefs := func(values StringList) {
		for _, v := range values {
			if IsValidEntityID(v) {
				add(v)
			}
		}
	}
	addBound := func(t *Threshold) {
		if t != nil && !t.IsNumber() && IsValidEntityID(t.String()) {
			add(t.String())
		}
	}

	walk(conds, func(c Condition) {
		switch v := c.(type) {
		case *StateCondition:
			add(v.Entity)
			addRefs(v.State)
			addRefs(v.StateNot)
		case *LegacyStateCondition:
			add(v.Entity)
			addRefs(v.State)
			addRefs(v.StateNot)
		case *NumericStateCondition:
			add(v.Entity)
			addBound(v.Above)
			addBound(v.Below)
		}
	})
	return out
}

// HasKind reports whether any node of the tree is of kind k.
func HasKind(conds List, k Kind) bool {
	found := false
	walk(conds, func(c Condition) {
		if c.Kind() == k {
			found = true
		}
	})
	return found
}

// walk visits every node depth-first. A combinator's children are visited
// before the combinator itself; sibling order is preserved.
func walk(conds List, visit func(Condition)) {
	for _, c := range conds {
		if c == nil {
			continue
		}
		if nested := children(c); nested != nil {
			walk(nested, visit)
		}
		visit(c)
	}
}
