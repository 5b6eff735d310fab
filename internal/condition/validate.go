package condition

import "fmt"

// Problem describes one invalid node of a condition tree.
type Problem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (p Problem) Error() string {
	if p.Path == "" {
		return p.Message
	}
	return p.Path + ": " + p.Message
}

// ValidateConditionalConfig reports whether every condition of the tree is
// well-formed.
func ValidateConditionalConfig(conds List) bool {
	return len(Lint(conds)) == 0
}

// Lint returns every problem found in the tree, with paths such as
// "[1].conditions[0]".
func Lint(conds List) []Problem {
	var problems []Problem
	lintList(conds, "", &problems)
	return problems
}

func lintList(conds List, prefix string, problems *[]Problem) {
	for i, c := range conds {
		lintOne(c, fmt.Sprintf("%s[%d]", prefix, i), problems)
	}
}

func lintOne(c Condition, path string, problems *[]Problem) {
	report := func(format string, args ...any) {
		*problems = append(*problems, Problem{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch v := c.(type) {
	case nil:
		report("empty condition")
	case *StateCondition:
		lintState(v.Entity, v.State, v.StateNot, report)
	case *LegacyStateCondition:
		lintState(v.Entity, v.State, v.StateNot, report)
	case *NumericStateCondition:
		if v.Entity == "" {
			report("numeric_state condition requires entity")
		} else if !IsValidEntityID(v.Entity) {
			report("invalid entity id %q", v.Entity)
		}
		if v.Above == nil && v.Below == nil {
			report("numeric_state condition requires above or below")
		}
	case *ScreenCondition:
		if v.MediaQuery == nil {
			report("screen condition requires media_query")
		}
	case *UserCondition:
		if v.Users == nil {
			report("user condition requires users")
		}
	case *TimeCondition:
		lintTime(v, report)
	case *AndCondition:
		lintCombinator(KindAnd, v.Conditions, path, report, problems)
	case *OrCondition:
		lintCombinator(KindOr, v.Conditions, path, report, problems)
	case *NotCondition:
		lintCombinator(KindNot, v.Conditions, path, report, problems)
	}
}

func lintState(entity string, state, stateNot StringList, report func(string, ...any)) {
	if entity == "" {
		report("state condition requires entity")
	} else if !IsValidEntityID(entity) {
		report("invalid entity id %q", entity)
	}
	if state == nil && stateNot == nil {
		report("state condition requires state or state_not")
	}
}

func lintTime(c *TimeCondition, report func(string, ...any)) {
	hasTime := c.After != nil || c.Before != nil
	hasWeekdays := len(c.Weekdays) > 0
	if !hasTime && !hasWeekdays {
		report("time condition requires after, before or weekdays")
	}
	for _, wd := range c.Weekdays {
		if _, err := ParseWeekday(wd); err != nil {
			report("%v", err)
		}
	}
	if c.After != nil {
		if _, err := ParseTimeOfDay(*c.After); err != nil {
			report("after: %v", err)
		}
	}
	if c.Before != nil {
		if _, err := ParseTimeOfDay(*c.Before); err != nil {
			report("before: %v", err)
		}
	}
	if c.After != nil && c.Before != nil && *c.After == *c.Before {
		report("after and before must differ")
	}
}

func lintCombinator(kind Kind, conds List, path string, report func(string, ...any), problems *[]Problem) {
	if conds == nil {
		report("%s condition requires conditions", kind)
		return
	}
	lintList(conds, path+".conditions", problems)
}
