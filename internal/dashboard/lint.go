package dashboard

import (
	"fmt"

	"github.com/dokzlo13/dashd/internal/condition"
	"github.com/dokzlo13/dashd/internal/mediaquery"
)

// Lint returns every problem of the dashboard: unknown kinds, misplaced views,
// duplicate ids, invalid entities and invalid visibility conditions.
func Lint(d *Dashboard) []condition.Problem {
	var problems []condition.Problem
	seen := make(map[string]string)

	var lintElements func(list []*Element, prefix string, nested bool)
	lintElements = func(list []*Element, prefix string, nested bool) {
		for i, e := range list {
			path := fmt.Sprintf("%s[%d]", prefix, i)
			if e == nil {
				problems = append(problems, condition.Problem{Path: path, Message: "empty element"})
				continue
			}
			report := func(format string, args ...any) {
				problems = append(problems, condition.Problem{Path: path, Message: fmt.Sprintf(format, args...)})
			}

			if _, ok := knownKinds[e.Kind]; !ok {
				report("unknown element type %q", e.Kind)
			}
			if nested && e.Kind == KindView {
				report("views can only appear at the top level")
			}
			if !nested && e.Kind != KindView {
				report("top-level element must be a view, got %q", e.Kind)
			}
			if first, dup := seen[e.ID]; dup {
				report("duplicate id %q, first used at %s", e.ID, first)
			} else {
				seen[e.ID] = path
			}
			if e.Entity != "" && !condition.IsValidEntityID(e.Entity) {
				report("invalid entity id %q", e.Entity)
			}

			for _, p := range condition.Lint(e.Conditions()) {
				problems = append(problems, condition.Problem{Path: path + ".visibility" + p.Path, Message: p.Message})
			}
			for _, q := range condition.ExtractMediaQueries(e.Visibility) {
				if _, err := mediaquery.Parse(q); err != nil {
					report("%v", err)
				}
			}

			lintElements(e.Children, path+".children", true)
		}
	}

	lintElements(d.Views, "views", false)
	return problems
}

// InvalidError is returned when a dashboard fails Lint.
type InvalidError struct {
	Problems []condition.Problem
}

func (e *InvalidError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid dashboard: " + e.Problems[0].Error()
	}
	return fmt.Sprintf("invalid dashboard: %s (and %d more problems)", e.Problems[0].Error(), len(e.Problems)-1)
}
