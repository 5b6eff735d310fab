// Package dashboard loads dashboard definitions and keeps the visibility of
// every element up to date.
package dashboard

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/dashd/internal/condition"
)

// Kind is the type of a dashboard element.
type Kind string

const (
	KindView    Kind = "view"
	KindSection Kind = "section"
	KindCard    Kind = "card"
	KindRow     Kind = "row"
	KindBadge   Kind = "badge"
)

var knownKinds = map[Kind]struct{}{
	KindView:    {},
	KindSection: {},
	KindCard:    {},
	KindRow:     {},
	KindBadge:   {},
}

// Dashboard is a tree of views.
type Dashboard struct {
	Title string     `yaml:"title,omitempty" json:"title,omitempty"`
	Views []*Element `yaml:"views" json:"views"`
}

// Element is a view, section, card, row or badge. Entity fills every state or
// numeric_state condition of Visibility that names no entity.
type Element struct {
	ID         string         `yaml:"id,omitempty" json:"id"`
	Kind       Kind           `yaml:"type,omitempty" json:"type"`
	Title      string         `yaml:"title,omitempty" json:"title,omitempty"`
	Entity     string         `yaml:"entity,omitempty" json:"entity,omitempty"`
	Visibility condition.List `yaml:"visibility,omitempty" json:"visibility,omitempty"`
	Children   []*Element     `yaml:"children,omitempty" json:"children,omitempty"`
}

// Conditions returns the visibility conditions with Entity applied.
func (e *Element) Conditions() condition.List {
	if e.Entity == "" {
		return e.Visibility
	}
	return condition.AddEntityToConditions(e.Visibility, e.Entity)
}

// Parse decodes a dashboard definition and fills in default kinds and ids.
func Parse(data []byte) (*Dashboard, error) {
	var d Dashboard
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse dashboard: %w", err)
	}
	d.normalize()
	return &d, nil
}

// Load reads and parses a dashboard file.
func Load(path string) (*Dashboard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dashboard: %w", err)
	}
	return Parse(data)
}

// normalize assigns kinds and path-derived ids to elements that omit them.
func (d *Dashboard) normalize() {
	for i, v := range d.Views {
		if v == nil {
			continue
		}
		if v.Kind == "" {
			v.Kind = KindView
		}
		if v.ID == "" {
			v.ID = fmt.Sprintf("view%d", i)
		}
		normalizeChildren(v)
	}
}

func normalizeChildren(parent *Element) {
	for i, c := range parent.Children {
		if c == nil {
			continue
		}
		if c.Kind == "" {
			c.Kind = KindCard
		}
		if c.ID == "" {
			c.ID = fmt.Sprintf("%s.%d", parent.ID, i)
		}
		normalizeChildren(c)
	}
}

// Walk visits every element depth-first, parents before children.
func (d *Dashboard) Walk(visit func(e, parent *Element)) {
	var walk func(list []*Element, parent *Element)
	walk = func(list []*Element, parent *Element) {
		for _, e := range list {
			if e == nil {
				continue
			}
			visit(e, parent)
			walk(e.Children, e)
		}
	}
	walk(d.Views, nil)
}

// Count returns the number of elements.
func (d *Dashboard) Count() int {
	n := 0
	d.Walk(func(*Element, *Element) { n++ })
	return n
}
