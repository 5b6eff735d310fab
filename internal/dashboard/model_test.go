package dashboard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/dashd/internal/condition"
)

const homeYAML = `
title: Home
views:
  - id: main
    title: Main
    children:
      - id: climate
        type: section
        visibility:
          - condition: screen
            media_query: "(min-width: 768px)"
        children:
          - id: thermostat
            entity: climate.living_room
            visibility:
              - condition: state
                state_not: "off"
          - title: Fallback
  - visibility:
      - condition: user
        users: [admin]
`

func TestParse_DefaultsKindsAndIDs(t *testing.T) {
	d, err := Parse([]byte(homeYAML))
	require.NoError(t, err)

	assert.Equal(t, "Home", d.Title)
	require.Len(t, d.Views, 2)
	assert.Equal(t, KindView, d.Views[0].Kind)
	assert.Equal(t, "view1", d.Views[1].ID)
	assert.Equal(t, KindView, d.Views[1].Kind)

	climate := d.Views[0].Children[0]
	assert.Equal(t, KindSection, climate.Kind)
	require.Len(t, climate.Children, 2)
	assert.Equal(t, KindCard, climate.Children[0].Kind)
	assert.Equal(t, "climate.1", climate.Children[1].ID)
	assert.Equal(t, "Fallback", climate.Children[1].Title)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("views: [unclosed"))
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dashboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(homeYAML), 0o644))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, d.Count())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestElement_ConditionsUseElementEntity(t *testing.T) {
	d, err := Parse([]byte(homeYAML))
	require.NoError(t, err)

	thermostat := d.Views[0].Children[0].Children[0]
	conds := thermostat.Conditions()
	require.Len(t, conds, 1)
	st, ok := conds[0].(*condition.StateCondition)
	require.True(t, ok)
	assert.Equal(t, "climate.living_room", st.Entity)

	// The declared tree is left untouched
	assert.Empty(t, thermostat.Visibility[0].(*condition.StateCondition).Entity)
}

func TestDashboard_WalkOrder(t *testing.T) {
	d, err := Parse([]byte(homeYAML))
	require.NoError(t, err)

	var ids, parents []string
	d.Walk(func(e, parent *Element) {
		ids = append(ids, e.ID)
		if parent == nil {
			parents = append(parents, "")
		} else {
			parents = append(parents, parent.ID)
		}
	})
	assert.Equal(t, []string{"main", "climate", "thermostat", "climate.1", "view1"}, ids)
	assert.Equal(t, []string{"", "main", "climate", "climate", ""}, parents)
}
