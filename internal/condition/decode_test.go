package condition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleYAML = `
- condition: or
  conditions:
    - condition: screen
      media_query: "(max-width: 600px)"
    - condition: state
      entity: light.x
      state: "on"
- entity: sensor.door
  state_not: [open, unavailable]
- condition: numeric_state
  entity: sensor.t
  above: 10
  below: sensor.max
- condition: and
- condition: not
  conditions: []
- condition: time
  after: "22:00"
  before: "06:00"
  weekdays: [mon, fri]
- condition: user
  users: [alice, bob]
- condition: sparkle
  entity: light.y
  state: "off"
`

func TestParse_AllKinds(t *testing.T) {
	conds, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, conds, 8)

	or, ok := conds[0].(*OrCondition)
	require.True(t, ok, "got %T", conds[0])
	require.Len(t, or.Conditions, 2)
	screen := or.Conditions[0].(*ScreenCondition)
	require.NotNil(t, screen.MediaQuery)
	assert.Equal(t, "(max-width: 600px)", *screen.MediaQuery)
	state := or.Conditions[1].(*StateCondition)
	assert.Equal(t, "light.x", state.Entity)
	assert.Equal(t, StringList{"on"}, state.State)
	assert.Nil(t, state.StateNot)

	legacy, ok := conds[1].(*LegacyStateCondition)
	require.True(t, ok, "got %T", conds[1])
	assert.Equal(t, KindLegacy, legacy.Kind())
	assert.Equal(t, StringList{"open", "unavailable"}, legacy.StateNot)

	numeric := conds[2].(*NumericStateCondition)
	require.NotNil(t, numeric.Above)
	require.NotNil(t, numeric.Below)
	assert.True(t, numeric.Above.IsNumber())
	assert.Equal(t, "10", numeric.Above.String())
	assert.False(t, numeric.Below.IsNumber())
	assert.Equal(t, "sensor.max", numeric.Below.String())

	and := conds[3].(*AndCondition)
	assert.Nil(t, and.Conditions, "absent conditions stay nil")

	not := conds[4].(*NotCondition)
	assert.NotNil(t, not.Conditions, "empty conditions stay non-nil")
	assert.Empty(t, not.Conditions)

	tc := conds[5].(*TimeCondition)
	assert.Equal(t, "22:00", *tc.After)
	assert.Equal(t, "06:00", *tc.Before)
	assert.Equal(t, []string{"mon", "fri"}, tc.Weekdays)

	user := conds[6].(*UserCondition)
	assert.Equal(t, []string{"alice", "bob"}, user.Users)

	unknown, ok := conds[7].(*StateCondition)
	require.True(t, ok, "unknown kinds decode as state, got %T", conds[7])
	assert.Equal(t, "light.y", unknown.Entity)
}

func TestParse_SingleMapping(t *testing.T) {
	conds, err := Parse([]byte("condition: user\nusers: [alice]\n"))
	require.NoError(t, err)
	require.Len(t, conds, 1)
	assert.IsType(t, &UserCondition{}, conds[0])
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("- condition: numeric_state\n  above: [1, 2]\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("- entity: light.x\n  state: {on: true}\n"))
	assert.Error(t, err)
}

func TestList_JSONKeepsEmptyConditions(t *testing.T) {
	conds := List{
		&AndCondition{},
		&NotCondition{Conditions: List{}},
		&LegacyStateCondition{Entity: "light.x", State: StringList{"on"}},
	}

	data, err := json.Marshal(conds)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"condition":"and"},
		{"condition":"not","conditions":[]},
		{"entity":"light.x","state":"on"}
	]`, string(data))

	var back List
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, 3)
	assert.Nil(t, back[0].(*AndCondition).Conditions)
	assert.NotNil(t, back[1].(*NotCondition).Conditions)
	assert.IsType(t, &LegacyStateCondition{}, back[2])
}

func TestList_YAMLRoundTrip(t *testing.T) {
	conds, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	data, err := yaml.Marshal(conds)
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, conds, again)
}

func TestThreshold_JSON(t *testing.T) {
	var w struct {
		Above *Threshold `json:"above"`
		Below *Threshold `json:"below"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"above": 1.5, "below": "sensor.max"}`), &w))
	assert.True(t, w.Above.IsNumber())
	assert.Equal(t, "1.5", w.Above.String())
	assert.False(t, w.Below.IsNumber())

	assert.Error(t, json.Unmarshal([]byte(`{"above": true}`), &w))
}

func TestStringList_JSON(t *testing.T) {
	var l StringList
	require.NoError(t, json.Unmarshal([]byte(`"on"`), &l))
	assert.Equal(t, StringList{"on"}, l)

	require.NoError(t, json.Unmarshal([]byte(`["on", 3]`), &l))
	assert.Equal(t, StringList{"on", "3"}, l)

	require.NoError(t, json.Unmarshal([]byte(`null`), &l))
	assert.Nil(t, l)

	assert.Error(t, json.Unmarshal([]byte(`{"a": 1}`), &l))
}

func TestFromValue(t *testing.T) {
	conds, err := FromValue(map[string]any{
		"condition": "or",
		"conditions": []any{
			map[string]any{"condition": "user", "users": []any{"alice"}},
			map[string]any{"entity": "light.x", "state": "on"},
		},
	})
	require.NoError(t, err)
	require.Len(t, conds, 1)

	or := conds[0].(*OrCondition)
	require.Len(t, or.Conditions, 2)
	assert.IsType(t, &UserCondition{}, or.Conditions[0])
	assert.IsType(t, &LegacyStateCondition{}, or.Conditions[1])

	_, err = FromValue(func() {})
	assert.Error(t, err)
}
