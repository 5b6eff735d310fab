package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidEntityID(t *testing.T) {
	valid := []string{"light.kitchen", "sensor.temp_1", "input_select.mode", "a.b", "zone.home2"}
	invalid := []string{
		"", "light", "light.", ".kitchen", "Light.kitchen", "light.Kitchen",
		"light.kitchen.extra", "light._kitchen", "light.kitchen_", "_light.kitchen",
		"light.kit__chen", "light.kitchen light", "on", "15",
	}

	for _, id := range valid {
		assert.True(t, IsValidEntityID(id), id)
	}
	for _, id := range invalid {
		assert.False(t, IsValidEntityID(id), id)
	}
}

func TestAddEntityToConditions(t *testing.T) {
	nested := &NumericStateCondition{Above: NumberThreshold(1)}
	pinned := &StateCondition{Entity: "light.b", State: StringList{"on"}}
	conds := List{
		&StateCondition{State: StringList{"on"}},
		&AndCondition{Conditions: List{nested, &UserCondition{Users: []string{"alice"}}}},
		pinned,
		&LegacyStateCondition{StateNot: StringList{"off"}},
	}

	got := AddEntityToConditions(conds, "light.a")
	require.Len(t, got, 4)

	assert.Equal(t, "light.a", got[0].(*StateCondition).Entity)
	and := got[1].(*AndCondition)
	assert.Equal(t, "light.a", and.Conditions[0].(*NumericStateCondition).Entity)
	assert.IsType(t, &UserCondition{}, and.Conditions[1])
	assert.Same(t, pinned, got[2])
	assert.Equal(t, "light.a", got[3].(*LegacyStateCondition).Entity)

	// input untouched
	assert.Empty(t, conds[0].(*StateCondition).Entity)
	assert.Empty(t, nested.Entity)

	assert.Nil(t, AddEntityToConditions(nil, "light.a"))
}
