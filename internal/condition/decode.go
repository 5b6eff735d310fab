package condition

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// wire is the configuration form of a single condition. Every kind shares one
// flat object, discriminated by Condition.
type wire struct {
	Condition  string     `yaml:"condition,omitempty" json:"condition,omitempty"`
	Entity     string     `yaml:"entity,omitempty" json:"entity,omitempty"`
	State      StringList `yaml:"state,omitempty" json:"state,omitempty"`
	StateNot   StringList `yaml:"state_not,omitempty" json:"state_not,omitempty"`
	Above      *Threshold `yaml:"above,omitempty" json:"above,omitempty"`
	Below      *Threshold `yaml:"below,omitempty" json:"below,omitempty"`
	MediaQuery *string    `yaml:"media_query,omitempty" json:"media_query,omitempty"`
	Users      []string   `yaml:"users,omitempty" json:"users,omitempty"`
	After      *string    `yaml:"after,omitempty" json:"after,omitempty"`
	Before     *string    `yaml:"before,omitempty" json:"before,omitempty"`
	Weekdays   []string   `yaml:"weekdays,omitempty" json:"weekdays,omitempty"`
	Conditions *[]wire    `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

func fromWire(w wire) Condition {
	switch Kind(w.Condition) {
	case KindLegacy:
		return &LegacyStateCondition{Entity: w.Entity, State: w.State, StateNot: w.StateNot}
	case KindNumericState:
		return &NumericStateCondition{Entity: w.Entity, Above: w.Above, Below: w.Below}
	case KindScreen:
		return &ScreenCondition{MediaQuery: w.MediaQuery}
	case KindUser:
		return &UserCondition{Users: w.Users}
	case KindTime:
		return &TimeCondition{After: w.After, Before: w.Before, Weekdays: w.Weekdays}
	case KindAnd:
		return &AndCondition{Conditions: fromWires(w.Conditions)}
	case KindOr:
		return &OrCondition{Conditions: fromWires(w.Conditions)}
	case KindNot:
		return &NotCondition{Conditions: fromWires(w.Conditions)}
	default:
		// "state" and any kind this version does not know
		return &StateCondition{Entity: w.Entity, State: w.State, StateNot: w.StateNot}
	}
}

func fromWires(ws *[]wire) List {
	if ws == nil {
		return nil
	}
	out := make(List, 0, len(*ws))
	for _, w := range *ws {
		out = append(out, fromWire(w))
	}
	return out
}

func toWire(c Condition) wire {
	switch v := c.(type) {
	case *StateCondition:
		return wire{Condition: string(KindState), Entity: v.Entity, State: v.State, StateNot: v.StateNot}
	case *LegacyStateCondition:
		return wire{Entity: v.Entity, State: v.State, StateNot: v.StateNot}
	case *NumericStateCondition:
		return wire{Condition: string(KindNumericState), Entity: v.Entity, Above: v.Above, Below: v.Below}
	case *ScreenCondition:
		return wire{Condition: string(KindScreen), MediaQuery: v.MediaQuery}
	case *UserCondition:
		return wire{Condition: string(KindUser), Users: v.Users}
	case *TimeCondition:
		return wire{Condition: string(KindTime), After: v.After, Before: v.Before, Weekdays: v.Weekdays}
	case *AndCondition:
		return wire{Condition: string(KindAnd), Conditions: toWires(v.Conditions)}
	case *OrCondition:
		return wire{Condition: string(KindOr), Conditions: toWires(v.Conditions)}
	case *NotCondition:
		return wire{Condition: string(KindNot), Conditions: toWires(v.Conditions)}
	}
	return wire{}
}

func toWires(l List) *[]wire {
	if l == nil {
		return nil
	}
	out := make([]wire, 0, len(l))
	for _, c := range l {
		out = append(out, toWire(c))
	}
	return &out
}

// UnmarshalYAML implements yaml.Unmarshaler for List
func (l *List) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		// a single condition where a list was expected
		var w wire
		if err := value.Decode(&w); err != nil {
			return err
		}
		*l = List{fromWire(w)}
		return nil
	}
	var ws []wire
	if err := value.Decode(&ws); err != nil {
		return err
	}
	*l = fromWires(&ws)
	return nil
}

// MarshalYAML implements yaml.Marshaler for List
func (l List) MarshalYAML() (interface{}, error) {
	if l == nil {
		return nil, nil
	}
	return *toWires(l), nil
}

// UnmarshalJSON implements json.Unmarshaler for List
func (l *List) UnmarshalJSON(data []byte) error {
	var ws []wire
	if err := json.Unmarshal(data, &ws); err != nil {
		var w wire
		if errSingle := json.Unmarshal(data, &w); errSingle != nil {
			return err
		}
		*l = List{fromWire(w)}
		return nil
	}
	if ws == nil {
		*l = nil
		return nil
	}
	*l = fromWires(&ws)
	return nil
}

// MarshalJSON implements json.Marshaler for List
func (l List) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*toWires(l))
}

// Parse decodes a YAML (or JSON) condition list.
func Parse(data []byte) (List, error) {
	var l List
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse conditions: %w", err)
	}
	return l, nil
}

// FromValue decodes a condition list from generic decoded data, such as a
// map[string]any produced by a script runtime.
func FromValue(v any) (List, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conditions: %w", err)
	}
	var l List
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to decode conditions: %w", err)
	}
	return l, nil
}
