package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// StringList holds a value configured either as one string or as a list of
// strings. A nil StringList means the field was absent.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler for StringList
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*l = nil
			return nil
		}
		*l = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make(StringList, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected a scalar value", item.Line)
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
	}
}

// MarshalYAML implements yaml.Marshaler for StringList
func (l StringList) MarshalYAML() (interface{}, error) {
	if len(l) == 1 {
		return l[0], nil
	}
	return []string(l), nil
}

// UnmarshalJSON implements json.Unmarshaler for StringList
func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make(StringList, 0, len(items))
		for _, item := range items {
			s, err := jsonScalarString(item)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		*l = out
		return nil
	}
	s, err := jsonScalarString(data)
	if err != nil {
		return err
	}
	*l = StringList{s}
	return nil
}

// MarshalJSON implements json.Marshaler for StringList
func (l StringList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]string(l))
}

func jsonScalarString(data []byte) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", err
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		return "", fmt.Errorf("expected a string, got %s", string(data))
	}
}

// Threshold is a numeric_state bound: a number, or a string that may name an
// entity whose state is used as the bound.
type Threshold struct {
	raw   string
	num   float64
	isNum bool
}

// NumberThreshold returns a literal numeric bound.
func NumberThreshold(v float64) *Threshold {
	return &Threshold{raw: strconv.FormatFloat(v, 'f', -1, 64), num: v, isNum: true}
}

// StringThreshold returns a string bound (an entity id or a numeric string).
func StringThreshold(s string) *Threshold {
	return &Threshold{raw: s}
}

// IsNumber reports whether the bound was configured as a number.
func (t *Threshold) IsNumber() bool { return t.isNum }

// String returns the configured value as text.
func (t *Threshold) String() string { return t.raw }

// UnmarshalYAML implements yaml.Unmarshaler for Threshold
func (t *Threshold) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number or a string", value.Line)
	}
	switch value.Tag {
	case "!!int", "!!float":
		f, err := strconv.ParseFloat(strings.ReplaceAll(value.Value, "_", ""), 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid number %q", value.Line, value.Value)
		}
		*t = Threshold{raw: value.Value, num: f, isNum: true}
	default:
		*t = Threshold{raw: value.Value}
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler for Threshold
func (t Threshold) MarshalYAML() (interface{}, error) {
	if t.isNum {
		return t.num, nil
	}
	return t.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler for Threshold
func (t *Threshold) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*t = *NumberThreshold(val)
	case string:
		*t = Threshold{raw: val}
	default:
		return fmt.Errorf("expected a number or a string, got %s", string(data))
	}
	return nil
}

// MarshalJSON implements json.Marshaler for Threshold
func (t Threshold) MarshalJSON() ([]byte, error) {
	if t.isNum {
		return json.Marshal(t.num)
	}
	return json.Marshal(t.raw)
}
