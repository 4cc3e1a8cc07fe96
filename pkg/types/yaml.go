package types

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StringList accepts either a single scalar or a sequence of scalars, so
// `needs: build` and `needs: [build, lint]` both decode.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := value.Decode(&ss); err != nil {
			return err
		}
		*l = StringList(ss)
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
}

// StringMap is a string-keyed mapping whose values may be written as YAML
// scalars of any type; numbers and booleans keep their literal spelling, so
// `fetch-depth: 1` decodes to "1" and `fail-on-error: true` to "true".
type StringMap map[string]string

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *StringMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of scalars", value.Line)
	}
	out := make(StringMap, len(value.Content)/2)
	for i := 0; i < len(value.Content)-1; i += 2 {
		keyNode, valNode := value.Content[i], value.Content[i+1]
		if valNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: value for %q must be a scalar", valNode.Line, keyNode.Value)
		}
		if _, dup := out[keyNode.Value]; dup {
			return fmt.Errorf("line %d: duplicate key %q", keyNode.Line, keyNode.Value)
		}
		if valNode.Tag == "!!null" {
			out[keyNode.Value] = ""
			continue
		}
		out[keyNode.Value] = valNode.Value
	}
	*m = out
	return nil
}

// Merge returns a copy of m overlaid with each of the given maps in order.
// Later maps win. Nil receivers and arguments are fine.
func (m StringMap) Merge(overlays ...StringMap) StringMap {
	out := make(StringMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, overlay := range overlays {
		for k, v := range overlay {
			out[k] = v
		}
	}
	return out
}
