package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"ddsim/internal/override"
	"ddsim/internal/sd"
)

// ActionMap is the ordered detector-pattern → action map (mapActions).
// A nil value means the matching detectors get no action.
type ActionMap struct {
	override.Registry[*sd.ActionSpec]
}

// NewActionMap returns an empty map.
func NewActionMap() *ActionMap { return &ActionMap{} }

// UnmarshalYAML adds the entries of a mapping in document order.
func (m *ActionMap) UnmarshalYAML(node *yaml.Node) error {
	var problems []string
	err := eachPair(node, "mapActions", func(key, value *yaml.Node) {
		spec, err := sd.DecodeActionNode(value)
		if err != nil {
			problems = append(problems, fmt.Sprintf("mapActions[%s]: %v", key.Value, err))
			return
		}
		if err := m.Set(key.Value, spec); err != nil {
			problems = append(problems, fmt.Sprintf("line %d: mapActions: %v", key.Line, err))
		}
	})
	if err != nil {
		return err
	}
	return typeError(problems)
}

// MarshalYAML writes the entries in insertion order.
func (m *ActionMap) MarshalYAML() (any, error) {
	out := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range m.Entries() {
		value := &yaml.Node{}
		if e.Value == nil {
			value = nullNode()
		} else if err := value.Encode(e.Value); err != nil {
			return nil, err
		}
		out.Content = append(out.Content, keyNode(e.Pattern), value)
	}
	return out, nil
}

// FilterMap is the ordered detector-pattern → filter-id-list map
// (mapDetFilter). An empty list disables the category default.
type FilterMap struct {
	override.Registry[[]string]
}

// NewFilterMap returns an empty map.
func NewFilterMap() *FilterMap { return &FilterMap{} }

// UnmarshalYAML accepts a list, a single id, a comma-separated string, or
// null/empty for "no filters".
func (m *FilterMap) UnmarshalYAML(node *yaml.Node) error {
	var problems []string
	err := eachPair(node, "mapDetFilter", func(key, value *yaml.Node) {
		ids, err := decodeFilterIDs(value)
		if err != nil {
			problems = append(problems, fmt.Sprintf("mapDetFilter[%s]: %v", key.Value, err))
			return
		}
		if err := m.Set(key.Value, ids); err != nil {
			problems = append(problems, fmt.Sprintf("line %d: mapDetFilter: %v", key.Line, err))
		}
	})
	if err != nil {
		return err
	}
	return typeError(problems)
}

func (m *FilterMap) MarshalYAML() (any, error) {
	out := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range m.Entries() {
		value := &yaml.Node{}
		if err := value.Encode(FilterList(e.Value)); err != nil {
			return nil, err
		}
		out.Content = append(out.Content, keyNode(e.Pattern), value)
	}
	return out, nil
}

// FilterList is an ordered list of filter ids.
type FilterList []string

func (l *FilterList) UnmarshalYAML(node *yaml.Node) error {
	ids, err := decodeFilterIDs(node)
	if err != nil {
		return typeError([]string{err.Error()})
	}
	*l = ids
	return nil
}

func (l FilterList) MarshalYAML() (any, error) {
	if l == nil {
		return []string{}, nil
	}
	return []string(l), nil
}

// FilterDefs holds the named filter definitions in definition order.
type FilterDefs struct {
	ids  []string
	defs map[string]*sd.ActionSpec
}

// NewFilterDefs returns an empty set of definitions.
func NewFilterDefs() *FilterDefs {
	return &FilterDefs{defs: make(map[string]*sd.ActionSpec)}
}

// Set adds or replaces a definition, keeping the position of a replaced one.
func (d *FilterDefs) Set(id string, spec *sd.ActionSpec) {
	if d.defs == nil {
		d.defs = make(map[string]*sd.ActionSpec)
	}
	if _, ok := d.defs[id]; !ok {
		d.ids = append(d.ids, id)
	}
	d.defs[id] = spec
}

// Get returns the definition of id.
func (d *FilterDefs) Get(id string) (*sd.ActionSpec, bool) {
	if d == nil {
		return nil, false
	}
	spec, ok := d.defs[id]
	return spec, ok
}

// Delete removes id.
func (d *FilterDefs) Delete(id string) bool {
	if d == nil {
		return false
	}
	if _, ok := d.defs[id]; !ok {
		return false
	}
	delete(d.defs, id)
	for i, v := range d.ids {
		if v == id {
			d.ids = append(d.ids[:i], d.ids[i+1:]...)
			break
		}
	}
	return true
}

// IDs lists the definition ids in order.
func (d *FilterDefs) IDs() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.ids...)
}

// Len reports the number of definitions.
func (d *FilterDefs) Len() int {
	if d == nil {
		return 0
	}
	return len(d.ids)
}

func (d *FilterDefs) UnmarshalYAML(node *yaml.Node) error {
	var problems []string
	err := eachPair(node, "filters", func(key, value *yaml.Node) {
		spec, err := sd.DecodeActionNode(value)
		if err != nil {
			problems = append(problems, fmt.Sprintf("filters[%s]: %v", key.Value, err))
			return
		}
		if key.Value == "" {
			problems = append(problems, fmt.Sprintf("line %d: filters: empty filter id", key.Line))
			return
		}
		d.Set(key.Value, spec)
	})
	if err != nil {
		return err
	}
	return typeError(problems)
}

func (d *FilterDefs) MarshalYAML() (any, error) {
	out := &yaml.Node{Kind: yaml.MappingNode}
	for _, id := range d.ids {
		spec := d.defs[id]
		value := nullNode()
		if spec != nil {
			// Definitions always use the explicit mapping shape.
			value = &yaml.Node{}
			if err := value.Encode(struct {
				Name   string    `yaml:"name"`
				Params sd.Params `yaml:"parameter"`
			}{spec.Name, nonNilParams(spec.Params)}); err != nil {
				return nil, err
			}
		}
		out.Content = append(out.Content, keyNode(id), value)
	}
	return out, nil
}

func nonNilParams(p sd.Params) sd.Params {
	if p == nil {
		return sd.Params{}
	}
	return p
}

func decodeFilterIDs(node *yaml.Node) ([]string, error) {
	if node == nil || node.Tag == "!!null" {
		return []string{}, nil
	}
	switch node.Kind {
	case yaml.ScalarNode:
		return splitIDs(node.Value), nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: filter id must be a string", item.Line)
			}
			out = append(out, strings.TrimSpace(item.Value))
		}
		return out, nil
	}
	return nil, fmt.Errorf("line %d: filters must be a list of ids", node.Line)
}

// splitIDs reads the command-line form "a,b"; "" and "none" mean no filters.
func splitIDs(s string) []string {
	s = strings.TrimSpace(s)
	out := []string{}
	if s == "" || strings.EqualFold(s, "none") {
		return out
	}
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func eachPair(node *yaml.Node, field string, fn func(key, value *yaml.Node)) error {
	if node.Kind != yaml.MappingNode {
		return typeError([]string{fmt.Sprintf("line %d: %s must be a mapping", node.Line, field)})
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		fn(node.Content[i], node.Content[i+1])
	}
	return nil
}

func typeError(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &yaml.TypeError{Errors: problems}
}

func keyNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func nullNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}
