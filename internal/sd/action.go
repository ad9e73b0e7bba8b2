package sd

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Params maps parameter names to values. Values are whatever the steering
// layer produced (string, float64, int, bool or []any); plugins coerce them.
type Params map[string]any

// Clone returns a shallow copy; nil stays nil.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the parameters as k=v pairs in key order.
func (p Params) String() string {
	parts := make([]string, 0, len(p))
	for _, k := range p.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return strings.Join(parts, ", ")
}

// ActionSpec names a sensitive-action plugin and its parameters.
// A nil *ActionSpec means "no action".
type ActionSpec struct {
	Name   string `yaml:"name" json:"name"`
	Params Params `yaml:"parameter,omitempty" json:"parameter,omitempty"`
}

// Clone deep-copies the spec's parameter map.
func (a *ActionSpec) Clone() *ActionSpec {
	if a == nil {
		return nil
	}
	return &ActionSpec{Name: a.Name, Params: a.Params.Clone()}
}

func (a *ActionSpec) String() string {
	if a == nil {
		return "none"
	}
	if len(a.Params) == 0 {
		return a.Name
	}
	return fmt.Sprintf("%s(%s)", a.Name, a.Params)
}

// ParseActionSpec reads the command-line form of an action:
// "Name", "Name(key=value, key=value)" or "none"/"" for no action.
func ParseActionSpec(s string) (*ActionSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return nil, nil
	}
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if strings.ContainsAny(s, ")=,") {
			return nil, Configf("malformed action %q", s)
		}
		return &ActionSpec{Name: s}, nil
	}
	if !strings.HasSuffix(s, ")") || open == 0 {
		return nil, Configf("malformed action %q: expected Name(key=value, ...)", s)
	}
	name := strings.TrimSpace(s[:open])
	params, err := ParseParams(s[open+1 : len(s)-1])
	if err != nil {
		return nil, Configf("malformed action %q: %v", s, err)
	}
	return &ActionSpec{Name: name, Params: params}, nil
}

// ParseParams reads "key=value, key=value". Values stay strings.
func ParseParams(s string) (Params, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := make(Params)
	for _, part := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", strings.TrimSpace(part))
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// UnmarshalYAML accepts the three steering shapes of an action:
//
//	tracker: Geant4TrackerAction
//	tracker: [Geant4TrackerWeightedAction, {HitPositionCombination: 2}]
//	tracker: {name: Geant4TrackerWeightedAction, parameter: {HitPositionCombination: 2}}
func (a *ActionSpec) UnmarshalYAML(node *yaml.Node) error {
	spec, err := DecodeActionNode(node)
	if err != nil {
		return &yaml.TypeError{Errors: []string{err.Error()}}
	}
	if spec == nil {
		*a = ActionSpec{}
		return nil
	}
	*a = *spec
	return nil
}

// MarshalYAML writes the shortest of the accepted shapes.
func (a ActionSpec) MarshalYAML() (any, error) {
	if len(a.Params) == 0 {
		return a.Name, nil
	}
	return struct {
		Name   string `yaml:"name"`
		Params Params `yaml:"parameter"`
	}{a.Name, a.Params}, nil
}

// DecodeActionNode decodes one action value; a null node yields nil.
func DecodeActionNode(node *yaml.Node) (*ActionSpec, error) {
	if node == nil || node.Tag == "!!null" {
		return nil, nil
	}
	switch node.Kind {
	case yaml.ScalarNode:
		return ParseActionSpec(node.Value)
	case yaml.SequenceNode:
		if len(node.Content) != 2 {
			return nil, Configf("line %d: action must be [name, parameters], got %d elements", node.Line, len(node.Content))
		}
		if node.Content[0].Kind != yaml.ScalarNode {
			return nil, Configf("line %d: action name must be a string", node.Line)
		}
		var params Params
		if err := node.Content[1].Decode(&params); err != nil {
			return nil, Configf("line %d: action parameters must be a mapping", node.Content[1].Line)
		}
		return &ActionSpec{Name: node.Content[0].Value, Params: params}, nil
	case yaml.MappingNode:
		var raw struct {
			Name   string `yaml:"name"`
			Params Params `yaml:"parameter"`
		}
		if err := node.Decode(&raw); err != nil {
			return nil, Configf("line %d: malformed action: %v", node.Line, err)
		}
		if raw.Name == "" {
			return nil, Configf("line %d: action mapping has no name", node.Line)
		}
		return &ActionSpec{Name: raw.Name, Params: raw.Params}, nil
	}
	return nil, Configf("line %d: unsupported action value", node.Line)
}
