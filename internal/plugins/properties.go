package plugins

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"ddsim/internal/sd"
)

// Kind is the declared type of a plugin property.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindFloat
	KindEnergy
	KindStrings
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindEnergy:
		return "energy"
	case KindStrings:
		return "[]string"
	default:
		return "string"
	}
}

// MarshalText writes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Property declares one settable parameter of a plugin.
type Property struct {
	Name    string `json:"name" yaml:"name"`
	Kind    Kind   `json:"kind" yaml:"kind"`
	Default any    `json:"default" yaml:"default"`
	Help    string `json:"help,omitempty" yaml:"help,omitempty"`
}

// Properties is the property bag embedded by the built-in plugins.
type Properties struct {
	owner  string
	decl   []Property
	values map[string]any
}

func newProperties(owner string, decl ...Property) Properties {
	values := make(map[string]any, len(decl))
	for _, d := range decl {
		values[d.Name] = d.Default
	}
	return Properties{owner: owner, decl: decl, values: values}
}

// Declared lists the settable properties.
func (p *Properties) Declared() []Property {
	out := make([]Property, len(p.decl))
	copy(out, p.decl)
	return out
}

// Values returns the current property values.
func (p *Properties) Values() sd.Params {
	out := make(sd.Params, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// SetProperty assigns a value, coercing it to the declared kind.
func (p *Properties) SetProperty(name string, value any) error {
	for _, d := range p.decl {
		if d.Name != name {
			continue
		}
		v, err := coerce(d.Kind, value)
		if err != nil {
			return sd.Configf("%s: property %s (%s): %v", p.owner, name, d.Kind, err)
		}
		p.values[name] = v
		return nil
	}
	return sd.NewConfigError(fmt.Sprintf("%s: unknown property", p.owner), name)
}

func (p *Properties) float(name string) float64 {
	v, _ := p.values[name].(float64)
	return v
}

func (p *Properties) str(name string) string {
	v, _ := p.values[name].(string)
	return v
}

// Configure applies every parameter to plugin and reports all failures.
func Configure(plugin Plugin, params sd.Params) error {
	var errs error
	for _, k := range params.Keys() {
		errs = multierr.Append(errs, plugin.SetProperty(k, params[k]))
	}
	return errs
}

func coerce(kind Kind, value any) (any, error) {
	switch kind {
	case KindString:
		switch v := value.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		}
		return fmt.Sprint(value), nil
	case KindBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(v))
		}
	case KindInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == float64(int(v)) {
				return int(v), nil
			}
		case string:
			return strconv.Atoi(strings.TrimSpace(v))
		}
	case KindFloat, KindEnergy:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			if kind == KindEnergy {
				return ParseQuantity(v)
			}
			return strconv.ParseFloat(strings.TrimSpace(v), 64)
		}
	case KindStrings:
		switch v := value.(type) {
		case []string:
			return append([]string(nil), v...), nil
		case string:
			var out []string
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			return out, nil
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				out = append(out, fmt.Sprint(item))
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("cannot use %v (%T)", value, value)
}
