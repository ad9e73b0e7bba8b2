// Package plugins is the factory for sensitive actions and hit filters.
// Plugin identifiers are "Type" or "Type/InstanceName"; the type selects a
// factory closure registered under that name.
package plugins

import (
	"sort"
	"strings"

	"ddsim/internal/sd"
)

// Step is the slice of a simulated step a filter looks at.
type Step struct {
	Particle      string
	PDG           int
	Charge        float64
	EnergyDeposit float64 // MeV
}

// Plugin is the part shared by filters and actions.
type Plugin interface {
	Type() string
	Name() string
	SetProperty(name string, value any) error
	Declared() []Property
	Values() sd.Params
}

// Filter suppresses hit recording for steps it rejects.
type Filter interface {
	Plugin
	Accept(step Step) bool
}

// Action processes the hits of one sensitive detector.
type Action interface {
	Plugin
	// HitKind names the hit collection the action produces.
	HitKind() string
}

type (
	FilterFactory func(name string) Filter
	ActionFactory func(name string) Action
)

// Registry maps plugin type names to factories.
type Registry struct {
	filters map[string]FilterFactory
	actions map[string]ActionFactory
	help    map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		filters: make(map[string]FilterFactory),
		actions: make(map[string]ActionFactory),
		help:    make(map[string]string),
	}
}

// RegisterFilter adds or replaces a filter type.
func (r *Registry) RegisterFilter(typ, help string, f FilterFactory) {
	r.filters[typ] = f
	r.help[typ] = help
}

// RegisterAction adds or replaces an action type.
func (r *Registry) RegisterAction(typ, help string, f ActionFactory) {
	r.actions[typ] = f
	r.help[typ] = help
}

// SplitID separates "Type/Name"; a bare type is also its instance name.
func SplitID(id string) (typ, name string) {
	typ, name, ok := strings.Cut(id, "/")
	if !ok || name == "" {
		return typ, typ
	}
	return typ, name
}

// NewFilter instantiates the filter identified by id.
func (r *Registry) NewFilter(id string) (Filter, error) {
	typ, name := SplitID(id)
	f, ok := r.filters[typ]
	if !ok {
		return nil, sd.NewConfigError("unknown filter plugin", typ)
	}
	return f(name), nil
}

// NewAction instantiates the action identified by id.
func (r *Registry) NewAction(id string) (Action, error) {
	typ, name := SplitID(id)
	f, ok := r.actions[typ]
	if !ok {
		return nil, sd.NewConfigError("unknown action plugin", typ)
	}
	return f(name), nil
}

// HasFilter reports whether id names a registered filter type.
func (r *Registry) HasFilter(id string) bool {
	typ, _ := SplitID(id)
	_, ok := r.filters[typ]
	return ok
}

// HasAction reports whether id names a registered action type.
func (r *Registry) HasAction(id string) bool {
	typ, _ := SplitID(id)
	_, ok := r.actions[typ]
	return ok
}

// FilterTypes lists the filter types in sorted order.
func (r *Registry) FilterTypes() []string { return sortedKeys(r.filters) }

// ActionTypes lists the action types in sorted order.
func (r *Registry) ActionTypes() []string { return sortedKeys(r.actions) }

// Help returns the one-line description registered for typ.
func (r *Registry) Help(typ string) string { return r.help[typ] }

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
