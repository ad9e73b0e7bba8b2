// Package filter keeps the named filter definitions of a run and installs
// them into the kernel exactly once.
package filter

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"ddsim/internal/kernel"
	"ddsim/internal/override"
	"ddsim/internal/plugins"
	"ddsim/internal/sd"
)

var (
	// ErrAlreadyInstalled is returned by a second Install.
	ErrAlreadyInstalled = fmt.Errorf("%w: filters already installed", sd.ErrPrecondition)

	// ErrNotInstalled is returned when a handle is requested before Install.
	ErrNotInstalled = fmt.Errorf("%w: filters not installed", sd.ErrPrecondition)
)

// Spec is one named filter definition.
type Spec struct {
	ID     string
	Plugin string
	Params sd.Params

	handle plugins.Filter
}

// Handle returns the installed filter, nil before installation.
func (s *Spec) Handle() plugins.Filter { return s.handle }

// instanceID names the kernel object. A plugin given without an instance
// name is instantiated under the definition's id so that two definitions
// sharing a plugin type stay distinct.
func (s *Spec) instanceID() string {
	if strings.Contains(s.Plugin, "/") {
		return s.Plugin
	}
	return s.Plugin + "/" + s.ID
}

// Registry holds filter definitions in registration order.
type Registry struct {
	specs     []*Spec
	index     map[string]int
	installed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register adds or overwrites a definition. It never touches a kernel.
func (r *Registry) Register(id, plugin string, params sd.Params) error {
	if r.installed {
		return sd.Preconditionf("filter %s registered after install", id)
	}
	if id == "" {
		return sd.Configf("filter id must not be empty")
	}
	if plugin == "" {
		return sd.NewConfigError("filter has no plugin name", id)
	}
	spec := &Spec{ID: id, Plugin: plugin, Params: params.Clone()}
	if i, ok := r.index[id]; ok {
		r.specs[i] = spec
		return nil
	}
	r.index[id] = len(r.specs)
	r.specs = append(r.specs, spec)
	return nil
}

// Lookup returns the definition registered under id.
func (r *Registry) Lookup(id string) (*Spec, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.specs[i], true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.index[id]
	return ok
}

// IDs lists definition ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.ID
	}
	return out
}

// Specs returns the definitions in registration order.
func (r *Registry) Specs() []*Spec {
	return append([]*Spec(nil), r.specs...)
}

// Installed reports whether Install has run.
func (r *Registry) Installed() bool { return r.installed }

// Install instantiates one kernel filter per definition, sets its parameters,
// records the handle and registers it globally. It must be called once per
// kernel; every failure across all definitions is returned together.
func (r *Registry) Install(k kernel.Kernel) error {
	if r.installed {
		return ErrAlreadyInstalled
	}
	r.installed = true

	var errs error
	for _, spec := range r.specs {
		f, err := k.NewFilter(spec.instanceID())
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("filter %q: %w", spec.ID, err))
			continue
		}
		if err := plugins.Configure(f, spec.Params); err != nil {
			for _, p := range multierr.Errors(err) {
				errs = multierr.Append(errs, fmt.Errorf("filter %q: %w", spec.ID, p))
			}
			continue
		}
		if err := k.RegisterGlobalFilter(f); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("filter %q: %w", spec.ID, err))
			continue
		}
		spec.handle = f
	}
	return errs
}

// Handle returns the installed filter for id.
func (r *Registry) Handle(id string) (plugins.Filter, error) {
	if !r.installed {
		return nil, ErrNotInstalled
	}
	spec, ok := r.Lookup(id)
	if !ok {
		return nil, sd.NewConfigError("unknown filter", id)
	}
	if spec.handle == nil {
		return nil, sd.NewConfigError("filter failed to install", id)
	}
	return spec.handle, nil
}

// Handles resolves an ordered id list, collecting every failure.
func (r *Registry) Handles(ids []string) ([]plugins.Filter, error) {
	if !r.installed {
		return nil, ErrNotInstalled
	}
	out := make([]plugins.Filter, 0, len(ids))
	var errs error
	for _, id := range ids {
		f, err := r.Handle(id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, f)
	}
	return out, errs
}

// ValidateReferences checks that every filter id used by the category
// defaults and by the overrides is registered. All missing ids are named in a
// single configuration error.
func (r *Registry) ValidateReferences(trackerDefault, caloDefault []string, overrides *override.Registry[[]string]) error {
	var missing []string
	check := func(ids []string) {
		for _, id := range ids {
			if !r.Has(id) {
				missing = append(missing, id)
			}
		}
	}
	check(trackerDefault)
	check(caloDefault)
	for _, e := range overrides.Entries() {
		check(e.Value)
	}
	if len(missing) == 0 {
		return nil
	}
	return sd.NewConfigError("filters referenced but not defined", missing...)
}
