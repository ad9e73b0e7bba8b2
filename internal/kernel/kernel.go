// Package kernel describes the narrow surface of the simulation kernel that
// the configuration layer drives, and provides an in-process dry-run
// implementation that instantiates plugins and records every call.
package kernel

import (
	"fmt"
	"strings"
	"sync"

	"ddsim/internal/plugins"
	"ddsim/internal/sd"
)

// Kernel is the action-installation API of the simulation engine.
type Kernel interface {
	NewFilter(id string) (plugins.Filter, error)
	RegisterGlobalFilter(f plugins.Filter) error
	NewAction(id string) (plugins.Action, error)
	AttachSensitive(detector string, action plugins.Action, filters []plugins.Filter) error
	Calls() []Call
}

// Call is one recorded kernel call.
type Call struct {
	Op     string `json:"op" yaml:"op"`
	Target string `json:"target" yaml:"target"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func (c Call) String() string {
	if c.Detail == "" {
		return fmt.Sprintf("%s %s", c.Op, c.Target)
	}
	return fmt.Sprintf("%s %s [%s]", c.Op, c.Target, c.Detail)
}

// Attachment is what a detector ended up with.
type Attachment struct {
	Detector string
	Action   plugins.Action
	Filters  []plugins.Filter
}

// DryRun instantiates plugins from a registry without transporting anything.
type DryRun struct {
	mu       sync.Mutex
	registry *plugins.Registry
	calls    []Call
	globals  []plugins.Filter
	attached map[string]*Attachment
	order    []string
}

// NewDryRun creates a dry-run kernel over registry.
func NewDryRun(registry *plugins.Registry) *DryRun {
	return &DryRun{
		registry: registry,
		attached: make(map[string]*Attachment),
	}
}

func (k *DryRun) record(op, target, detail string) {
	k.calls = append(k.calls, Call{Op: op, Target: target, Detail: detail})
}

// NewFilter creates a filter instance.
func (k *DryRun) NewFilter(id string) (plugins.Filter, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	f, err := k.registry.NewFilter(id)
	if err != nil {
		return nil, err
	}
	k.record("createFilter", id, "")
	return f, nil
}

// RegisterGlobalFilter makes f available to every sensitive sequence.
func (k *DryRun) RegisterGlobalFilter(f plugins.Filter) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, g := range k.globals {
		if g.Name() == f.Name() {
			return sd.Preconditionf("global filter %s registered twice", f.Name())
		}
	}
	k.globals = append(k.globals, f)
	k.record("registerGlobalFilter", f.Type()+"/"+f.Name(), f.Values().String())
	return nil
}

// NewAction creates a sensitive action instance.
func (k *DryRun) NewAction(id string) (plugins.Action, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	a, err := k.registry.NewAction(id)
	if err != nil {
		return nil, err
	}
	k.record("createAction", id, "")
	return a, nil
}

// AttachSensitive binds action and filters to detector. Filters must have
// been registered as global filters first.
func (k *DryRun) AttachSensitive(detector string, action plugins.Action, filters []plugins.Filter) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, dup := k.attached[detector]; dup {
		return sd.Preconditionf("detector %s already has a sensitive action", detector)
	}
	names := make([]string, 0, len(filters))
	for _, f := range filters {
		if !k.isGlobal(f) {
			return sd.Preconditionf("filter %s attached to %s was never registered", f.Name(), detector)
		}
		names = append(names, f.Name())
	}
	k.attached[detector] = &Attachment{Detector: detector, Action: action, Filters: append([]plugins.Filter(nil), filters...)}
	k.order = append(k.order, detector)

	target := "none"
	if action != nil {
		target = action.Type() + "/" + action.Name()
	}
	k.record("setupDetector", detector, target)
	if len(names) > 0 {
		k.record("adoptFilters", detector, strings.Join(names, ","))
	}
	return nil
}

func (k *DryRun) isGlobal(f plugins.Filter) bool {
	for _, g := range k.globals {
		if g == f {
			return true
		}
	}
	return false
}

// Calls returns the call log in order.
func (k *DryRun) Calls() []Call {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]Call, len(k.calls))
	copy(out, k.calls)
	return out
}

// GlobalFilters returns the registered global filters.
func (k *DryRun) GlobalFilters() []plugins.Filter {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]plugins.Filter(nil), k.globals...)
}

// Attachment returns what detector was bound to.
func (k *DryRun) Attachment(detector string) (*Attachment, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	a, ok := k.attached[detector]
	return a, ok
}

// Detectors lists attached detectors in attachment order.
func (k *DryRun) Detectors() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.order...)
}

// Records reports whether a step in detector would be recorded: the detector
// must have an action and every attached filter must accept the step.
func (k *DryRun) Records(detector string, step plugins.Step) bool {
	a, ok := k.Attachment(detector)
	if !ok || a.Action == nil {
		return false
	}
	for _, f := range a.Filters {
		if !f.Accept(step) {
			return false
		}
	}
	return true
}
