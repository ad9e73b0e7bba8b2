// Package resolve decides, for every sensitive detector of a description,
// which action and which filter chain the kernel should attach.
package resolve

import (
	"fmt"

	"go.uber.org/zap"

	"ddsim/internal/geometry"
	"ddsim/internal/override"
	"ddsim/internal/sd"
)

// ErrNotResolved is returned when bindings are read before Run.
var ErrNotResolved = fmt.Errorf("%w: resolution has not run", sd.ErrPrecondition)

// Source records where a binding's action or filter list came from.
type Source string

const (
	FromOverride Source = "override"
	FromDefault  Source = "default"
	// FromNothing means neither an override nor a category default applied.
	FromNothing Source = "none"
)

// Description enumerates detectors in the order the geometry provides them.
type Description interface {
	Detectors() []*geometry.Detector
}

// Rules is the frozen user configuration consulted during resolution.
type Rules struct {
	Classifier      sd.Classifier
	ActionOverrides *override.Registry[*sd.ActionSpec]
	ActionDefaults  map[sd.Category]*sd.ActionSpec
	FilterOverrides *override.Registry[[]string]
	FilterDefaults  map[sd.Category][]string
}

// Binding is the resolution of one sensitive detector.
type Binding struct {
	Detector      string         `json:"detector" yaml:"detector"`
	SensitiveType string         `json:"sensitiveType" yaml:"sensitiveType"`
	Category      sd.Category    `json:"category" yaml:"category"`
	Action        *sd.ActionSpec `json:"action" yaml:"action"`
	ActionSource  Source         `json:"actionSource" yaml:"actionSource"`
	ActionPattern string         `json:"actionPattern,omitempty" yaml:"actionPattern,omitempty"`
	Filters       []string       `json:"filters" yaml:"filters"`
	FilterSource  Source         `json:"filterSource" yaml:"filterSource"`
	FilterPattern string         `json:"filterPattern,omitempty" yaml:"filterPattern,omitempty"`
}

// Instrumented reports whether an action will be attached.
func (b Binding) Instrumented() bool { return b.Action != nil }

// Diagnostic is a non-fatal finding about a sensitive detector.
type Diagnostic struct {
	Detector      string `json:"detector" yaml:"detector"`
	SensitiveType string `json:"sensitiveType" yaml:"sensitiveType"`
	Message       string `json:"message" yaml:"message"`
}

// Result is the output of one resolution pass.
type Result struct {
	Bindings    []Binding    `json:"bindings" yaml:"bindings"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// Lookup returns the binding of detector.
func (r *Result) Lookup(detector string) (Binding, bool) {
	for _, b := range r.Bindings {
		if b.Detector == detector {
			return b, true
		}
	}
	return Binding{}, false
}

// Unknown lists the detectors whose sensitive type matched no category.
func (r *Result) Unknown() []string {
	var out []string
	for _, d := range r.Diagnostics {
		out = append(out, d.Detector)
	}
	return out
}

// Resolve runs one pass over desc. It has no side effects; the returned
// bindings share no memory with rules.
func Resolve(desc Description, rules Rules) *Result {
	res := &Result{Bindings: []Binding{}}
	for _, det := range desc.Detectors() {
		if !det.Sensitive() {
			continue
		}
		b := Binding{
			Detector:      det.Name,
			SensitiveType: det.SensitiveType,
			Category:      rules.Classifier.Classify(det.SensitiveType),
		}

		if e, ok := rules.ActionOverrides.Match(det.Name); ok {
			b.Action, b.ActionSource, b.ActionPattern = e.Value.Clone(), FromOverride, e.Pattern
		} else if a, ok := rules.ActionDefaults[b.Category]; ok {
			b.Action, b.ActionSource = a.Clone(), FromDefault
		} else {
			b.ActionSource = FromNothing
		}

		if e, ok := rules.FilterOverrides.Match(det.Name); ok {
			b.Filters, b.FilterSource, b.FilterPattern = copyIDs(e.Value), FromOverride, e.Pattern
		} else if f, ok := rules.FilterDefaults[b.Category]; ok {
			b.Filters, b.FilterSource = copyIDs(f), FromDefault
		} else {
			b.Filters, b.FilterSource = []string{}, FromNothing
		}

		if b.Category == sd.Unknown {
			msg := "sensitive type matches no category; detector is not instrumented"
			if b.Action != nil {
				msg = "sensitive type matches no category; action " + b.Action.Name + " comes from an override"
			}
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Detector:      det.Name,
				SensitiveType: det.SensitiveType,
				Message:       msg,
			})
		}
		res.Bindings = append(res.Bindings, b)
	}
	return res
}

func copyIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Resolver runs a single resolution pass and guards access to its result.
type Resolver struct {
	desc   Description
	rules  Rules
	logger *zap.Logger
	result *Result
}

// NewResolver prepares a pass over desc. A nil logger discards output.
func NewResolver(desc Description, rules Rules, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{desc: desc, rules: rules, logger: logger}
}

// Run resolves and logs one warning per unclassified detector.
func (r *Resolver) Run() *Result {
	r.result = Resolve(r.desc, r.rules)
	for _, d := range r.result.Diagnostics {
		r.logger.Warn(d.Message, zap.String("detector", d.Detector), zap.String("sensitiveType", d.SensitiveType))
	}
	r.logger.Debug("Resolution finished",
		zap.Int("bindings", len(r.result.Bindings)),
		zap.Int("unknown", len(r.result.Diagnostics)))
	return r.result
}

// Result returns the output of Run.
func (r *Resolver) Result() (*Result, error) {
	if r.result == nil {
		return nil, ErrNotResolved
	}
	return r.result, nil
}

// Bindings returns the bindings produced by Run.
func (r *Resolver) Bindings() ([]Binding, error) {
	res, err := r.Result()
	if err != nil {
		return nil, err
	}
	return res.Bindings, nil
}
