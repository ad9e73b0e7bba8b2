// Package geometry loads the detector description a run is configured
// against. Only what the sensitive-detector setup needs is kept: names,
// types, readouts, the declared sensitive type and the nesting.
package geometry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ddsim/internal/sd"
)

// Detector is one element of the description tree.
type Detector struct {
	ID            int         `yaml:"id,omitempty" json:"id,omitempty"`
	Name          string      `yaml:"name" json:"name"`
	Type          string      `yaml:"type,omitempty" json:"type,omitempty"`
	Readout       string      `yaml:"readout,omitempty" json:"readout,omitempty"`
	SensitiveType string      `yaml:"sensitive,omitempty" json:"sensitive,omitempty"`
	Children      []*Detector `yaml:"children,omitempty" json:"children,omitempty"`
}

// Sensitive reports whether the detector declares a sensitive type.
func (d *Detector) Sensitive() bool { return strings.TrimSpace(d.SensitiveType) != "" }

// Description is a loaded detector tree.
type Description struct {
	name    string
	roots   []*Detector
	order   []*Detector
	index   map[string]*Detector
	sources []string
}

// New builds a description from root detectors. Detector names must be
// unique across the whole tree; every duplicate is reported.
func New(name string, roots ...*Detector) (*Description, error) {
	d := &Description{name: name, roots: roots, index: make(map[string]*Detector)}
	var dups, unnamed []string
	var walk func(parent string, ds []*Detector)
	walk = func(parent string, ds []*Detector) {
		for _, det := range ds {
			if det == nil {
				continue
			}
			switch {
			case det.Name == "":
				unnamed = append(unnamed, parent)
			case d.index[det.Name] != nil:
				dups = append(dups, det.Name)
			default:
				d.index[det.Name] = det
				d.order = append(d.order, det)
			}
			walk(det.Name, det.Children)
		}
	}
	walk("<world>", roots)

	if len(unnamed) > 0 {
		return nil, sd.NewConfigError("detector without a name under", unnamed...)
	}
	if len(dups) > 0 {
		return nil, sd.NewConfigError("duplicate detector name", dups...)
	}
	return d, nil
}

// Name is the description's name, usually taken from <info name=…>.
func (d *Description) Name() string { return d.name }

// Roots returns the top-level detectors.
func (d *Description) Roots() []*Detector { return append([]*Detector(nil), d.roots...) }

// Detectors enumerates every detector depth-first in document order.
func (d *Description) Detectors() []*Detector { return append([]*Detector(nil), d.order...) }

// Sensitive enumerates the detectors that declare a sensitive type.
func (d *Description) Sensitive() []*Detector {
	var out []*Detector
	for _, det := range d.order {
		if det.Sensitive() {
			out = append(out, det)
		}
	}
	return out
}

// Lookup finds a detector by name.
func (d *Description) Lookup(name string) (*Detector, bool) {
	det, ok := d.index[name]
	return det, ok
}

// Sources lists the files the description was read from, main file first.
func (d *Description) Sources() []string { return append([]string(nil), d.sources...) }

// Load reads a description, choosing the format from the file extension:
// .yaml/.yml is YAML, anything else compact XML.
func Load(path string) (*Description, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path)
	default:
		return LoadCompact(path)
	}
}

// includeGuard tracks the files being read so include cycles are caught.
type includeGuard struct {
	active  map[string]bool
	sources []string
}

func newIncludeGuard() *includeGuard {
	return &includeGuard{active: make(map[string]bool)}
}

// enter resolves ref against the including file and marks it active.
func (g *includeGuard) enter(from, ref string) (string, error) {
	ref = os.ExpandEnv(ref)
	if from != "" && !filepath.IsAbs(ref) {
		ref = filepath.Join(filepath.Dir(from), ref)
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	if g.active[abs] {
		return "", sd.NewConfigError("include cycle", abs)
	}
	g.active[abs] = true
	g.sources = append(g.sources, abs)
	return abs, nil
}

func (g *includeGuard) leave(abs string) { delete(g.active, abs) }
