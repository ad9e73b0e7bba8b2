package geometry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type yamlFile struct {
	Name      string      `yaml:"name"`
	Include   []string    `yaml:"include,omitempty"`
	Detectors []*Detector `yaml:"detectors"`
}

// LoadYAML reads a YAML description. Included files contribute their
// detectors before the including file's own.
func LoadYAML(path string) (*Description, error) {
	g := newIncludeGuard()
	name, roots, err := readYAML(g, "", path)
	if err != nil {
		return nil, err
	}
	d, err := New(name, roots...)
	if err != nil {
		return nil, err
	}
	d.sources = g.sources
	return d, nil
}

func readYAML(g *includeGuard, from, ref string) (string, []*Detector, error) {
	abs, err := g.enter(from, ref)
	if err != nil {
		return "", nil, err
	}
	defer g.leave(abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", nil, fmt.Errorf("read geometry file: %w", err)
	}
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return "", nil, fmt.Errorf("parse %s: %w", abs, err)
	}

	var out []*Detector
	for _, inc := range f.Include {
		_, ds, err := readYAML(g, abs, inc)
		if err != nil {
			return "", nil, err
		}
		out = append(out, ds...)
	}
	return f.Name, append(out, f.Detectors...), nil
}

// Marshal renders a description in the YAML geometry format.
func Marshal(d *Description) ([]byte, error) {
	return yaml.Marshal(yamlFile{Name: d.name, Detectors: d.roots})
}
