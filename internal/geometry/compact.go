package geometry

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// xmlNode captures an element generically so that <detector> and <include>
// siblings keep their document order.
type xmlNode struct {
	XMLName   xml.Name
	ID        string        `xml:"id,attr"`
	Name      string        `xml:"name,attr"`
	Type      string        `xml:"type,attr"`
	Readout   string        `xml:"readout,attr"`
	Sensitive string        `xml:"sensitive,attr"`
	Ref       string        `xml:"ref,attr"`
	SD        *xmlSensitive `xml:"sensitive"`
	Children  []xmlNode     `xml:",any"`
}

type xmlSensitive struct {
	Type string `xml:"type,attr"`
}

// LoadCompact reads a compact XML description (<lccdd>), following
// <include ref="…"/> elements relative to the including file.
func LoadCompact(path string) (*Description, error) {
	g := newIncludeGuard()
	name, roots, err := readCompact(g, "", path)
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

func readCompact(g *includeGuard, from, ref string) (string, []*Detector, error) {
	abs, err := g.enter(from, ref)
	if err != nil {
		return "", nil, err
	}
	defer g.leave(abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", nil, fmt.Errorf("read compact file: %w", err)
	}
	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return "", nil, fmt.Errorf("parse %s: %w", abs, err)
	}
	if root.XMLName.Local != "lccdd" {
		return "", nil, fmt.Errorf("parse %s: root element is <%s>, want <lccdd>", abs, root.XMLName.Local)
	}

	var name string
	var out []*Detector
	for _, child := range root.Children {
		switch child.XMLName.Local {
		case "info":
			name = child.Name
		case "include":
			_, ds, err := readCompact(g, abs, child.Ref)
			if err != nil {
				return "", nil, err
			}
			out = append(out, ds...)
		case "includes":
			for _, inc := range child.Children {
				if inc.Ref == "" || inc.XMLName.Local == "gdmlFile" {
					continue
				}
				_, ds, err := readCompact(g, abs, inc.Ref)
				if err != nil {
					return "", nil, err
				}
				out = append(out, ds...)
			}
		case "detectors":
			ds, err := convertDetectors(g, abs, child.Children)
			if err != nil {
				return "", nil, err
			}
			out = append(out, ds...)
		}
	}
	return name, out, nil
}

func convertDetectors(g *includeGuard, file string, nodes []xmlNode) ([]*Detector, error) {
	var out []*Detector
	for _, n := range nodes {
		switch n.XMLName.Local {
		case "include":
			_, ds, err := readCompact(g, file, n.Ref)
			if err != nil {
				return nil, err
			}
			out = append(out, ds...)
		case "detector":
			det, err := convertDetector(g, file, n)
			if err != nil {
				return nil, err
			}
			out = append(out, det)
		}
	}
	return out, nil
}

func convertDetector(g *includeGuard, file string, n xmlNode) (*Detector, error) {
	det := &Detector{
		Name:          strings.TrimSpace(n.Name),
		Type:          n.Type,
		Readout:       n.Readout,
		SensitiveType: n.Sensitive,
	}
	if n.SD != nil && n.SD.Type != "" {
		det.SensitiveType = n.SD.Type
	}
	if n.ID != "" {
		id, err := strconv.Atoi(strings.TrimSpace(n.ID))
		if err != nil {
			return nil, fmt.Errorf("%s: detector %q: id %q: %w", file, n.Name, n.ID, err)
		}
		det.ID = id
	}
	children, err := convertDetectors(g, file, n.Children)
	if err != nil {
		return nil, err
	}
	det.Children = children
	return det, nil
}
