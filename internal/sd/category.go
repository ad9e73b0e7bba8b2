// Package sd holds the sensitive-detector vocabulary shared by the resolver,
// the configuration layer and the kernel: categories, the classifier, action
// specifications and the error taxonomy.
package sd

import (
	"fmt"
	"strings"
)

// Category is the coarse classification of a sensitive detector.
type Category int

const (
	Unknown Category = iota
	Tracker
	Calorimeter
)

func (c Category) String() string {
	switch c {
	case Tracker:
		return "tracker"
	case Calorimeter:
		return "calorimeter"
	default:
		return "unknown"
	}
}

// ParseCategory is the inverse of String.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(s) {
	case "tracker":
		return Tracker, nil
	case "calorimeter", "calo":
		return Calorimeter, nil
	case "unknown", "":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("unknown category %q", s)
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(text []byte) error {
	v, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Classifier maps a raw sensitive type onto a Category.
type Classifier struct {
	TrackerPatterns     []string
	CalorimeterPatterns []string
}

// DefaultClassifier matches the stock "tracker" and "calorimeter" types.
func DefaultClassifier() Classifier {
	return Classifier{
		TrackerPatterns:     []string{"tracker"},
		CalorimeterPatterns: []string{"calorimeter"},
	}
}

// Classify applies c's pattern lists to sensitiveType.
func (c Classifier) Classify(sensitiveType string) Category {
	return Classify(sensitiveType, c.TrackerPatterns, c.CalorimeterPatterns)
}

// Classify tests the tracker patterns strictly before the calorimeter
// patterns, so a type matching both sets is a Tracker.
func Classify(sensitiveType string, trackerPatterns, calorimeterPatterns []string) Category {
	lower := strings.ToLower(sensitiveType)
	if matchesAny(lower, trackerPatterns) {
		return Tracker
	}
	if matchesAny(lower, calorimeterPatterns) {
		return Calorimeter
	}
	return Unknown
}

func matchesAny(lower string, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
