package plugins

import (
	"fmt"
	"strconv"
	"strings"
)

// Internal units follow the transport engine: energies in MeV, lengths in mm.
const (
	MeV = 1.0
	KeV = 1e-3 * MeV
	GeV = 1e3 * MeV
)

var unitTable = map[string]float64{
	"ev": 1e-6 * MeV, "kev": KeV, "mev": MeV, "gev": GeV, "tev": 1e3 * GeV,
	"nm": 1e-6, "um": 1e-3, "mm": 1, "cm": 10, "m": 1e3,
}

// ParseQuantity reads "1*keV", "1 keV", "0.5*GeV" or a bare number (already
// in internal units).
func ParseQuantity(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}

	num, unit, ok := strings.Cut(s, "*")
	if !ok {
		fields := strings.Fields(s)
		if len(fields) != 2 {
			return 0, fmt.Errorf("quantity %q: expected value*unit", s)
		}
		num, unit = fields[0], fields[1]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, fmt.Errorf("quantity %q: %w", s, err)
	}
	scale, ok := unitTable[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return 0, fmt.Errorf("quantity %q: unknown unit %q", s, strings.TrimSpace(unit))
	}
	return v * scale, nil
}
