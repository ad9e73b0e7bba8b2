// Package steer is the handle Go steering scripts receive. Scripts import it
// as "ddsim/steer" and define
//
//	func Steer(s *steer.Settings)
//
// Every call records its error instead of returning it so that a script
// reports all of its mistakes in one run.
package steer

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"ddsim/internal/config"
	"ddsim/internal/sd"
)

// Settings edits a configuration on behalf of a script.
type Settings struct {
	cfg  *config.Config
	errs error
}

// New wraps cfg.
func New(cfg *config.Config) *Settings {
	return &Settings{cfg: cfg}
}

func (s *Settings) fail(err error) {
	s.errs = multierr.Append(s.errs, err)
}

// Set assigns an option by its command-line name, e.g. "numberOfEvents".
func (s *Settings) Set(option, value string) {
	if err := s.cfg.Set(option, value); err != nil {
		s.fail(err)
	}
}

// Get returns an option's current value.
func (s *Settings) Get(option string) string {
	v, err := s.cfg.Get(option)
	if err != nil {
		s.fail(err)
	}
	return v
}

// SetAction sets the default action of a category ("tracker" or "calo").
// An empty name disables the category default.
func (s *Settings) SetAction(category, name string, params map[string]any) {
	var spec *sd.ActionSpec
	if name != "" && !strings.EqualFold(name, "none") {
		spec = &sd.ActionSpec{Name: name, Params: sd.Params(params).Clone()}
	}
	switch strings.ToLower(category) {
	case "tracker":
		s.cfg.Action.Tracker = spec
	case "calo", "calorimeter":
		s.cfg.Action.Calo = spec
	default:
		s.fail(sd.NewConfigError("unknown action category", category))
	}
}

// MapAction makes detectors whose name contains pattern use action. The
// action may carry parameters as "Name(key=value)"; "none" leaves matching
// detectors uninstrumented.
func (s *Settings) MapAction(pattern, action string) {
	spec, err := sd.ParseActionSpec(action)
	if err != nil {
		s.fail(fmt.Errorf("MapAction(%q): %w", pattern, err))
		return
	}
	if err := s.cfg.Action.MapActions.Set(pattern, spec); err != nil {
		s.fail(err)
	}
}

// MapFilter sets the filters of detectors whose name contains pattern.
// Calling it without ids disables filtering for them.
func (s *Settings) MapFilter(pattern string, ids ...string) {
	if ids == nil {
		ids = []string{}
	}
	if err := s.cfg.Filter.MapDetFilter.Set(pattern, append([]string{}, ids...)); err != nil {
		s.fail(err)
	}
}

// DefineFilter adds or replaces a filter definition.
func (s *Settings) DefineFilter(id, plugin string, params map[string]any) {
	if id == "" || plugin == "" {
		s.fail(sd.NewConfigError("DefineFilter needs an id and a plugin", id))
		return
	}
	s.cfg.Filter.Filters.Set(id, &sd.ActionSpec{Name: plugin, Params: sd.Params(params).Clone()})
}

// SetFilters sets the default filters of a category.
func (s *Settings) SetFilters(category string, ids ...string) {
	list := config.FilterList(append([]string{}, ids...))
	switch strings.ToLower(category) {
	case "tracker":
		s.cfg.Filter.Tracker = list
	case "calo", "calorimeter":
		s.cfg.Filter.Calo = list
	default:
		s.fail(sd.NewConfigError("unknown filter category", category))
	}
}

// ClearActionOverrides empties mapActions.
func (s *Settings) ClearActionOverrides() { s.cfg.Action.MapActions.Clear() }

// ClearFilterOverrides empties mapDetFilter.
func (s *Settings) ClearFilterOverrides() { s.cfg.Filter.MapDetFilter.Clear() }

// Err returns every error recorded so far.
func (s *Settings) Err() error { return s.errs }
