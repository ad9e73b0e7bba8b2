package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"ddsim/internal/sd"
)

// Option is one steering option as exposed on the command line. The table
// returned by Options is the single place flags are generated from.
type Option struct {
	Name  string
	Short string
	// Default is the textual form of the stock value.
	Default string
	Help    string
	// Repeated options add one entry per occurrence instead of replacing.
	Repeated bool
	Validate func(value string) error

	set func(c *Config, value string) error
	get func(c *Config) string
}

// Apply validates value and assigns it to c.
func (o Option) Apply(c *Config, value string) error {
	if err := o.Validate(value); err != nil {
		return err
	}
	return o.set(c, value)
}

// Current renders the option's value in c.
func (o Option) Current(c *Config) string { return o.get(c) }

// optionTable is built on first use; defaults are rendered once.
var optionTable = sync.OnceValue(func() optionIndex {
	opts := buildOptions()
	byName := make(map[string]int, len(opts))
	for i, o := range opts {
		byName[o.Name] = i
	}
	return optionIndex{list: opts, byName: byName}
})

type optionIndex struct {
	list   []Option
	byName map[string]int
}

// Options returns the option table in display order.
func Options() []Option {
	return slices.Clone(optionTable().list)
}

func buildOptions() []Option {
	opts := []Option{
		{
			Name: "compactFile", Help: "compact XML (or YAML) detector description",
			Validate: anyValue,
			set:      func(c *Config, v string) error { c.CompactFile = v; return nil },
			get:      func(c *Config) string { return c.CompactFile },
		},
		{
			Name: "numberOfEvents", Short: "N", Help: "number of events to simulate, -1 for all input events",
			Validate: intAtLeast("numberOfEvents", -1),
			set:      func(c *Config, v string) error { c.NumberOfEvents, _ = strconv.Atoi(strings.TrimSpace(v)); return nil },
			get:      func(c *Config) string { return strconv.Itoa(c.NumberOfEvents) },
		},
		{
			Name: "skipNEvents", Help: "events to skip in the input file",
			Validate: intAtLeast("skipNEvents", 0),
			set:      func(c *Config, v string) error { c.SkipNEvents, _ = strconv.Atoi(strings.TrimSpace(v)); return nil },
			get:      func(c *Config) string { return strconv.Itoa(c.SkipNEvents) },
		},
		{
			Name: "outputFile", Help: "output file (.slcio or .root)",
			Validate: func(v string) error {
				if v == "" || strings.HasSuffix(v, ".slcio") || strings.HasSuffix(v, ".root") {
					return nil
				}
				return sd.NewConfigError("output file must end in .slcio or .root", "outputFile")
			},
			set: func(c *Config, v string) error { c.OutputFile = v; return nil },
			get: func(c *Config) string { return c.OutputFile },
		},
		{
			Name: "runType", Help: "batch, run, shell, vis or qt",
			Validate: oneOf("runType", "batch", "run", "shell", "vis", "qt"),
			set:      func(c *Config, v string) error { c.RunType = v; return nil },
			get:      func(c *Config) string { return c.RunType },
		},
		{
			Name: "printLevel", Short: "v", Help: "verbosity, 1 (VERBOSE) to 7 (ALWAYS) or a level name",
			Validate: func(v string) error {
				if _, err := ParsePrintLevel(v); err != nil {
					return sd.Configf("printLevel: %v", err)
				}
				return nil
			},
			set: func(c *Config, v string) error { c.PrintLevel, _ = ParsePrintLevel(v); return nil },
			get: func(c *Config) string { return c.PrintLevel.String() },
		},
		{
			Name: "action.tracker", Help: "default tracker action, Name or Name(key=value, ...); none disables",
			Validate: actionValue("action.tracker"),
			set: func(c *Config, v string) error {
				c.Action.Tracker, _ = sd.ParseActionSpec(v)
				return nil
			},
			get: func(c *Config) string { return c.Action.Tracker.String() },
		},
		{
			Name: "action.calo", Help: "default calorimeter action, Name or Name(key=value, ...); none disables",
			Validate: actionValue("action.calo"),
			set: func(c *Config, v string) error {
				c.Action.Calo, _ = sd.ParseActionSpec(v)
				return nil
			},
			get: func(c *Config) string { return c.Action.Calo.String() },
		},
		{
			Name: "action.mapActions", Repeated: true,
			Help:     "pattern=Action: detectors whose name contains pattern use Action (none for no action)",
			Validate: pairValue("action.mapActions", func(v string) error { _, err := sd.ParseActionSpec(v); return err }),
			set: func(c *Config, v string) error {
				pattern, spec, _ := strings.Cut(v, "=")
				action, _ := sd.ParseActionSpec(spec)
				return c.Action.MapActions.Set(strings.TrimSpace(pattern), action)
			},
			get: func(c *Config) string {
				var parts []string
				for _, e := range c.Action.MapActions.Entries() {
					parts = append(parts, e.Pattern+"="+e.Value.String())
				}
				return strings.Join(parts, ";")
			},
		},
		{
			Name: "action.trackerSDTypes", Help: "comma-separated sensitive types treated as trackers",
			Validate: anyValue,
			set:      func(c *Config, v string) error { c.Action.TrackerSDTypes = splitIDs(v); return nil },
			get:      func(c *Config) string { return strings.Join(c.Action.TrackerSDTypes, ",") },
		},
		{
			Name: "action.calorimeterSDTypes", Help: "comma-separated sensitive types treated as calorimeters",
			Validate: anyValue,
			set:      func(c *Config, v string) error { c.Action.CalorimeterSDTypes = splitIDs(v); return nil },
			get:      func(c *Config) string { return strings.Join(c.Action.CalorimeterSDTypes, ",") },
		},
		{
			Name: "filter.tracker", Help: "comma-separated filters for trackers without an override",
			Validate: anyValue,
			set:      func(c *Config, v string) error { c.Filter.Tracker = splitIDs(v); return nil },
			get:      func(c *Config) string { return strings.Join(c.Filter.Tracker, ",") },
		},
		{
			Name: "filter.calo", Help: "comma-separated filters for calorimeters without an override",
			Validate: anyValue,
			set:      func(c *Config, v string) error { c.Filter.Calo = splitIDs(v); return nil },
			get:      func(c *Config) string { return strings.Join(c.Filter.Calo, ",") },
		},
		{
			Name: "filter.mapDetFilter", Repeated: true,
			Help:     "pattern=f1,f2: filters for detectors whose name contains pattern; pattern= disables filtering",
			Validate: pairValue("filter.mapDetFilter", func(string) error { return nil }),
			set: func(c *Config, v string) error {
				pattern, ids, _ := strings.Cut(v, "=")
				return c.Filter.MapDetFilter.Set(strings.TrimSpace(pattern), splitIDs(ids))
			},
			get: func(c *Config) string {
				var parts []string
				for _, e := range c.Filter.MapDetFilter.Entries() {
					parts = append(parts, e.Pattern+"="+strings.Join(e.Value, ","))
				}
				return strings.Join(parts, ";")
			},
		},
		{
			Name: "filter.filters", Repeated: true,
			Help: "id=Plugin(key=value, ...): define or replace a filter",
			Validate: pairValue("filter.filters", func(v string) error {
				spec, err := sd.ParseActionSpec(v)
				if err == nil && spec == nil {
					return sd.Configf("filter definition needs a plugin")
				}
				return err
			}),
			set: func(c *Config, v string) error {
				id, spec, _ := strings.Cut(v, "=")
				def, _ := sd.ParseActionSpec(spec)
				c.Filter.Filters.Set(strings.TrimSpace(id), def)
				return nil
			},
			get: func(c *Config) string {
				var parts []string
				for _, id := range c.Filter.Filters.IDs() {
					def, _ := c.Filter.Filters.Get(id)
					parts = append(parts, id+"="+def.String())
				}
				return strings.Join(parts, ";")
			},
		},
		{
			Name: "steering.timeout", Help: "maximum run time of a Go steering script",
			Validate: func(v string) error {
				d, err := time.ParseDuration(v)
				if err != nil || d <= 0 {
					return sd.NewConfigError("not a positive duration", "steering.timeout")
				}
				return nil
			},
			set: func(c *Config, v string) error { c.Steering.Timeout, _ = time.ParseDuration(v); return nil },
			get: func(c *Config) string { return c.Steering.Timeout.String() },
		},
		{
			Name: "history.enabled", Help: "record every run in the history database",
			Validate: func(v string) error {
				if _, err := strconv.ParseBool(v); err != nil {
					return sd.NewConfigError("not a boolean", "history.enabled")
				}
				return nil
			},
			set: func(c *Config, v string) error { c.History.Enabled, _ = strconv.ParseBool(v); return nil },
			get: func(c *Config) string { return strconv.FormatBool(c.History.Enabled) },
		},
		{
			Name: "history.path", Help: "run history database",
			Validate: anyValue,
			set:      func(c *Config, v string) error { c.History.Path = v; return nil },
			get:      func(c *Config) string { return c.History.Path },
		},
		{
			Name: "logging.format", Help: "console or json",
			Validate: oneOf("logging.format", "console", "json"),
			set:      func(c *Config, v string) error { c.Logging.Format = v; return nil },
			get:      func(c *Config) string { return c.Logging.Format },
		},
	}

	defaults := DefaultConfig()
	for i := range opts {
		opts[i].Default = opts[i].get(defaults)
	}
	return opts
}

// LookupOption finds an option by name.
func LookupOption(name string) (Option, bool) {
	t := optionTable()
	i, ok := t.byName[name]
	if !ok {
		return Option{}, false
	}
	return t.list[i], true
}

// Set assigns an option by name.
func (c *Config) Set(name, value string) error {
	o, ok := LookupOption(name)
	if !ok {
		return sd.NewConfigError("unknown option", name)
	}
	return o.Apply(c, value)
}

// Get renders an option's value by name.
func (c *Config) Get(name string) (string, error) {
	o, ok := LookupOption(name)
	if !ok {
		return "", sd.NewConfigError("unknown option", name)
	}
	return o.Current(c), nil
}

func anyValue(string) error { return nil }

func intAtLeast(name string, min int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return sd.NewConfigError(fmt.Sprintf("%q is not an integer", v), name)
		}
		if n < min {
			return sd.NewConfigError(fmt.Sprintf("must be at least %d, got %d", min, n), name)
		}
		return nil
	}
}

func oneOf(name string, allowed ...string) func(string) error {
	return func(v string) error {
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return sd.NewConfigError(fmt.Sprintf("%q is not one of %s", v, strings.Join(allowed, ", ")), name)
	}
}

func actionValue(name string) func(string) error {
	return func(v string) error {
		if _, err := sd.ParseActionSpec(v); err != nil {
			return sd.Configf("%s: %v", name, err)
		}
		return nil
	}
}

// pairValue validates "key=value" and checks value with check.
func pairValue(name string, check func(string) error) func(string) error {
	return func(v string) error {
		key, value, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return sd.Configf("%s: %q must be pattern=value", name, v)
		}
		if err := check(value); err != nil {
			return sd.Configf("%s[%s]: %v", name, strings.TrimSpace(key), err)
		}
		return nil
	}
}
