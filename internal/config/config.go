package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"ddsim/internal/sd"
)

// Config is the complete steering configuration of a run.
type Config struct {
	// Geometry
	CompactFile string `yaml:"compactFile"`

	// Run control
	NumberOfEvents int        `yaml:"numberOfEvents" validate:"gte=-1"`
	SkipNEvents    int        `yaml:"skipNEvents" validate:"gte=0"`
	OutputFile     string     `yaml:"outputFile" validate:"omitempty,endswith=.slcio|endswith=.root"`
	RunType        string     `yaml:"runType" validate:"oneof=batch run shell vis qt"`
	PrintLevel     PrintLevel `yaml:"printLevel" validate:"min=1,max=7"`

	// Sensitive detector setup
	Action ActionConfig `yaml:"action"`
	Filter FilterConfig `yaml:"filter"`

	// Front end
	Steering SteeringConfig `yaml:"steering"`
	History  HistoryConfig  `yaml:"history"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ActionConfig selects sensitive actions per category and per detector.
type ActionConfig struct {
	Tracker            *sd.ActionSpec `yaml:"tracker"`
	Calo               *sd.ActionSpec `yaml:"calo"`
	MapActions         *ActionMap     `yaml:"mapActions"`
	TrackerSDTypes     []string       `yaml:"trackerSDTypes"`
	CalorimeterSDTypes []string       `yaml:"calorimeterSDTypes"`
}

// FilterConfig defines filters and selects them per category and detector.
type FilterConfig struct {
	Tracker      FilterList  `yaml:"tracker"`
	Calo         FilterList  `yaml:"calo"`
	MapDetFilter *FilterMap  `yaml:"mapDetFilter"`
	Filters      *FilterDefs `yaml:"filters"`
}

// SteeringConfig bounds the execution of Go steering scripts.
type SteeringConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Format string `yaml:"format" validate:"oneof=console json"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	filters := NewFilterDefs()
	filters.Set("geantino", &sd.ActionSpec{Name: "GeantinoRejectFilter/GeantinoRejector"})
	filters.Set("edep1kev", &sd.ActionSpec{Name: "EnergyDepositMinimumCut", Params: sd.Params{"Cut": "1*keV"}})
	filters.Set("edep0", &sd.ActionSpec{Name: "EnergyDepositMinimumCut/Cut0", Params: sd.Params{"Cut": 0.0}})

	return &Config{
		NumberOfEvents: 0,
		OutputFile:     "dummyOutput.slcio",
		RunType:        "batch",
		PrintLevel:     LevelInfo,
		Action: ActionConfig{
			Tracker: &sd.ActionSpec{
				Name:   "Geant4TrackerWeightedAction",
				Params: sd.Params{"HitPositionCombination": 2, "CollectSingleDeposits": false},
			},
			Calo:               &sd.ActionSpec{Name: "Geant4ScintillatorCalorimeterAction"},
			MapActions:         NewActionMap(),
			TrackerSDTypes:     []string{"tracker"},
			CalorimeterSDTypes: []string{"calorimeter"},
		},
		Filter: FilterConfig{
			Tracker:      FilterList{"edep1kev"},
			Calo:         FilterList{},
			MapDetFilter: NewFilterMap(),
			Filters:      filters,
		},
		Steering: SteeringConfig{Timeout: 10 * time.Second},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(".ddsim", "history.db"),
		},
		Logging: LoggingConfig{Format: "console"},
	}
}

// Load reads a YAML configuration on top of the defaults and applies the
// environment. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Merge(data); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Merge decodes YAML onto c. Values present in data replace the current
// ones; ordered maps gain or replace entries. Every malformed entry is
// reported, not just the first.
func (c *Config) Merge(data []byte) error {
	err := yaml.Unmarshal(data, c)
	c.normalize()
	if err == nil {
		return nil
	}
	var te *yaml.TypeError
	if !errors.As(err, &te) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	var errs error
	for _, msg := range te.Errors {
		errs = multierr.Append(errs, sd.Configf("%s", msg))
	}
	return errs
}

// normalize turns decoded "none" actions into nil and re-creates maps that
// an explicit null emptied.
func (c *Config) normalize() {
	if c.Action.Tracker != nil && c.Action.Tracker.Name == "" {
		c.Action.Tracker = nil
	}
	if c.Action.Calo != nil && c.Action.Calo.Name == "" {
		c.Action.Calo = nil
	}
	if c.Action.MapActions == nil {
		c.Action.MapActions = NewActionMap()
	}
	if c.Filter.MapDetFilter == nil {
		c.Filter.MapDetFilter = NewFilterMap()
	}
	if c.Filter.Filters == nil {
		c.Filter.Filters = NewFilterDefs()
	}
	if c.Filter.Tracker == nil {
		c.Filter.Tracker = FilterList{}
	}
	if c.Filter.Calo == nil {
		c.Filter.Calo = FilterList{}
	}
}

// Marshal renders c as steering YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes c as YAML.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if path := os.Getenv("DDSIM_COMPACT_FILE"); path != "" {
		c.CompactFile = path
	}
	if path := os.Getenv("DDSIM_HISTORY_DB"); path != "" {
		c.History.Path = path
	}
	if level := os.Getenv("DDSIM_PRINT_LEVEL"); level != "" {
		if l, err := ParsePrintLevel(level); err == nil {
			c.PrintLevel = l
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the shape of every override. All
// problems are returned together.
func (c *Config) Validate() error {
	var errs error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = multierr.Append(errs, sd.NewConfigError(
				fmt.Sprintf("invalid value %v (%s=%s)", fe.Value(), fe.Tag(), fe.Param()),
				optionName(fe.Namespace())))
		}
	}

	for _, a := range []struct {
		name string
		spec *sd.ActionSpec
	}{
		{"action.tracker", c.Action.Tracker},
		{"action.calo", c.Action.Calo},
	} {
		if a.spec != nil && a.spec.Name == "" {
			errs = multierr.Append(errs, sd.NewConfigError("action has no name", a.name))
		}
	}
	var unnamed []string
	for _, id := range c.Filter.Filters.IDs() {
		if spec, _ := c.Filter.Filters.Get(id); spec == nil || spec.Name == "" {
			unnamed = append(unnamed, id)
		}
	}
	if len(unnamed) > 0 {
		errs = multierr.Append(errs, sd.NewConfigError("filter definition has no plugin", unnamed...))
	}
	return errs
}

// optionName maps a validator namespace ("Config.Logging.Format") to the
// steering name ("logging.format").
func optionName(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}

// Classifier returns the category classifier configured by the SD types.
func (c *Config) Classifier() sd.Classifier {
	return sd.Classifier{
		TrackerPatterns:     append([]string(nil), c.Action.TrackerSDTypes...),
		CalorimeterPatterns: append([]string(nil), c.Action.CalorimeterSDTypes...),
	}
}

// PrintLevel is the verbosity scale of the simulation, 1 (VERBOSE) to 7
// (ALWAYS).
type PrintLevel int

const (
	LevelVerbose PrintLevel = iota + 1
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelFatal
	LevelAlways
)

var levelNames = []string{"VERBOSE", "DEBUG", "INFO", "WARNING", "ERROR", "FATAL", "ALWAYS"}

func (l PrintLevel) String() string {
	if l < LevelVerbose || l > LevelAlways {
		return strconv.Itoa(int(l))
	}
	return levelNames[l-1]
}

// ParsePrintLevel accepts a level number or name.
func ParsePrintLevel(s string) (PrintLevel, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < int(LevelVerbose) || n > int(LevelAlways) {
			return 0, fmt.Errorf("print level %d out of range 1..7", n)
		}
		return PrintLevel(n), nil
	}
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return PrintLevel(i + 1), nil
		}
	}
	return 0, fmt.Errorf("unknown print level %q", s)
}

func (l PrintLevel) MarshalYAML() (any, error) { return l.String(), nil }

func (l *PrintLevel) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParsePrintLevel(node.Value)
	if err != nil {
		return &yaml.TypeError{Errors: []string{fmt.Sprintf("line %d: printLevel: %v", node.Line, err)}}
	}
	*l = v
	return nil
}
