// Package simulation prepares a run: it validates the configuration, loads
// the geometry, installs the filters, resolves every sensitive detector and
// attaches the result to the kernel.
package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ddsim/internal/config"
	"ddsim/internal/filter"
	"ddsim/internal/geometry"
	"ddsim/internal/kernel"
	"ddsim/internal/logging"
	"ddsim/internal/plugins"
	"ddsim/internal/resolve"
	"ddsim/internal/sd"
)

// Session carries everything one run needs. It is built once and passed to
// each step; nothing is kept in package state.
type Session struct {
	Config  *config.Config
	Logger  *zap.Logger
	Plugins *plugins.Registry
	Kernel  kernel.Kernel
	// Strict turns unclassified sensitive detectors into a configuration error.
	Strict bool
	// Problems are configuration errors found while the configuration was
	// assembled. Prepare reports them together with its own.
	Problems error
}

// NewSession creates a session over the built-in plugins and a dry-run
// kernel.
func NewSession(cfg *config.Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := plugins.Builtin()
	return &Session{
		Config:  cfg,
		Logger:  logger,
		Plugins: reg,
		Kernel:  kernel.NewDryRun(reg),
	}
}

// FilterInfo describes one installed filter.
type FilterInfo struct {
	ID     string    `json:"id" yaml:"id"`
	Plugin string    `json:"plugin" yaml:"plugin"`
	Params sd.Params `json:"parameter,omitempty" yaml:"parameter,omitempty"`
}

// Plan is the outcome of Prepare.
type Plan struct {
	RunID       string          `json:"runId" yaml:"runId"`
	CreatedAt   time.Time       `json:"createdAt" yaml:"createdAt"`
	Geometry    string          `json:"geometry" yaml:"geometry"`
	CompactFile string          `json:"compactFile" yaml:"compactFile"`
	Filters     []FilterInfo    `json:"filters" yaml:"filters"`
	Result      *resolve.Result `json:"result" yaml:"result"`
	Calls       []kernel.Call   `json:"calls,omitempty" yaml:"calls,omitempty"`
}

// Rules builds the resolution rules from cfg.
func Rules(cfg *config.Config) resolve.Rules {
	return resolve.Rules{
		Classifier:      cfg.Classifier(),
		ActionOverrides: &cfg.Action.MapActions.Registry,
		ActionDefaults: map[sd.Category]*sd.ActionSpec{
			sd.Tracker:     cfg.Action.Tracker,
			sd.Calorimeter: cfg.Action.Calo,
		},
		FilterOverrides: &cfg.Filter.MapDetFilter.Registry,
		FilterDefaults: map[sd.Category][]string{
			sd.Tracker:     cfg.Filter.Tracker,
			sd.Calorimeter: cfg.Filter.Calo,
		},
	}
}

// Filters builds the filter registry from cfg's definitions.
func Filters(cfg *config.Config) (*filter.Registry, error) {
	reg := filter.NewRegistry()
	var errs error
	for _, id := range cfg.Filter.Filters.IDs() {
		def, _ := cfg.Filter.Filters.Get(id)
		if def == nil {
			errs = multierr.Append(errs, sd.NewConfigError("filter definition has no plugin", id))
			continue
		}
		errs = multierr.Append(errs, reg.Register(id, def.Name, def.Params))
	}
	return reg, errs
}

// Prepare runs the configuration pass. Every configuration problem is
// collected and returned before the kernel is touched; only when the
// configuration is clean are filters installed and detectors attached.
func Prepare(ctx context.Context, s *Session) (*Plan, error) {
	cfg := s.Config
	boot := logging.For(s.Logger, logging.CategoryBoot)

	errs := multierr.Append(s.Problems, cfg.Validate())
	if cfg.CompactFile == "" {
		errs = multierr.Append(errs, sd.NewConfigError("option is required", "compactFile"))
	}

	var desc *geometry.Description
	if cfg.CompactFile != "" {
		var err error
		desc, err = geometry.Load(cfg.CompactFile)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("geometry: %w", err))
		} else {
			logging.For(s.Logger, logging.CategoryGeometry).Info("Loaded detector description",
				zap.String("name", desc.Name()),
				zap.Int("detectors", len(desc.Detectors())),
				zap.Int("sensitive", len(desc.Sensitive())))
		}
	}

	filters, err := Filters(cfg)
	errs = multierr.Append(errs, err)
	errs = multierr.Append(errs, filters.ValidateReferences(cfg.Filter.Tracker, cfg.Filter.Calo, &cfg.Filter.MapDetFilter.Registry))
	errs = multierr.Append(errs, checkFilterPlugins(s.Plugins, filters))

	var result *resolve.Result
	if desc != nil {
		result = resolve.NewResolver(desc, Rules(cfg), logging.For(s.Logger, logging.CategoryResolve)).Run()
		errs = multierr.Append(errs, checkActionPlugins(s.Plugins, result))
		if s.Strict && len(result.Diagnostics) > 0 {
			errs = multierr.Append(errs, sd.NewConfigError("sensitive detectors with unknown category (strict mode)", result.Unknown()...))
		}
	}

	if errs != nil {
		boot.Error("Configuration rejected", zap.Int("problems", len(multierr.Errors(errs))))
		return nil, errs
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := filters.Install(s.Kernel); err != nil {
		return nil, fmt.Errorf("install filters: %w", err)
	}
	logging.For(s.Logger, logging.CategoryFilter).Info("Installed filters", zap.Strings("ids", filters.IDs()))

	if err := attach(s, filters, result); err != nil {
		return nil, err
	}

	plan := &Plan{
		RunID:       uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Geometry:    desc.Name(),
		CompactFile: cfg.CompactFile,
		Result:      result,
		Calls:       s.Kernel.Calls(),
	}
	for _, spec := range filters.Specs() {
		plan.Filters = append(plan.Filters, FilterInfo{ID: spec.ID, Plugin: spec.Plugin, Params: spec.Params.Clone()})
	}
	boot.Info("Run prepared",
		zap.String("run", plan.RunID),
		zap.Int("bindings", len(result.Bindings)),
		zap.Int("unknown", len(result.Diagnostics)))
	return plan, nil
}

// attach creates one action per instrumented detector and binds it with the
// installed filter handles.
func attach(s *Session, filters *filter.Registry, result *resolve.Result) error {
	log := logging.For(s.Logger, logging.CategoryKernel)
	var errs error
	for _, b := range result.Bindings {
		if b.Action == nil {
			log.Info("Detector left without action", zap.String("detector", b.Detector))
			continue
		}
		action, err := s.Kernel.NewAction(actionInstance(b))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("detector %s: %w", b.Detector, err))
			continue
		}
		if err := plugins.Configure(action, b.Action.Params); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("detector %s: %w", b.Detector, err))
			continue
		}
		handles, err := filters.Handles(b.Filters)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("detector %s: %w", b.Detector, err))
			continue
		}
		if err := s.Kernel.AttachSensitive(b.Detector, action, handles); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		log.Debug("Attached sensitive action",
			zap.String("detector", b.Detector),
			zap.String("action", b.Action.String()),
			zap.Strings("filters", b.Filters))
	}
	return errs
}

// actionInstance names the kernel action of a binding: the plugin type with
// the detector as instance name.
func actionInstance(b resolve.Binding) string {
	typ, _ := plugins.SplitID(b.Action.Name)
	return typ + "/" + b.Detector
}

// checkFilterPlugins instantiates every definition outside the kernel to
// surface unknown plugins and bad parameters early.
func checkFilterPlugins(reg *plugins.Registry, filters *filter.Registry) error {
	var errs error
	for _, spec := range filters.Specs() {
		f, err := reg.NewFilter(spec.Plugin)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("filter %q: %w", spec.ID, err))
			continue
		}
		if err := plugins.Configure(f, spec.Params); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("filter %q: %w", spec.ID, err))
		}
	}
	return errs
}

// checkActionPlugins does the same for the actions the bindings will create.
// Each distinct action is checked once.
func checkActionPlugins(reg *plugins.Registry, result *resolve.Result) error {
	var errs error
	var unknown []string
	seen := make(map[string]bool)
	for _, b := range result.Bindings {
		if b.Action == nil {
			continue
		}
		key := b.Action.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		a, err := reg.NewAction(b.Action.Name)
		if err != nil {
			typ, _ := plugins.SplitID(b.Action.Name)
			unknown = append(unknown, typ)
			continue
		}
		if err := plugins.Configure(a, b.Action.Params); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("action %s: %w", key, err))
		}
	}
	if len(unknown) > 0 {
		errs = multierr.Append(errs, sd.NewConfigError("unknown action plugin", unknown...))
	}
	return errs
}
