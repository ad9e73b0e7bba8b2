// Package main is the ddsim command line. It resolves which sensitive action
// and filters every sensitive detector of a geometry receives, drives the
// plugin kernel with the result and keeps a history of prepared runs.
//
// Configuration is layered: built-in defaults, then the steering file
// (--steeringFile, YAML or Go), then DDSIM_* environment variables, then the
// command line. Every steering option is also a flag.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ddsim/internal/config"
	"ddsim/internal/logging"
	"ddsim/internal/report"
	"ddsim/internal/sd"
	"ddsim/internal/simulation"
	"ddsim/internal/steering"
	"ddsim/internal/store"
)

// app holds the state of one command-line invocation.
type app struct {
	steeringFile     string
	dumpSteeringFile bool
	format           string
	strict           bool
	historyDB        string
	calls            bool
	color            bool

	options *optionFlags
	cfg     *config.Config
	// problems holds the configuration errors of every layer; they are
	// reported together with those Prepare finds.
	problems error
	logger   *zap.Logger
	out      io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{options: newOptionFlags()}

	rootCmd := &cobra.Command{
		Use:   "ddsim",
		Short: "Sensitive detector setup for detector simulation",
		Long: `ddsim reads a detector description and a steering configuration, decides
which sensitive action and which filters every sensitive detector gets,
and attaches them through the plugin kernel.

Overrides match detector names case-insensitively by substring; the first
matching override wins, otherwise the category default applies.`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: a.runPrepare,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.steeringFile, "steeringFile", "", "steering file (.yaml, .yml or .go)")
	pf.BoolVar(&a.dumpSteeringFile, "dumpSteeringFile", false, "print the resolved configuration as a steering file and exit")
	pf.StringVar(&a.format, "format", string(report.FormatTable), "output format: table, markdown, json or yaml")
	pf.BoolVar(&a.strict, "strict", false, "treat sensitive detectors of unknown category as an error")
	pf.StringVar(&a.historyDB, "historyDB", "", "run history database (overrides history.path)")
	pf.BoolVar(&a.calls, "calls", false, "include the kernel call log in the output")
	pf.BoolVar(&a.color, "color", false, "style markdown output for the terminal")
	a.options.register(pf)

	rootCmd.AddCommand(a.resolveCmd())
	rootCmd.AddCommand(a.queryCmd())
	rootCmd.AddCommand(a.historyCmd())
	rootCmd.AddCommand(a.pluginsCmd())
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError lists every problem of a configuration batch on its own line.
func printError(w io.Writer, err error) {
	if errors.Is(err, sd.ErrConfiguration) {
		problems := sd.Problems(err)
		fmt.Fprintf(w, "Error: %d configuration problem(s):\n", len(problems))
		for _, p := range problems {
			fmt.Fprintf(w, "  - %v\n", p)
		}
		return
	}
	fmt.Fprintln(w, "Error:", err)
}

// setup resolves the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	a.out = cmd.OutOrStdout()
	if _, err := report.ParseFormat(a.format); err != nil {
		return err
	}

	cfg, problems, err := a.loadConfig(cmd.Context(), zap.NewNop())
	if err != nil {
		return err
	}
	a.cfg, a.problems = cfg, problems

	logger, err := logging.New(logging.Options{PrintLevel: int(cfg.PrintLevel), Format: cfg.Logging.Format})
	if err != nil {
		// a bad logging.format is reported by Validate with the rest
		logger, err = logging.New(logging.Options{PrintLevel: int(cfg.PrintLevel)})
		if err != nil {
			return err
		}
	}
	a.logger = logger
	a.logger.Debug("Configuration resolved",
		zap.String("steeringFile", a.steeringFile),
		zap.String("compactFile", cfg.CompactFile),
		zap.Int("cliOptions", len(a.options.recorded)),
		zap.Int("problems", len(sd.Problems(problems))))
	return nil
}

// loadConfig applies the configuration layers in precedence order.
// Configuration problems of a layer do not stop the later layers: they are
// returned as a batch next to the partially applied configuration. err is
// set only when the configuration could not be assembled at all.
func (a *app) loadConfig(ctx context.Context, logger *zap.Logger) (cfg *config.Config, problems error, err error) {
	cfg = config.DefaultConfig()
	if a.steeringFile != "" {
		if err := steering.NewLoader(logger, 0).Load(ctx, a.steeringFile, cfg); err != nil {
			if !errors.Is(err, sd.ErrConfiguration) {
				return nil, nil, fmt.Errorf("steering file %s: %w", a.steeringFile, err)
			}
			for _, p := range sd.Problems(err) {
				problems = multierr.Append(problems, fmt.Errorf("steering file %s: %w", a.steeringFile, p))
			}
		}
	}
	cfg.ApplyEnvOverrides()
	problems = multierr.Append(problems, a.options.apply(cfg))
	if a.historyDB != "" {
		cfg.History.Path = a.historyDB
	}
	return cfg, problems, nil
}

func (a *app) session() *simulation.Session {
	s := simulation.NewSession(a.cfg, a.logger)
	s.Strict = a.strict
	s.Problems = a.problems
	return s
}

// checkConfig reports the configuration problems for commands that do not
// go through Prepare.
func (a *app) checkConfig() error {
	return multierr.Append(a.problems, a.cfg.Validate())
}

func (a *app) reportFormat() report.Format {
	f, _ := report.ParseFormat(a.format)
	return f
}

func (a *app) reportOptions() report.Options {
	return report.Options{Color: a.color, Calls: a.calls}
}

// runPrepare prepares a run, prints its plan and records it.
func (a *app) runPrepare(cmd *cobra.Command, args []string) error {
	if a.dumpSteeringFile {
		if err := a.checkConfig(); err != nil {
			return err
		}
		return steering.Dump(a.cfg, a.out)
	}

	plan, err := simulation.Prepare(cmd.Context(), a.session())
	if err != nil {
		return err
	}
	if err := report.Plan(a.out, plan, a.reportFormat(), a.reportOptions()); err != nil {
		return err
	}

	if !a.cfg.History.Enabled {
		return nil
	}
	return a.withStore(func(s *store.Store) error {
		return s.RecordRun(cmd.Context(), plan, store.RunMeta{SteeringFile: a.steeringFile, Strict: a.strict})
	})
}

// withStore opens the history database for the duration of fn.
func (a *app) withStore(fn func(*store.Store) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.History.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	s, err := store.Open(a.cfg.History.Path, logging.For(a.logger, logging.CategoryStore))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.Close())
	}()
	return fn(s)
}
