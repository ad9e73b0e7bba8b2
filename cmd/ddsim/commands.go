package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ddsim/internal/geometry"
	"ddsim/internal/logging"
	"ddsim/internal/mangle"
	"ddsim/internal/plugins"
	"ddsim/internal/report"
	"ddsim/internal/simulation"
	"ddsim/internal/store"
	"ddsim/internal/watch"
)

func (a *app) resolveCmd() *cobra.Command {
	var watchFiles bool
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve and print the bindings without recording the run",
		Long: `Resolve prints which action and filters each sensitive detector receives.
With --watch it re-resolves whenever the steering file, the compact file or
any file it includes changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !watchFiles {
				return a.resolveOnce(cmd.Context())
			}
			return a.resolveWatch(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&watchFiles, "watch", false, "re-resolve when input files change")
	return cmd
}

func (a *app) resolveOnce(ctx context.Context) error {
	plan, err := simulation.Prepare(ctx, a.session())
	if err != nil {
		return err
	}
	return report.Plan(a.out, plan, a.reportFormat(), a.reportOptions())
}

// resolveWatch resolves, then resolves again after every change until ctx
// ends. Configuration errors are printed and watching continues.
func (a *app) resolveWatch(ctx context.Context) error {
	var mu sync.Mutex
	log := logging.For(a.logger, logging.CategoryWatch)

	var w *watch.Watcher
	rerun := func(ctx context.Context, changed []string) {
		mu.Lock()
		defer mu.Unlock()
		if len(changed) > 0 {
			log.Info("Inputs changed", zap.Strings("files", changed))
			cfg, problems, err := a.loadConfig(ctx, logging.For(a.logger, logging.CategoryBoot))
			if err != nil {
				printError(a.out, err)
				return
			}
			a.cfg, a.problems = cfg, problems
		}
		if err := a.resolveOnce(ctx); err != nil {
			printError(a.out, err)
		}
		if err := w.SetFiles(a.watchedFiles()...); err != nil {
			log.Warn("Failed to update watched files", zap.Error(err))
		}
	}

	var err error
	w, err = watch.New(rerun, watch.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Stop()

	rerun(ctx, nil)
	w.Start(ctx)
	fmt.Fprintf(a.out, "Watching %s\n", strings.Join(w.Files(), ", "))
	<-ctx.Done()
	return nil
}

// watchedFiles lists the steering file, the compact file and its includes.
func (a *app) watchedFiles() []string {
	files := []string{a.steeringFile, a.cfg.CompactFile}
	if a.cfg.CompactFile != "" {
		if desc, err := geometry.Load(a.cfg.CompactFile); err == nil {
			files = append(files, desc.Sources()...)
		}
	}
	return files
}

func (a *app) queryCmd() *cobra.Command {
	var runID, rulesFile string
	cmd := &cobra.Command{
		Use:   "query <atom>",
		Short: "Query the binding catalogue of a run",
		Long: `Query evaluates a Datalog atom against the bindings of a run, for example

  ddsim query 'unfiltered(D)'
  ddsim query 'sd_binding(D, T, /tracker, A)' --run latest

Without --run the current configuration is resolved first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd.Context(), args[0], runID, rulesFile)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "recorded run id, id prefix or \"latest\"")
	cmd.Flags().StringVar(&rulesFile, "rules", "", "additional Mangle rules (.mg)")
	return cmd
}

func (a *app) runQuery(ctx context.Context, atom, runID, rulesFile string) error {
	var plan *simulation.Plan
	if runID != "" {
		if err := a.checkConfig(); err != nil {
			return err
		}
		err := a.withStore(func(s *store.Store) error {
			var err error
			plan, err = s.LoadRun(ctx, runID)
			return err
		})
		if err != nil {
			return err
		}
	} else {
		var err error
		if plan, err = simulation.Prepare(ctx, a.session()); err != nil {
			return err
		}
	}

	engine, err := mangle.NewEngine(mangle.DefaultConfig(), logging.For(a.logger, logging.CategoryQuery))
	if err != nil {
		return err
	}
	if rulesFile != "" {
		src, err := os.ReadFile(rulesFile)
		if err != nil {
			return fmt.Errorf("failed to read rules: %w", err)
		}
		if err := engine.LoadRules(string(src)); err != nil {
			return err
		}
	}
	if err := engine.Load(plan); err != nil {
		return err
	}
	res, err := engine.Query(ctx, atom)
	if err != nil {
		return err
	}
	return report.Query(a.out, res, a.reportFormat(), a.reportOptions())
}

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store.Store) error {
				runs, err := s.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return report.Runs(a.out, runs, a.reportFormat(), a.reportOptions())
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list, 0 for all")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run>",
		Short: "Print the plan of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store.Store) error {
				plan, err := s.LoadRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return report.Plan(a.out, plan, a.reportFormat(), a.reportOptions())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <run>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store.Store) error {
				if err := s.DeleteRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted run %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func (a *app) pluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List the available action and filter plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return report.Plugins(a.out, plugins.Builtin(), a.reportFormat(), a.reportOptions())
		},
	}
}
