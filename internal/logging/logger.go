// Package logging builds the zap logger used across ddsim and maps the
// simulation's 1..7 print level onto zap levels.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a subsystem; loggers for a category are named children of
// the root logger.
type Category string

const (
	CategoryBoot     Category = "boot"     // configuration and steering
	CategoryGeometry Category = "geometry" // detector description loading
	CategoryFilter   Category = "filter"   // filter installation
	CategoryResolve  Category = "resolve"  // action/filter resolution
	CategoryKernel   Category = "kernel"   // kernel calls
	CategoryStore    Category = "store"    // run history
	CategoryWatch    Category = "watch"    // file watching
	CategoryQuery    Category = "query"    // binding catalogue
)

// Options selects the level and encoding of the root logger. printLevel uses
// the simulation scale: 1 VERBOSE, 2 DEBUG, 3 INFO, 4 WARNING, 5 ERROR,
// 6 FATAL, 7 ALWAYS.
type Options struct {
	PrintLevel int
	// Format is "console" or "json".
	Format string
	// OutputPaths defaults to stderr.
	OutputPaths []string
}

// Level maps a print level to a zap level.
func Level(printLevel int) zapcore.Level {
	switch {
	case printLevel <= 2:
		return zapcore.DebugLevel
	case printLevel == 3:
		return zapcore.InfoLevel
	case printLevel == 4:
		return zapcore.WarnLevel
	case printLevel == 5:
		return zapcore.ErrorLevel
	default:
		// FATAL and ALWAYS only let errors through; zap's fatal level exits.
		return zapcore.ErrorLevel
	}
}

// New builds the root logger.
func New(opts Options) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(Level(opts.PrintLevel))
	config.Sampling = nil
	config.DisableStacktrace = true
	switch opts.Format {
	case "", "console":
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	case "json":
		config.Encoding = "json"
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	config.OutputPaths = []string{"stderr"}
	if len(opts.OutputPaths) > 0 {
		config.OutputPaths = opts.OutputPaths
	}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// For returns the child logger of a category. A nil parent yields a no-op
// logger.
func For(parent *zap.Logger, category Category) *zap.Logger {
	if parent == nil {
		return zap.NewNop()
	}
	return parent.Named(string(category))
}
