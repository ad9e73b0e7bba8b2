// Package steering applies a user steering file to a configuration. YAML
// files are decoded onto the configuration; Go files are interpreted with
// yaegi and call into the steer package.
package steering

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"ddsim/internal/config"
	"ddsim/internal/sd"
	"ddsim/internal/steering/steer"
)

// ImportPath is the path scripts import the steer package under.
const ImportPath = "ddsim/steer"

// allowedPackages are the imports a Go steering script may use. Anything
// touching the filesystem, processes or the network is refused.
var allowedPackages = map[string]bool{
	ImportPath:      true,
	"fmt":           true,
	"math":          true,
	"sort":          true,
	"strconv":       true,
	"strings":       true,
	"time":          true,
	"path":          true,
	"path/filepath": true,
}

// Loader applies steering files.
type Loader struct {
	logger  *zap.Logger
	timeout time.Duration
}

// NewLoader creates a loader. Scripts running longer than timeout are
// abandoned; zero means the configuration's steering.timeout.
func NewLoader(logger *zap.Logger, timeout time.Duration) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger, timeout: timeout}
}

// Load applies the steering file at path to cfg, choosing the format from the
// extension.
func (l *Loader) Load(ctx context.Context, path string, cfg *config.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read steering file: %w", err)
	}
	l.logger.Info("Applying steering file", zap.String("path", path))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return cfg.Merge(data)
	case ".go":
		timeout := l.timeout
		if timeout <= 0 {
			timeout = cfg.Steering.Timeout
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return RunScript(ctx, string(data), cfg)
	default:
		return sd.NewConfigError("unsupported steering file type (want .yaml, .yml or .go)", path)
	}
}

// RunScript interprets a Go steering script against cfg.
func RunScript(ctx context.Context, code string, cfg *config.Config) error {
	if err := validateImports(code); err != nil {
		return err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("failed to load stdlib: %w", err)
	}
	if err := i.Use(interp.Exports{
		ImportPath + "/steer": {
			"Settings": reflect.ValueOf((*steer.Settings)(nil)),
		},
	}); err != nil {
		return fmt.Errorf("failed to export steer package: %w", err)
	}

	if _, err := i.EvalWithContext(ctx, wrapCode(code)); err != nil {
		return fmt.Errorf("steering script evaluation failed: %w", err)
	}
	fn, err := i.EvalWithContext(ctx, "main.Steer")
	if err != nil {
		return fmt.Errorf("steering script must define func Steer(s *steer.Settings): %w", err)
	}
	steerFunc, ok := fn.Interface().(func(*steer.Settings))
	if !ok {
		return fmt.Errorf("steering script: Steer has incorrect signature (expected: func(*steer.Settings))")
	}

	settings := steer.New(cfg)
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("steering script panicked: %v", r)
			}
		}()
		steerFunc(settings)
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		return settings.Err()
	case <-ctx.Done():
		return fmt.Errorf("steering script timed out: %w", ctx.Err())
	}
}

// validateImports refuses scripts importing anything outside the allow-list.
func validateImports(code string) error {
	f, err := parser.ParseFile(token.NewFileSet(), "steering.go", wrapCode(code), parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("steering script does not parse: %w", err)
	}
	var forbidden []string
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("bad import %s: %w", imp.Path.Value, err)
		}
		if !allowedPackages[path] {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		return sd.NewConfigError(
			fmt.Sprintf("forbidden imports in steering script (allowed: %s)", strings.Join(allowedList(), ", ")),
			forbidden...)
	}
	return nil
}

func allowedList() []string {
	out := make([]string, 0, len(allowedPackages))
	for p := range allowedPackages {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// wrapCode adds a package clause when the script has none.
func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}

// Dump writes cfg as a steering YAML file.
func Dump(cfg *config.Config, w io.Writer) error {
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal steering: %w", err)
	}
	_, err = w.Write(data)
	return err
}
