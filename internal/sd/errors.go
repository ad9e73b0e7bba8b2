package sd

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

var (
	// ErrConfiguration marks every fatal, pre-run configuration problem.
	ErrConfiguration = errors.New("configuration error")

	// ErrPrecondition marks programming-contract violations such as installing
	// filters twice or reading bindings before resolution ran.
	ErrPrecondition = errors.New("precondition violated")
)

// ConfigError is a configuration problem naming every offending identifier.
type ConfigError struct {
	Problem string
	Names   []string
}

// NewConfigError builds a ConfigError with a sorted, de-duplicated name list.
func NewConfigError(problem string, names ...string) *ConfigError {
	seen := make(map[string]struct{}, len(names))
	uniq := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		uniq = append(uniq, n)
	}
	sort.Strings(uniq)
	return &ConfigError{Problem: problem, Names: uniq}
}

// Configf builds a ConfigError without a name list.
func Configf(format string, args ...any) *ConfigError {
	return &ConfigError{Problem: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	if len(e.Names) == 0 {
		return e.Problem
	}
	quoted := make([]string, len(e.Names))
	for i, n := range e.Names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return fmt.Sprintf("%s: %s", e.Problem, strings.Join(quoted, ", "))
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// Preconditionf reports a contract violation.
func Preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// Problems flattens a batch built with multierr into its individual errors.
func Problems(err error) []error {
	return multierr.Errors(err)
}
