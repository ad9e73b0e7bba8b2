package main

import (
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"ddsim/internal/config"
)

// optionFlags exposes every steering option as a flag. Values are only
// recorded while flags are parsed and replayed later, after the steering
// file and the environment, so the command line always wins. Validation
// happens on replay so that every malformed value is reported at once.
type optionFlags struct {
	recorded []recordedOption
}

type recordedOption struct {
	name  string
	value string
}

func newOptionFlags() *optionFlags { return &optionFlags{} }

func (f *optionFlags) register(fs *pflag.FlagSet) {
	for _, opt := range config.Options() {
		help := opt.Help
		if opt.Repeated {
			help += " (repeatable)"
		}
		flag := fs.VarPF(&optionValue{opt: opt, flags: f}, opt.Name, opt.Short, help)
		flag.DefValue = opt.Default
	}
}

// apply replays the recorded values onto cfg in command-line order and
// returns every rejected value as one batch.
func (f *optionFlags) apply(cfg *config.Config) error {
	var errs error
	for _, r := range f.recorded {
		errs = multierr.Append(errs, cfg.Set(r.name, r.value))
	}
	return errs
}

// optionValue is the pflag.Value of one steering option.
type optionValue struct {
	opt   config.Option
	flags *optionFlags
	set   []string
}

func (v *optionValue) String() string {
	if len(v.set) == 0 {
		return v.opt.Default
	}
	return strings.Join(v.set, ";")
}

func (v *optionValue) Set(s string) error {
	if !v.opt.Repeated {
		v.set = v.set[:0]
	}
	v.set = append(v.set, s)
	v.flags.recorded = append(v.flags.recorded, recordedOption{name: v.opt.Name, value: s})
	return nil
}

func (v *optionValue) Type() string {
	if v.opt.Repeated {
		return "stringArray"
	}
	return "string"
}
