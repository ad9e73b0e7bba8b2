package filter

import (
	"errors"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddsim/internal/kernel"
	"ddsim/internal/override"
	"ddsim/internal/plugins"
	"ddsim/internal/sd"
)

func defaults(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register("geantino", "GeantinoRejectFilter/GeantinoRejector", nil))
	require.NoError(t, r.Register("edep1kev", "EnergyDepositMinimumCut", sd.Params{"Cut": "1*keV"}))
	require.NoError(t, r.Register("edep0", "EnergyDepositMinimumCut/Cut0", sd.Params{"Cut": 0}))
	return r
}

func TestRegisterOverwriteKeepsOrder(t *testing.T) {
	r := defaults(t)
	require.NoError(t, r.Register("geantino", "ParticleRejectFilter", sd.Params{"particle": "geantino"}))
	assert.Equal(t, []string{"geantino", "edep1kev", "edep0"}, r.IDs())

	spec, ok := r.Lookup("geantino")
	require.True(t, ok)
	assert.Equal(t, "ParticleRejectFilter", spec.Plugin)

	assert.ErrorIs(t, r.Register("", "GeantinoRejectFilter", nil), sd.ErrConfiguration)
	assert.ErrorIs(t, r.Register("x", "", nil), sd.ErrConfiguration)
}

func TestInstall(t *testing.T) {
	r := defaults(t)
	k := kernel.NewDryRun(plugins.Builtin())

	_, err := r.Handle("edep1kev")
	assert.ErrorIs(t, err, ErrNotInstalled)

	require.NoError(t, r.Install(k))
	assert.True(t, r.Installed())
	assert.Len(t, k.GlobalFilters(), 3)

	f, err := r.Handle("edep1kev")
	require.NoError(t, err)
	assert.Equal(t, "edep1kev", f.Name())
	assert.InDelta(t, 0.001, f.Values()["Cut"], 1e-12)

	f, err = r.Handle("edep0")
	require.NoError(t, err)
	assert.Equal(t, "Cut0", f.Name())

	handles, err := r.Handles([]string{"geantino", "edep0"})
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, "GeantinoRejector", handles[0].Name())

	_, err = r.Handle("edep5kev")
	assert.ErrorIs(t, err, sd.ErrConfiguration)
}

func TestInstallTwiceIsPrecondition(t *testing.T) {
	r := defaults(t)
	k := kernel.NewDryRun(plugins.Builtin())
	require.NoError(t, r.Install(k))

	err := r.Install(k)
	assert.ErrorIs(t, err, ErrAlreadyInstalled)
	assert.ErrorIs(t, err, sd.ErrPrecondition)
	assert.Len(t, k.GlobalFilters(), 3, "second install must not touch the kernel")

	assert.ErrorIs(t, r.Register("late", "GeantinoRejectFilter", nil), sd.ErrPrecondition)
}

func TestInstallCollectsErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("bad1", "NoSuchFilter", nil))
	require.NoError(t, r.Register("bad2", "EnergyDepositMinimumCut", sd.Params{"Cut": "lots", "Color": "red"}))
	require.NoError(t, r.Register("good", "GeantinoRejectFilter", nil))

	k := kernel.NewDryRun(plugins.Builtin())
	err := r.Install(k)
	require.Error(t, err)
	assert.Len(t, sd.Problems(err), 3)
	assert.ErrorIs(t, err, sd.ErrConfiguration)

	_, err = r.Handle("good")
	assert.NoError(t, err)
	_, err = r.Handle("bad2")
	assert.ErrorIs(t, err, sd.ErrConfiguration)
}

func TestValidateReferences(t *testing.T) {
	tests := []struct {
		name      string
		tracker   []string
		calo      []string
		overrides map[string][]string
		missing   []string
	}{
		{name: "none missing", tracker: []string{"edep1kev"}, overrides: map[string][]string{"ecal": nil}},
		{
			name:      "scenario E",
			tracker:   []string{"edep1kev"},
			overrides: map[string][]string{"vxd": {"edep5kev"}},
			missing:   []string{"edep5kev"},
		},
		{
			name:      "several missing, reported once",
			tracker:   []string{"edep1kev", "cut9"},
			calo:      []string{"cut9"},
			overrides: map[string][]string{"vxd": {"edep5kev", "geantino"}, "hcal": {"zzz"}},
			missing:   []string{"cut9", "edep5kev", "zzz"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := defaults(t)
			overrides := override.New[[]string]()
			keys := make([]string, 0, len(tt.overrides))
			for k := range tt.overrides {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				require.NoError(t, overrides.Set(k, tt.overrides[k]))
			}

			err := r.ValidateReferences(tt.tracker, tt.calo, overrides)
			if tt.missing == nil {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, sd.ErrConfiguration)
			var ce *sd.ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.missing, ce.Names)
			for _, m := range tt.missing {
				assert.Contains(t, err.Error(), `"`+m+`"`)
			}
		})
	}
}

func TestValidateReferencesNilOverrides(t *testing.T) {
	assert.NoError(t, defaults(t).ValidateReferences([]string{"edep0"}, nil, nil))
}

func TestValidateReferencesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("missing set is exactly referenced minus registered", prop.ForAll(
		func(registered, referenced []string) bool {
			r := NewRegistry()
			for _, id := range registered {
				if err := r.Register(id, "GeantinoRejectFilter", nil); err != nil {
					return false
				}
			}
			overrides := override.New[[]string]()
			if err := overrides.Set("det", referenced); err != nil {
				return false
			}

			want := map[string]bool{}
			for _, id := range referenced {
				if !r.Has(id) {
					want[id] = true
				}
			}

			err := r.ValidateReferences(nil, nil, overrides)
			if len(want) == 0 {
				return err == nil
			}
			var ce *sd.ConfigError
			if !errors.As(err, &ce) || len(ce.Names) != len(want) {
				return false
			}
			for _, n := range ce.Names {
				if !want[n] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.OneConstOf("a", "b", "c", "d", "e", "f")),
		gen.SliceOf(gen.OneConstOf("a", "b", "c", "d", "e", "f")),
	))

	properties.TestingRun(t)
}
