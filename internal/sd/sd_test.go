package sd

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		want Category
	}{
		{"tracker", "tracker", Tracker},
		{"mixed case", "SiTracker", Tracker},
		{"calorimeter", "calorimeter", Calorimeter},
		{"scenario D", "muon_chamber", Unknown},
		{"empty", "", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultClassifier().Classify(tt.typ))
		})
	}
}

func TestClassify_TrackerWinsTie(t *testing.T) {
	got := Classify("tracker_calorimeter", []string{"tracker"}, []string{"calorimeter"})
	assert.Equal(t, Tracker, got)

	// Same set on both sides still favours the tracker list.
	got = Classify("hybrid", []string{"hyb"}, []string{"hyb"})
	assert.Equal(t, Tracker, got)
}

func TestClassify_EmptyPatternIgnored(t *testing.T) {
	assert.Equal(t, Unknown, Classify("muon", []string{""}, nil))
}

func TestClassifyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("tracker match wins regardless of calorimeter match", prop.ForAll(
		func(prefix, pattern, suffix string) bool {
			typ := prefix + strings.ToUpper(pattern) + suffix
			return Classify(typ, []string{pattern}, []string{typ, pattern}) == Tracker
		},
		gen.AlphaString(),
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestParseCategory(t *testing.T) {
	for _, c := range []Category{Tracker, Calorimeter, Unknown} {
		got, err := ParseCategory(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCategory("muon")
	assert.Error(t, err)
}

func TestParseActionSpec(t *testing.T) {
	spec, err := ParseActionSpec("Geant4TrackerWeightedAction(HitPositionCombination=2, CollectSingleDeposits=false)")
	require.NoError(t, err)
	assert.Equal(t, "Geant4TrackerWeightedAction", spec.Name)
	assert.Equal(t, Params{"HitPositionCombination": "2", "CollectSingleDeposits": "false"}, spec.Params)

	spec, err = ParseActionSpec("TPCAction")
	require.NoError(t, err)
	assert.Equal(t, &ActionSpec{Name: "TPCAction"}, spec)

	spec, err = ParseActionSpec("None")
	require.NoError(t, err)
	assert.Nil(t, spec)

	for _, bad := range []string{"(x=1)", "Name(x)", "Name(x=1", "a=b"} {
		_, err := ParseActionSpec(bad)
		assert.ErrorIs(t, err, ErrConfiguration, bad)
	}
}

func TestActionSpecYAMLShapes(t *testing.T) {
	doc := `
plain: Geant4TrackerAction
pair: [Geant4TrackerWeightedAction, {HitPositionCombination: 2}]
mapping: {name: Geant4CalorimeterAction, parameter: {Threshold: 1}}
`
	var got map[string]ActionSpec
	require.NoError(t, yaml.Unmarshal([]byte(doc), &got))

	assert.Equal(t, "Geant4TrackerAction", got["plain"].Name)
	assert.Equal(t, 2, got["pair"].Params["HitPositionCombination"])
	assert.Equal(t, "Geant4CalorimeterAction", got["mapping"].Name)
}

func TestActionSpecYAMLWrongArity(t *testing.T) {
	var got map[string]ActionSpec
	err := yaml.Unmarshal([]byte(`bad: [A, {}, extra]`), &got)
	require.Error(t, err)
	var typeErr *yaml.TypeError
	require.True(t, errors.As(err, &typeErr))
	assert.Contains(t, typeErr.Errors[0], "got 3 elements")
}

func TestConfigErrorNames(t *testing.T) {
	err := NewConfigError("unknown filters", "edep5kev", "abc", "edep5kev")
	assert.Equal(t, []string{"abc", "edep5kev"}, err.Names)
	assert.Equal(t, `unknown filters: "abc", "edep5kev"`, err.Error())
	assert.ErrorIs(t, err, ErrConfiguration)
}
