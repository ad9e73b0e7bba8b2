package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddsim/internal/sd"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DDSIM_COMPACT_FILE", "")
	t.Setenv("DDSIM_HISTORY_DB", "")
	t.Setenv("DDSIM_PRINT_LEVEL", "")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Action.Tracker.Name != "Geant4TrackerWeightedAction" {
		t.Errorf("expected tracker action Geant4TrackerWeightedAction, got %s", cfg.Action.Tracker.Name)
	}
	if cfg.Action.Calo.Name != "Geant4ScintillatorCalorimeterAction" {
		t.Errorf("expected calo action Geant4ScintillatorCalorimeterAction, got %s", cfg.Action.Calo.Name)
	}
	assert.Equal(t, []string{"geantino", "edep1kev", "edep0"}, cfg.Filter.Filters.IDs())
	assert.Equal(t, FilterList{"edep1kev"}, cfg.Filter.Tracker)
	assert.Empty(t, cfg.Filter.Calo)
	assert.Equal(t, LevelInfo, cfg.PrintLevel)
	assert.NoError(t, cfg.Validate())

	classifier := cfg.Classifier()
	assert.Equal(t, sd.Tracker, classifier.Classify("tracker"))
	assert.Equal(t, sd.Calorimeter, classifier.Classify("calorimeter"))
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "steer.yaml")

	cfg := DefaultConfig()
	cfg.CompactFile = "detector.xml"
	require.NoError(t, cfg.Action.MapActions.Set("zzz", &sd.ActionSpec{Name: "Geant4TrackerAction"}))
	require.NoError(t, cfg.Action.MapActions.Set("aaa", nil))
	require.NoError(t, cfg.Filter.MapDetFilter.Set("ecal", []string{}))
	require.NoError(t, cfg.Filter.MapDetFilter.Set("vxd", []string{"geantino", "edep0"}))

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "detector.xml", loaded.CompactFile)
	assert.Equal(t, []string{"zzz", "aaa"}, loaded.Action.MapActions.Patterns(), "insertion order survives a dump")
	none, ok := loaded.Action.MapActions.Get("aaa")
	assert.True(t, ok)
	assert.Nil(t, none)

	assert.Equal(t, []string{"ecal", "vxd"}, loaded.Filter.MapDetFilter.Patterns())
	ecal, _ := loaded.Filter.MapDetFilter.Get("ecal")
	assert.NotNil(t, ecal)
	assert.Empty(t, ecal)

	assert.Equal(t, cfg.Action.Tracker, loaded.Action.Tracker)
	assert.Equal(t, cfg.Filter.Filters.IDs(), loaded.Filter.Filters.IDs())
	assert.Equal(t, 10*time.Second, loaded.Steering.Timeout)
	assert.NoError(t, loaded.Validate())
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "batch", cfg.RunType)
}

func TestConfig_Merge(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Merge([]byte(`
printLevel: WARNING
action:
  tracker: none
  calo: [Geant4CalorimeterAction, {HitCreationMode: 2}]
  mapActions:
    tpc: TPCAction
    vxd: none
    ecal: {name: Geant4CalorimeterAction, parameter: {Birks: 0.1}}
filter:
  calo: edep0
  mapDetFilter:
    ecal: []
    hcal:
    vxd: [geantino, edep1kev]
  filters:
    edep5kev: {name: EnergyDepositMinimumCut/Cut5, parameter: {Cut: 5*keV}}
`))
	require.NoError(t, err)

	assert.Equal(t, LevelWarning, cfg.PrintLevel)
	assert.Nil(t, cfg.Action.Tracker, "none disables the tracker default")
	assert.Equal(t, &sd.ActionSpec{Name: "Geant4CalorimeterAction", Params: sd.Params{"HitCreationMode": 2}}, cfg.Action.Calo)

	assert.Equal(t, []string{"tpc", "vxd", "ecal"}, cfg.Action.MapActions.Patterns())
	tpc, _ := cfg.Action.MapActions.Resolve("MyTPCModule")
	assert.Equal(t, "TPCAction", tpc.Name)

	assert.Equal(t, FilterList{"edep0"}, cfg.Filter.Calo)
	hcal, ok := cfg.Filter.MapDetFilter.Get("hcal")
	assert.True(t, ok, "a null entry is an explicit empty override")
	assert.Empty(t, hcal)

	assert.Equal(t, []string{"geantino", "edep1kev", "edep0", "edep5kev"}, cfg.Filter.Filters.IDs())
	def, _ := cfg.Filter.Filters.Get("edep5kev")
	assert.Equal(t, "5*keV", def.Params["Cut"])
}

func TestConfig_MergeCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Merge([]byte(`
action:
  calo: [Geant4CalorimeterAction, {HitCreationMode: 2}, extra]
  mapActions:
    tpc: [TPCAction]
filter:
  mapDetFilter:
    ecal: {a: b}
`))
	require.Error(t, err)
	problems := sd.Problems(err)
	assert.Len(t, problems, 3)
	for _, p := range problems {
		assert.ErrorIs(t, p, sd.ErrConfiguration)
	}
	assert.Contains(t, err.Error(), "got 3 elements")
	assert.Equal(t, "Geant4ScintillatorCalorimeterAction", cfg.Action.Calo.Name, "a bad entry leaves the old value")
}

func TestConfig_MergeSyntaxError(t *testing.T) {
	err := DefaultConfig().Merge([]byte("action: [unclosed"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, sd.ErrConfiguration)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DDSIM_COMPACT_FILE", "/det/compact.xml")
	t.Setenv("DDSIM_HISTORY_DB", "/tmp/h.db")
	t.Setenv("DDSIM_PRINT_LEVEL", "DEBUG")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "/det/compact.xml", cfg.CompactFile)
	assert.Equal(t, "/tmp/h.db", cfg.History.Path)
	assert.Equal(t, LevelDebug, cfg.PrintLevel)

	t.Setenv("DDSIM_PRINT_LEVEL", "loud")
	cfg.ApplyEnvOverrides()
	assert.Equal(t, LevelDebug, cfg.PrintLevel, "an invalid level is ignored")
}

func TestConfig_EnvBeatsFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "steer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compactFile: fromfile.xml\n"), 0644))
	t.Setenv("DDSIM_COMPACT_FILE", "fromenv.xml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromenv.xml", cfg.CompactFile)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrintLevel = 9
	cfg.RunType = "interactive"
	cfg.Logging.Format = "xml"
	cfg.OutputFile = "out.txt"
	cfg.Filter.Filters.Set("broken", nil)

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, name := range []string{"printLevel", "runType", "logging.format", "outputFile", "broken"} {
		assert.Contains(t, msg, name)
	}
	assert.Len(t, sd.Problems(err), 5)
}

func TestConfig_ValidateOrderIsStable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Action.Tracker = &sd.ActionSpec{}
	cfg.Action.Calo = &sd.ActionSpec{}

	for i := 0; i < 20; i++ {
		problems := sd.Problems(cfg.Validate())
		require.Len(t, problems, 2)
		assert.Contains(t, problems[0].Error(), "action.tracker")
		assert.Contains(t, problems[1].Error(), "action.calo")
	}
}

func TestPrintLevel(t *testing.T) {
	for in, want := range map[string]PrintLevel{"1": LevelVerbose, "info": LevelInfo, "ALWAYS": LevelAlways, " 4 ": LevelWarning} {
		got, err := ParsePrintLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"0", "8", "chatty"} {
		_, err := ParsePrintLevel(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, "ERROR", LevelError.String())
}

func TestOptions_DefaultsParse(t *testing.T) {
	seen := map[string]bool{}
	for _, o := range Options() {
		assert.False(t, seen[o.Name], "duplicate option %s", o.Name)
		seen[o.Name] = true
		assert.NotEmpty(t, o.Help, o.Name)

		values := []string{o.Default}
		if o.Repeated {
			values = nil
			for _, v := range strings.Split(o.Default, ";") {
				if v != "" {
					values = append(values, v)
				}
			}
		}
		cfg := DefaultConfig()
		for _, v := range values {
			require.NoError(t, o.Apply(cfg, v), "%s=%q", o.Name, v)
		}
		assert.Equal(t, o.Default, o.Current(cfg), o.Name)
	}
}

func TestLookupOption(t *testing.T) {
	opts := Options()
	for _, o := range opts {
		got, ok := LookupOption(o.Name)
		require.True(t, ok, o.Name)
		assert.Equal(t, o.Default, got.Default, o.Name)
		assert.Equal(t, o.Repeated, got.Repeated, o.Name)
	}
	_, ok := LookupOption("noSuchOption")
	assert.False(t, ok)

	opts[0].Default = "changed"
	again, _ := LookupOption(opts[0].Name)
	assert.NotEqual(t, "changed", again.Default, "Options returns a copy of the table")
}

func TestConfig_Set(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Set("action.tracker", "Geant4TrackerAction(HitCreationMode=2)"))
	assert.Equal(t, "Geant4TrackerAction", cfg.Action.Tracker.Name)
	assert.Equal(t, "2", cfg.Action.Tracker.Params["HitCreationMode"])

	require.NoError(t, cfg.Set("action.mapActions", "tpc=TPCAction"))
	require.NoError(t, cfg.Set("action.mapActions", "muon=none"))
	require.NoError(t, cfg.Set("filter.mapDetFilter", "ecal="))
	require.NoError(t, cfg.Set("filter.filters", "edep5kev=EnergyDepositMinimumCut(Cut=5*keV)"))
	require.NoError(t, cfg.Set("printLevel", "2"))

	got, err := cfg.Get("action.mapActions")
	require.NoError(t, err)
	assert.Equal(t, "tpc=TPCAction;muon=none", got)
	ids, _ := cfg.Filter.MapDetFilter.Get("ecal")
	assert.Equal(t, []string{}, ids)
	assert.Equal(t, LevelDebug, cfg.PrintLevel)

	assert.ErrorIs(t, cfg.Set("noSuchOption", "x"), sd.ErrConfiguration)
	assert.ErrorIs(t, cfg.Set("numberOfEvents", "-5"), sd.ErrConfiguration)
	assert.ErrorIs(t, cfg.Set("action.calo", "Broken(x"), sd.ErrConfiguration)
	assert.ErrorIs(t, cfg.Set("action.mapActions", "=TPCAction"), sd.ErrConfiguration)
	assert.ErrorIs(t, cfg.Set("filter.filters", "x=none"), sd.ErrConfiguration)
}
