package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"ddsim/internal/kernel"
	"ddsim/internal/mangle"
	"ddsim/internal/plugins"
	"ddsim/internal/resolve"
	"ddsim/internal/sd"
	"ddsim/internal/simulation"
	"ddsim/internal/store"
)

func samplePlan() *simulation.Plan {
	return &simulation.Plan{
		RunID:       "run-42",
		Geometry:    "ToyILD",
		CompactFile: "toy.xml",
		Filters:     []simulation.FilterInfo{{ID: "edep1kev", Plugin: "EnergyDepositMinimumCut", Params: sd.Params{"Cut": "1*keV"}}},
		Result: &resolve.Result{
			Bindings: []resolve.Binding{
				{Detector: "MyTPCModule", SensitiveType: "tracker", Category: sd.Tracker,
					Action: &sd.ActionSpec{Name: "TPCAction"}, ActionSource: resolve.FromOverride, ActionPattern: "tpc",
					Filters: []string{"edep1kev"}, FilterSource: resolve.FromDefault},
				{Detector: "MuonBarrel", SensitiveType: "muon_chamber", Category: sd.Unknown,
					ActionSource: resolve.FromNothing, FilterSource: resolve.FromNothing},
			},
			Diagnostics: []resolve.Diagnostic{{Detector: "MuonBarrel", SensitiveType: "muon_chamber", Message: "unknown category"}},
		},
		Calls: []kernel.Call{{Op: "createFilter", Target: "EnergyDepositMinimumCut/edep1kev"}},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.ErrorContains(t, err, "table, markdown, json, yaml")
}

func TestPlanTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Plan(&buf, samplePlan(), FormatTable, Options{Calls: true}))
	out := buf.String()

	for _, want := range []string{"run-42", "MyTPCModule", "TPCAction", `override "tpc"`, "none", "edep1kev",
		"warning: MuonBarrel (muon_chamber): unknown category", "createFilter EnergyDepositMinimumCut/edep1kev"} {
		assert.Contains(t, out, want)
	}
}

func TestPlanMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Plan(&buf, samplePlan(), FormatMarkdown, Options{Width: 120}))
	out := buf.String()
	assert.Contains(t, out, "MyTPCModule")
	assert.Contains(t, out, "Warnings")
	assert.NotContains(t, out, "Kernel calls")
}

func TestPlanJSONAndYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Plan(&buf, samplePlan(), FormatJSON, Options{}))

	var decoded struct {
		RunID  string `json:"runId"`
		Result struct {
			Bindings []struct {
				Detector string `json:"detector"`
				Category string `json:"category"`
			} `json:"bindings"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-42", decoded.RunID)
	require.Len(t, decoded.Result.Bindings, 2)
	assert.Equal(t, "tracker", decoded.Result.Bindings[0].Category)

	buf.Reset()
	require.NoError(t, Plan(&buf, samplePlan(), FormatYAML, Options{}))
	var generic map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &generic))
	assert.Equal(t, "ToyILD", generic["geometry"])
}

func TestRunsAndQuery(t *testing.T) {
	var buf bytes.Buffer
	runs := []store.RunSummary{{ID: "abc", CreatedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC), Geometry: "ToyILD", Bindings: 4, Unknown: 1}}
	require.NoError(t, Runs(&buf, runs, FormatTable, Options{}))
	assert.Contains(t, buf.String(), "abc")
	assert.Contains(t, buf.String(), "ToyILD")

	buf.Reset()
	res := &mangle.QueryResult{
		Query: "unfiltered(D)",
		Facts: []mangle.Fact{{Predicate: "unfiltered", Args: []any{"MuonBarrel"}}},
	}
	require.NoError(t, Query(&buf, res, FormatTable, Options{}))
	assert.Contains(t, buf.String(), `unfiltered("MuonBarrel").`)
	assert.Contains(t, buf.String(), "1 result(s)")
}

func TestPlugins(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Plugins(&buf, plugins.Builtin(), FormatJSON, Options{}))

	var infos []struct {
		Kind       string `json:"kind"`
		Type       string `json:"type"`
		Properties []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &infos))
	var cut bool
	for _, info := range infos {
		if info.Type == "EnergyDepositMinimumCut" {
			cut = true
			assert.Equal(t, "filter", info.Kind)
			require.Len(t, info.Properties, 1)
			assert.Equal(t, "energy", info.Properties[0].Kind)
		}
	}
	assert.True(t, cut)

	buf.Reset()
	require.NoError(t, Plugins(&buf, plugins.Builtin(), FormatTable, Options{}))
	assert.Contains(t, buf.String(), "Geant4TrackerWeightedAction")
}
