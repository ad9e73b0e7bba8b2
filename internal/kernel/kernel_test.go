package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddsim/internal/plugins"
	"ddsim/internal/sd"
)

func TestDryRunAttach(t *testing.T) {
	k := NewDryRun(plugins.Builtin())

	f, err := k.NewFilter("EnergyDepositMinimumCut/edep1kev")
	require.NoError(t, err)
	require.NoError(t, f.SetProperty("Cut", "1*keV"))
	require.NoError(t, k.RegisterGlobalFilter(f))

	a, err := k.NewAction("Geant4TrackerAction")
	require.NoError(t, err)
	require.NoError(t, k.AttachSensitive("VXD", a, []plugins.Filter{f}))
	require.NoError(t, k.AttachSensitive("Muon", nil, nil))

	assert.Equal(t, []string{"VXD", "Muon"}, k.Detectors())
	assert.True(t, k.Records("VXD", plugins.Step{EnergyDeposit: 0.01}))
	assert.False(t, k.Records("VXD", plugins.Step{EnergyDeposit: 0.0001}))
	assert.False(t, k.Records("Muon", plugins.Step{EnergyDeposit: 1}), "no action, nothing recorded")

	var ops []string
	for _, c := range k.Calls() {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []string{
		"createFilter", "registerGlobalFilter", "createAction", "setupDetector", "adoptFilters", "setupDetector",
	}, ops)
}

func TestDryRunPreconditions(t *testing.T) {
	k := NewDryRun(plugins.Builtin())

	f, err := k.NewFilter("GeantinoRejectFilter")
	require.NoError(t, err)
	err = k.AttachSensitive("VXD", nil, []plugins.Filter{f})
	assert.ErrorIs(t, err, sd.ErrPrecondition, "filter not registered globally")

	require.NoError(t, k.RegisterGlobalFilter(f))
	assert.ErrorIs(t, k.RegisterGlobalFilter(f), sd.ErrPrecondition)

	require.NoError(t, k.AttachSensitive("VXD", nil, []plugins.Filter{f}))
	assert.ErrorIs(t, k.AttachSensitive("VXD", nil, nil), sd.ErrPrecondition)
}

func TestDryRunUnknownPlugin(t *testing.T) {
	k := NewDryRun(plugins.Builtin())
	_, err := k.NewAction("TPCAction")
	assert.ErrorIs(t, err, sd.ErrConfiguration)
	assert.Empty(t, k.Calls())
}
