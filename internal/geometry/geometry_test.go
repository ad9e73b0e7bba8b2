package geometry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ddsim/internal/sd"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func names(ds []*Detector) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}

const mainCompact = `<?xml version="1.0"?>
<lccdd>
  <info name="TestDetector"/>
  <detectors>
    <detector id="1" name="VXD" type="VertexBarrel" readout="VXDHits">
      <sensitive type="tracker"/>
      <dimensions rmin="10"/>
    </detector>
    <include ref="calo/ecal.xml"/>
    <detector name="Beampipe" type="BeamPipe"/>
    <detector name="Yoke" type="Assembly">
      <detector name="MuonBarrel" type="Muon" sensitive="muon_chamber"/>
    </detector>
  </detectors>
</lccdd>`

const ecalCompact = `<lccdd>
  <detectors>
    <detector id="20" name="EcalBarrel" type="Calo" readout="EcalHits" sensitive="calorimeter"/>
  </detectors>
</lccdd>`

func TestLoadCompact(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.xml", mainCompact)
	writeFile(t, dir, "calo/ecal.xml", ecalCompact)

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "TestDetector", d.Name())
	assert.Equal(t, []string{"VXD", "EcalBarrel", "Beampipe", "Yoke", "MuonBarrel"}, names(d.Detectors()))
	assert.Equal(t, []string{"VXD", "EcalBarrel", "MuonBarrel"}, names(d.Sensitive()))
	assert.Len(t, d.Roots(), 4)
	assert.Len(t, d.Sources(), 2)

	vxd, ok := d.Lookup("VXD")
	require.True(t, ok)
	assert.Equal(t, 1, vxd.ID)
	assert.Equal(t, "tracker", vxd.SensitiveType)
	assert.Equal(t, "VXDHits", vxd.Readout)

	ecal, ok := d.Lookup("EcalBarrel")
	require.True(t, ok)
	assert.Equal(t, "calorimeter", ecal.SensitiveType)
}

func TestLoadCompactIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.xml", `<lccdd><include ref="b.xml"/></lccdd>`)
	writeFile(t, dir, "b.xml", `<lccdd><include ref="a.xml"/></lccdd>`)

	_, err := LoadCompact(a)
	assert.ErrorIs(t, err, sd.ErrConfiguration)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadCompactErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadCompact(filepath.Join(dir, "missing.xml"))
	assert.Error(t, err)

	wrong := writeFile(t, dir, "wrong.xml", `<gdml/>`)
	_, err = LoadCompact(wrong)
	assert.ErrorContains(t, err, "want <lccdd>")

	badID := writeFile(t, dir, "badid.xml", `<lccdd><detectors><detector id="x" name="A"/></detectors></lccdd>`)
	_, err = LoadCompact(badID)
	assert.ErrorContains(t, err, `detector "A"`)
}

func TestDuplicateNames(t *testing.T) {
	_, err := New("dup",
		&Detector{Name: "A", SensitiveType: "tracker"},
		&Detector{Name: "B", Children: []*Detector{{Name: "A"}, {Name: "B"}}},
	)
	require.ErrorIs(t, err, sd.ErrConfiguration)
	assert.Contains(t, err.Error(), `"A", "B"`)

	_, err = New("unnamed", &Detector{Name: "A", Children: []*Detector{{}}})
	assert.ErrorIs(t, err, sd.ErrConfiguration)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "inner.yaml", `
detectors:
  - name: SIT
    sensitive: tracker
`)
	path := writeFile(t, dir, "outer.yml", `
name: Toy
include: [inner.yaml]
detectors:
  - name: HCal
    type: Calo
    sensitive: calorimeter
    children:
      - name: HCalRing
        sensitive: calorimeter
`)
	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Toy", d.Name())
	assert.Equal(t, []string{"SIT", "HCal", "HCalRing"}, names(d.Detectors()))

	out, err := Marshal(d)
	require.NoError(t, err)
	back := writeFile(t, dir, "back.yaml", string(out))
	d2, err := Load(back)
	require.NoError(t, err)
	assert.Equal(t, names(d.Detectors()), names(d2.Detectors()))
}
