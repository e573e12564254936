package xccdf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scapworks/scapfetch/pkg/constant"
	"github.com/scapworks/scapfetch/pkg/scap"
)

const benchmarkXML = `<?xml version="1.0" encoding="UTF-8"?>
<xccdf:Benchmark xmlns:xccdf="http://checklists.nist.gov/xccdf/1.2" id="xccdf_org.example_benchmark_test">
  <xccdf:Profile id="xccdf_default">
    <xccdf:title>Default profile</xccdf:title>
  </xccdf:Profile>
  <xccdf:Profile id="xccdf_strict">
    <xccdf:title>Strict profile</xccdf:title>
  </xccdf:Profile>
</xccdf:Benchmark>`

const datastreamXML = `<?xml version="1.0" encoding="UTF-8"?>
<ds:data-stream-collection xmlns:ds="http://scap.nist.gov/schema/scap/source/1.2"
    xmlns:xlink="http://www.w3.org/1999/xlink" id="scap_org.example_collection">
  <ds:data-stream id="scap_org.example_datastream_ds">
    <ds:checklists>
      <ds:component-ref id="scap_org.example_cref_benchmark" xlink:href="#scap_org.example_comp_benchmark"/>
    </ds:checklists>
  </ds:data-stream>
  <ds:component id="scap_org.example_comp_benchmark">
    <xccdf:Benchmark xmlns:xccdf="http://checklists.nist.gov/xccdf/1.2" id="xccdf_org.example_benchmark_ds">
      <xccdf:Profile id="xccdf_org.example_profile_default">
        <xccdf:title>Baseline</xccdf:title>
      </xccdf:Profile>
      <xccdf:Profile id="xccdf_org.example_profile_hardened">
        <xccdf:title>Hardened</xccdf:title>
      </xccdf:Profile>
    </xccdf:Benchmark>
  </ds:component>
</ds:data-stream-collection>`

func writeContent(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), constant.DefaultWorldReadableFileMode))
	return p
}

func TestSessionDefaultProfileSelection(t *testing.T) {
	s := NewSession(scap.ContentPaths{
		ContentFile: writeContent(t, "benchmark.xml", benchmarkXML),
		Type:        scap.ContentTypePlainXCCDF,
	})
	require.NoError(t, s.Load())
	require.NoError(t, s.AttachTailoring())
	require.NoError(t, s.SelectProfile(""))
	require.NoError(t, s.Validate())
	require.Equal(t, StateValidated, s.State())

	selected, ok := s.SelectedProfile()
	require.True(t, ok)
	require.Equal(t, "xccdf_default", selected.ID)
}

func TestSessionUnknownProfile(t *testing.T) {
	s := NewSession(scap.ContentPaths{
		ContentFile: writeContent(t, "benchmark.xml", benchmarkXML),
	})
	require.NoError(t, s.Load())

	err := s.SelectProfile("xccdf_nonexistent")
	var unknown *scap.UnknownProfileError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "xccdf_nonexistent", unknown.ProfileID)
}

func TestSessionNoDefaultProfile(t *testing.T) {
	const noDefault = `<?xml version="1.0"?>
<xccdf:Benchmark xmlns:xccdf="http://checklists.nist.gov/xccdf/1.2" id="xccdf_b">
  <xccdf:Profile id="xccdf_one"><xccdf:title>One</xccdf:title></xccdf:Profile>
  <xccdf:Profile id="xccdf_two"><xccdf:title>Two</xccdf:title></xccdf:Profile>
</xccdf:Benchmark>`
	s := NewSession(scap.ContentPaths{ContentFile: writeContent(t, "b.xml", noDefault)})
	require.NoError(t, s.Load())

	err := s.SelectProfile("")
	require.ErrorIs(t, err, scap.ErrNoDefaultProfile)
}

func TestSessionMalformedContent(t *testing.T) {
	s := NewSession(scap.ContentPaths{ContentFile: writeContent(t, "b.xml", "")})

	err := s.Load()
	var loadErr *scap.ContentLoadError
	require.ErrorAs(t, err, &loadErr)
	require.Equal(t, StateUnopened, s.State())
}

func TestSessionDatastreamIDs(t *testing.T) {
	path := writeContent(t, "ds.xml", datastreamXML)

	t.Run("valid ids", func(t *testing.T) {
		s := NewSession(scap.ContentPaths{
			ContentFile:  path,
			Type:         scap.ContentTypeDatastream,
			DatastreamID: "scap_org.example_datastream_ds",
			BenchmarkID:  "scap_org.example_cref_benchmark",
		})
		require.NoError(t, s.Load())
		require.Len(t, s.Profiles(), 2)
	})

	t.Run("unknown datastream id", func(t *testing.T) {
		s := NewSession(scap.ContentPaths{
			ContentFile:  path,
			DatastreamID: "scap_org.example_datastream_missing",
		})
		var loadErr *scap.ContentLoadError
		require.ErrorAs(t, s.Load(), &loadErr)
	})

	t.Run("datastream id against plain benchmark", func(t *testing.T) {
		s := NewSession(scap.ContentPaths{
			ContentFile:  writeContent(t, "b.xml", benchmarkXML),
			DatastreamID: "scap_org.example_datastream_ds",
		})
		var loadErr *scap.ContentLoadError
		require.ErrorAs(t, s.Load(), &loadErr)
	})
}

func TestSessionValidateIsIdempotent(t *testing.T) {
	s := NewSession(scap.ContentPaths{
		ContentFile: writeContent(t, "benchmark.xml", benchmarkXML),
	})
	require.NoError(t, s.Load())
	require.NoError(t, s.AttachTailoring())
	require.NoError(t, s.SelectProfile("xccdf_strict"))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Validate())
		require.Equal(t, StateValidated, s.State())
	}
}

func TestSessionTransitionOrderEnforced(t *testing.T) {
	s := NewSession(scap.ContentPaths{
		ContentFile: writeContent(t, "benchmark.xml", benchmarkXML),
	})

	require.Error(t, s.SelectProfile("xccdf_default"))
	require.Error(t, s.Validate())
	require.NoError(t, s.Load())
	require.Error(t, s.Load())
}

func TestSessionApplyTailoring(t *testing.T) {
	s := NewSession(scap.ContentPaths{
		ContentFile: writeContent(t, "benchmark.xml", benchmarkXML),
	})
	require.NoError(t, s.Load())
	require.NoError(t, s.AttachTailoring())

	sel := scap.TailoringSelection{
		BaseProfileID: "xccdf_strict",
		Deltas: []scap.RuleDelta{
			{RuleID: "xccdf_rule_no_telnet", Selected: true},
			{RuleID: "xccdf_rule_gui", Selected: false},
		},
	}
	dir := t.TempDir()
	require.NoError(t, s.ApplyTailoring(sel, dir))

	derived := DerivedProfileID(sel)
	require.NoError(t, s.SelectProfile(derived))
	require.NoError(t, s.Validate())

	selected, ok := s.SelectedProfile()
	require.True(t, ok)
	require.Equal(t, derived, selected.ID)
	require.NotEmpty(t, s.Paths().TailoringPath)
}
