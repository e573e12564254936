package xccdf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scapworks/scapfetch/pkg/scap"
)

func TestDocumentProfiles(t *testing.T) {
	doc, err := LoadDocument(writeContent(t, "ds.xml", datastreamXML))
	require.NoError(t, err)
	require.True(t, doc.IsDatastream())

	profiles := doc.Profiles()
	require.Equal(t, []scap.Profile{
		{ID: "xccdf_org.example_profile_default", Title: "Baseline"},
		{ID: "xccdf_org.example_profile_hardened", Title: "Hardened"},
	}, profiles)

	require.Equal(t, []string{"scap_org.example_datastream_ds"}, doc.DatastreamIDs())
	require.Contains(t, doc.BenchmarkIDs(), "scap_org.example_cref_benchmark")
	require.Contains(t, doc.BenchmarkIDs(), "xccdf_org.example_benchmark_ds")
}

func TestDocumentSkipsAbstractProfiles(t *testing.T) {
	const body = `<?xml version="1.0"?>
<xccdf:Benchmark xmlns:xccdf="http://checklists.nist.gov/xccdf/1.2" id="xccdf_b">
  <xccdf:Profile id="xccdf_base" abstract="true"><xccdf:title>Base</xccdf:title></xccdf:Profile>
  <xccdf:Profile id="xccdf_concrete"><xccdf:title>Concrete</xccdf:title></xccdf:Profile>
</xccdf:Benchmark>`
	doc, err := LoadDocument(writeContent(t, "b.xml", body))
	require.NoError(t, err)
	require.False(t, doc.IsDatastream())

	profiles := doc.Profiles()
	require.Len(t, profiles, 1)
	require.Equal(t, "xccdf_concrete", profiles[0].ID)
}

func TestDefaultProfileID(t *testing.T) {
	cases := []struct {
		name     string
		profiles []scap.Profile
		wantID   string
		wantOK   bool
	}{
		{
			name:     "single default suffix",
			profiles: []scap.Profile{{ID: "xccdf_default"}, {ID: "xccdf_strict"}},
			wantID:   "xccdf_default",
			wantOK:   true,
		},
		{
			name:     "literal default id",
			profiles: []scap.Profile{{ID: "default"}},
			wantID:   "default",
			wantOK:   true,
		},
		{
			name:     "no default",
			profiles: []scap.Profile{{ID: "xccdf_one"}, {ID: "xccdf_two"}},
			wantOK:   false,
		},
		{
			name:     "two defaults is no default",
			profiles: []scap.Profile{{ID: "a_default"}, {ID: "b_default"}},
			wantOK:   false,
		},
		{
			name:   "empty list",
			wantOK: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, ok := DefaultProfileID(tc.profiles)
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.wantID, id)
		})
	}
}
