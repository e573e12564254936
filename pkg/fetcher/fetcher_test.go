package fetcher

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goreleaser/nfpm/v2"
	"github.com/goreleaser/nfpm/v2/files"
	"github.com/goreleaser/nfpm/v2/rpm"
	"github.com/stretchr/testify/require"

	"github.com/scapworks/scapfetch/pkg/constant"
	"github.com/scapworks/scapfetch/pkg/evaluate"
	"github.com/scapworks/scapfetch/pkg/scap"
	"github.com/scapworks/scapfetch/pkg/xccdf"
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
<ds:data-stream-collection xmlns:ds="http://scap.nist.gov/schema/scap/source/1.2" id="scap_org.example_collection">
  <ds:data-stream id="scap_org.example_datastream_ds"/>
  <ds:component id="scap_org.example_comp_benchmark">
    <xccdf:Benchmark xmlns:xccdf="http://checklists.nist.gov/xccdf/1.2" id="xccdf_org.example_benchmark_ds">
      <xccdf:Profile id="xccdf_org.example_profile_default">
        <xccdf:title>Baseline</xccdf:title>
      </xccdf:Profile>
    </xccdf:Benchmark>
  </ds:component>
</ds:data-stream-collection>`

func collectEvents(t *testing.T, task *Task) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(30 * time.Second)
	for {
		select {
		case ev, ok := <-task.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for fetch events")
		}
	}
}

func requireTerminalLast(t *testing.T, events []Event) Event {
	t.Helper()
	require.NotEmpty(t, events)
	for i, ev := range events[:len(events)-1] {
		require.Equal(t, EventProgress, ev.Type, "event %d must be progress", i)
	}
	last := events[len(events)-1]
	require.NotEqual(t, EventProgress, last.Type, "last event must be terminal")
	return last
}

func TestFetchPlainXCCDFAndEvaluate(t *testing.T) {
	contentPath := filepath.Join(t.TempDir(), "benchmark.xml")
	require.NoError(t, os.WriteFile(contentPath, []byte(benchmarkXML), constant.DefaultWorldReadableFileMode))
	workBase := t.TempDir()

	task := New().Start(context.Background(), Request{
		Source:      scap.ContentSource{URL: contentPath},
		WorkBaseDir: workBase,
	})
	events := collectEvents(t, task)
	last := requireTerminalLast(t, events)
	require.Equal(t, EventCompleted, last.Type)

	session, err := task.Wait()
	require.NoError(t, err)
	require.Equal(t, xccdf.StateValidated, session.State())

	// No explicit profile: the declared default gets selected.
	selected, ok := session.SelectedProfile()
	require.True(t, ok)
	require.Equal(t, "xccdf_default", selected.ID)

	// A mocked evaluator exiting 2 reports non-compliance with captured
	// output, not a tool failure.
	oscapStub := filepath.Join(t.TempDir(), "oscap")
	script := "#!/bin/sh\necho 'Rule xccdf_rule_one: fail'\necho 'some rules failed' >&2\nexit 2\n"
	require.NoError(t, os.WriteFile(oscapStub, []byte(script), 0o755))

	runner := &evaluate.Runner{OscapPath: oscapStub}
	outcome, err := runner.Evaluate(context.Background(), session, filepath.Join(workBase, "results.xml"))
	require.NoError(t, err)
	require.Equal(t, scap.EvalNonCompliant, outcome.Result)
	require.Contains(t, outcome.Stdout, "Rule xccdf_rule_one: fail")

	// Ownership of the working directory moved to us.
	require.NoError(t, os.RemoveAll(task.WorkDir()))
}

func TestFetchRPMOverHTTP(t *testing.T) {
	stage := t.TempDir()
	dsPath := filepath.Join(stage, "usr", "share", "xml", "scap", "ds.xml")
	require.NoError(t, os.MkdirAll(filepath.Dir(dsPath), constant.DefaultDirMode))
	require.NoError(t, os.WriteFile(dsPath, []byte(datastreamXML), constant.DefaultWorldReadableFileMode))

	info := &nfpm.Info{
		Name:        "scap-security-guide",
		Version:     "0.1.0",
		Description: "Test SCAP content package",
		Arch:        "noarch",
		Maintainer:  "scapfetch tests",
		Overridables: nfpm.Overridables{
			Contents: files.Contents{
				&files.Content{Source: filepath.Join(stage, "**"), Destination: "/"},
			},
		},
	}
	var pkg bytes.Buffer
	require.NoError(t, rpm.Default.Package(info, &pkg))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pkg.Bytes())
	}))
	defer srv.Close()

	task := New().Start(context.Background(), Request{
		Source:      scap.ContentSource{URL: srv.URL + "/content.rpm", DeclaredType: scap.ContentTypeRPM},
		WorkBaseDir: t.TempDir(),
	})
	last := requireTerminalLast(t, collectEvents(t, task))
	require.Equal(t, EventCompleted, last.Type)

	session, err := task.Wait()
	require.NoError(t, err)
	require.NotEmpty(t, session.Profiles())
	require.Equal(t, scap.ContentTypeDatastream, session.Paths().Type)
	require.FileExists(t, session.Paths().ContentFile)
	require.NoError(t, os.RemoveAll(task.WorkDir()))
}

func TestFetchUnsafeArchiveFailsAndCleansUp(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil", Mode: 0o644, Size: 5, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("pwned"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	archivePath := filepath.Join(t.TempDir(), "content.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, buf.Bytes(), constant.DefaultWorldReadableFileMode))
	workBase := t.TempDir()

	task := New().Start(context.Background(), Request{
		Source:      scap.ContentSource{URL: archivePath},
		WorkBaseDir: workBase,
	})
	last := requireTerminalLast(t, collectEvents(t, task))
	require.Equal(t, EventFailed, last.Type)
	require.Equal(t, scap.KindUnsafeArchiveEntry, last.Kind)
	require.False(t, last.Kind.Retryable())

	_, err = task.Wait()
	require.Error(t, err)

	// The working directory is gone and nothing escaped it.
	leftovers, err := os.ReadDir(workBase)
	require.NoError(t, err)
	require.Empty(t, leftovers)
	_, err = os.Stat(filepath.Join(workBase, "..", "evil"))
	require.True(t, os.IsNotExist(err))
	require.Empty(t, task.WorkDir())
}

func TestFetchUnrecognizedContentFails(t *testing.T) {
	contentPath := filepath.Join(t.TempDir(), "content.bin")
	require.NoError(t, os.WriteFile(contentPath, []byte("neither xml nor archive"), constant.DefaultWorldReadableFileMode))

	task := New().Start(context.Background(), Request{
		Source:      scap.ContentSource{URL: contentPath},
		WorkBaseDir: t.TempDir(),
	})
	last := requireTerminalLast(t, collectEvents(t, task))
	require.Equal(t, EventFailed, last.Type)
	require.Equal(t, scap.KindUnrecognizedContentType, last.Kind)
	require.True(t, last.Kind.Retryable())
}

func TestFetchCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Block until the client goes away.
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	task := New().Start(context.Background(), Request{
		Source:      scap.ContentSource{URL: srv.URL + "/content.rpm"},
		WorkBaseDir: t.TempDir(),
	})

	// Let the fetch stage start, then cancel.
	<-task.Events()
	task.Cancel()

	last := requireTerminalLast(t, collectEvents(t, task))
	require.Equal(t, EventFailed, last.Type)
	require.Equal(t, scap.KindCancelled, last.Kind)
}

func TestFetchSingleFlightPerSource(t *testing.T) {
	contentPath := filepath.Join(t.TempDir(), "benchmark.xml")
	require.NoError(t, os.WriteFile(contentPath, []byte(benchmarkXML), constant.DefaultWorldReadableFileMode))

	f := New()
	first := f.Start(context.Background(), Request{
		Source:      scap.ContentSource{URL: contentPath},
		WorkBaseDir: t.TempDir(),
	})
	second := f.Start(context.Background(), Request{
		Source:      scap.ContentSource{URL: contentPath},
		WorkBaseDir: t.TempDir(),
	})

	// The second fetch strictly happens-after the first terminated; both
	// emit exactly one terminal event.
	requireTerminalLast(t, collectEvents(t, first))
	last := requireTerminalLast(t, collectEvents(t, second))
	require.Equal(t, EventCompleted, last.Type)

	session, err := second.Wait()
	require.NoError(t, err)
	require.Equal(t, xccdf.StateValidated, session.State())
	require.NoError(t, os.RemoveAll(second.WorkDir()))

	if first.WorkDir() != "" {
		require.NoError(t, os.RemoveAll(first.WorkDir()))
	}
}
