// Package xccdf loads SCAP content documents, enumerates their profiles,
// builds tailoring documents and manages the evaluation session handed to
// the external tool.
package xccdf

import (
	"fmt"
	"os"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/scapworks/scapfetch/pkg/scap"
)

// Document is a parsed XCCDF benchmark, datastream collection or tailoring
// file.
type Document struct {
	Path string

	root *xmlquery.Node
}

// LoadDocument parses the XML document at path. Malformed XML or a missing
// root element surfaces as a scap.ContentLoadError.
func LoadDocument(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &scap.ContentLoadError{Path: path, Err: err}
	}
	defer f.Close()

	doc, err := xmlquery.Parse(f)
	if err != nil {
		return nil, &scap.ContentLoadError{Path: path, Err: err}
	}
	root := doc.SelectElement("*")
	if root == nil {
		return nil, &scap.ContentLoadError{Path: path, Err: fmt.Errorf("document has no root element")}
	}
	return &Document{Path: path, root: root}, nil
}

// IsDatastream reports whether the document is a datastream collection
// rather than a bare benchmark.
func (d *Document) IsDatastream() bool {
	return d.root.Data == "data-stream-collection"
}

// Profiles returns the profiles declared in the document, in document
// order. Abstract profiles are building blocks, not selectable, and are
// skipped.
func (d *Document) Profiles() []scap.Profile {
	var profiles []scap.Profile
	for _, n := range xmlquery.Find(d.root, "//*[local-name()='Profile']") {
		if n.SelectAttr("abstract") == "true" {
			continue
		}
		id := n.SelectAttr("id")
		if id == "" {
			continue
		}
		var title string
		if t := xmlquery.FindOne(n, "*[local-name()='title']"); t != nil {
			title = strings.TrimSpace(t.InnerText())
		}
		profiles = append(profiles, scap.Profile{ID: id, Title: title})
	}
	return profiles
}

// DatastreamIDs returns the ids of the data-stream elements of a datastream
// collection.
func (d *Document) DatastreamIDs() []string {
	return d.attrValues("//*[local-name()='data-stream']", "id")
}

// BenchmarkIDs returns the ids a benchmark can be referenced by: the
// Benchmark element ids plus any checklist component-ref ids of a
// datastream.
func (d *Document) BenchmarkIDs() []string {
	ids := d.attrValues("//*[local-name()='Benchmark']", "id")
	if d.root.Data == "Benchmark" {
		ids = append(ids, d.root.SelectAttr("id"))
	}
	return append(ids, d.attrValues("//*[local-name()='component-ref']", "id")...)
}

func (d *Document) attrValues(expr, attr string) []string {
	var out []string
	for _, n := range xmlquery.Find(d.root, expr) {
		if v := n.SelectAttr(attr); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// DefaultProfileID returns the id of the content's declared default profile
// and whether exactly one such profile exists. A profile counts as the
// default when its id is "default" or ends in "_default", which is how SCAP
// Security Guide content marks its baseline.
func DefaultProfileID(profiles []scap.Profile) (string, bool) {
	var defaults []string
	for _, p := range profiles {
		id := strings.ToLower(p.ID)
		if id == "default" || strings.HasSuffix(id, "_default") {
			defaults = append(defaults, p.ID)
		}
	}
	if len(defaults) != 1 {
		return "", false
	}
	return defaults[0], true
}
