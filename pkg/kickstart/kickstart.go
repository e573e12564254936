// Package kickstart parses and validates the addon's %addon section body:
// simple "key = value" lines naming the content source, ids, paths, the
// profile and optional tailoring rule deltas. Contradictory combinations
// fail here, before any network access.
package kickstart

import (
	"fmt"
	"strings"

	"github.com/scapworks/scapfetch/pkg/content"
	"github.com/scapworks/scapfetch/pkg/fetcher"
	"github.com/scapworks/scapfetch/pkg/scap"
)

// AddonName is the name of the addon's %addon kickstart section.
const AddonName = "org_scapworks_scapfetch"

// AddonData is the parsed and validated addon section.
type AddonData struct {
	ContentType   scap.ContentType
	ContentURL    string
	DatastreamID  string
	XCCDFID       string
	ProfileID     string
	XCCDFPath     string
	CPEPath       string
	TailoringPath string
	// Certificate is a PEM CA bundle path used to validate the https
	// content server.
	Certificate string
	// Deltas are rule selection changes applied on top of ProfileID.
	Deltas []scap.RuleDelta
}

// Parse reads the body of the addon's %addon section and validates it.
func Parse(body string) (*AddonData, error) {
	data := &AddonData{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := data.HandleLine(line); err != nil {
			return nil, err
		}
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return data, nil
}

// HandleLine consumes a single "key = value" line of the addon section.
func (d *AddonData) HandleLine(line string) error {
	key, value, found := strings.Cut(line, "=")
	if !found {
		return &scap.KickstartContentError{Message: fmt.Sprintf("malformed line %q", line)}
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if value == "" {
		return &scap.KickstartContentError{Message: fmt.Sprintf("empty value for %q", key)}
	}

	switch key {
	case "content-type":
		t, err := scap.ParseContentType(value)
		if err != nil {
			return &scap.KickstartContentError{Message: err.Error()}
		}
		d.ContentType = t
	case "content-url":
		d.ContentURL = value
	case "datastream-id":
		d.DatastreamID = value
	case "xccdf-id":
		d.XCCDFID = value
	case "profile":
		d.ProfileID = value
	case "xccdf-path":
		d.XCCDFPath = value
	case "cpe-path":
		d.CPEPath = value
	case "tailoring-path":
		d.TailoringPath = value
	case "certificate":
		d.Certificate = value
	case "select":
		d.Deltas = append(d.Deltas, scap.RuleDelta{RuleID: value, Selected: true})
	case "unselect":
		d.Deltas = append(d.Deltas, scap.RuleDelta{RuleID: value, Selected: false})
	default:
		return &scap.KickstartContentError{Message: fmt.Sprintf("unknown key %q", key)}
	}
	return nil
}

// Validate checks the section for missing and contradictory directives.
func (d *AddonData) Validate() error {
	if d.ContentURL == "" {
		return &scap.KickstartContentError{Message: "content-url is required"}
	}
	isRemote := strings.HasPrefix(d.ContentURL, "http://") || strings.HasPrefix(d.ContentURL, "https://")
	if !isRemote && !strings.HasPrefix(d.ContentURL, "/") {
		return &scap.KickstartContentError{Message: fmt.Sprintf("unsupported content-url %q, must be http(s) or an absolute path", d.ContentURL)}
	}
	if d.Certificate != "" && strings.HasPrefix(d.ContentURL, "http://") {
		return &scap.KickstartContentError{Message: "cannot verify the server certificate of a plain http content-url"}
	}
	if d.ContentType == scap.ContentTypePlainXCCDF && d.DatastreamID != "" {
		return &scap.KickstartContentError{Message: "datastream-id makes no sense for plain XCCDF content"}
	}
	if len(d.Deltas) > 0 && d.ProfileID == "" {
		return &scap.KickstartContentError{Message: "rule selection changes require a profile"}
	}
	return nil
}

// Request builds the fetch request the background task runs.
func (d *AddonData) Request(workBaseDir string) fetcher.Request {
	req := fetcher.Request{
		Source: scap.ContentSource{URL: d.ContentURL, DeclaredType: d.ContentType},
		Hints: content.Hints{
			ContentPath:   d.XCCDFPath,
			CPEPath:       d.CPEPath,
			TailoringPath: d.TailoringPath,
			DatastreamID:  d.DatastreamID,
			BenchmarkID:   d.XCCDFID,
		},
		ProfileID:   d.ProfileID,
		CACertPath:  d.Certificate,
		WorkBaseDir: workBaseDir,
	}
	if len(d.Deltas) > 0 {
		req.Tailoring = &scap.TailoringSelection{BaseProfileID: d.ProfileID, Deltas: d.Deltas}
	}
	return req
}

// String renders the section body back in kickstart form, the counterpart
// of Parse.
func (d *AddonData) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%%addon %s\n", AddonName)
	pair := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, "    %s = %s\n", key, value)
		}
	}
	if d.ContentType != scap.ContentTypeUnknown {
		pair("content-type", d.ContentType.String())
	}
	pair("content-url", d.ContentURL)
	pair("datastream-id", d.DatastreamID)
	pair("xccdf-id", d.XCCDFID)
	pair("xccdf-path", d.XCCDFPath)
	pair("cpe-path", d.CPEPath)
	pair("tailoring-path", d.TailoringPath)
	pair("profile", d.ProfileID)
	pair("certificate", d.Certificate)
	for _, delta := range d.Deltas {
		if delta.Selected {
			pair("select", delta.RuleID)
		} else {
			pair("unselect", delta.RuleID)
		}
	}
	b.WriteString("%end")
	return b.String()
}
