// Package scap holds the shared types of the content acquisition and
// evaluation pipeline: content sources and their derived types, resolved
// content paths, profiles, tailoring selections and evaluation outcomes.
package scap

import (
	"fmt"
	"strings"
)

// ContentType is the derived type of a piece of SCAP content. It is always
// re-derived from the inspected bytes (or, as a tie-break, the name suffix),
// never trusted from a kickstart field alone.
type ContentType int

const (
	ContentTypeUnknown ContentType = iota
	// ContentTypePlainXCCDF is a bare XCCDF benchmark document.
	ContentTypePlainXCCDF
	// ContentTypeDatastream is a SCAP source datastream collection document.
	ContentTypeDatastream
	// ContentTypeArchiveXCCDF is an archive expected to contain an XCCDF
	// benchmark.
	ContentTypeArchiveXCCDF
	// ContentTypeArchiveDatastream is an archive expected to contain a
	// datastream.
	ContentTypeArchiveDatastream
	// ContentTypeRPM is an RPM package; its cpio payload carries the content.
	ContentTypeRPM
)

func (t ContentType) String() string {
	switch t {
	case ContentTypePlainXCCDF:
		return "xccdf"
	case ContentTypeDatastream:
		return "datastream"
	case ContentTypeArchiveXCCDF:
		return "archive-xccdf"
	case ContentTypeArchiveDatastream:
		return "archive-datastream"
	case ContentTypeRPM:
		return "rpm"
	default:
		return "unknown"
	}
}

// IsArchive reports whether content of this type must go through the
// extractor before it can be located and loaded.
func (t ContentType) IsArchive() bool {
	switch t {
	case ContentTypeArchiveXCCDF, ContentTypeArchiveDatastream, ContentTypeRPM:
		return true
	}
	return false
}

// ParseContentType parses the kickstart content-type value. Only values the
// addon historically accepted are recognized.
func ParseContentType(s string) (ContentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "xccdf":
		return ContentTypePlainXCCDF, nil
	case "datastream", "scap-security-guide":
		return ContentTypeDatastream, nil
	case "archive":
		return ContentTypeArchiveDatastream, nil
	case "rpm":
		return ContentTypeRPM, nil
	case "":
		return ContentTypeUnknown, nil
	default:
		return ContentTypeUnknown, fmt.Errorf("unsupported content type %q", s)
	}
}

// ContentSource identifies where SCAP content comes from: either a URL
// (http or https) or a local filesystem path, plus the declared type hint
// from the kickstart. Immutable once created.
type ContentSource struct {
	// URL is the content URL or local path.
	URL string
	// DeclaredType is the type the kickstart claims the content has. It is
	// a hint only; the resolver re-derives the real type from the bytes.
	DeclaredType ContentType
}

// IsRemote reports whether fetching the source requires network access.
func (s ContentSource) IsRemote() bool {
	return strings.HasPrefix(s.URL, "http://") || strings.HasPrefix(s.URL, "https://")
}

// ExtractionResult is the outcome of unpacking an archive or package: the
// working directory the entries were written into and the entry paths
// relative to it, in extraction order. The working directory is exclusively
// owned by the fetch task that produced it until the task finishes.
type ExtractionResult struct {
	Dir     string
	Entries []string
}

// ContentPaths holds the resolved absolute paths and ids of the content
// pieces a session needs. CPEPath and TailoringPath are optional and empty
// when absent.
type ContentPaths struct {
	// ContentFile is the XCCDF benchmark or datastream file.
	ContentFile string
	// Type is the resolved type of ContentFile (plain XCCDF or datastream).
	Type ContentType

	DatastreamID  string
	BenchmarkID   string
	CPEPath       string
	TailoringPath string
}

// Profile is a named rule-selection preset within the loaded content.
// The profile set of a session is immutable once the session is opened;
// tailoring adds a new derived profile instead of mutating existing ones.
type Profile struct {
	ID       string
	Title    string
	Selected bool
}

// RuleDelta is a single rule selection change relative to a base profile.
type RuleDelta struct {
	RuleID string
	// Selected selects the rule when true and deselects it when false.
	Selected bool
}

// TailoringSelection is the kickstart-declared customization of a base
// profile: the base profile id plus the rule deltas to apply.
type TailoringSelection struct {
	BaseProfileID string
	Deltas        []RuleDelta
}

// EvaluationResult classifies the exit of the external evaluation tool.
type EvaluationResult int

const (
	// EvalCompliant means the tool ran and every selected rule passed.
	EvalCompliant EvaluationResult = iota
	// EvalNonCompliant means the tool ran to completion and some rules
	// failed. This is a normal evaluation outcome, not a tool failure.
	EvalNonCompliant
	// EvalToolError means the tool failed to run or exited with an
	// unexpected code.
	EvalToolError
)

func (r EvaluationResult) String() string {
	switch r {
	case EvalCompliant:
		return "compliant"
	case EvalNonCompliant:
		return "non-compliant"
	default:
		return "tool-error"
	}
}

// EvaluationOutcome is the captured result of one evaluation tool run.
type EvaluationOutcome struct {
	Result      EvaluationResult
	ExitCode    int
	Stdout      string
	Stderr      string
	ResultsPath string
}
