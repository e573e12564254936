package scap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrorKind is the coarse classification of a pipeline failure, used by the
// background fetch task when reporting a failed event.
type ErrorKind string

const (
	KindUnrecognizedContentType     ErrorKind = "unrecognized_content_type"
	KindUnsafeArchiveEntry          ErrorKind = "unsafe_archive_entry"
	KindUnsupportedStreamExtraction ErrorKind = "unsupported_stream_extraction"
	KindContentPathNotFound         ErrorKind = "content_path_not_found"
	KindAmbiguousContentPath        ErrorKind = "ambiguous_content_path"
	KindUnknownBaseProfile          ErrorKind = "unknown_base_profile"
	KindContentLoad                 ErrorKind = "content_load_error"
	KindNoDefaultProfile            ErrorKind = "no_default_profile"
	KindUnknownProfile              ErrorKind = "unknown_profile"
	KindFetchTimeout                ErrorKind = "fetch_timeout"
	KindCancelled                   ErrorKind = "cancelled"
	KindToolError                   ErrorKind = "tool_error"
	KindKickstartContent            ErrorKind = "kickstart_content_error"
	KindInternal                    ErrorKind = "internal"
)

var (
	// ErrUnsupportedStreamExtraction is returned when archive extraction is
	// attempted from a source that does not support random access.
	ErrUnsupportedStreamExtraction = errors.New("archive extraction requires a seekable source")
	// ErrNoDefaultProfile is returned when no profile id was specified and
	// the content declares no default profile.
	ErrNoDefaultProfile = errors.New("no profile specified and content declares no default profile")
	// ErrCancelled is returned by a fetch that was cancelled before
	// completing.
	ErrCancelled = errors.New("fetch cancelled")
)

// UnrecognizedContentTypeError is returned when neither structural
// inspection nor a suffix hint could classify a content source.
type UnrecognizedContentTypeError struct {
	Source string
}

func (e *UnrecognizedContentTypeError) Error() string {
	return fmt.Sprintf("unable to determine content type of %q", e.Source)
}

// UnsafeArchiveEntryError is returned when an archive entry name escapes the
// extraction root (absolute path or parent-directory segment). It is fatal
// to the whole extraction; nothing from the archive is kept.
type UnsafeArchiveEntryError struct {
	Name string
}

func (e *UnsafeArchiveEntryError) Error() string {
	return fmt.Sprintf("unsafe archive entry name %q", e.Name)
}

// ContentPathNotFoundError is returned when a required content file could
// not be found in the extracted or fetched content.
type ContentPathNotFoundError struct {
	Role string
	Hint string
}

func (e *ContentPathNotFoundError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("no %s file found in content (hint %q)", e.Role, e.Hint)
	}
	return fmt.Sprintf("no %s file found in content", e.Role)
}

// AmbiguousContentPathError is returned when more than one candidate matches
// a required content file and no hint disambiguates them.
type AmbiguousContentPathError struct {
	Role       string
	Candidates []string
}

func (e *AmbiguousContentPathError) Error() string {
	return fmt.Sprintf("multiple %s candidates in content: %s", e.Role, strings.Join(e.Candidates, ", "))
}

// UnknownBaseProfileError is returned when a tailoring selection references
// a base profile id absent from the loaded content.
type UnknownBaseProfileError struct {
	ProfileID string
}

func (e *UnknownBaseProfileError) Error() string {
	return fmt.Sprintf("tailoring references unknown base profile %q", e.ProfileID)
}

// ContentLoadError wraps a failure to load or parse the content document.
type ContentLoadError struct {
	Path string
	Err  error
}

func (e *ContentLoadError) Error() string {
	return fmt.Sprintf("load content %q: %v", e.Path, e.Err)
}

func (e *ContentLoadError) Unwrap() error { return e.Err }

// UnknownProfileError is returned when a requested profile id is absent from
// the content's profile list, including any tailoring-added profiles.
type UnknownProfileError struct {
	ProfileID string
}

func (e *UnknownProfileError) Error() string {
	return fmt.Sprintf("profile %q not found in content", e.ProfileID)
}

// FetchTimeoutError is returned when a network fetch exceeds its bounded
// wait.
type FetchTimeoutError struct {
	URL string
	Err error
}

func (e *FetchTimeoutError) Error() string {
	return fmt.Sprintf("fetching %q timed out: %v", e.URL, e.Err)
}

func (e *FetchTimeoutError) Unwrap() error { return e.Err }

// KickstartContentError is returned for malformed or contradictory
// kickstart addon directives, before any network access happens.
type KickstartContentError struct {
	Message string
}

func (e *KickstartContentError) Error() string {
	return fmt.Sprintf("invalid kickstart content section: %s", e.Message)
}

// Kind classifies any pipeline error into an ErrorKind. Unrecognized errors
// map to KindInternal.
func Kind(err error) ErrorKind {
	var (
		unrecognized *UnrecognizedContentTypeError
		unsafeEntry  *UnsafeArchiveEntryError
		notFound     *ContentPathNotFoundError
		ambiguous    *AmbiguousContentPathError
		unknownBase  *UnknownBaseProfileError
		loadErr      *ContentLoadError
		unknownProf  *UnknownProfileError
		timeout      *FetchTimeoutError
		kickstart    *KickstartContentError
	)
	switch {
	case errors.As(err, &unrecognized):
		return KindUnrecognizedContentType
	case errors.As(err, &unsafeEntry):
		return KindUnsafeArchiveEntry
	case errors.Is(err, ErrUnsupportedStreamExtraction):
		return KindUnsupportedStreamExtraction
	case errors.As(err, &notFound):
		return KindContentPathNotFound
	case errors.As(err, &ambiguous):
		return KindAmbiguousContentPath
	case errors.As(err, &unknownBase):
		return KindUnknownBaseProfile
	case errors.As(err, &loadErr):
		return KindContentLoad
	case errors.Is(err, ErrNoDefaultProfile):
		return KindNoDefaultProfile
	case errors.As(err, &unknownProf):
		return KindUnknownProfile
	case errors.As(err, &timeout), os.IsTimeout(err):
		return KindFetchTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindFetchTimeout
	case errors.As(err, &kickstart):
		return KindKickstartContent
	default:
		return KindInternal
	}
}

// Retryable reports whether a failure of this kind may be retried with the
// same content source. Unsafe archive entries are deliberately excluded:
// content that attempted a path traversal stays blocked until the operator
// supplies different content.
func (k ErrorKind) Retryable() bool {
	return k != KindUnsafeArchiveEntry
}
