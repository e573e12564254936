package scap

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"unrecognized content", &UnrecognizedContentTypeError{Source: "x"}, KindUnrecognizedContentType},
		{"unsafe entry", &UnsafeArchiveEntryError{Name: "../evil"}, KindUnsafeArchiveEntry},
		{"stream extraction", ErrUnsupportedStreamExtraction, KindUnsupportedStreamExtraction},
		{"path not found", &ContentPathNotFoundError{Role: "datastream"}, KindContentPathNotFound},
		{"ambiguous path", &AmbiguousContentPathError{Role: "datastream"}, KindAmbiguousContentPath},
		{"unknown base profile", &UnknownBaseProfileError{ProfileID: "p"}, KindUnknownBaseProfile},
		{"content load", &ContentLoadError{Path: "x", Err: errors.New("boom")}, KindContentLoad},
		{"no default profile", ErrNoDefaultProfile, KindNoDefaultProfile},
		{"unknown profile", &UnknownProfileError{ProfileID: "p"}, KindUnknownProfile},
		{"fetch timeout", &FetchTimeoutError{URL: "u", Err: errors.New("boom")}, KindFetchTimeout},
		{"cancelled sentinel", ErrCancelled, KindCancelled},
		{"context cancelled", context.Canceled, KindCancelled},
		{"context deadline", context.DeadlineExceeded, KindFetchTimeout},
		{"kickstart", &KickstartContentError{Message: "bad"}, KindKickstartContent},
		{"anything else", errors.New("boom"), KindInternal},
		{"nil", nil, KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Kind(tc.err))
		})
	}
}

func TestKindSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("extract content: %w", &UnsafeArchiveEntryError{Name: "/etc/passwd"})
	require.Equal(t, KindUnsafeArchiveEntry, Kind(err))

	err = fmt.Errorf("fetch: %w", fmt.Errorf("get: %w", context.Canceled))
	require.Equal(t, KindCancelled, Kind(err))
}

func TestRetryable(t *testing.T) {
	require.False(t, KindUnsafeArchiveEntry.Retryable())
	require.True(t, KindFetchTimeout.Retryable())
	require.True(t, KindContentPathNotFound.Retryable())
	require.True(t, KindInternal.Retryable())
}

func TestParseContentTypeRoundTrip(t *testing.T) {
	for _, typ := range []ContentType{ContentTypePlainXCCDF, ContentTypeDatastream, ContentTypeRPM} {
		parsed, err := ParseContentType(typ.String())
		require.NoError(t, err)
		require.Equal(t, typ, parsed)
	}

	_, err := ParseContentType("floppy")
	require.Error(t, err)

	parsed, err := ParseContentType("")
	require.NoError(t, err)
	require.Equal(t, ContentTypeUnknown, parsed)
}

func TestIsArchive(t *testing.T) {
	require.True(t, ContentTypeRPM.IsArchive())
	require.True(t, ContentTypeArchiveDatastream.IsArchive())
	require.True(t, ContentTypeArchiveXCCDF.IsArchive())
	require.False(t, ContentTypePlainXCCDF.IsArchive())
	require.False(t, ContentTypeDatastream.IsArchive())
	require.False(t, ContentTypeUnknown.IsArchive())
}
