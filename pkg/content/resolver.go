// Package content classifies fetched SCAP content and locates the usable
// files inside it. Classification is structural: magic bytes decide between
// package, archive and XML, and the XML root element decides between a bare
// XCCDF benchmark and a datastream collection. Name suffixes are only a
// tie-break when the bytes themselves are ambiguous.
package content

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/rs/zerolog/log"

	"github.com/scapworks/scapfetch/pkg/scap"
)

// DocClass is the structural class of an XML document, derived from its
// root element.
type DocClass int

const (
	ClassOther DocClass = iota
	ClassBenchmark
	ClassDatastream
	ClassTailoring
	ClassCPEDictionary
)

// Resolve determines the real type of the fetched content bytes. The
// declared type of the source is never trusted on its own: magic bytes win,
// then the XML root element, and only for bodies with no structural signal
// does the (case-insensitive) name suffix decide. When nothing agrees the
// result is an UnrecognizedContentTypeError, which is reported to the
// operator rather than retried.
func Resolve(source scap.ContentSource, r io.ReadSeeker) (scap.ContentType, error) {
	prefix := make([]byte, 512)
	n, err := io.ReadFull(r, prefix)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return scap.ContentTypeUnknown, fmt.Errorf("read content prefix: %w", err)
	}
	prefix = prefix[:n]
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return scap.ContentTypeUnknown, fmt.Errorf("rewind content: %w", err)
	}

	if t := typeFromBytes(prefix, source); t != scap.ContentTypeUnknown {
		return t, nil
	}

	if looksLikeXML(prefix) {
		class, err := classify(r)
		// Leave the reader positioned at the start for the next stage.
		if _, seekErr := r.Seek(0, io.SeekStart); seekErr != nil {
			return scap.ContentTypeUnknown, fmt.Errorf("rewind content: %w", seekErr)
		}
		switch {
		case err != nil:
			// Malformed XML carries no structural signal; fall through to
			// the suffix heuristics below.
			log.Debug().Err(err).Str("url", source.URL).Msg("content is not well-formed XML")
		case class == ClassBenchmark:
			return scap.ContentTypePlainXCCDF, nil
		case class == ClassDatastream:
			return scap.ContentTypeDatastream, nil
		}
	}

	if t := typeFromSuffix(source); t != scap.ContentTypeUnknown {
		return t, nil
	}
	return scap.ContentTypeUnknown, &scap.UnrecognizedContentTypeError{Source: source.URL}
}

// typeFromBytes deduces the container type from the magic bytes.
// See https://en.wikipedia.org/wiki/List_of_file_signatures.
func typeFromBytes(prefix []byte, source scap.ContentSource) scap.ContentType {
	switch {
	case bytes.HasPrefix(prefix, []byte{0xed, 0xab, 0xee, 0xdb}):
		// An RPM is just a differently-shaped archive; it is detected by its
		// own lead magic, never by file extension.
		return scap.ContentTypeRPM
	case bytes.HasPrefix(prefix, []byte{0x1f, 0x8b}), // gzip
		bytes.HasPrefix(prefix, []byte("BZh")),                         // bzip2
		bytes.HasPrefix(prefix, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}), // xz
		bytes.HasPrefix(prefix, []byte{0x28, 0xb5, 0x2f, 0xfd}),         // zstd
		bytes.HasPrefix(prefix, []byte{'P', 'K', 0x03, 0x04}),           // zip
		isTarHeader(prefix):
		return archiveType(source)
	}
	return scap.ContentTypeUnknown
}

// isTarHeader checks the ustar marker at offset 257 of a tar header block.
func isTarHeader(prefix []byte) bool {
	return len(prefix) >= 262 && bytes.Equal(prefix[257:262], []byte("ustar"))
}

// archiveType decides which archive flavor to report. The container bytes
// cannot reveal what is inside; the declared type breaks the tie and the
// locator confirms the real payload after extraction.
func archiveType(source scap.ContentSource) scap.ContentType {
	switch source.DeclaredType {
	case scap.ContentTypePlainXCCDF, scap.ContentTypeArchiveXCCDF:
		return scap.ContentTypeArchiveXCCDF
	default:
		return scap.ContentTypeArchiveDatastream
	}
}

func looksLikeXML(prefix []byte) bool {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(prefix, []byte{0xef, 0xbb, 0xbf}), " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '<'
}

func typeFromSuffix(source scap.ContentSource) scap.ContentType {
	name := strings.ToLower(source.URL)
	switch {
	case strings.HasSuffix(name, ".rpm"):
		return scap.ContentTypeRPM
	case strings.HasSuffix(name, "-ds.xml"), strings.HasSuffix(name, "ds.xml"):
		return scap.ContentTypeDatastream
	case strings.HasSuffix(name, ".xml"):
		return scap.ContentTypePlainXCCDF
	case strings.HasSuffix(name, ".zip"),
		strings.HasSuffix(name, ".tar"),
		strings.HasSuffix(name, ".tar.gz"),
		strings.HasSuffix(name, ".tgz"),
		strings.HasSuffix(name, ".tar.bz2"),
		strings.HasSuffix(name, ".tar.xz"):
		return archiveType(source)
	}
	return scap.ContentTypeUnknown
}

// classify parses an XML document and reports its structural class from the
// root element's local name.
func classify(r io.Reader) (DocClass, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return ClassOther, err
	}
	root := doc.SelectElement("*")
	if root == nil {
		return ClassOther, fmt.Errorf("document has no root element")
	}
	return classOf(root.Data), nil
}

// ClassifyFile reports the structural class of the XML file at path.
// Non-XML files and unreadable files classify as ClassOther.
func ClassifyFile(path string) DocClass {
	f, err := os.Open(path)
	if err != nil {
		return ClassOther
	}
	defer f.Close()
	class, err := classify(f)
	if err != nil {
		return ClassOther
	}
	return class
}

func classOf(local string) DocClass {
	switch local {
	case "Benchmark":
		return ClassBenchmark
	case "data-stream-collection":
		return ClassDatastream
	case "Tailoring":
		return ClassTailoring
	case "cpe-list", "platform-specification":
		return ClassCPEDictionary
	default:
		return ClassOther
	}
}
