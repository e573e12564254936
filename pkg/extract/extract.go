// Package extract unpacks SCAP content archives into a fresh working
// directory. All container formats funnel through one entry-walking
// algorithm; what differs per format is only how the stream of entries is
// obtained (a tar or zip listing, or the cpio payload dug out of an RPM).
//
// Extraction is all-or-nothing: any bad entry aborts the whole extraction
// and the working directory is discarded. Entry names are sanitized before
// any write; an absolute path or a parent-directory segment is fatal.
package extract

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/scapworks/scapfetch/pkg/constant"
	"github.com/scapworks/scapfetch/pkg/scap"
	"github.com/scapworks/scapfetch/pkg/secure"
)

// entry is one item produced by a container walk.
type entry struct {
	name string
	dir  bool
	mode fs.FileMode
	body io.Reader
}

// entrySource streams the entries of one container. Next returns io.EOF
// after the last entry.
type entrySource interface {
	Next() (*entry, error)
}

// Extract unpacks the archive read from src into a fresh working directory
// created under baseDir, and returns the directory along with the extracted
// entries in extraction order. src must be seekable: sources piped straight
// off the network have to be materialized to disk or a buffer first, and
// anything else fails with scap.ErrUnsupportedStreamExtraction.
//
// The caller owns the returned directory and must delete it; on error
// nothing is left behind.
func Extract(src io.Reader, typ scap.ContentType, baseDir string) (*scap.ExtractionResult, error) {
	seeker, ok := src.(io.ReadSeeker)
	if !ok {
		return nil, scap.ErrUnsupportedStreamExtraction
	}

	source, cleanup, err := newEntrySource(seeker, typ)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	workDir := filepath.Join(baseDir, constant.WorkDirPrefix+uuid.NewString())
	if err := secure.MkdirAll(workDir, constant.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	entries, err := extractEntries(source, workDir, constant.MaxExtractedFileSize)
	if err != nil {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			log.Error().Err(rmErr).Str("dir", workDir).Msg("failed to discard working directory")
		}
		return nil, err
	}

	return &scap.ExtractionResult{Dir: workDir, Entries: entries}, nil
}

// extractEntries walks the entry stream and writes every entry below
// destDir. It is the single extraction algorithm shared by all container
// formats.
func extractEntries(source entrySource, destDir string, maxFileSize int64) ([]string, error) {
	var extracted []string
	for {
		e, err := source.Next()
		if errors.Is(err, io.EOF) {
			return extracted, nil
		}
		if err != nil {
			return nil, fmt.Errorf("walk archive entries: %w", err)
		}

		rel, err := sanitizeEntryName(e.name)
		if err != nil {
			return nil, err
		}
		if rel == "" {
			continue
		}
		target := filepath.Join(destDir, rel)

		if e.dir {
			if err := secure.MkdirAll(target, constant.DefaultDirMode); err != nil {
				return nil, fmt.Errorf("mkdir %q: %w", rel, err)
			}
			extracted = append(extracted, rel)
			continue
		}

		if err := writeEntry(target, e, maxFileSize); err != nil {
			return nil, fmt.Errorf("extract %q: %w", rel, err)
		}
		extracted = append(extracted, rel)
	}
}

func writeEntry(target string, e *entry, maxFileSize int64) error {
	if err := secure.MkdirAll(filepath.Dir(target), constant.DefaultDirMode); err != nil {
		return err
	}

	mode := e.mode.Perm()
	if mode == 0 {
		mode = constant.DefaultWorldReadableFileMode
	}
	out, err := secure.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	// Chunked copy so a decompression bomb is cut off at maxFileSize instead
	// of filling the disk.
	var written int64
	const chunkSize = int64(64 * 1024)
	for {
		if written+chunkSize > maxFileSize {
			return fmt.Errorf("aborted extraction of oversized file after %d bytes", written)
		}
		n, err := io.CopyN(out, e.body, chunkSize)
		written += n
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// sanitizeEntryName normalizes an archive entry name and rejects anything
// that would escape the extraction root. The empty result means the entry
// is the root itself and nothing needs to be written.
func sanitizeEntryName(name string) (string, error) {
	n := strings.TrimPrefix(filepath.ToSlash(name), "./")
	if n == "" || n == "." {
		return "", nil
	}
	if path.IsAbs(n) || filepath.IsAbs(name) {
		return "", &scap.UnsafeArchiveEntryError{Name: name}
	}
	for _, seg := range strings.Split(n, "/") {
		if seg == ".." {
			return "", &scap.UnsafeArchiveEntryError{Name: name}
		}
	}
	cleaned := path.Clean(n)
	if cleaned == "." || cleaned == "" {
		return "", nil
	}
	return filepath.FromSlash(cleaned), nil
}
