package extract

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/cavaliergopher/cpio"
	"github.com/cavaliergopher/rpm"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/scapworks/scapfetch/pkg/scap"
)

// newEntrySource picks the container unwrap strategy for the source bytes:
// RPMs get their cpio payload located and streamed, everything else is a
// (possibly compressed) tar or a zip. The returned cleanup func may be nil.
func newEntrySource(r io.ReadSeeker, typ scap.ContentType) (entrySource, func(), error) {
	if typ == scap.ContentTypeRPM {
		return rpmPayloadSource(r)
	}

	magic := make([]byte, 6)
	n, err := io.ReadFull(r, magic)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("read archive magic: %w", err)
	}
	magic = magic[:n]
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, nil, fmt.Errorf("rewind archive: %w", err)
	}

	switch {
	case bytes.HasPrefix(magic, []byte{'P', 'K', 0x03, 0x04}):
		return zipSource(r)
	case bytes.HasPrefix(magic, []byte{0x1f, 0x8b}):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip reader: %w", err)
		}
		return &tarSource{tr: tar.NewReader(gz)}, func() { gz.Close() }, nil
	case bytes.HasPrefix(magic, []byte("BZh")):
		return &tarSource{tr: tar.NewReader(bzip2.NewReader(r))}, nil, nil
	case bytes.HasPrefix(magic, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("xz reader: %w", err)
		}
		return &tarSource{tr: tar.NewReader(xzr)}, nil, nil
	case bytes.HasPrefix(magic, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd reader: %w", err)
		}
		return &tarSource{tr: tar.NewReader(zr)}, zr.Close, nil
	default:
		// Plain tar has its marker deep in the first header block; just let
		// the tar reader decide.
		return &tarSource{tr: tar.NewReader(r)}, nil, nil
	}
}

// rpmPayloadSource digs the compressed cpio payload out of an RPM package.
// The package header tells us the payload format and compression; from there
// the payload entries are walked exactly like any other archive.
func rpmPayloadSource(r io.ReadSeeker) (entrySource, func(), error) {
	pkg, err := rpm.Read(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read rpm headers: %w", err)
	}

	if format := pkg.PayloadFormat(); format != "cpio" {
		return nil, nil, fmt.Errorf("unsupported rpm payload format %q", format)
	}

	// rpm.Read leaves the reader positioned at the start of the payload.
	var payload io.Reader
	var cleanup func()
	switch compression := pkg.PayloadCompression(); compression {
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("rpm payload gzip reader: %w", err)
		}
		payload, cleanup = gz, func() { gz.Close() }
	case "bzip2":
		payload = bzip2.NewReader(r)
	case "xz":
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("rpm payload xz reader: %w", err)
		}
		payload = xzr
	case "lzma":
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("rpm payload lzma reader: %w", err)
		}
		payload = lr
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("rpm payload zstd reader: %w", err)
		}
		payload, cleanup = zr, zr.Close
	default:
		return nil, nil, fmt.Errorf("unsupported rpm payload compression %q", compression)
	}

	log.Debug().Str("package", pkg.Name()).Str("compression", pkg.PayloadCompression()).Msg("unwrapping rpm payload")
	return &cpioSource{cr: cpio.NewReader(payload)}, cleanup, nil
}

// tarSource walks tar entries. Entry types other than regular files and
// directories (symlinks, devices) are skipped; content archives have no
// business containing them.
type tarSource struct {
	tr *tar.Reader
}

func (s *tarSource) Next() (*entry, error) {
	for {
		hdr, err := s.tr.Next()
		if err != nil {
			return nil, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			return &entry{name: hdr.Name, dir: true, mode: hdr.FileInfo().Mode()}, nil
		case tar.TypeReg:
			return &entry{name: hdr.Name, mode: hdr.FileInfo().Mode(), body: s.tr}, nil
		default:
			log.Warn().Str("name", hdr.Name).Int("type", int(hdr.Typeflag)).Msg("skipping unsupported tar entry type")
		}
	}
}

// cpioSource walks the entries of an RPM's cpio payload.
type cpioSource struct {
	cr *cpio.Reader
}

func (s *cpioSource) Next() (*entry, error) {
	for {
		hdr, err := s.cr.Next()
		if err != nil {
			return nil, err
		}
		mode := hdr.Mode
		switch {
		case mode.IsDir():
			return &entry{name: hdr.Name, dir: true, mode: fs.FileMode(mode.Perm())}, nil
		case mode.IsRegular():
			return &entry{name: hdr.Name, mode: fs.FileMode(mode.Perm()), body: s.cr}, nil
		default:
			log.Warn().Str("name", hdr.Name).Msg("skipping unsupported cpio entry type")
		}
	}
}

// zipEntrySource walks zip entries; zip needs random access, which the
// seekable source guarantees.
type zipEntrySource struct {
	files []*zip.File
	idx   int
	open  io.ReadCloser
}

func zipSource(r io.ReadSeeker) (entrySource, func(), error) {
	ra, ok := r.(io.ReaderAt)
	if !ok {
		return nil, nil, scap.ErrUnsupportedStreamExtraction
	}
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, nil, fmt.Errorf("size zip source: %w", err)
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, nil, fmt.Errorf("zip reader: %w", err)
	}
	src := &zipEntrySource{files: zr.File}
	return src, func() {
		if src.open != nil {
			src.open.Close()
		}
	}, nil
}

func (s *zipEntrySource) Next() (*entry, error) {
	if s.open != nil {
		s.open.Close()
		s.open = nil
	}
	if s.idx >= len(s.files) {
		return nil, io.EOF
	}
	f := s.files[s.idx]
	s.idx++

	info := f.FileInfo()
	if info.IsDir() {
		return &entry{name: f.Name, dir: true, mode: info.Mode()}, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", f.Name, err)
	}
	s.open = rc
	return &entry{name: f.Name, mode: info.Mode(), body: rc}, nil
}
