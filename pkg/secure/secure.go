//go:build !windows

// Package secure creates directories and files while refusing to reuse an
// existing path whose permissions are more permissive than requested. The
// extractor and downloader write untrusted content through it so that a
// pre-created world-writable directory cannot be used to tamper with
// fetched content before it is evaluated.
package secure

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// isMorePermissive reports whether the group or other bits of current allow
// more than those of want.
func isMorePermissive(current, want os.FileMode) bool {
	return current&0o070 > want&0o070 || current&0o007 > want&0o007
}

// checkPath walks up from path to the first existing ancestor and verifies
// it is a directory no more permissive than perm.
func checkPath(path string, perm os.FileMode) error {
	for p := filepath.Clean(path); ; {
		info, err := os.Stat(p)
		if err == nil {
			if !info.IsDir() {
				return &os.PathError{Op: "mkdir", Path: p, Err: syscall.ENOTDIR}
			}
			if isMorePermissive(info.Mode().Perm(), perm.Perm()) {
				return fmt.Errorf("path %s already exists with mode %o instead of the expected %o", p, info.Mode().Perm(), perm.Perm())
			}
			return nil
		}
		parent := filepath.Dir(p)
		if parent == p {
			return nil
		}
		p = parent
	}
}

// MkdirAll is os.MkdirAll with a permissions check on the existing part of
// the path.
func MkdirAll(path string, perm os.FileMode) error {
	if err := checkPath(path, perm); err != nil {
		return err
	}
	return os.MkdirAll(path, perm)
}

// OpenFile is os.OpenFile refusing to reuse an existing file whose
// permissions allow more than perm. Parent directories are checked when they
// are created through MkdirAll, with directory modes.
func OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	info, err := os.Stat(name)
	if !errors.Is(err, os.ErrNotExist) && info != nil && isMorePermissive(info.Mode().Perm(), perm.Perm()) {
		return nil, fmt.Errorf("file %s already exists with mode %o instead of the expected %o", name, info.Mode().Perm(), perm.Perm())
	}
	return os.OpenFile(name, flag, perm)
}
