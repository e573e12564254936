// Package file has small filesystem helpers shared by the content pipeline:
// copying fetched content and evaluation results into place and deriving
// local file names from content URLs.
package file

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/scapworks/scapfetch/pkg/constant"
	"github.com/scapworks/scapfetch/pkg/secure"
)

// Copy copies the file from srcPath to dstPath, using the provided permissions.
//
// Note that on Windows the permissions support is limited in Go's file functions.
func Copy(srcPath, dstPath string, perm os.FileMode) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open src for copy: %w", err)
	}
	defer src.Close()

	if err := secure.MkdirAll(filepath.Dir(dstPath), os.ModeDir|constant.DefaultDirMode); err != nil {
		return fmt.Errorf("create dst dir for copy: %w", err)
	}

	dst, err := secure.OpenFile(dstPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("open dst for copy: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy src to dst: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("sync dst after copy: %w", err)
	}

	return nil
}

// CopyWithPerms copies the file from srcPath to dstPath, using the
// permissions of the original file.
func CopyWithPerms(srcPath, dstPath string) error {
	stat, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("get permissions for copy: %w", err)
	}

	return Copy(srcPath, dstPath, stat.Mode().Perm())
}

// CopyTree copies the regular files under srcDir into dstDir, preserving the
// relative layout. Used to place fetched content and evaluation results into
// the installed system after a successful run.
func CopyTree(srcDir, dstDir string) error {
	return filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		return CopyWithPerms(p, filepath.Join(dstDir, rel))
	})
}

// Exists returns whether the file exists and is a regular file.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("check file exists: %w", err)
	}

	return info.Mode().IsRegular(), nil
}

// NameFromURL derives a local file name from the path component of a
// content URL, falling back to defaultName when the URL has no usable base
// name.
func NameFromURL(rawURL, defaultName string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultName
	}

	b := path.Base(u.Path)
	switch b {
	case "", ".", "/":
		return defaultName
	}
	return b
}
