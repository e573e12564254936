// Package download materializes a content source to a local file, fetching
// over http(s) or copying from the local filesystem. Content is always
// written to disk before extraction so that the extractor has a seekable
// input to work with.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scapworks/scapfetch/pkg/constant"
	"github.com/scapworks/scapfetch/pkg/file"
	"github.com/scapworks/scapfetch/pkg/scap"
	"github.com/scapworks/scapfetch/pkg/scaphttp"
	"github.com/scapworks/scapfetch/pkg/secure"
)

// Options configure a content fetch.
type Options struct {
	// Timeout bounds the whole fetch; zero means constant.DefaultFetchTimeout.
	Timeout time.Duration
	// CACertPath is an optional PEM bundle used to validate the server
	// certificate of an https source.
	CACertPath string
	// MaxRedirects overrides constant.MaxRedirects when non-zero.
	MaxRedirects int
}

// Fetch materializes source into destPath and returns destPath. Local
// sources are copied; http(s) sources are downloaded with a bounded timeout
// and redirect count. A timeout surfaces as a scap.FetchTimeoutError.
func Fetch(ctx context.Context, source scap.ContentSource, destPath string, opts Options) (string, error) {
	if source.IsRemote() {
		return destPath, fetchHTTP(ctx, source.URL, destPath, opts)
	}

	ok, err := file.Exists(source.URL)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("content file %q does not exist", source.URL)
	}
	if err := file.CopyWithPerms(source.URL, destPath); err != nil {
		return "", fmt.Errorf("copy local content: %w", err)
	}
	return destPath, nil
}

func fetchHTTP(ctx context.Context, rawURL, destPath string, opts Options) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = constant.DefaultFetchTimeout
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = constant.MaxRedirects
	}

	clientOpts := []scaphttp.ClientOpt{
		scaphttp.WithTimeout(timeout),
		scaphttp.WithMaxRedirects(maxRedirects),
	}
	if opts.CACertPath != "" {
		tlsConf, err := scaphttp.TLSConfigFromPEM(opts.CACertPath)
		if err != nil {
			return err
		}
		clientOpts = append(clientOpts, scaphttp.WithTLSClientConfig(tlsConf))
	}
	client := scaphttp.NewClient(clientOpts...)

	if err := secure.MkdirAll(filepath.Dir(destPath), constant.DefaultDirMode); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), filepath.Base(destPath)+"*")
	if err != nil {
		return err
	}
	defer func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	log.Debug().Str("url", rawURL).Msg("fetching content")
	resp, err := client.Do(req)
	if err != nil {
		return wrapTimeout(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %q: unexpected status %s", rawURL, resp.Status)
	}

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return wrapTimeout(rawURL, err)
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpFile.Name(), destPath); err != nil {
		return err
	}
	return os.Chmod(destPath, constant.DefaultFileMode)
}

func wrapTimeout(rawURL string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) ||
		strings.Contains(err.Error(), "Client.Timeout") {
		return &scap.FetchTimeoutError{URL: rawURL, Err: err}
	}
	return fmt.Errorf("fetch %q: %w", rawURL, err)
}
