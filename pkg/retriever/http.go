// SPDX-License-Identifier: MPL-2.0

package retriever

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/fingerprint"
	"github.com/circkit/circpkg/pkg/manifest"
	"github.com/circkit/circpkg/pkg/store"
)

const (
	latestRevision = "latest"

	defaultMaxRetries  = 4
	maxArchiveFileSize = 64 << 20
	// DefaultMaxArchiveSize bounds the unpacked size of one package archive.
	DefaultMaxArchiveSize = 512 << 20
)

// HTTP downloads package tarballs from a registry server:
//
//	GET <BaseURL>/<registry path>/<revision or "latest">.tar.gz
//
// The registry path is the canonical registry id with the router alias removed. Server
// errors and transport failures are retried with exponential backoff; 4xx responses fail
// immediately.
type HTTP struct {
	BaseURL string
	// Alias is stripped from the front of registry ids ("alias:").
	Alias  string
	Client *http.Client
	// MaxRetries bounds retries after the first attempt. Zero means the default.
	MaxRetries uint64
	// InitialInterval is the first backoff delay. Zero means the backoff default.
	InitialInterval time.Duration
	// MaxArchiveSize bounds the total unpacked bytes. Zero means DefaultMaxArchiveSize.
	MaxArchiveSize int64
	Logger         *log.Logger
}

var _ Retriever = (*HTTP)(nil)

type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.url, e.code, http.StatusText(e.code))
}

// Fetch implements Retriever.
func (h *HTTP) Fetch(ctx context.Context, key depspec.CanonicalKey, dst *store.Staging) (fingerprint.Digest, error) {
	registry, revision, err := networkID(key)
	if err != nil {
		return "", err
	}
	url := h.archiveURL(registry, revision)

	attempt := 0
	op := func() error {
		attempt++
		if err := dst.Reset(); err != nil {
			return backoff.Permanent(err)
		}
		err := h.download(ctx, url, dst.FS())
		if err == nil {
			return nil
		}
		var serr *statusError
		if errors.As(err, &serr) && serr.code < 500 {
			return backoff.Permanent(err)
		}
		if errors.Is(err, errBadArchive) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		h.logger().Debug("download failed, retrying", "key", key, "attempt", attempt, "err", err)
		return err
	}

	if err := backoff.Retry(op, h.policy(ctx)); err != nil {
		return "", &Error{Key: key, Err: err}
	}
	if err := hoistSingleRoot(dst.FS()); err != nil {
		return "", &Error{Key: key, Err: err}
	}
	fp, err := dst.Fingerprint()
	if err != nil {
		return "", &Error{Key: key, Err: err}
	}
	return fp, nil
}

func (h *HTTP) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if h.InitialInterval > 0 {
		exp.InitialInterval = h.InitialInterval
	}
	retries := h.MaxRetries
	if retries == 0 {
		retries = defaultMaxRetries
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

func (h *HTTP) archiveURL(registry, revision string) string {
	if h.Alias != "" {
		registry = strings.TrimPrefix(registry, h.Alias+":")
	}
	if revision == "" {
		revision = latestRevision
	}
	return strings.TrimSuffix(h.BaseURL, "/") + "/" + strings.Trim(registry, "/") + "/" + revision + ".tar.gz"
}

func (h *HTTP) download(ctx context.Context, url string, dst afero.Fs) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, url: url}
	}

	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %w", errBadArchive, err)
	}
	defer zr.Close()
	limit := h.MaxArchiveSize
	if limit <= 0 {
		limit = DefaultMaxArchiveSize
	}
	return extractTar(zr, dst, limit)
}

var errBadArchive = errors.New("malformed package archive")

// extractTar writes regular files and directories from r into dst. Entries that escape
// the destination, links and special files are rejected, as are archives whose regular
// files add up to more than limit bytes.
func extractTar(r io.Reader, dst afero.Fs, limit int64) error {
	tr := tar.NewReader(r)
	var total int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// Truncated streams are usually transport failures; let the caller retry.
			return err
		}

		if path.IsAbs(hdr.Name) || slices.Contains(strings.Split(hdr.Name, "/"), "..") {
			return fmt.Errorf("%w: entry %q escapes the package root", errBadArchive, hdr.Name)
		}
		name := path.Clean("/" + hdr.Name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := dst.MkdirAll(name, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if hdr.Size > maxArchiveFileSize {
				return fmt.Errorf("%w: entry %q is larger than %d bytes", errBadArchive, hdr.Name, maxArchiveFileSize)
			}
			if total += hdr.Size; total > limit {
				return fmt.Errorf("%w: archive unpacks to more than %d bytes", errBadArchive, limit)
			}
			if err := dst.MkdirAll(path.Dir(name), 0o755); err != nil {
				return err
			}
			f, err := dst.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, io.LimitReader(tr, hdr.Size)); err != nil {
				return errors.Join(err, f.Close())
			}
			if err := f.Close(); err != nil {
				return err
			}
		case tar.TypeXGlobalHeader:
		default:
			return fmt.Errorf("%w: entry %q has unsupported type %q", errBadArchive, hdr.Name, hdr.Typeflag)
		}
	}
}

// hoistSingleRoot moves the contents of a lone top-level directory up one level when
// the archive was packed as "<name>/..." rather than from inside the package.
func hoistSingleRoot(fs afero.Fs) error {
	if ok, _ := afero.Exists(fs, "/"+manifest.FileName); ok {
		return nil
	}
	infos, err := afero.ReadDir(fs, "/")
	if err != nil {
		return err
	}
	if len(infos) != 1 || !infos[0].IsDir() {
		return fmt.Errorf("%w: no %s at the archive root", errBadArchive, manifest.FileName)
	}
	top := "/" + infos[0].Name()
	children, err := afero.ReadDir(fs, top)
	if err != nil {
		return err
	}
	for _, c := range children {
		if c.Name() == infos[0].Name() {
			return fmt.Errorf("%w: ambiguous nested directory %s", errBadArchive, top)
		}
		if err := fs.Rename(path.Join(top, c.Name()), "/"+c.Name()); err != nil {
			return err
		}
	}
	if err := fs.Remove(top); err != nil {
		return err
	}
	if ok, _ := afero.Exists(fs, "/"+manifest.FileName); !ok {
		return fmt.Errorf("%w: no %s at the archive root", errBadArchive, manifest.FileName)
	}
	return nil
}

func (h *HTTP) logger() *log.Logger {
	if h.Logger == nil {
		return log.New(io.Discard)
	}
	return h.Logger
}
