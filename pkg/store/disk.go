// SPDX-License-Identifier: MPL-2.0

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"github.com/circkit/circpkg/internal/flock"
	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/fingerprint"
)

type (
	// DiskStore is a Store on an afero filesystem rooted at a cache directory.
	DiskStore struct {
		fs       afero.Fs
		root     string
		excludes []string
		now      func() time.Time
		logger   *log.Logger
		// crossProcess enables flock-based claims; only meaningful on the OS filesystem.
		crossProcess bool

		mu    sync.Mutex
		slots map[depspec.CanonicalKey]chan struct{}
	}

	// Option configures a DiskStore.
	Option func(*DiskStore)

	// sidecar is the on-disk form of an entry's metadata.
	sidecar struct {
		Name        string    `toml:"name"`
		Source      string    `toml:"source"`
		Fingerprint string    `toml:"fingerprint"`
		VerifiedAt  time.Time `toml:"verified_at"`
	}
)

var _ Store = (*DiskStore)(nil)

// WithExcludes sets the doublestar patterns excluded from fingerprints.
func WithExcludes(patterns []string) Option {
	return func(s *DiskStore) { s.excludes = slices.Clone(patterns) }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *log.Logger) Option {
	return func(s *DiskStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for verification timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *DiskStore) { s.now = now }
}

// New returns a DiskStore rooted at root on fsys, creating the directory layout.
// Cross-process locking is enabled when fsys is the OS filesystem.
func New(fsys afero.Fs, root string, opts ...Option) (*DiskStore, error) {
	_, isOS := fsys.(*afero.OsFs)
	s := &DiskStore{
		fs:           fsys,
		root:         filepath.Clean(root),
		excludes:     fingerprint.DefaultExcludes,
		now:          time.Now,
		logger:       log.New(io.Discard),
		crossProcess: isOS,
		slots:        make(map[depspec.CanonicalKey]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, dir := range []string{s.root, s.stagingRoot(), filepath.Join(s.root, locksDirName)} {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
		}
	}
	return s, nil
}

// Root returns the cache root directory.
func (s *DiskStore) Root() string { return s.root }

// FS returns a read-only view of the store filesystem.
func (s *DiskStore) FS() afero.Fs { return afero.NewReadOnlyFs(s.fs) }

// Lookup implements Store.
func (s *DiskStore) Lookup(key depspec.CanonicalKey) (Entry, bool) {
	e, err := s.readEntry(key.Dir())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("cache entry unreadable, treating as miss", "key", key, "err", err)
		}
		return Entry{}, false
	}
	if e.Key != key {
		s.logger.Warn("cache entry key mismatch, treating as miss", "key", key, "found", e.Key)
		return Entry{}, false
	}
	return e, true
}

// Stage implements Store.
func (s *DiskStore) Stage() (*Staging, error) {
	dir := filepath.Join(s.stagingRoot(), uuid.NewString())
	if err := s.fs.MkdirAll(filepath.Join(dir, srcDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	return newStaging(s.fs, dir, s.excludes), nil
}

// Put implements Store. The staged tree is fingerprinted and must match fp.
func (s *DiskStore) Put(key depspec.CanonicalKey, staging *Staging, fp fingerprint.Digest) (Entry, error) {
	defer func() { _ = staging.Discard() }()

	if err := fp.Validate(); err != nil {
		return Entry{}, err
	}
	if existing, ok := s.Lookup(key); ok {
		return s.reconcile(existing, fp)
	}

	staged, err := fingerprint.Compute(s.fs, staging.Path(), s.excludes)
	if err != nil {
		return Entry{}, fmt.Errorf("fingerprint staged %s: %w", key, err)
	}
	if staged != fp {
		return Entry{}, fmt.Errorf("staged contents of %s hash to %s, retriever reported %s", key, staged.Short(), fp.Short())
	}

	now := s.now().UTC()
	if err := s.writeSidecar(staging.dir, key, fp, now); err != nil {
		return Entry{}, err
	}

	target := filepath.Join(s.root, key.Dir())
	if exists, _ := afero.DirExists(s.fs, target); exists {
		// Lookup missed, so whatever is there is stale or half-removed.
		if err := s.removeDir(target); err != nil {
			return Entry{}, fmt.Errorf("remove stale entry %s: %w", key, err)
		}
	}

	if err := s.fs.Rename(staging.dir, target); err != nil {
		// Another process may have published first.
		if existing, ok := s.Lookup(key); ok {
			return s.reconcile(existing, fp)
		}
		return Entry{}, fmt.Errorf("publish %s: %w", key, err)
	}

	s.logger.Debug("cache entry published", "key", key, "fingerprint", fp.Short())
	return Entry{Key: key, Path: filepath.Join(target, srcDirName), Fingerprint: fp, VerifiedAt: now}, nil
}

func (s *DiskStore) reconcile(existing Entry, fp fingerprint.Digest) (Entry, error) {
	if existing.Fingerprint == fp {
		return existing, nil
	}
	return Entry{}, &FingerprintConflict{Key: existing.Key, Existing: existing.Fingerprint, Fetched: fp}
}

// Invalidate implements Store.
func (s *DiskStore) Invalidate(key depspec.CanonicalKey) error {
	target := filepath.Join(s.root, key.Dir())
	exists, err := afero.DirExists(s.fs, target)
	if err != nil || !exists {
		return err
	}
	if err := s.removeDir(target); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	s.logger.Debug("cache entry invalidated", "key", key)
	return nil
}

// removeDir moves dir into staging before deleting it so that no reader sees a
// half-deleted entry under its key.
func (s *DiskStore) removeDir(dir string) error {
	trash := filepath.Join(s.stagingRoot(), "trash-"+uuid.NewString())
	if err := s.fs.Rename(dir, trash); err != nil {
		return err
	}
	return s.fs.RemoveAll(trash)
}

// Claim implements Store. Waiters block until the holder releases or ctx is done.
func (s *DiskStore) Claim(ctx context.Context, key depspec.CanonicalKey) (func(), error) {
	slot := s.slot(key)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("claim %s: %w", key, ctx.Err())
	}

	var lock *flock.Lock
	if s.crossProcess {
		l, err := flock.Acquire(ctx, filepath.Join(s.root, locksDirName, key.Dir()+".lock"))
		switch {
		case err == nil:
			lock = l
		case errors.Is(err, flock.ErrUnavailable):
			// In-process exclusion only.
		default:
			<-slot
			return nil, fmt.Errorf("claim %s: %w", key, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := lock.Release(); err != nil {
				s.logger.Debug("lock release failed", "key", key, "err", err)
			}
			<-slot
		})
	}, nil
}

func (s *DiskStore) slot(key depspec.CanonicalKey) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.slots[key]
	if !ok {
		c = make(chan struct{}, 1)
		s.slots[key] = c
	}
	return c
}

// Entries implements Store.
func (s *DiskStore) Entries() ([]Entry, error) {
	infos, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, fmt.Errorf("list cache %s: %w", s.root, err)
	}
	var out []Entry
	for _, info := range infos {
		if !info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		e, err := s.readEntry(info.Name())
		if err != nil {
			s.logger.Debug("skipping unreadable cache entry", "dir", info.Name(), "err", err)
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Key.String(), b.Key.String()) })
	return out, nil
}

// Verify implements Store. A mismatching entry is invalidated and ErrStale is returned.
func (s *DiskStore) Verify(key depspec.CanonicalKey) (Entry, error) {
	e, ok := s.Lookup(key)
	if !ok {
		return Entry{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	got, err := fingerprint.Compute(s.fs, e.Path, s.excludes)
	if err != nil || got != e.Fingerprint {
		if invErr := s.Invalidate(key); invErr != nil {
			return Entry{}, errors.Join(invErr, err)
		}
		if err != nil {
			return Entry{}, fmt.Errorf("%s: %w: %w", key, ErrStale, err)
		}
		return Entry{}, fmt.Errorf("%s: %w: recorded %s, found %s", key, ErrStale, e.Fingerprint.Short(), got.Short())
	}

	e.VerifiedAt = s.now().UTC()
	if err := s.writeSidecar(filepath.Join(s.root, key.Dir()), key, e.Fingerprint, e.VerifiedAt); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *DiskStore) stagingRoot() string { return filepath.Join(s.root, stagingDirName) }

func (s *DiskStore) readEntry(dirName string) (Entry, error) {
	dir := filepath.Join(s.root, dirName)
	data, err := afero.ReadFile(s.fs, filepath.Join(dir, sidecarName))
	if err != nil {
		return Entry{}, err
	}
	var sc sidecar
	if err := toml.Unmarshal(data, &sc); err != nil {
		return Entry{}, fmt.Errorf("decode %s: %w", sidecarName, err)
	}
	fp, err := fingerprint.Parse(sc.Fingerprint)
	if err != nil {
		return Entry{}, err
	}
	key, err := depspec.ParseKey(sc.Name + "@" + sc.Source)
	if err != nil {
		return Entry{}, err
	}
	if key.Dir() != dirName {
		return Entry{}, fmt.Errorf("entry %s records key %s", dirName, key)
	}
	src := filepath.Join(dir, srcDirName)
	if ok, _ := afero.DirExists(s.fs, src); !ok {
		return Entry{}, fmt.Errorf("entry %s has no %s directory", dirName, srcDirName)
	}
	return Entry{Key: key, Path: src, Fingerprint: fp, VerifiedAt: sc.VerifiedAt}, nil
}

// writeSidecar writes entry.toml into dir via a temporary file and rename.
func (s *DiskStore) writeSidecar(dir string, key depspec.CanonicalKey, fp fingerprint.Digest, verified time.Time) error {
	var buf bytes.Buffer
	sc := sidecar{Name: string(key.Name), Source: key.Source, Fingerprint: string(fp), VerifiedAt: verified}
	if err := toml.NewEncoder(&buf).Encode(sc); err != nil {
		return fmt.Errorf("encode %s: %w", sidecarName, err)
	}

	tmp := filepath.Join(dir, "."+sidecarName+"."+uuid.NewString())
	if err := afero.WriteFile(s.fs, tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", sidecarName, err)
	}
	if err := s.fs.Rename(tmp, filepath.Join(dir, sidecarName)); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", sidecarName, err)
	}
	return nil
}
