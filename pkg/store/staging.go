// SPDX-License-Identifier: MPL-2.0

package store

import (
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/circkit/circpkg/pkg/fingerprint"
)

// Staging is a private scratch directory owned by one fetch. Retrievers write package
// contents through FS(); Put moves the whole directory into the cache.
type Staging struct {
	fs       afero.Fs
	dir      string
	view     afero.Fs
	excludes []string
}

func newStaging(fs afero.Fs, dir string, excludes []string) *Staging {
	return &Staging{
		fs:       fs,
		dir:      dir,
		view:     afero.NewBasePathFs(fs, filepath.Join(dir, srcDirName)),
		excludes: excludes,
	}
}

// FS returns a filesystem rooted at the staged package directory.
func (s *Staging) FS() afero.Fs { return s.view }

// Path returns the staged package directory on the store filesystem.
func (s *Staging) Path() string { return filepath.Join(s.dir, srcDirName) }

// Discard removes the staging directory. It is safe to call after a successful Put.
func (s *Staging) Discard() error {
	return s.fs.RemoveAll(s.dir)
}

// Fingerprint computes the digest of the staged tree with the store's exclude patterns.
// Retrievers return it from Fetch so that Put sees a matching digest.
func (s *Staging) Fingerprint() (fingerprint.Digest, error) {
	return fingerprint.Compute(s.fs, s.Path(), s.excludes)
}

// Reset empties the staged package directory, e.g. before retrying a download.
func (s *Staging) Reset() error {
	if err := s.fs.RemoveAll(s.Path()); err != nil {
		return err
	}
	return s.fs.MkdirAll(s.Path(), 0o755)
}
