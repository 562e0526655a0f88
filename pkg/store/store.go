// SPDX-License-Identifier: MPL-2.0

// Package store implements the local package cache.
//
// The cache is content-addressed by canonical key: every network dependency that was
// fetched once lives under <root>/<key.Dir()>/ with its files in src/ and a TOML sidecar
// (entry.toml) recording the key, fingerprint and last verification time. Entries are
// assembled in <root>/.staging/ and renamed into place, so readers never observe a
// partially written entry, and an entry is never replaced by different content.
package store

import (
	"context"
	"time"

	"github.com/spf13/afero"

	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/fingerprint"
)

const (
	srcDirName     = "src"
	sidecarName    = "entry.toml"
	stagingDirName = ".staging"
	locksDirName   = ".locks"
)

type (
	// Entry is a materialized cache entry.
	Entry struct {
		Key depspec.CanonicalKey
		// Path is the package directory (the entry's src/) on the store filesystem.
		Path        string
		Fingerprint fingerprint.Digest
		VerifiedAt  time.Time
	}

	// Store is the cache capability injected into the graph builder. Implementations are
	// safe for concurrent use.
	Store interface {
		// Lookup returns the entry for key if it is present and intact. It never touches
		// the network; a missing or unreadable sidecar is a miss.
		Lookup(key depspec.CanonicalKey) (Entry, bool)
		// Put publishes staged contents under key. Publishing the same fingerprint twice is
		// a no-op; a different fingerprint for an existing entry is a *FingerprintConflict.
		Put(key depspec.CanonicalKey, staging *Staging, fp fingerprint.Digest) (Entry, error)
		// Invalidate removes the entry for key, if any.
		Invalidate(key depspec.CanonicalKey) error
		// Stage allocates a private directory for a retriever to write into.
		Stage() (*Staging, error)
		// Claim serializes work on key across goroutines and processes until release is called.
		Claim(ctx context.Context, key depspec.CanonicalKey) (release func(), err error)
		// FS returns a read-only view of the store filesystem for reading entries.
		FS() afero.Fs
		// Entries lists every intact entry, sorted by key.
		Entries() ([]Entry, error)
		// Verify recomputes the fingerprint of key's entry and invalidates it on mismatch.
		Verify(key depspec.CanonicalKey) (Entry, error)
	}
)
