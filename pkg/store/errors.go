// SPDX-License-Identifier: MPL-2.0

package store

import (
	"errors"
	"fmt"

	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/fingerprint"
)

var (
	// ErrFingerprintConflict is the sentinel wrapped by FingerprintConflict.
	ErrFingerprintConflict = errors.New("fingerprint conflict")

	// ErrNotFound is returned by Verify for keys without an entry.
	ErrNotFound = errors.New("cache entry not found")

	// ErrStale is returned by Verify when an entry no longer matches its fingerprint.
	ErrStale = errors.New("cache entry is stale")
)

// FingerprintConflict reports that a key already maps to content with a different
// fingerprint. The existing entry is left untouched.
type FingerprintConflict struct {
	Key      depspec.CanonicalKey
	Existing fingerprint.Digest
	Fetched  fingerprint.Digest
}

func (e *FingerprintConflict) Error() string {
	return fmt.Sprintf("fingerprint conflict for %s: cached %s, fetched %s", e.Key, e.Existing.Short(), e.Fetched.Short())
}

// Unwrap returns ErrFingerprintConflict for errors.Is compatibility.
func (e *FingerprintConflict) Unwrap() error { return ErrFingerprintConflict }
