// SPDX-License-Identifier: MPL-2.0

// Package depspec turns declared manifest dependencies into normalized dependency
// specifiers and their canonical keys.
//
// Two declarations that point at the same source share one CanonicalKey no matter how
// they were written: local paths are made absolute and symlink-resolved, and network
// registry identifiers are reduced to a lowercase canonical form. Requirements never take
// part in the key, so the graph builder fetches each source once and the resolver decides
// versions afterwards.
package depspec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/circkit/circpkg/pkg/manifest"
	"github.com/circkit/circpkg/pkg/semver"
)

const (
	// SourceLocal marks a dependency read in place from a directory.
	SourceLocal SourceKind = "local"
	// SourceNetwork marks a dependency fetched through a retriever and cached.
	SourceNetwork SourceKind = "network"

	keyDirHashLen = 16
)

type (
	// SourceKind distinguishes local and network sources.
	SourceKind string

	// Source is where a dependency's contents come from. Exactly one of Path (local) or
	// Registry (network) is set, according to Kind.
	Source struct {
		Kind SourceKind
		// Path is the absolute, symlink-resolved package directory of a local source.
		Path string
		// Registry is the canonical registry identifier of a network source.
		Registry string
		// Revision optionally pins a network source.
		Revision string
	}

	// Spec is a normalized dependency specifier.
	Spec struct {
		Name        manifest.PackageName
		Requirement semver.Requirement
		Source      Source
		Refresh     bool
	}

	// CanonicalKey identifies a package source independently of requirements. It is
	// comparable and is used as a map key by the graph, the store and the lock file.
	CanonicalKey struct {
		Name manifest.PackageName
		// Source is "local:<abs-path>" or "network:<registry-id>[#<revision>]".
		Source string
	}
)

// Canonical renders the source as it appears in a CanonicalKey.
func (s Source) Canonical() string {
	switch s.Kind {
	case SourceLocal:
		return string(SourceLocal) + ":" + s.Path
	default:
		c := string(SourceNetwork) + ":" + s.Registry
		if s.Revision != "" {
			c += "#" + s.Revision
		}
		return c
	}
}

// Key returns the canonical key of the spec.
func (s Spec) Key() CanonicalKey {
	return CanonicalKey{Name: s.Name, Source: s.Source.Canonical()}
}

// IsLocal reports whether the spec names a local source.
func (s Spec) IsLocal() bool { return s.Source.Kind == SourceLocal }

// String renders the spec as "name requirement (source)".
func (s Spec) String() string {
	return fmt.Sprintf("%s %s (%s)", s.Name, s.Requirement, s.Source.Canonical())
}

// String returns "name@source".
func (k CanonicalKey) String() string {
	return string(k.Name) + "@" + k.Source
}

// IsLocal reports whether the key names a local source.
func (k CanonicalKey) IsLocal() bool {
	return strings.HasPrefix(k.Source, string(SourceLocal)+":")
}

// Registry returns the registry identifier and revision of a network key.
func (k CanonicalKey) Registry() (registry, revision string, ok bool) {
	rest, found := strings.CutPrefix(k.Source, string(SourceNetwork)+":")
	if !found {
		return "", "", false
	}
	registry, revision, _ = strings.Cut(rest, "#")
	return registry, revision, true
}

// Dir returns the cache subdirectory name for the key: the package name followed by the
// first 16 hex digits of the SHA-256 of String(). The name prefix keeps cache listings
// readable; the hash keeps distinct sources apart.
func (k CanonicalKey) Dir() string {
	sum := sha256.Sum256([]byte(k.String()))
	return string(k.Name) + "-" + hex.EncodeToString(sum[:])[:keyDirHashLen]
}

// ParseKey parses the "name@source" form produced by CanonicalKey.String.
func ParseKey(s string) (CanonicalKey, error) {
	name, source, ok := strings.Cut(s, "@")
	if !ok || source == "" {
		return CanonicalKey{}, fmt.Errorf("invalid key %q: expected name@source", s)
	}
	pn := manifest.PackageName(name)
	if err := pn.Validate(); err != nil {
		return CanonicalKey{}, fmt.Errorf("invalid key %q: %w", s, err)
	}
	if !strings.HasPrefix(source, string(SourceLocal)+":") && !strings.HasPrefix(source, string(SourceNetwork)+":") {
		return CanonicalKey{}, fmt.Errorf("invalid key %q: source must start with local: or network:", s)
	}
	return CanonicalKey{Name: pn, Source: source}, nil
}
