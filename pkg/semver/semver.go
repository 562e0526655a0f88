// SPDX-License-Identifier: MPL-2.0

// Package semver wraps github.com/Masterminds/semver/v3 with the strict version syntax and
// the requirement forms accepted in package manifests.
package semver

import (
	"errors"
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// ErrInvalidVersion and ErrInvalidRequirement are the sentinels wrapped by the parse errors.
var (
	ErrInvalidVersion     = errors.New("invalid semantic version")
	ErrInvalidRequirement = errors.New("invalid version requirement")
)

type (
	// Version is a concrete semantic version.
	Version struct {
		v *mm.Version
	}

	// Requirement is a version requirement: an exact version, a range, or "any".
	//
	// Examples:
	//   - "1.2.3" (exact; Masterminds treats a bare version as "=")
	//   - "^1.2.0", "~1.4", ">=1.0.0, <2.0.0"
	//   - "", "*", "any"
	Requirement struct {
		raw string
		c   *mm.Constraints
	}

	// InvalidVersionError is returned when a string is not a strict semantic version.
	InvalidVersionError struct {
		Value string
		Err   error
	}

	// InvalidRequirementError is returned when a requirement string cannot be parsed.
	InvalidRequirementError struct {
		Value string
		Err   error
	}
)

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid semantic version %q: %v", e.Value, e.Err)
}

// Unwrap returns ErrInvalidVersion for errors.Is compatibility.
func (e *InvalidVersionError) Unwrap() error { return ErrInvalidVersion }

func (e *InvalidRequirementError) Error() string {
	return fmt.Sprintf("invalid version requirement %q: %v", e.Value, e.Err)
}

// Unwrap returns ErrInvalidRequirement for errors.Is compatibility.
func (e *InvalidRequirementError) Unwrap() error { return ErrInvalidRequirement }

// ParseVersion parses a strict MAJOR.MINOR.PATCH[-pre][+build] version without a "v" prefix.
func ParseVersion(raw string) (Version, error) {
	v, err := mm.StrictNewVersion(raw)
	if err != nil {
		return Version{}, &InvalidVersionError{Value: raw, Err: err}
	}
	return Version{v: v}, nil
}

// MustParseVersion is ParseVersion for tests and constants.
func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool { return v.v == nil }

func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.Original()
}

// Compare returns -1, 0 or 1. A zero Version sorts before every parsed version.
func (v Version) Compare(other Version) int {
	switch {
	case v.v == nil && other.v == nil:
		return 0
	case v.v == nil:
		return -1
	case other.v == nil:
		return 1
	}
	return v.v.Compare(other.v)
}

// Any is the requirement satisfied by every version.
func Any() Requirement { return Requirement{} }

// ParseRequirement parses a requirement. Empty, "*" and "any" yield Any.
func ParseRequirement(raw string) (Requirement, error) {
	trimmed := strings.TrimSpace(raw)
	switch strings.ToLower(trimmed) {
	case "", "*", "any":
		return Requirement{raw: trimmed}, nil
	}
	c, err := mm.NewConstraint(trimmed)
	if err != nil {
		return Requirement{}, &InvalidRequirementError{Value: raw, Err: err}
	}
	return Requirement{raw: trimmed, c: c}, nil
}

// MustParseRequirement is ParseRequirement for tests and constants.
func MustParseRequirement(raw string) Requirement {
	r, err := ParseRequirement(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// IsAny reports whether the requirement accepts every version.
func (r Requirement) IsAny() bool { return r.c == nil }

// String returns the requirement as written, or "*" for Any.
func (r Requirement) String() string {
	if r.IsAny() {
		return "*"
	}
	return r.raw
}

// Check reports whether v satisfies r.
func (r Requirement) Check(v Version) bool {
	if v.v == nil {
		return false
	}
	if r.c == nil {
		return true
	}
	return r.c.Check(v.v)
}

// SatisfiesAll reports whether v satisfies every requirement in reqs.
func SatisfiesAll(v Version, reqs []Requirement) bool {
	for _, r := range reqs {
		if !r.Check(v) {
			return false
		}
	}
	return true
}

// MaxSatisfying returns the greatest candidate satisfying every requirement, i.e. the
// greatest member of the intersection. Equal candidates keep the first one encountered.
func MaxSatisfying(reqs []Requirement, candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, candidate := range candidates {
		if !SatisfiesAll(candidate, reqs) {
			continue
		}
		if !found || candidate.Compare(best) > 0 {
			best = candidate
			found = true
		}
	}
	return best, found
}
