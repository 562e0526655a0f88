// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/graph"
	"github.com/circkit/circpkg/pkg/manifest"
	"github.com/circkit/circpkg/pkg/retriever"
	"github.com/circkit/circpkg/pkg/semver"
	"github.com/circkit/circpkg/pkg/store"
)

const (
	KindNone                ErrorKind = ""
	KindManifest            ErrorKind = "manifest"
	KindSpec                ErrorKind = "spec"
	KindRetrieval           ErrorKind = "retrieval"
	KindFingerprintConflict ErrorKind = "fingerprint-conflict"
	KindCyclicDependency    ErrorKind = "cyclic-dependency"
	KindVersionConflict     ErrorKind = "version-conflict"
	KindCanceled            ErrorKind = "canceled"
	KindInternal            ErrorKind = "internal"
)

var (
	// ErrVersionConflict is the sentinel wrapped by VersionConflict.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidTransition is returned when a session is driven out of order.
	ErrInvalidTransition = errors.New("invalid session state transition")
)

type (
	// ErrorKind classifies resolution failures for callers that branch on them.
	ErrorKind string

	// Requirement is one incoming requirement on a package name: the dependency edge
	// declared by From, at version FromVersion.
	Requirement struct {
		From        depspec.CanonicalKey
		FromVersion string
		Requirement semver.Requirement
	}

	// VersionConflict reports that no candidate version of Name satisfies every
	// requirement placed on it.
	VersionConflict struct {
		Name         manifest.PackageName
		Requirements []Requirement
		Candidates   []semver.Version
	}

	// InvalidTransitionError describes a rejected state change.
	InvalidTransitionError struct {
		From, To State
	}
)

func (e *VersionConflict) Error() string {
	reqs := make([]string, len(e.Requirements))
	for i, r := range e.Requirements {
		reqs[i] = r.String()
	}
	cands := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		cands[i] = c.String()
	}
	return fmt.Sprintf("version conflict for %s: %s (candidates: %s)",
		e.Name, strings.Join(reqs, ", "), strings.Join(cands, ", "))
}

// String renders "name version (source) requires requirement".
func (r Requirement) String() string {
	if r.FromVersion == "" {
		return fmt.Sprintf("%s (%s) requires %s", r.From.Name, r.From.Source, r.Requirement)
	}
	return fmt.Sprintf("%s %s (%s) requires %s", r.From.Name, r.FromVersion, r.From.Source, r.Requirement)
}

// Unwrap returns ErrVersionConflict for errors.Is compatibility.
func (e *VersionConflict) Unwrap() error { return ErrVersionConflict }

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session state transition %s -> %s", e.From, e.To)
}

// Unwrap returns ErrInvalidTransition for errors.Is compatibility.
func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// Kind classifies err. Typed resolution errors take precedence over the context errors
// they may wrap, so a timed-out fetch is a retrieval failure.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrVersionConflict):
		return KindVersionConflict
	case errors.Is(err, graph.ErrCyclicDependency):
		return KindCyclicDependency
	case errors.Is(err, store.ErrFingerprintConflict):
		return KindFingerprintConflict
	case errors.Is(err, manifest.ErrManifest):
		return KindManifest
	case errors.Is(err, depspec.ErrSpec):
		return KindSpec
	case errors.Is(err, retriever.ErrRetrieval):
		return KindRetrieval
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
