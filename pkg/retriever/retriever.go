// SPDX-License-Identifier: MPL-2.0

// Package retriever defines how network dependencies are fetched into the cache and
// provides Git and HTTP tarball implementations plus a registry-alias router.
//
// A Retriever writes package contents into a store.Staging and returns the staged
// tree's fingerprint. It never publishes: the graph builder hands the staging area to
// the store, which owns the cache directories.
package retriever

import (
	"context"
	"errors"
	"fmt"

	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/fingerprint"
	"github.com/circkit/circpkg/pkg/store"
)

// ErrRetrieval is the sentinel wrapped by every retrieval failure.
var ErrRetrieval = errors.New("retrieval failed")

type (
	// Retriever fetches the contents of a network dependency.
	Retriever interface {
		// Fetch writes the package identified by key into dst and returns its fingerprint.
		// Implementations honour ctx cancellation and deadlines.
		Fetch(ctx context.Context, key depspec.CanonicalKey, dst *store.Staging) (fingerprint.Digest, error)
	}

	// Func adapts a function to the Retriever interface.
	Func func(ctx context.Context, key depspec.CanonicalKey, dst *store.Staging) (fingerprint.Digest, error)

	// Error is a failed fetch of Key.
	Error struct {
		Key depspec.CanonicalKey
		Err error
	}
)

// Fetch implements Retriever.
func (f Func) Fetch(ctx context.Context, key depspec.CanonicalKey, dst *store.Staging) (fingerprint.Digest, error) {
	return f(ctx, key, dst)
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieve %s: %v", e.Key, e.Err)
}

// Unwrap returns ErrRetrieval and the cause, so both errors.Is(err, ErrRetrieval) and
// errors.Is(err, context.DeadlineExceeded) work.
func (e *Error) Unwrap() []error {
	return []error{ErrRetrieval, e.Err}
}

// Wrap returns err as an *Error for key, leaving errors that already are one untouched.
func Wrap(key depspec.CanonicalKey, err error) error {
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return err
	}
	return &Error{Key: key, Err: err}
}

func networkID(key depspec.CanonicalKey) (registry, revision string, err error) {
	registry, revision, ok := key.Registry()
	if !ok {
		return "", "", &Error{Key: key, Err: errors.New("not a network source")}
	}
	return registry, revision, nil
}
