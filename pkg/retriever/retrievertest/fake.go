// SPDX-License-Identifier: MPL-2.0

// Package retrievertest provides an in-memory Retriever for tests.
package retrievertest

import (
	"context"
	"fmt"
	"maps"
	"path"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/fingerprint"
	"github.com/circkit/circpkg/pkg/retriever"
	"github.com/circkit/circpkg/pkg/store"
)

// Fake serves packages registered with Add and counts fetches per key.
type Fake struct {
	// Delay is applied to every fetch; a context deadline shorter than Delay fails the fetch.
	Delay time.Duration

	mu       sync.Mutex
	packages map[string]map[string]string
	failures map[string]error
	calls    map[depspec.CanonicalKey]int
}

var _ retriever.Retriever = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		packages: make(map[string]map[string]string),
		failures: make(map[string]error),
		calls:    make(map[depspec.CanonicalKey]int),
	}
}

// Add registers the files of the package at registry (and revision, which may be empty).
// Files map slash-separated relative paths to contents.
func (f *Fake) Add(registry, revision string, files map[string]string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packages[id(registry, revision)] = maps.Clone(files)
	return f
}

// Fail makes every fetch of registry/revision return err.
func (f *Fake) Fail(registry, revision string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id(registry, revision)] = err
	return f
}

// Fetch implements retriever.Retriever.
func (f *Fake) Fetch(ctx context.Context, key depspec.CanonicalKey, dst *store.Staging) (fingerprint.Digest, error) {
	f.mu.Lock()
	f.calls[key]++
	f.mu.Unlock()

	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", &retriever.Error{Key: key, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	registry, revision, ok := key.Registry()
	if !ok {
		return "", &retriever.Error{Key: key, Err: fmt.Errorf("not a network key")}
	}

	f.mu.Lock()
	files, found := f.packages[id(registry, revision)]
	failure := f.failures[id(registry, revision)]
	f.mu.Unlock()

	if failure != nil {
		return "", &retriever.Error{Key: key, Err: failure}
	}
	if !found {
		return "", &retriever.Error{Key: key, Err: fmt.Errorf("package %s not found", id(registry, revision))}
	}

	for rel, content := range files {
		if err := dst.FS().MkdirAll(path.Dir("/"+rel), 0o755); err != nil {
			return "", &retriever.Error{Key: key, Err: err}
		}
		if err := afero.WriteFile(dst.FS(), "/"+rel, []byte(content), 0o644); err != nil {
			return "", &retriever.Error{Key: key, Err: err}
		}
	}
	fp, err := dst.Fingerprint()
	if err != nil {
		return "", &retriever.Error{Key: key, Err: err}
	}
	return fp, nil
}

// Calls returns how many times key was fetched.
func (f *Fake) Calls(key depspec.CanonicalKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// Total returns the number of fetches across all keys.
func (f *Fake) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func id(registry, revision string) string {
	if revision == "" {
		return registry
	}
	return registry + "#" + revision
}
