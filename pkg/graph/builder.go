// SPDX-License-Identifier: MPL-2.0

package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/circkit/circpkg/internal/metrics"
	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/diag"
	"github.com/circkit/circpkg/pkg/fingerprint"
	"github.com/circkit/circpkg/pkg/manifest"
	"github.com/circkit/circpkg/pkg/retriever"
	"github.com/circkit/circpkg/pkg/store"
)

const (
	// DefaultWorkers bounds concurrent expansions per level.
	DefaultWorkers = 4
	// DefaultFetchTimeout bounds a single retriever call.
	DefaultFetchTimeout = 60 * time.Second
)

type (
	// Pins supplies expected fingerprints for network keys, typically from a lock file.
	Pins interface {
		Pinned(key depspec.CanonicalKey) (fingerprint.Digest, bool)
	}

	// Builder expands manifests into graphs. A Builder may be shared by concurrent
	// Build calls; in-process fetches of the same key are collapsed.
	Builder struct {
		Store     store.Store
		Retriever retriever.Retriever
		// FS reads local packages. Nil means the OS filesystem.
		FS afero.Fs
		// EvalSymlinks resolves local paths. Nil means filepath.EvalSymlinks.
		EvalSymlinks func(string) (string, error)
		Workers      int
		FetchTimeout time.Duration
		// Refresh re-fetches every network dependency once per Build.
		Refresh bool
		// Pins, when set, must agree with the fingerprint of every pinned key.
		Pins    Pins
		Logger  *log.Logger
		Metrics *metrics.Metrics

		flight singleflight.Group
	}

	pending struct {
		from *Node
		spec depspec.Spec
	}

	loaded struct {
		node  *Node
		diags []diag.Diagnostic
	}
)

// Build expands root and all transitive dependencies. root.FilePath locates the root
// package directory.
func (b *Builder) Build(ctx context.Context, root *manifest.Descriptor) (*Graph, error) {
	if root.FilePath == "" {
		return nil, errors.New("root manifest has no file path")
	}
	rootDir, err := b.resolveDir(filepath.Dir(root.FilePath))
	if err != nil {
		return nil, fmt.Errorf("resolve root directory: %w", err)
	}
	rootNode, err := b.newNode(depspec.CanonicalKey{Name: root.Name, Source: "local:" + rootDir}, root, rootDir, "", b.fs())
	if err != nil {
		return nil, err
	}

	g := &Graph{
		Root:        rootNode.Key,
		Nodes:       map[depspec.CanonicalKey]*Node{rootNode.Key: rootNode},
		Diagnostics: slices.Clone(root.Diagnostics),
	}

	level := pendingFor(rootNode)
	for len(level) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// One load per key not yet in the arena, in sorted key order.
		var todo []pending
		seen := make(map[depspec.CanonicalKey]bool)
		for _, p := range level {
			k := p.spec.Key()
			if _, ok := g.Nodes[k]; ok || seen[k] {
				continue
			}
			seen[k] = true
			todo = append(todo, p)
		}
		slices.SortFunc(todo, func(a, b pending) int { return compareKeys(a.spec.Key(), b.spec.Key()) })

		results := make([]loaded, len(todo))
		errs := make([]error, len(todo))
		var eg errgroup.Group
		eg.SetLimit(b.workers())
		for i, p := range todo {
			eg.Go(func() error {
				results[i], errs[i] = b.load(ctx, p.spec)
				return nil
			})
		}
		_ = eg.Wait()

		for i, err := range errs {
			if err != nil {
				return nil, edgeError(todo[i], err)
			}
		}

		var next []pending
		for _, r := range results {
			g.Nodes[r.node.Key] = r.node
			g.Diagnostics = append(g.Diagnostics, r.diags...)
			next = append(next, pendingFor(r.node)...)
		}
		for _, p := range level {
			g.Edges = append(g.Edges, Edge{From: p.from.Key, To: p.spec.Key(), Spec: p.spec})
		}
		level = next
	}

	g.sortEdges()
	diag.Sort(g.Diagnostics)
	if err := g.detectCycle(); err != nil {
		return nil, err
	}
	return g, nil
}

func pendingFor(n *Node) []pending {
	out := make([]pending, len(n.Deps))
	for i, s := range n.Deps {
		out[i] = pending{from: n, spec: s}
	}
	return out
}

func edgeError(p pending, err error) error {
	// Cancellation is reported as is; everything else names the edge.
	if errors.Is(err, context.Canceled) && !errors.Is(err, retriever.ErrRetrieval) {
		return err
	}
	return &EdgeError{
		From:        p.from.Key.Name,
		Dependency:  p.spec.Name,
		Requirement: p.spec.Requirement.String(),
		Err:         err,
	}
}

// load materializes the package behind spec and parses its manifest.
func (b *Builder) load(ctx context.Context, spec depspec.Spec) (loaded, error) {
	if spec.IsLocal() {
		d, err := manifest.ParseFile(b.fs(), filepath.Join(spec.Source.Path, manifest.FileName))
		if err != nil {
			return loaded{}, err
		}
		n, err := b.newNode(spec.Key(), d, spec.Source.Path, "", b.fs())
		if err != nil {
			return loaded{}, err
		}
		return loaded{node: n, diags: d.Diagnostics}, checkName(spec, d)
	}

	refresh := b.Refresh || spec.Refresh
	flightKey := spec.Key().String()
	if refresh {
		flightKey += "\x00refresh"
	}
	v, err, _ := b.flight.Do(flightKey, func() (any, error) {
		return b.loadNetwork(ctx, spec, refresh)
	})
	if err != nil {
		return loaded{}, err
	}
	l := v.(loaded)
	return l, checkName(spec, l.node.Descriptor)
}

func (b *Builder) loadNetwork(ctx context.Context, spec depspec.Spec, refresh bool) (loaded, error) {
	key := spec.Key()
	var diags []diag.Diagnostic

	entry, hit := store.Entry{}, false
	if !refresh {
		entry, hit = b.lookup(key)
	}
	if hit {
		b.Metrics.CacheHit()
		b.logger().Debug("cache hit", "key", key, "fingerprint", entry.Fingerprint.Short())
	} else {
		b.Metrics.CacheMiss()
		var stale bool
		var err error
		entry, stale, err = b.fetch(ctx, key, refresh)
		if err != nil {
			return loaded{}, err
		}
		if stale {
			diags = append(diags, diag.Infof(diag.CodeStaleCache, string(key.Name), "cache entry for %s was unreadable and has been fetched again", key))
		}
	}

	if err := b.checkPin(key, entry.Fingerprint); err != nil {
		return loaded{}, err
	}

	fs := b.Store.FS()
	d, err := manifest.ParseFile(fs, filepath.Join(entry.Path, manifest.FileName))
	if err != nil {
		return loaded{}, err
	}
	n, err := b.newNode(key, d, entry.Path, entry.Fingerprint, fs)
	if err != nil {
		return loaded{}, err
	}
	return loaded{node: n, diags: append(diags, d.Diagnostics...)}, nil
}

// lookup reports a usable cache entry: present, intact and holding a manifest.
func (b *Builder) lookup(key depspec.CanonicalKey) (store.Entry, bool) {
	e, ok := b.Store.Lookup(key)
	if !ok {
		return store.Entry{}, false
	}
	if exists, _ := afero.Exists(b.Store.FS(), filepath.Join(e.Path, manifest.FileName)); !exists {
		return store.Entry{}, false
	}
	return e, true
}

// fetch claims key, re-checks the cache (another worker or process may have published
// it while we waited), and otherwise retrieves and publishes it. stale reports that an
// unusable entry was replaced.
func (b *Builder) fetch(ctx context.Context, key depspec.CanonicalKey, refresh bool) (entry store.Entry, stale bool, err error) {
	release, err := b.Store.Claim(ctx, key)
	if err != nil {
		return store.Entry{}, false, err
	}
	defer release()

	if !refresh {
		if e, ok := b.lookup(key); ok {
			return e, false, nil
		}
	}
	// Whatever is still under the key is unusable or being refreshed.
	if _, present := b.Store.Lookup(key); present {
		stale = !refresh
		if err := b.Store.Invalidate(key); err != nil {
			return store.Entry{}, false, err
		}
	}

	staging, err := b.Store.Stage()
	if err != nil {
		return store.Entry{}, false, err
	}
	defer func() { _ = staging.Discard() }()

	fctx, cancel := context.WithTimeout(ctx, b.fetchTimeout())
	defer cancel()

	b.Metrics.Fetch()
	b.logger().Info("fetching", "key", key)
	fp, err := b.Retriever.Fetch(fctx, key, staging)
	if err != nil {
		b.Metrics.FetchError()
		return store.Entry{}, false, retriever.Wrap(key, err)
	}

	if err := b.checkPin(key, fp); err != nil {
		return store.Entry{}, false, err
	}
	entry, err = b.Store.Put(key, staging, fp)
	if err != nil {
		if errors.Is(err, store.ErrFingerprintConflict) {
			b.Metrics.Conflict()
		}
		return store.Entry{}, false, err
	}
	return entry, stale, nil
}

func (b *Builder) checkPin(key depspec.CanonicalKey, fp fingerprint.Digest) error {
	if b.Pins == nil {
		return nil
	}
	pinned, ok := b.Pins.Pinned(key)
	if !ok || pinned == fp {
		return nil
	}
	b.Metrics.Conflict()
	return &store.FingerprintConflict{Key: key, Existing: pinned, Fetched: fp}
}

func (b *Builder) newNode(key depspec.CanonicalKey, d *manifest.Descriptor, dir string, fp fingerprint.Digest, fs afero.Fs) (*Node, error) {
	n := depspec.Normalizer{BaseDir: dir, FS: fs, EvalSymlinks: b.EvalSymlinks}
	deps, err := n.NormalizeAll(d)
	if err != nil {
		return nil, err
	}
	return &Node{Key: key, Descriptor: d, Deps: deps, Path: dir, Fingerprint: fp}, nil
}

// checkName rejects a package whose manifest name differs from the declared dependency name.
func checkName(spec depspec.Spec, d *manifest.Descriptor) error {
	if d.Name == spec.Name {
		return nil
	}
	return &depspec.Error{
		Dependency:  spec.Name,
		Requirement: spec.Requirement.String(),
		Reason:      fmt.Sprintf("source %s provides package %q", spec.Source.Canonical(), d.Name),
	}
}

func (b *Builder) resolveDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if b.EvalSymlinks != nil {
		return b.EvalSymlinks(abs)
	}
	return filepath.EvalSymlinks(abs)
}

func (b *Builder) fs() afero.Fs {
	if b.FS == nil {
		return afero.NewOsFs()
	}
	return b.FS
}

func (b *Builder) workers() int {
	if b.Workers <= 0 {
		return DefaultWorkers
	}
	return b.Workers
}

func (b *Builder) fetchTimeout() time.Duration {
	if b.FetchTimeout <= 0 {
		return DefaultFetchTimeout
	}
	return b.FetchTimeout
}

func (b *Builder) logger() *log.Logger {
	if b.Logger == nil {
		return log.New(io.Discard)
	}
	return b.Logger
}
