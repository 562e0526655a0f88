// SPDX-License-Identifier: MPL-2.0

package graph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/diag"
	"github.com/circkit/circpkg/pkg/fingerprint"
	"github.com/circkit/circpkg/pkg/manifest"
	"github.com/circkit/circpkg/pkg/retriever"
	"github.com/circkit/circpkg/pkg/retriever/retrievertest"
	"github.com/circkit/circpkg/pkg/store"
)

type fixture struct {
	dir   string
	store *store.DiskStore
	fake  *retrievertest.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(afero.NewOsFs(), filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{dir: dir, store: s, fake: retrievertest.New()}
}

func (f *fixture) writePkg(t *testing.T, rel, manifestText string) {
	t.Helper()
	p := filepath.Join(f.dir, rel, manifest.FileName)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(manifestText), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) root(t *testing.T, rel string) *manifest.Descriptor {
	t.Helper()
	d, err := manifest.ParseFile(afero.NewOsFs(), filepath.Join(f.dir, rel, manifest.FileName))
	if err != nil {
		t.Fatalf("parse root: %v", err)
	}
	return d
}

func (f *fixture) builder() *Builder {
	return &Builder{Store: f.store, Retriever: f.fake, Workers: 4, FetchTimeout: 5 * time.Second}
}

func networkKey(name, registry string) depspec.CanonicalKey {
	return depspec.CanonicalKey{Name: manifest.PackageName(name), Source: "network:" + registry}
}

// diamond: app -> b, c (local); b, c -> d (network).
func diamond(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.writePkg(t, "app", `name = "app"
version = "0.1.0"
[dependencies.b]
path = "../b"
[dependencies.c]
path = "../c"
`)
	f.writePkg(t, "b", `name = "b"
version = "1.0.0"
[dependencies.d]
version = "^1.0"
network = "example.org/d"
`)
	f.writePkg(t, "c", `name = "c"
version = "1.0.0"
[dependencies.d]
version = ">=1.1.0"
network = "https://Example.org/d.git"
`)
	f.fake.Add("example.org/d", "", map[string]string{
		"circuit.toml": "name = \"d\"\nversion = \"1.2.0\"\n",
		"src/d.circ":   "fn d() {}",
	})
	return f
}

func TestBuild_DiamondSharesNode(t *testing.T) {
	t.Parallel()

	f := diamond(t)
	g, err := f.builder().Build(t.Context(), f.root(t, "app"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	dKey := networkKey("d", "example.org/d")
	if len(g.Nodes) != 4 {
		t.Errorf("len(Nodes) = %d, want 4: %v", len(g.Nodes), g.Keys())
	}
	if _, ok := g.Nodes[dKey]; !ok {
		t.Fatalf("missing node %s", dKey)
	}
	if n := f.fake.Calls(dKey); n != 1 {
		t.Errorf("fetches of d = %d, want 1", n)
	}
	if got := len(g.Incoming("d")); got != 2 {
		t.Errorf("incoming edges to d = %d, want 2", got)
	}
	if g.Nodes[dKey].Fingerprint.IsZero() {
		t.Error("network node has no fingerprint")
	}
	if g.Nodes[g.Root].Descriptor.Name != "app" {
		t.Errorf("root = %s", g.Root)
	}
}

func TestBuild_SecondBuildHitsCache(t *testing.T) {
	t.Parallel()

	f := diamond(t)
	for range 2 {
		if _, err := f.builder().Build(t.Context(), f.root(t, "app")); err != nil {
			t.Fatalf("Build() error = %v", err)
		}
	}
	if n := f.fake.Total(); n != 1 {
		t.Errorf("total fetches = %d, want 1", n)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()

	f := diamond(t)
	first, err := f.builder().Build(t.Context(), f.root(t, "app"))
	if err != nil {
		t.Fatal(err)
	}
	b := f.builder()
	b.Workers = 1
	second, err := b.Build(t.Context(), f.root(t, "app"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first.Keys(), second.Keys()); diff != "" {
		t.Errorf("keys differ (-first +second):\n%s", diff)
	}
	edges := func(g *Graph) []string {
		var out []string
		for _, e := range g.Edges {
			out = append(out, e.From.String()+" -> "+e.To.String())
		}
		return out
	}
	if diff := cmp.Diff(edges(first), edges(second)); diff != "" {
		t.Errorf("edges differ (-first +second):\n%s", diff)
	}
}

func TestBuild_Cycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.writePkg(t, "a", "name = \"a\"\nversion = \"1.0.0\"\n[dependencies.b]\npath = \"../b\"\n")
	f.writePkg(t, "b", "name = \"b\"\nversion = \"1.0.0\"\n[dependencies.a]\npath = \"../a\"\n")

	_, err := f.builder().Build(t.Context(), f.root(t, "a"))
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("Build() error = %v, want ErrCyclicDependency", err)
	}
	var cyc *CyclicDependency
	if !errors.As(err, &cyc) {
		t.Fatal("error is not *CyclicDependency")
	}
	want := []manifest.PackageName{"a", "b", "a"}
	if !slices.Equal(cyc.Chain, want) {
		t.Errorf("Chain = %v, want %v", cyc.Chain, want)
	}
}

func TestBuild_SelfDependency(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.writePkg(t, "a", "name = \"a\"\nversion = \"1.0.0\"\n[dependencies.a]\npath = \".\"\n")

	_, err := f.builder().Build(t.Context(), f.root(t, "a"))
	var cyc *CyclicDependency
	if !errors.As(err, &cyc) || !slices.Equal(cyc.Chain, []manifest.PackageName{"a", "a"}) {
		t.Fatalf("Build() error = %v, want cycle [a a]", err)
	}
}

func TestBuild_FetchedManifestErrorNamesEdge(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.writePkg(t, "app", "name = \"app\"\nversion = \"0.1.0\"\n[dependencies.bad]\nversion = \"^1\"\nnetwork = \"example.org/bad\"\n")
	f.fake.Add("example.org/bad", "", map[string]string{"circuit.toml": "version = \"1.0.0\"\n"})

	_, err := f.builder().Build(t.Context(), f.root(t, "app"))
	if !errors.Is(err, manifest.ErrManifest) {
		t.Fatalf("Build() error = %v, want ErrManifest", err)
	}
	var merr *manifest.Error
	if !errors.As(err, &merr) || merr.Field != "name" {
		t.Errorf("manifest error field = %v", merr)
	}
	var eerr *EdgeError
	if !errors.As(err, &eerr) || eerr.From != "app" || eerr.Dependency != "bad" || eerr.Requirement != "^1" {
		t.Errorf("edge error = %+v", eerr)
	}
}

func TestBuild_NameMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.writePkg(t, "app", "name = \"app\"\nversion = \"0.1.0\"\n[dependencies.math]\npath = \"../other\"\n")
	f.writePkg(t, "other", "name = \"other\"\nversion = \"1.0.0\"\n")

	_, err := f.builder().Build(t.Context(), f.root(t, "app"))
	if !errors.Is(err, depspec.ErrSpec) {
		t.Fatalf("Build() error = %v, want ErrSpec", err)
	}
}

func TestBuild_ConcurrentResolutionsFetchOnce(t *testing.T) {
	t.Parallel()

	f := diamond(t)
	f.fake.Delay = 50 * time.Millisecond

	const n = 6
	root := f.root(t, "app")
	var wg sync.WaitGroup
	graphs := make([]*Graph, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Separate builders: only the store coordinates them.
			graphs[i], errs[i] = f.builder().Build(context.Background(), root)
		}()
	}
	wg.Wait()

	dKey := networkKey("d", "example.org/d")
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("build %d error = %v", i, errs[i])
		}
		if graphs[i].Nodes[dKey].Fingerprint != graphs[0].Nodes[dKey].Fingerprint {
			t.Errorf("build %d saw a different fingerprint", i)
		}
	}
	if got := f.fake.Calls(dKey); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	entries, err := f.store.Entries()
	if err != nil || len(entries) != 1 {
		t.Errorf("Entries() = %v, %v; want one entry", entries, err)
	}
}

func TestBuild_TimeoutLeavesNoCacheState(t *testing.T) {
	t.Parallel()

	f := diamond(t)
	f.fake.Delay = time.Second
	b := f.builder()
	b.FetchTimeout = 20 * time.Millisecond

	_, err := b.Build(t.Context(), f.root(t, "app"))
	if !errors.Is(err, retriever.ErrRetrieval) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Build() error = %v, want retrieval timeout", err)
	}
	if _, ok := f.store.Lookup(networkKey("d", "example.org/d")); ok {
		t.Fatal("timed-out fetch left a cache entry")
	}

	f.fake.Delay = 0
	if _, err := f.builder().Build(t.Context(), f.root(t, "app")); err != nil {
		t.Fatalf("Build() after timeout error = %v", err)
	}
}

func TestBuild_Refresh(t *testing.T) {
	t.Parallel()

	f := diamond(t)
	if _, err := f.builder().Build(t.Context(), f.root(t, "app")); err != nil {
		t.Fatal(err)
	}
	b := f.builder()
	b.Refresh = true
	if _, err := b.Build(t.Context(), f.root(t, "app")); err != nil {
		t.Fatalf("refresh Build() error = %v", err)
	}
	if got := f.fake.Calls(networkKey("d", "example.org/d")); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}

type pinMap map[depspec.CanonicalKey]fingerprint.Digest

func (p pinMap) Pinned(k depspec.CanonicalKey) (fingerprint.Digest, bool) {
	d, ok := p[k]
	return d, ok
}

func TestBuild_PinMismatch(t *testing.T) {
	t.Parallel()

	f := diamond(t)
	b := f.builder()
	wrong := fingerprint.Digest("sha256:" + "00000000000000000000000000000000000000000000000000000000000000ff")
	b.Pins = pinMap{networkKey("d", "example.org/d"): wrong}

	_, err := b.Build(t.Context(), f.root(t, "app"))
	if !errors.Is(err, store.ErrFingerprintConflict) {
		t.Fatalf("Build() error = %v, want ErrFingerprintConflict", err)
	}
	if _, ok := f.store.Lookup(networkKey("d", "example.org/d")); ok {
		t.Error("mismatching fetch was published")
	}
}

func TestBuild_StaleEntryRefetched(t *testing.T) {
	t.Parallel()

	f := diamond(t)
	if _, err := f.builder().Build(t.Context(), f.root(t, "app")); err != nil {
		t.Fatal(err)
	}
	dKey := networkKey("d", "example.org/d")
	e, ok := f.store.Lookup(dKey)
	if !ok {
		t.Fatal("entry missing after build")
	}
	if err := os.Remove(filepath.Join(e.Path, manifest.FileName)); err != nil {
		t.Fatal(err)
	}

	g, err := f.builder().Build(t.Context(), f.root(t, "app"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := f.fake.Calls(dKey); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
	found := slices.ContainsFunc(g.Diagnostics, func(d diag.Diagnostic) bool { return d.Code == diag.CodeStaleCache })
	if !found {
		t.Errorf("no stale-cache diagnostic in %v", g.Diagnostics)
	}
}
