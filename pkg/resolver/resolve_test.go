// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/diag"
	"github.com/circkit/circpkg/pkg/graph"
	"github.com/circkit/circpkg/pkg/manifest"
	"github.com/circkit/circpkg/pkg/semver"
)

var versionComparer = cmp.Comparer(func(a, b semver.Version) bool { return a.Compare(b) == 0 })

type dep struct {
	name, req, registry string
}

// graphBuilder assembles graphs by hand. Every package is a network source named by its
// registry, except the root which is local.
type graphBuilder struct {
	g *graph.Graph
}

func newGraph(rootVersion string, deps ...dep) *graphBuilder {
	b := &graphBuilder{g: &graph.Graph{Nodes: map[depspec.CanonicalKey]*graph.Node{}}}
	key := depspec.CanonicalKey{Name: "app", Source: "local:/work/app"}
	b.g.Root = key
	b.add(key, rootVersion, "/work/app", deps)
	return b
}

func (b *graphBuilder) node(name, version, registry string, deps ...dep) *graphBuilder {
	key := depspec.CanonicalKey{Name: manifest.PackageName(name), Source: "network:" + registry}
	b.add(key, version, "/cache/"+key.Dir()+"/src", deps)
	return b
}

func (b *graphBuilder) add(key depspec.CanonicalKey, version, path string, deps []dep) {
	n := &graph.Node{
		Key:        key,
		Descriptor: &manifest.Descriptor{Name: key.Name, Version: version},
		Path:       path,
	}
	for _, d := range deps {
		spec := depspec.Spec{
			Name:        manifest.PackageName(d.name),
			Requirement: semver.MustParseRequirement(d.req),
			Source:      depspec.Source{Kind: depspec.SourceNetwork, Registry: d.registry},
		}
		n.Deps = append(n.Deps, spec)
		b.g.Edges = append(b.g.Edges, graph.Edge{From: key, To: spec.Key(), Spec: spec})
	}
	b.g.Nodes[key] = n
}

// diamondGraph: app -> b, c; b -> d ^1.0 (d1); c -> d reqD (d2). d1 is 1.0.5, d2 is 1.2.0.
func diamondGraph(reqD string) *graph.Graph {
	return newGraph("0.1.0", dep{"b", "*", "b"}, dep{"c", "*", "c"}).
		node("b", "1.0.0", "b", dep{"d", "^1.0", "d1"}).
		node("c", "1.0.0", "c", dep{"d", reqD, "d2"}).
		node("d", "1.0.5", "d1").
		node("d", "1.2.0", "d2").g
}

func names(ns []manifest.PackageName) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = string(n)
	}
	return out
}

func TestResolve_DiamondSelectsGreatestSatisfying(t *testing.T) {
	t.Parallel()

	rg, err := Resolve(t.Context(), diamondGraph(">=1.1.0"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if diff := cmp.Diff([]string{"d", "b", "c", "app"}, names(rg.Order)); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
	d := rg.Packages["d"]
	if got := d.Version.String(); got != "1.2.0" {
		t.Errorf("d version = %s, want 1.2.0", got)
	}
	if d.Key.Source != "network:d2" {
		t.Errorf("d source = %s, want network:d2", d.Key.Source)
	}
	if diff := cmp.Diff([]manifest.PackageName{"b", "c"}, rg.Packages["app"].Dependencies); diff != "" {
		t.Errorf("app dependencies mismatch (-want +got):\n%s", diff)
	}
	if rg.Root != "app" || rg.Order[len(rg.Order)-1] != "app" {
		t.Errorf("root %s is not last in %v", rg.Root, rg.Order)
	}

	var superseded []string
	for _, dg := range rg.Diagnostics {
		if dg.Code == diag.CodeSuperseded {
			superseded = append(superseded, dg.Package)
		}
	}
	if diff := cmp.Diff([]string{"d"}, superseded); diff != "" {
		t.Errorf("superseded diagnostics mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_VersionConflictNamesPackage(t *testing.T) {
	t.Parallel()

	_, err := Resolve(t.Context(), diamondGraph(">=2.0.0"))

	var vc *VersionConflict
	if !errors.As(err, &vc) {
		t.Fatalf("Resolve() error = %v, want *VersionConflict", err)
	}
	if !errors.Is(err, ErrVersionConflict) {
		t.Error("error does not wrap ErrVersionConflict")
	}
	if vc.Name != "d" {
		t.Errorf("conflict on %s, want d", vc.Name)
	}
	var reqs []string
	for _, r := range vc.Requirements {
		reqs = append(reqs, fmt.Sprintf("%s:%s", r.From.Name, r.Requirement))
	}
	if diff := cmp.Diff([]string{"b:^1.0", "c:>=2.0.0"}, reqs); diff != "" {
		t.Errorf("requirements mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]semver.Version{semver.MustParseVersion("1.0.5"), semver.MustParseVersion("1.2.0")},
		vc.Candidates, versionComparer); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_VersionConflictNamesDeclaringEdge(t *testing.T) {
	t.Parallel()

	// util 2.0.0 wins, but the superseded util 1.0.0 still constrains lib.
	g := newGraph("0.1.0", dep{"util", "^2", "u2"}, dep{"helper", "*", "helper"}).
		node("helper", "1.0.0", "helper", dep{"util", "*", "u1"}).
		node("util", "1.0.0", "u1", dep{"lib", "^1", "l1"}).
		node("util", "2.0.0", "u2", dep{"lib", "^2", "l2"}).
		node("lib", "1.0.0", "l1").
		node("lib", "2.0.0", "l2").g

	_, err := Resolve(t.Context(), g)
	var vc *VersionConflict
	if !errors.As(err, &vc) || vc.Name != "lib" {
		t.Fatalf("Resolve() error = %v, want version conflict on lib", err)
	}
	want := []Requirement{
		{From: depspec.CanonicalKey{Name: "util", Source: "network:u1"}, FromVersion: "1.0.0", Requirement: semver.MustParseRequirement("^1")},
		{From: depspec.CanonicalKey{Name: "util", Source: "network:u2"}, FromVersion: "2.0.0", Requirement: semver.MustParseRequirement("^2")},
	}
	reqComparer := cmp.Comparer(func(a, b semver.Requirement) bool { return a.String() == b.String() })
	if diff := cmp.Diff(want, vc.Requirements, reqComparer); diff != "" {
		t.Errorf("requirements mismatch (-want +got):\n%s", diff)
	}
	for _, msg := range []string{"util 1.0.0 (network:u1) requires ^1", "util 2.0.0 (network:u2) requires ^2"} {
		if !strings.Contains(err.Error(), msg) {
			t.Errorf("error %q does not contain %q", err, msg)
		}
	}
}

func TestResolve_Deterministic(t *testing.T) {
	t.Parallel()

	want, err := Resolve(t.Context(), diamondGraph(">=1.1.0"))
	if err != nil {
		t.Fatal(err)
	}
	for range 20 {
		got, err := Resolve(t.Context(), diamondGraph(">=1.1.0"))
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got, versionComparer); diff != "" {
			t.Fatalf("Resolve() not deterministic (-first +later):\n%s", diff)
		}
	}
}

func TestResolve_EqualVersionsBreakTiesByKey(t *testing.T) {
	t.Parallel()

	g := newGraph("0.1.0", dep{"b", "*", "zeta/b"}, dep{"c", "*", "c"}).
		node("b", "1.0.0", "zeta/b").
		node("c", "1.0.0", "c", dep{"b", "*", "alpha/b"}).
		node("b", "1.0.0", "alpha/b").g

	rg, err := Resolve(t.Context(), g)
	if err != nil {
		t.Fatal(err)
	}
	if got := rg.Packages["b"].Key.Source; got != "network:alpha/b" {
		t.Errorf("b source = %s, want network:alpha/b", got)
	}
}

func TestResolve_DropsPackagesOnlyReachableFromSuperseded(t *testing.T) {
	t.Parallel()

	g := newGraph("0.1.0", dep{"b", "*", "b"}, dep{"c", "*", "c"}).
		node("b", "1.0.0", "b", dep{"d", "*", "d1"}).
		node("c", "1.0.0", "c", dep{"d", "*", "d2"}).
		node("d", "1.0.0", "d1", dep{"e", "*", "e"}).
		node("d", "2.0.0", "d2").
		node("e", "1.0.0", "e").g

	rg, err := Resolve(t.Context(), g)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rg.Packages["e"]; ok {
		t.Error("e should have been dropped with its superseded dependent")
	}
	if diff := cmp.Diff([]string{"d", "b", "c", "app"}, names(rg.Order)); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
	found := false
	for _, dg := range rg.Diagnostics {
		if dg.Package == "e" && dg.Code == diag.CodeSuperseded {
			found = true
		}
	}
	if !found {
		t.Errorf("no diagnostic for dropped package e: %v", rg.Diagnostics)
	}
}

func TestResolve_RootIsNeverReplaced(t *testing.T) {
	t.Parallel()

	// b depends on a newer "app" from the network. Both are the same name; the root wins
	// only if it satisfies the requirement.
	g := newGraph("0.1.0", dep{"b", "*", "b"}).
		node("b", "1.0.0", "b", dep{"app", ">=1.0.0", "app"}).
		node("app", "1.0.0", "app").g

	_, err := Resolve(t.Context(), g)
	var vc *VersionConflict
	if !errors.As(err, &vc) || vc.Name != "app" {
		t.Fatalf("Resolve() error = %v, want version conflict on app", err)
	}
}

func TestResolve_NameCycle(t *testing.T) {
	t.Parallel()

	// Keys differ, so expansion succeeds, but after selection app and b need each other.
	g := newGraph("0.1.0", dep{"b", "*", "b"}).
		node("b", "1.0.0", "b", dep{"app", "*", "app"}).
		node("app", "0.1.0", "app").g

	_, err := Resolve(t.Context(), g)
	var cyc *graph.CyclicDependency
	if !errors.As(err, &cyc) {
		t.Fatalf("Resolve() error = %v, want *graph.CyclicDependency", err)
	}
	if diff := cmp.Diff([]string{"app", "b", "app"}, names(cyc.Chain)); diff != "" {
		t.Errorf("cycle chain mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := Resolve(ctx, diamondGraph("*")); !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve() error = %v, want context.Canceled", err)
	}
}
