// SPDX-License-Identifier: MPL-2.0

// Package resolver selects one version per package name from an expanded dependency
// graph and orders the result so that every package follows its dependencies.
//
// Selection is deterministic: for each name (in sorted order) the greatest candidate
// version satisfying every incoming requirement wins, with ties between equal versions
// broken by canonical key. Ordering breaks ties lexicographically by name.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/circkit/circpkg/internal/dag"
	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/diag"
	"github.com/circkit/circpkg/pkg/fingerprint"
	"github.com/circkit/circpkg/pkg/graph"
	"github.com/circkit/circpkg/pkg/manifest"
	"github.com/circkit/circpkg/pkg/semver"
)

type (
	// ResolvedPackage is the selected version of one package name.
	ResolvedPackage struct {
		Name        manifest.PackageName
		Version     semver.Version
		Key         depspec.CanonicalKey
		LocalPath   string
		Fingerprint fingerprint.Digest
		// Dependencies are the names this package depends on, sorted.
		Dependencies []manifest.PackageName
	}

	// ResolvedGraph is a conflict-free, acyclic set of packages with a build order.
	ResolvedGraph struct {
		Root     manifest.PackageName
		Packages map[manifest.PackageName]*ResolvedPackage
		// Order lists every package with dependencies first and the root last.
		Order       []manifest.PackageName
		Diagnostics []diag.Diagnostic
	}

	// selection is the intermediate result between version selection and ordering.
	selection struct {
		root     manifest.PackageName
		selected map[manifest.PackageName]*graph.Node
		diags    []diag.Diagnostic
	}
)

// InOrder returns the packages in build order.
func (r *ResolvedGraph) InOrder() []*ResolvedPackage {
	out := make([]*ResolvedPackage, 0, len(r.Order))
	for _, name := range r.Order {
		out = append(out, r.Packages[name])
	}
	return out
}

// Resolve selects versions and orders g.
func Resolve(ctx context.Context, g *graph.Graph) (*ResolvedGraph, error) {
	sel, err := selectVersions(ctx, g)
	if err != nil {
		return nil, err
	}
	return order(ctx, g, sel)
}

func selectVersions(ctx context.Context, g *graph.Graph) (*selection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rootNode, ok := g.Nodes[g.Root]
	if !ok {
		return nil, fmt.Errorf("graph has no root node %s", g.Root)
	}

	groups := make(map[manifest.PackageName][]*graph.Node)
	for _, k := range g.Keys() {
		groups[k.Name] = append(groups[k.Name], g.Nodes[k])
	}
	names := make([]manifest.PackageName, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	slices.Sort(names)

	sel := &selection{
		root:     rootNode.Key.Name,
		selected: make(map[manifest.PackageName]*graph.Node, len(names)),
	}

	for _, name := range names {
		reqs := incoming(g, name)
		cands, err := candidates(groups[name])
		if err != nil {
			return nil, err
		}

		// The root package is never replaced by another source of the same name.
		eligible := cands
		if name == sel.root {
			eligible = slices.DeleteFunc(slices.Clone(cands), func(c candidate) bool { return c.node != rootNode })
		}
		versions := make([]semver.Version, len(eligible))
		for i, c := range eligible {
			versions[i] = c.version
		}
		var chosen *graph.Node
		if best, ok := semver.MaxSatisfying(requirementsOf(reqs), versions); ok {
			// eligible is sorted by key within a version, so the first match wins ties.
			i := slices.IndexFunc(eligible, func(c candidate) bool { return c.version.Compare(best) == 0 })
			chosen = eligible[i].node
		}
		if chosen == nil {
			all := make([]semver.Version, len(cands))
			for i, c := range cands {
				all[i] = c.version
			}
			slices.SortFunc(all, semver.Version.Compare)
			return nil, &VersionConflict{Name: name, Requirements: reqs, Candidates: all}
		}

		sel.selected[name] = chosen
		for _, c := range cands {
			if c.node != chosen {
				sel.diags = append(sel.diags, diag.Infof(diag.CodeSuperseded, string(name),
					"%s %s from %s superseded by %s", name, c.version, c.node.Key.Source, chosen.Descriptor.Version))
			}
		}
	}
	return sel, nil
}

func order(ctx context.Context, g *graph.Graph, sel *selection) (*ResolvedGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rg := &ResolvedGraph{
		Root:        sel.root,
		Packages:    make(map[manifest.PackageName]*ResolvedPackage),
		Diagnostics: slices.Clone(g.Diagnostics),
	}

	// Keep only names reachable from the root through selected nodes.
	d := dag.New()
	queue := []manifest.PackageName{sel.root}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, done := rg.Packages[name]; done {
			continue
		}
		n := sel.selected[name]
		v, err := semver.ParseVersion(n.Descriptor.Version)
		if err != nil {
			return nil, err
		}
		pkg := &ResolvedPackage{
			Name:        name,
			Version:     v,
			Key:         n.Key,
			LocalPath:   n.Path,
			Fingerprint: n.Fingerprint,
		}
		d.AddNode(string(name))
		for _, dep := range n.Deps {
			pkg.Dependencies = append(pkg.Dependencies, dep.Name)
			d.AddEdge(string(dep.Name), string(name))
			queue = append(queue, dep.Name)
		}
		slices.Sort(pkg.Dependencies)
		pkg.Dependencies = slices.Compact(pkg.Dependencies)
		rg.Packages[name] = pkg
	}

	for name := range sel.selected {
		if _, ok := rg.Packages[name]; !ok {
			rg.Diagnostics = append(rg.Diagnostics, diag.Infof(diag.CodeSuperseded, string(name),
				"%s is only required by superseded packages and was dropped", name))
		}
	}
	rg.Diagnostics = append(rg.Diagnostics, sel.diags...)
	diag.Sort(rg.Diagnostics)

	ordered, err := d.TopologicalSort()
	if err != nil {
		return nil, cycleFrom(err)
	}
	rg.Order = make([]manifest.PackageName, 0, d.Len())
	for _, name := range ordered {
		rg.Order = append(rg.Order, manifest.PackageName(name))
	}
	return rg, nil
}

type candidate struct {
	node    *graph.Node
	version semver.Version
}

// candidates returns the group's nodes ordered by version descending, then key.
func candidates(nodes []*graph.Node) ([]candidate, error) {
	out := make([]candidate, 0, len(nodes))
	for _, n := range nodes {
		v, err := semver.ParseVersion(n.Descriptor.Version)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Key, err)
		}
		out = append(out, candidate{node: n, version: v})
	}
	slices.SortStableFunc(out, func(a, b candidate) int {
		if c := b.version.Compare(a.version); c != 0 {
			return c
		}
		return strings.Compare(a.node.Key.String(), b.node.Key.String())
	})
	return out, nil
}

// incoming collects every requirement on name, sorted by declaring key and text.
func incoming(g *graph.Graph, name manifest.PackageName) []Requirement {
	var reqs []Requirement
	for _, e := range g.Incoming(name) {
		r := Requirement{From: e.From, Requirement: e.Spec.Requirement}
		if n, ok := g.Nodes[e.From]; ok {
			r.FromVersion = n.Descriptor.Version
		}
		reqs = append(reqs, r)
	}
	slices.SortFunc(reqs, func(a, b Requirement) int {
		if c := strings.Compare(a.From.String(), b.From.String()); c != 0 {
			return c
		}
		return strings.Compare(a.Requirement.String(), b.Requirement.String())
	})
	return reqs
}

func requirementsOf(reqs []Requirement) []semver.Requirement {
	out := make([]semver.Requirement, len(reqs))
	for i, r := range reqs {
		out[i] = r.Requirement
	}
	return out
}

func cycleFrom(err error) error {
	var cerr *dag.CycleError
	if !errors.As(err, &cerr) {
		return err
	}
	chain := make([]manifest.PackageName, len(cerr.Cycle))
	// dag edges run dependency -> dependent; report the chain in declaration direction.
	for i, name := range cerr.Cycle {
		chain[len(chain)-1-i] = manifest.PackageName(name)
	}
	return &graph.CyclicDependency{Chain: chain}
}
