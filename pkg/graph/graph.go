// SPDX-License-Identifier: MPL-2.0

// Package graph expands a root manifest into the full dependency graph.
//
// Nodes live in an arena keyed by canonical key, so diamonds share one node and one
// fetch. Edges point from a node to the specifier it declared, which keeps every
// requirement available for version selection. Expansion runs breadth-first, one level
// at a time, with bounded concurrency; the resulting graph is sorted so that it does
// not depend on the order in which fetches completed.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/diag"
	"github.com/circkit/circpkg/pkg/fingerprint"
	"github.com/circkit/circpkg/pkg/manifest"
)

// ErrCyclicDependency is the sentinel wrapped by CyclicDependency.
var ErrCyclicDependency = errors.New("cyclic dependency")

type (
	// Node is one package source in the graph.
	Node struct {
		Key        depspec.CanonicalKey
		Descriptor *manifest.Descriptor
		// Deps are the normalized declared dependencies, sorted by name.
		Deps []depspec.Spec
		// Path is the package directory: the source directory for local packages, the
		// cache entry for network packages.
		Path string
		// Fingerprint is set for network packages.
		Fingerprint fingerprint.Digest
	}

	// Edge records that From declared Spec, which normalized to To.
	Edge struct {
		From depspec.CanonicalKey
		To   depspec.CanonicalKey
		Spec depspec.Spec
	}

	// Graph is the expanded dependency graph of a root package.
	Graph struct {
		Root  depspec.CanonicalKey
		Nodes map[depspec.CanonicalKey]*Node
		// Edges are sorted by From, then dependency name, then To.
		Edges       []Edge
		Diagnostics []diag.Diagnostic
	}

	// CyclicDependency reports a dependency cycle. Chain starts and ends with the same
	// package, e.g. [A B A].
	CyclicDependency struct {
		Chain []manifest.PackageName
	}

	// EdgeError attaches the declaring package and dependency to a failure met while
	// expanding that edge.
	EdgeError struct {
		From        manifest.PackageName
		Dependency  manifest.PackageName
		Requirement string
		Err         error
	}
)

func (e *CyclicDependency) Error() string {
	names := make([]string, len(e.Chain))
	for i, n := range e.Chain {
		names[i] = string(n)
	}
	return "cyclic dependency: " + strings.Join(names, " -> ")
}

// Unwrap returns ErrCyclicDependency for errors.Is compatibility.
func (e *CyclicDependency) Unwrap() error { return ErrCyclicDependency }

func (e *EdgeError) Error() string {
	return fmt.Sprintf("%s -> %s %s: %v", e.From, e.Dependency, e.Requirement, e.Err)
}

// Unwrap returns the underlying failure.
func (e *EdgeError) Unwrap() error { return e.Err }

// Keys returns every node key in sorted order.
func (g *Graph) Keys() []depspec.CanonicalKey {
	keys := make([]depspec.CanonicalKey, 0, len(g.Nodes))
	for k := range g.Nodes {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

// Outgoing returns the edges declared by key, in sorted order.
func (g *Graph) Outgoing(key depspec.CanonicalKey) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == key {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns every edge that targets a node named name.
func (g *Graph) Incoming(name manifest.PackageName) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Spec.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) sortEdges() {
	slices.SortFunc(g.Edges, func(a, b Edge) int {
		if c := compareKeys(a.From, b.From); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Spec.Name), string(b.Spec.Name)); c != 0 {
			return c
		}
		return compareKeys(a.To, b.To)
	})
}

// detectCycle walks the graph depth-first from the root, following edges in sorted
// order, and reports the first key that reappears on the current path.
func (g *Graph) detectCycle() error {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[depspec.CanonicalKey]int, len(g.Nodes))
	var stack []depspec.CanonicalKey

	var visit func(k depspec.CanonicalKey) error
	visit = func(k depspec.CanonicalKey) error {
		state[k] = inProgress
		stack = append(stack, k)
		for _, e := range g.Outgoing(k) {
			switch state[e.To] {
			case inProgress:
				start := slices.Index(stack, e.To)
				chain := make([]manifest.PackageName, 0, len(stack)-start+1)
				for _, sk := range stack[start:] {
					chain = append(chain, sk.Name)
				}
				return &CyclicDependency{Chain: append(chain, e.To.Name)}
			case unvisited:
				if err := visit(e.To); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[k] = done
		return nil
	}
	return visit(g.Root)
}

func compareKeys(a, b depspec.CanonicalKey) int {
	return strings.Compare(a.String(), b.String())
}
