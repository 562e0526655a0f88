// SPDX-License-Identifier: MPL-2.0

// Package dag orders package names so that every package follows the packages it
// depends on. Ties are broken lexicographically, so the order is a pure function of the
// node and edge sets regardless of insertion order.
package dag

import (
	"container/heap"
	"fmt"
	"slices"
	"strings"
)

type (
	// CycleError indicates that the graph contains a cycle. Cycle is a closed path that
	// starts and ends with the same node, e.g. [A B A].
	CycleError struct {
		Cycle []string
	}

	// Graph is a directed graph over string nodes. An edge from A to B means A must come
	// before B in the order.
	Graph struct {
		adjacency map[string]map[string]struct{}
		nodes     map[string]struct{}
	}

	// minQueue is a heap of ready nodes; the smallest name is emitted first.
	minQueue []string
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		adjacency: make(map[string]map[string]struct{}),
		nodes:     make(map[string]struct{}),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	g.nodes[name] = struct{}{}
}

// AddEdge adds the edge from -> to, adding both nodes if needed. Duplicate edges are
// collapsed.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	if g.adjacency[from] == nil {
		g.adjacency[from] = make(map[string]struct{})
	}
	g.adjacency[from][to] = struct{}{}
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// TopologicalSort returns an order in which every edge points forward, using Kahn's
// algorithm with a min-heap of ready nodes. It returns a *CycleError if no such order
// exists.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	for node := range g.nodes {
		inDegree[node] += 0
		for to := range g.adjacency[node] {
			inDegree[to]++
		}
	}

	ready := &minQueue{}
	for node, d := range inDegree {
		if d == 0 {
			heap.Push(ready, node)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for ready.Len() > 0 {
		node := heap.Pop(ready).(string)
		result = append(result, node)
		for to := range g.adjacency[node] {
			inDegree[to]--
			if inDegree[to] == 0 {
				heap.Push(ready, to)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, &CycleError{Cycle: g.FindCycle()}
	}
	return result, nil
}

// FindCycle returns the first cycle met by a depth-first search that visits nodes and
// successors in lexicographic order, or nil if the graph is acyclic.
func (g *Graph) FindCycle() []string {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(node string) []string
	visit = func(node string) []string {
		state[node] = inProgress
		stack = append(stack, node)
		for _, next := range g.successors(node) {
			switch state[next] {
			case inProgress:
				start := slices.Index(stack, next)
				return append(slices.Clone(stack[start:]), next)
			case unvisited:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = done
		return nil
	}

	for _, node := range g.sortedNodes() {
		if state[node] == unvisited {
			if c := visit(node); c != nil {
				return c
			}
		}
	}
	return nil
}

func (g *Graph) successors(node string) []string {
	out := make([]string, 0, len(g.adjacency[node]))
	for to := range g.adjacency[node] {
		out = append(out, to)
	}
	slices.Sort(out)
	return out
}

func (g *Graph) sortedNodes() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (q minQueue) Len() int           { return len(q) }
func (q minQueue) Less(i, j int) bool { return q[i] < q[j] }
func (q minQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *minQueue) Push(x any)        { *q = append(*q, x.(string)) }

func (q *minQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}
