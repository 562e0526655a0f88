// SPDX-License-Identifier: MPL-2.0

package dag

import (
	"errors"
	"slices"
	"testing"
)

func TestTopologicalSort_EmptyGraph(t *testing.T) {
	t.Parallel()
	order, err := New().TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Errorf("expected nil, got %v", order)
	}
}

func TestTopologicalSort_Orders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		edges [][2]string
		nodes []string
		want  []string
	}{
		{
			name:  "single node",
			nodes: []string{"a"},
			want:  []string{"a"},
		},
		{
			name:  "linear chain",
			edges: [][2]string{{"c", "b"}, {"b", "a"}},
			want:  []string{"c", "b", "a"},
		},
		{
			// d is the shared dependency; b and c tie and break lexicographically.
			name:  "diamond",
			edges: [][2]string{{"d", "c"}, {"d", "b"}, {"c", "a"}, {"b", "a"}},
			want:  []string{"d", "b", "c", "a"},
		},
		{
			name:  "disconnected",
			nodes: []string{"zeta", "alpha"},
			edges: [][2]string{{"mid", "top"}},
			want:  []string{"alpha", "mid", "top", "zeta"},
		},
		{
			name:  "duplicate edges",
			edges: [][2]string{{"a", "b"}, {"a", "b"}},
			want:  []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Insert in both directions; the order must not depend on insertion.
			for _, reverse := range []bool{false, true} {
				g := New()
				nodes, edges := slices.Clone(tt.nodes), slices.Clone(tt.edges)
				if reverse {
					slices.Reverse(nodes)
					slices.Reverse(edges)
				}
				for _, n := range nodes {
					g.AddNode(n)
				}
				for _, e := range edges {
					g.AddEdge(e[0], e[1])
				}
				order, err := g.TopologicalSort()
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !slices.Equal(order, tt.want) {
					t.Errorf("reverse=%v: got %v, want %v", reverse, order, tt.want)
				}
			}
		})
	}
}

func TestTopologicalSort_Cycles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		edges [][2]string
		want  []string
	}{
		{"self loop", [][2]string{{"a", "a"}}, []string{"a", "a"}},
		{"two nodes", [][2]string{{"a", "b"}, {"b", "a"}}, []string{"a", "b", "a"}},
		{"three nodes", [][2]string{{"b", "c"}, {"c", "a"}, {"a", "b"}}, []string{"a", "b", "c", "a"}},
		{"cycle behind a chain", [][2]string{{"a", "x"}, {"x", "y"}, {"y", "x"}}, []string{"x", "y", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := New()
			for _, e := range tt.edges {
				g.AddEdge(e[0], e[1])
			}
			_, err := g.TopologicalSort()
			var cycleErr *CycleError
			if !errors.As(err, &cycleErr) {
				t.Fatalf("expected *CycleError, got %T: %v", err, err)
			}
			if !slices.Equal(cycleErr.Cycle, tt.want) {
				t.Errorf("Cycle = %v, want %v", cycleErr.Cycle, tt.want)
			}
		})
	}
}

func TestFindCycle_Acyclic(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("a", "c")
	g.AddEdge("b", "c")
	if c := g.FindCycle(); c != nil {
		t.Errorf("FindCycle() = %v, want nil", c)
	}
	if g.Len() != 3 {
		t.Errorf("Len() = %d, want 3", g.Len())
	}
}

func TestCycleError_Message(t *testing.T) {
	t.Parallel()
	err := &CycleError{Cycle: []string{"A", "B", "A"}}
	expected := "dependency cycle detected: A -> B -> A"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}
