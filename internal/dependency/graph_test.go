package dependency

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("New() returned nil")
	}
	if g.Len() != 0 {
		t.Fatalf("expected empty graph, got %d nodes", g.Len())
	}
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name     string
		register func(g *Graph)
		expected int
	}{
		{
			name: "single node",
			register: func(g *Graph) {
				g.Register("api")
			},
			expected: 1,
		},
		{
			name: "chain registers implicit dependencies",
			register: func(g *Graph) {
				g.Register("transcoder", "queue")
				g.Register("queue", "db")
			},
			expected: 3,
		},
		{
			name: "re-register extends without duplicating",
			register: func(g *Graph) {
				g.Register("api", "db")
				g.Register("api", "db", "cache")
			},
			expected: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			tt.register(g)
			if g.Len() != tt.expected {
				t.Errorf("expected %d nodes, got %d", tt.expected, g.Len())
			}
		})
	}
}

func TestOrderPlacesDependenciesFirst(t *testing.T) {
	g := New()
	g.Register("b", "a")
	g.Register("c", "a")
	g.Register("d", "b", "c")

	order, err := g.Order()
	if err != nil {
		t.Fatalf("Order() failed: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("expected 4 nodes in order, got %d: %v", len(order), order)
	}

	pos := make(map[NodeID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, id := range order {
		for _, dep := range g.Dependencies(id) {
			if pos[dep] >= pos[id] {
				t.Errorf("dependency %s ordered after %s: %v", dep, id, order)
			}
		}
	}
}

func TestOrderIsDeterministicAndLexicographic(t *testing.T) {
	build := func() *Graph {
		g := New()
		g.Register("b", "a")
		g.Register("c", "a")
		g.Register("a")
		return g
	}

	first, err := build().Order()
	if err != nil {
		t.Fatalf("Order() failed: %v", err)
	}
	want := []NodeID{"a", "b", "c"}
	for i, id := range want {
		if first[i] != id {
			t.Fatalf("expected order %v, got %v", want, first)
		}
	}

	// Repeated runs over fresh graphs must agree.
	for i := 0; i < 20; i++ {
		order, err := build().Order()
		if err != nil {
			t.Fatalf("Order() failed: %v", err)
		}
		for j := range want {
			if order[j] != first[j] {
				t.Fatalf("non-deterministic order on run %d: %v vs %v", i, order, first)
			}
		}
	}
}

func TestOrderWeightedDependencies(t *testing.T) {
	g := New()
	g.Register("root", "light", "heavy")
	g.SetWeight("root", "heavy", 10)

	order, err := g.Order()
	if err != nil {
		t.Fatalf("Order() failed: %v", err)
	}
	// Heavier edge visited first, so it appears earlier in the order.
	want := []NodeID{"heavy", "light", "root"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestOrderDetectsCycle(t *testing.T) {
	tests := []struct {
		name     string
		register func(g *Graph)
	}{
		{
			name: "two node cycle",
			register: func(g *Graph) {
				g.Register("a", "b")
				g.Register("b", "a")
			},
		},
		{
			name: "three node cycle behind a chain",
			register: func(g *Graph) {
				g.Register("entry", "x")
				g.Register("x", "y")
				g.Register("y", "z")
				g.Register("z", "x")
			},
		},
		{
			name: "self dependency",
			register: func(g *Graph) {
				g.Register("a", "a")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			tt.register(g)

			_, err := g.Order()
			if err == nil {
				t.Fatal("expected CycleError, got nil")
			}
			var cycleErr *CycleError
			if !errors.As(err, &cycleErr) {
				t.Fatalf("expected CycleError, got %T: %v", err, err)
			}
			if len(cycleErr.Path) == 0 {
				t.Fatal("CycleError has empty path")
			}
			// Every node named in the error must actually be on a cycle,
			// i.e. reachable from itself. Cheap check: it is in the graph
			// and has at least one dependency.
			for _, id := range cycleErr.Path {
				if !g.Has(id) {
					t.Errorf("cycle path names unknown node %s", id)
				}
				if len(g.Dependencies(id)) == 0 {
					t.Errorf("cycle path names node %s with no dependencies", id)
				}
			}
		})
	}
}

func TestReversed(t *testing.T) {
	order := []NodeID{"a", "b", "c"}
	rev := Reversed(order)

	want := []NodeID{"c", "b", "a"}
	for i, id := range want {
		if rev[i] != id {
			t.Fatalf("expected %v, got %v", want, rev)
		}
	}
	if order[0] != "a" {
		t.Fatal("Reversed mutated its argument")
	}
}

func TestDependents(t *testing.T) {
	g := New()
	g.Register("b", "a")
	g.Register("c", "a")

	deps := g.Dependents("a")
	if len(deps) != 2 || deps[0] != "b" || deps[1] != "c" {
		t.Fatalf("expected [b c], got %v", deps)
	}
	if got := g.Dependents("c"); len(got) != 0 {
		t.Fatalf("expected no dependents for c, got %v", got)
	}
}
