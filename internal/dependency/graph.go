package dependency

import (
	"fmt"
	"sort"
	"strings"
)

// NodeID is the unique identifier for a node inside a dependency graph.
// We purposely keep it as a string alias so that callers can freely choose an
// encoding scheme (e.g. "service:transcoder", "resource:db_pool").
type NodeID string

// Node represents a runtime unit (service, resource, cleanup target) together
// with its dependency list.
//
// A node can depend on zero or more other nodes. The graph must be a Directed
// Acyclic Graph (DAG); Order reports a CycleError otherwise.
type Node struct {
	ID        NodeID
	DependsOn []NodeID
}

type edge struct {
	from, to NodeID
}

// Graph answers dependency queries and computes deterministic orderings.
// It is *not* thread-safe by itself; callers must synchronise if they write
// concurrently.
type Graph struct {
	nodes   map[NodeID]*Node
	weights map[edge]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:   make(map[NodeID]*Node),
		weights: make(map[edge]int),
	}
}

// Register adds the node and its dependency edges. Dependencies that have not
// been registered yet are created as empty nodes so that ordering still covers
// them. Registering an existing node extends its dependency list.
func (g *Graph) Register(id NodeID, deps ...NodeID) {
	n := g.ensure(id)
	for _, dep := range deps {
		g.ensure(dep)
		if !contains(n.DependsOn, dep) {
			n.DependsOn = append(n.DependsOn, dep)
		}
	}
}

// SetWeight assigns a weight to the id->dep edge. Heavier dependencies are
// visited first when ordering; the default weight is 1.
func (g *Graph) SetWeight(id, dep NodeID, weight int) {
	g.weights[edge{id, dep}] = weight
}

// Has reports whether the node is known to the graph.
func (g *Graph) Has(id NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of registered nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Dependencies returns a copy of the immediate dependency IDs for the node.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	if n, ok := g.nodes[id]; ok {
		depsCopy := make([]NodeID, len(n.DependsOn))
		copy(depsCopy, n.DependsOn)
		return depsCopy
	}
	return nil
}

// Dependents returns all node IDs that have a direct dependency on the given
// node. This is an O(n) walk but graphs here are small, so fine.
func (g *Graph) Dependents(id NodeID) []NodeID {
	var res []NodeID
	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			if dep == id {
				res = append(res, n.ID)
				break
			}
		}
	}
	sortIDs(res)
	return res
}

// Order returns a deterministic topological order: every node appears after
// all of its dependencies, ties broken lexicographically. A cycle yields a
// CycleError naming the nodes on the cycle.
//
// The walk is an iterative DFS with an on-current-path marker; revisiting a
// path-marked node signals the cycle.
func (g *Graph) Order() ([]NodeID, error) {
	const (
		white = iota // unvisited
		gray         // on current path
		black        // done
	)

	color := make(map[NodeID]int, len(g.nodes))
	order := make([]NodeID, 0, len(g.nodes))

	type frame struct {
		id   NodeID
		deps []NodeID
		next int
	}

	for _, root := range g.sortedIDs() {
		if color[root] != white {
			continue
		}
		color[root] = gray
		stack := []frame{{id: root, deps: g.orderedDeps(root)}}

		for len(stack) > 0 {
			top := len(stack) - 1
			if stack[top].next < len(stack[top].deps) {
				dep := stack[top].deps[stack[top].next]
				stack[top].next++
				switch color[dep] {
				case gray:
					var path []NodeID
					for i := range stack {
						if len(path) > 0 || stack[i].id == dep {
							path = append(path, stack[i].id)
						}
					}
					return nil, &CycleError{Path: path}
				case white:
					color[dep] = gray
					stack = append(stack, frame{id: dep, deps: g.orderedDeps(dep)})
				}
				continue
			}
			color[stack[top].id] = black
			order = append(order, stack[top].id)
			stack = stack[:top]
		}
	}

	return order, nil
}

// Reversed returns its argument in reverse, without mutating it. Used for
// cleanup ordering, where dependents must be torn down before the things they
// depend on.
func Reversed(order []NodeID) []NodeID {
	rev := make([]NodeID, len(order))
	for i, id := range order {
		rev[len(order)-1-i] = id
	}
	return rev
}

func (g *Graph) ensure(id NodeID) *Node {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := &Node{ID: id}
	g.nodes[id] = n
	return n
}

// orderedDeps sorts dependency edges by weight (heavier first), then
// lexicographically, so the DFS visit order is deterministic.
func (g *Graph) orderedDeps(id NodeID) []NodeID {
	deps := g.Dependencies(id)
	sort.Slice(deps, func(i, j int) bool {
		wi, wj := g.weightOf(id, deps[i]), g.weightOf(id, deps[j])
		if wi != wj {
			return wi > wj
		}
		return deps[i] < deps[j]
	})
	return deps
}

func (g *Graph) weightOf(from, to NodeID) int {
	if w, ok := g.weights[edge{from, to}]; ok {
		return w
	}
	return 1
}

func (g *Graph) sortedIDs() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func contains(ids []NodeID, id NodeID) bool {
	for _, cur := range ids {
		if cur == id {
			return true
		}
	}
	return false
}

// CycleError reports that the graph is not acyclic. Path holds the nodes on
// the detected cycle, starting and (implicitly) ending at the same node.
type CycleError struct {
	Path []NodeID
}

// Node returns one node that is part of the cycle.
func (e *CycleError) Node() NodeID {
	if len(e.Path) == 0 {
		return ""
	}
	return e.Path[0]
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Path)+1)
	for _, id := range e.Path {
		parts = append(parts, string(id))
	}
	if len(e.Path) > 0 {
		parts = append(parts, string(e.Path[0]))
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(parts, " -> "))
}
