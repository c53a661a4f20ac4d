package scheduler

import (
	"errors"
	"fmt"

	"github.com/gammazero/toposort"

	"github.com/simpletasks/simpletasks/internal/task"
)

var (
	// ErrCycle is returned when the dependency graph is not acyclic.
	ErrCycle = errors.New("dependency graph contains a cycle")

	// ErrDuplicateTask is returned when two nodes share an identity.
	ErrDuplicateTask = errors.New("duplicate task")
)

// Graph is a set of nodes in insertion order. Insertion order decides the
// order in which simultaneously ready nodes enter the ready queue.
// A Graph is not safe for concurrent mutation; orchestrators copy it.
type Graph struct {
	nodes []*Node
	index map[string]int
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{index: make(map[string]int)}
}

// Add appends a node.
func (g *Graph) Add(n Node) error {
	if n.ID == "" {
		return errors.New("task identity is empty")
	}
	if n.New == nil {
		return fmt.Errorf("task %q: nil factory", n.ID)
	}
	if _, exists := g.index[n.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, n.ID)
	}

	g.index[n.ID] = len(g.nodes)
	g.nodes = append(g.nodes, cloneNode(&n))
	return nil
}

// Task is a shorthand for adding a node without overrides. It panics on a
// duplicate identity, which makes it convenient for static graphs.
func (g *Graph) Task(id string, f task.Factory, dependsOn ...string) *Graph {
	if err := g.Add(Node{ID: id, New: f, DependsOn: dependsOn}); err != nil {
		panic(err)
	}
	return g
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns a copy of the node with the given identity.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return *cloneNode(g.nodes[i]), true
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = *cloneNode(n)
	}
	return out
}

// Missing maps every node that names an unknown prerequisite to those
// prerequisites. Such nodes can never become ready.
func (g *Graph) Missing() map[string][]string {
	missing := make(map[string][]string)
	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			if _, ok := g.index[dep]; !ok {
				missing[n.ID] = append(missing[n.ID], dep)
			}
		}
	}
	return missing
}

// Validate checks the graph for cycles and returns one topological order of
// its identities. Unknown prerequisites are not an error here: see Missing.
func (g *Graph) Validate() ([]string, error) {
	var edges []toposort.Edge
	for _, n := range g.nodes {
		known := 0
		for _, dep := range n.DependsOn {
			if dep == n.ID {
				return nil, fmt.Errorf("%w: %q depends on itself", ErrCycle, n.ID)
			}
			if _, ok := g.index[dep]; !ok {
				continue
			}
			// dep must come before n
			edges = append(edges, toposort.Edge{dep, n.ID})
			known++
		}
		if known == 0 {
			edges = append(edges, toposort.Edge{nil, n.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	order := make([]string, 0, len(g.nodes))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("%w: sorted %d of %d tasks", ErrCycle, len(order), len(g.nodes))
	}
	return order, nil
}
