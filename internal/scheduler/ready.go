package scheduler

import "github.com/simpletasks/simpletasks/internal/task"

// readyEntry is a node admitted to the ready queue with its effective options.
type readyEntry struct {
	node *Node
	opts task.Options
}

type pendingEntry struct {
	node      *Node
	remaining map[string]struct{}
}

// pendingGraph holds the nodes of one run that have not been admitted yet,
// each with the prerequisites it still waits for. It is not safe for
// concurrent use: every method must run under the run lock.
type pendingGraph struct {
	order   []string
	entries map[string]*pendingEntry
}

func newPendingGraph(nodes []*Node) *pendingGraph {
	p := &pendingGraph{
		order:   make([]string, 0, len(nodes)),
		entries: make(map[string]*pendingEntry, len(nodes)),
	}
	for _, n := range nodes {
		remaining := make(map[string]struct{}, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			remaining[dep] = struct{}{}
		}
		p.order = append(p.order, n.ID)
		p.entries[n.ID] = &pendingEntry{node: n, remaining: remaining}
	}
	return p
}

// resolve removes id from every remaining-prerequisite set. Identities no
// node waits for are a no-op.
func (p *pendingGraph) resolve(id string) {
	for _, e := range p.entries {
		delete(e.remaining, id)
	}
}

// findReady removes and returns every pending node without remaining
// prerequisites, in insertion order. Nothing is admitted once a failure has
// been recorded under a fail-fast policy.
//
// Options are the base options overridden by the node's own, with the
// namespace derived from parentNS and the node identity.
func (p *pendingGraph) findReady(base task.Options, parentNS string, failFast, hasFailures bool) []readyEntry {
	if failFast && hasFailures {
		return nil
	}

	var ready []readyEntry
	kept := p.order[:0]
	for _, id := range p.order {
		e := p.entries[id]
		if len(e.remaining) > 0 {
			kept = append(kept, id)
			continue
		}
		delete(p.entries, id)
		ready = append(ready, readyEntry{
			node: e.node,
			opts: task.Derive(base, e.node.Options, parentNS, id),
		})
	}
	p.order = kept
	return ready
}

// ids returns the pending identities in insertion order.
func (p *pendingGraph) ids() []string {
	return append([]string(nil), p.order...)
}

func (p *pendingGraph) len() int { return len(p.order) }
