package scheduler

import "github.com/simpletasks/simpletasks/internal/task"

// Status is the state of a node within one run.
type Status int

const (
	StatusPending   Status = iota // not started yet, or never admitted
	StatusRunning                 // picked up by a worker
	StatusCompleted               // finished successfully
	StatusFailed                  // finished with an error
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Node is one vertex of the dependency graph.
type Node struct {
	ID        string       // unique identity, also the last element of the task namespace
	New       task.Factory // builds the task once the node is ready
	DependsOn []string     // identities that must complete first
	Options   task.Options // overrides applied on top of the orchestrator options
	Exclusive []string     // resource keys; nodes sharing a key never run concurrently
}

func cloneNode(n *Node) *Node {
	cp := *n
	cp.DependsOn = append([]string(nil), n.DependsOn...)
	cp.Exclusive = append([]string(nil), n.Exclusive...)
	cp.Options = n.Options.Clone()
	return &cp
}
