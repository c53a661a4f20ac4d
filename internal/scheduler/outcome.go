package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/simpletasks/simpletasks/internal/task"
)

// ErrTaskFailed is the aggregate failure of an orchestrator run in which at
// least one task failed. The individual errors are in Outcome.Failures.
var ErrTaskFailed = errors.New("task failed")

// Record is the execution record of one node.
type Record struct {
	ID       string
	Options  task.Options
	Value    any
	Err      error
	Started  time.Time
	Finished time.Time
}

// Status reports whether the record is a completion or a failure.
func (r Record) Status() Status {
	if r.Err != nil {
		return StatusFailed
	}
	return StatusCompleted
}

// Duration is the execution time of the node.
func (r Record) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Failure pairs a node identity with the error it failed with.
type Failure struct {
	ID  string
	Err error
}

// Outcome summarizes a drained run.
type Outcome struct {
	RunID       string
	Namespace   string
	Completed   []string  // in completion order
	Remaining   []string  // never admitted, in insertion order
	Failures    []Failure // in completion order
	Records     []Record  // in completion order
	Interrupted error     // context error that stopped admissions, if any
	Started     time.Time
	Finished    time.Time
}

// Err converts the outcome into the orchestrator's own result: ErrTaskFailed
// when any task failed, the context error when the run was interrupted,
// nil otherwise. Remaining nodes alone are not an error.
func (o *Outcome) Err() error {
	if len(o.Failures) > 0 {
		return ErrTaskFailed
	}
	if o.Interrupted != nil {
		return fmt.Errorf("run interrupted: %w", o.Interrupted)
	}
	return nil
}

// Record returns the execution record of id.
func (o *Outcome) Record(id string) (Record, bool) {
	for _, r := range o.Records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Status reports the final status of id. Nodes that never ran are pending.
func (o *Outcome) Status(id string) Status {
	if r, ok := o.Record(id); ok {
		return r.Status()
	}
	return StatusPending
}

// Failed lists the identities of failed tasks in completion order.
func (o *Outcome) Failed() []string {
	ids := make([]string, len(o.Failures))
	for i, f := range o.Failures {
		ids[i] = f.ID
	}
	return ids
}

func (o *Outcome) String() string {
	return fmt.Sprintf("completed=%d failed=%d remaining=%d", len(o.Completed), len(o.Failures), len(o.Remaining))
}

// RunInfo describes a run as it starts.
type RunInfo struct {
	ID        string
	Namespace string
	Threads   int
	Nodes     []Node
	Started   time.Time
}

// Recorder receives the execution history of runs. Calls are made outside
// the scheduler lock; StartTask and RecordTask may be called concurrently
// for different nodes. StartTask gets the record of a node about to run,
// with its options and start time; RecordTask gets the finished record.
// Errors are logged and never affect the run.
type Recorder interface {
	BeginRun(ctx context.Context, info RunInfo) error
	StartTask(ctx context.Context, runID string, rec Record) error
	RecordTask(ctx context.Context, runID string, rec Record) error
	FinishRun(ctx context.Context, outcome *Outcome) error
}
