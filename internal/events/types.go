package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	Topic() string
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicRun  = "run"
)

// Event type constants
const (
	EventTypeTaskAdded     = "task.added"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskProgress  = "task.progress"
	EventTypeRunProgress   = "run.progress"
	EventTypeRunDone       = "run.done"
)

// TaskAddedEvent is published when a ready task enters the queue.
type TaskAddedEvent struct {
	Source    string // namespace of the admitting orchestrator
	ID        string
	Timestamp time.Time
}

func (e TaskAddedEvent) Topic() string     { return TopicTask }
func (e TaskAddedEvent) EventType() string { return EventTypeTaskAdded }
func (e TaskAddedEvent) TaskID() string    { return e.ID }

// TaskStartedEvent is published when a worker begins executing a task.
type TaskStartedEvent struct {
	Source    string
	ID        string
	Options   string // rendered effective options
	Timestamp time.Time
}

func (e TaskStartedEvent) Topic() string     { return TopicTask }
func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	Source    string
	ID        string
	Result    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) Topic() string     { return TopicTask }
func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	Source    string
	ID        string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) Topic() string     { return TopicTask }
func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskProgressEvent reports progress inside a single task.
type TaskProgressEvent struct {
	Namespace   string
	Description string
	Done        int
	Total       int // 0 when unknown
	Timestamp   time.Time
}

func (e TaskProgressEvent) Topic() string     { return TopicTask }
func (e TaskProgressEvent) EventType() string { return EventTypeTaskProgress }
func (e TaskProgressEvent) TaskID() string    { return e.Namespace }

// RunProgressEvent is a snapshot of an orchestrator run, published after
// every scheduling pass.
type RunProgressEvent struct {
	Source    string
	Total     int
	Completed int
	Failed    int
	Running   int
	Queued    int
	Pending   int
	Timestamp time.Time
}

func (e RunProgressEvent) Topic() string     { return TopicRun }
func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) TaskID() string    { return "" }

// RunDoneEvent is published once an orchestrator run has drained.
type RunDoneEvent struct {
	Source    string
	RunID     string
	Completed []string
	Failed    []string
	Remaining []string
	Timestamp time.Time
}

func (e RunDoneEvent) Topic() string     { return TopicRun }
func (e RunDoneEvent) EventType() string { return EventTypeRunDone }
func (e RunDoneEvent) TaskID() string    { return "" }
