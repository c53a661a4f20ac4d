// Package scheduler runs a static dependency graph of tasks on a bounded pool
// of workers. Readiness bookkeeping happens under a single lock; the tasks
// themselves run outside it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/simpletasks/simpletasks/internal/events"
	"github.com/simpletasks/simpletasks/internal/logging"
	"github.com/simpletasks/simpletasks/internal/task"
)

// DefaultThreads is the worker count used when none is configured.
const DefaultThreads = 4

// Orchestrator executes a dependency graph concurrently. It holds no
// per-run state: every Execute starts from a fresh pending graph, so an
// orchestrator can be run repeatedly, even concurrently.
type Orchestrator struct {
	name      string
	namespace string
	nodes     []*Node
	threads   int
	base      task.Options
	rt        task.Runtime
	logger    *slog.Logger
	recorder  Recorder
	locks     *ResourceLockManager
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithThreads sets the number of workers. Values below 1 mean 1.
func WithThreads(n int) Option {
	return func(o *Orchestrator) { o.threads = max(n, 1) }
}

// WithRecorder attaches an execution history recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLocks shares a resource lock manager between orchestrators, so
// Exclusive keys also hold across them.
func WithLocks(l *ResourceLockManager) Option {
	return func(o *Orchestrator) { o.locks = l }
}

// New builds an orchestrator called name over a snapshot of g. opts are the
// base options every node inherits; the orchestrator's own namespace comes
// from opts or from rt and name. A cyclic graph is rejected with ErrCycle.
// Unknown prerequisites are accepted: the nodes naming them never run and
// are reported as remaining.
func New(name string, g *Graph, rt task.Runtime, opts task.Options, options ...Option) (*Orchestrator, error) {
	if _, err := g.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator %s: %w", name, err)
	}

	ns := rt.NamespaceFor(name, opts)
	base := opts.Clone()
	base.LoggerNamespace = ns

	o := &Orchestrator{
		name:      name,
		namespace: ns,
		threads:   DefaultThreads,
		base:      base,
		rt:        rt,
		logger:    rt.Named(ns),
	}
	for _, n := range g.nodes {
		o.nodes = append(o.nodes, cloneNode(n))
	}
	for _, opt := range options {
		opt(o)
	}
	if o.locks == nil {
		o.locks = NewResourceLockManager()
	}

	missing := g.Missing()
	for _, n := range o.nodes {
		if deps := missing[n.ID]; len(deps) > 0 {
			o.logger.Warn(fmt.Sprintf("Task %s depends on unknown tasks: %s", n.ID, strings.Join(deps, ";")))
		}
	}
	return o, nil
}

// Factory returns a task.Factory building orchestrators over g, so that an
// orchestrator can be a node of another orchestrator or a pipeline step.
func Factory(name string, g *Graph, options ...Option) task.Factory {
	return func(rt task.Runtime, opts task.Options) (task.Task, error) {
		return New(name, g, rt, opts, options...)
	}
}

// Name returns the orchestrator name.
func (o *Orchestrator) Name() string { return o.name }

// Namespace returns the logger namespace of the orchestrator.
func (o *Orchestrator) Namespace() string { return o.namespace }

// Threads returns the worker count.
func (o *Orchestrator) Threads() int { return o.threads }

// Run executes the graph and returns the outcome with its aggregate error,
// making the orchestrator usable as a task.
func (o *Orchestrator) Run(ctx context.Context) (any, error) {
	outcome := o.Execute(ctx)
	return outcome, outcome.Err()
}

// Execute spawns the workers, seeds the ready queue, blocks until every
// admitted node has been acknowledged, then shuts the workers down and
// reports. Task failures never abort Execute; they end up in the outcome.
func (o *Orchestrator) Execute(ctx context.Context) *Outcome {
	r := o.newRun(ctx)

	if o.recorder != nil {
		info := RunInfo{ID: r.id, Namespace: o.namespace, Threads: o.threads, Started: r.started}
		for _, n := range o.nodes {
			info.Nodes = append(info.Nodes, *n)
		}
		if err := o.recorder.BeginRun(ctx, info); err != nil {
			o.logger.Warn("could not record run start", "run", r.id, "error", err)
		}
	}

	g := new(errgroup.Group)
	for range o.threads {
		g.Go(func() error {
			r.work()
			return nil
		})
	}

	r.mu.Lock()
	r.admit()
	r.publishProgress()
	r.mu.Unlock()

	r.inflight.Wait()
	for range o.threads {
		r.queue <- nil
	}
	g.Wait()

	return r.finish()
}

// run is the mutable state of one Execute call.
type run struct {
	o        *Orchestrator
	ctx      context.Context
	id       string
	started  time.Time
	failFast bool

	// inflight counts admitted nodes not yet acknowledged by a worker
	inflight sync.WaitGroup
	// queue is sized to hold every node plus one poison entry per worker,
	// so sends never block
	queue chan *readyEntry

	mu       sync.Mutex
	pending  *pendingGraph
	records  []Record
	failures int
	queued   int
	running  int
}

func (o *Orchestrator) newRun(ctx context.Context) *run {
	return &run{
		o:        o,
		ctx:      ctx,
		id:       uuid.NewString(),
		started:  time.Now(),
		failFast: o.base.FailFast(),
		queue:    make(chan *readyEntry, len(o.nodes)+o.threads),
		pending:  newPendingGraph(o.nodes),
	}
}

// admit moves every ready node to the queue. Must hold r.mu.
func (r *run) admit() {
	if r.ctx.Err() != nil {
		r.o.logger.Debug("Cancelled - not picking up any new tasks")
		return
	}
	if r.failFast && r.failures > 0 {
		r.o.logger.Debug("Failure - not picking up any new tasks")
	}

	for _, e := range r.pending.findReady(r.o.base, r.o.namespace, r.failFast, r.failures > 0) {
		r.o.logger.Info(fmt.Sprintf("Adding task %s into queue", e.node.ID))
		r.publish(events.TaskAddedEvent{Source: r.o.namespace, ID: e.node.ID, Timestamp: time.Now()})

		r.inflight.Add(1)
		r.queued++
		r.queue <- &e
	}
}

func (r *run) work() {
	for e := range r.queue {
		if e == nil {
			return
		}
		r.execute(e)
	}
}

func (r *run) execute(e *readyEntry) {
	id := e.node.ID
	logger := r.o.logger

	r.mu.Lock()
	r.queued--
	r.running++
	r.mu.Unlock()

	logger.Info(fmt.Sprintf("Starting task %s", id))
	logger.Debug(fmt.Sprintf("Starting task %s using arguments: %s", id, e.opts))
	r.publish(events.TaskStartedEvent{Source: r.o.namespace, ID: id, Options: e.opts.String(), Timestamp: time.Now()})

	ctx, unlock := r.o.locks.Acquire(r.ctx, e.node.Exclusive)
	rec := Record{ID: id, Options: e.opts, Started: time.Now()}
	if r.o.recorder != nil {
		if err := r.o.recorder.StartTask(context.WithoutCancel(r.ctx), r.id, rec); err != nil {
			logger.Warn("could not record task start", "run", r.id, "task", id, "error", err)
		}
	}
	rec.Value, rec.Err = r.invoke(ctx, e)
	rec.Finished = time.Now()
	unlock()

	if rec.Err != nil {
		logger.Info(fmt.Sprintf("Failed task %s: %v", id, rec.Err))
		r.publish(events.TaskFailedEvent{Source: r.o.namespace, ID: id, Err: rec.Err, Duration: rec.Duration(), Timestamp: rec.Finished})
	} else {
		logger.Info(fmt.Sprintf("Completed task %s: %v", id, rec.Value))
		r.publish(events.TaskCompletedEvent{Source: r.o.namespace, ID: id, Result: fmt.Sprint(rec.Value), Duration: rec.Duration(), Timestamp: rec.Finished})
	}

	if r.o.recorder != nil {
		if err := r.o.recorder.RecordTask(context.WithoutCancel(r.ctx), r.id, rec); err != nil {
			logger.Warn("could not record task", "run", r.id, "task", id, "error", err)
		}
	}

	r.mu.Lock()
	r.records = append(r.records, rec)
	if rec.Err != nil {
		r.failures++
	}
	r.running--
	r.pending.resolve(id)
	r.admit()
	logger.Debug(fmt.Sprintf("%d tasks remaining in queue", len(r.queue)))
	r.publishProgress()
	r.mu.Unlock()

	r.inflight.Done()
}

// invoke builds and runs the task of e. Construction errors and panics are
// task failures like any other. ctx carries the resource keys held for e.
func (r *run) invoke(ctx context.Context, e *readyEntry) (any, error) {
	t, err := e.node.New(r.o.rt, e.opts)
	if err != nil {
		return nil, err
	}
	return task.Call(ctx, t)
}

func (r *run) finish() *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := &Outcome{
		RunID:     r.id,
		Namespace: r.o.namespace,
		Remaining: r.pending.ids(),
		Records:   r.records,
		Started:   r.started,
		Finished:  time.Now(),
	}
	if err := r.ctx.Err(); err != nil && len(out.Remaining) > 0 {
		out.Interrupted = err
	}

	for _, rec := range r.records {
		if rec.Err != nil {
			out.Failures = append(out.Failures, Failure{ID: rec.ID, Err: rec.Err})
		} else {
			out.Completed = append(out.Completed, rec.ID)
		}
	}

	logger := r.o.logger
	if len(out.Remaining) > 0 {
		logging.Critical(logger, fmt.Sprintf("Done but some tasks remaining: %s", strings.Join(out.Remaining, ";")))
	}
	for _, f := range out.Failures {
		logging.Critical(logger, fmt.Sprintf("Could not run %s: %v", f.ID, f.Err))
	}

	r.publish(events.RunDoneEvent{
		Source:    r.o.namespace,
		RunID:     r.id,
		Completed: out.Completed,
		Failed:    out.Failed(),
		Remaining: out.Remaining,
		Timestamp: out.Finished,
	})

	if r.o.recorder != nil {
		if err := r.o.recorder.FinishRun(context.WithoutCancel(r.ctx), out); err != nil {
			logger.Warn("could not record run end", "run", r.id, "error", err)
		}
	}
	return out
}

// publishProgress emits a snapshot of the run. Must hold r.mu.
func (r *run) publishProgress() {
	if r.o.rt.Events == nil {
		return
	}
	failed := r.failures
	r.publish(events.RunProgressEvent{
		Source:    r.o.namespace,
		Total:     len(r.o.nodes),
		Completed: len(r.records) - failed,
		Failed:    failed,
		Running:   r.running,
		Queued:    r.queued,
		Pending:   r.pending.len(),
		Timestamp: time.Now(),
	})
}

func (r *run) publish(e events.Event) {
	r.o.rt.Events.Publish(e)
}
