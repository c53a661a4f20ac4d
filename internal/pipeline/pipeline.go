// Package pipeline runs tasks one after another.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/simpletasks/simpletasks/internal/events"
	"github.com/simpletasks/simpletasks/internal/logging"
	"github.com/simpletasks/simpletasks/internal/scheduler"
	"github.com/simpletasks/simpletasks/internal/task"
)

// ErrTaskFailed is the aggregate failure of a pipeline whose failures were
// collected rather than raised. It is the same sentinel the scheduler uses,
// so nested failures compare equal at every level.
var ErrTaskFailed = scheduler.ErrTaskFailed

// Step is one stage of a pipeline.
type Step struct {
	ID      string
	New     task.Factory
	Options task.Options
}

// Pipeline runs its steps sequentially with the same option merge rule as
// the scheduler: base options, then step overrides, then the derived
// namespace. With fail_on_exception (the default) the first failing step
// stops the pipeline and its error is returned as is; otherwise every step
// runs and ErrTaskFailed is returned once at the end.
type Pipeline struct {
	name      string
	namespace string
	steps     []Step
	base      task.Options
	rt        task.Runtime
	logger    *slog.Logger
	recorder  scheduler.Recorder
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder attaches an execution history recorder.
func WithRecorder(r scheduler.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// New builds a pipeline called name.
func New(name string, steps []Step, rt task.Runtime, opts task.Options, options ...Option) (*Pipeline, error) {
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			return nil, fmt.Errorf("pipeline %s: step %d has no identity", name, i)
		}
		if s.New == nil {
			return nil, fmt.Errorf("pipeline %s: step %q: nil factory", name, s.ID)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("pipeline %s: %w: %q", name, scheduler.ErrDuplicateTask, s.ID)
		}
		seen[s.ID] = true
	}

	ns := rt.NamespaceFor(name, opts)
	base := opts.Clone()
	base.LoggerNamespace = ns

	p := &Pipeline{
		name:      name,
		namespace: ns,
		steps:     append([]Step(nil), steps...),
		base:      base,
		rt:        rt,
		logger:    rt.Named(ns),
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// Factory returns a task.Factory building pipelines, for nesting.
func Factory(name string, steps []Step, options ...Option) task.Factory {
	return func(rt task.Runtime, opts task.Options) (task.Task, error) {
		return New(name, steps, rt, opts, options...)
	}
}

// Namespace returns the logger namespace of the pipeline.
func (p *Pipeline) Namespace() string { return p.namespace }

// Run executes the pipeline. Under fail-fast the failing step's own error is
// returned; otherwise failures surface as ErrTaskFailed.
func (p *Pipeline) Run(ctx context.Context) (any, error) {
	out := p.Execute(ctx)
	if p.base.FailFast() && len(out.Failures) > 0 {
		return out, out.Failures[0].Err
	}
	return out, out.Err()
}

// Execute runs the steps in order and reports what happened. Steps after a
// fail-fast stop or a cancelled context are listed as remaining.
func (p *Pipeline) Execute(ctx context.Context) *scheduler.Outcome {
	out := &scheduler.Outcome{
		RunID:     uuid.NewString(),
		Namespace: p.namespace,
		Started:   time.Now(),
	}
	p.begin(ctx, out)

	failFast := p.base.FailFast()
	for i, s := range p.steps {
		if err := ctx.Err(); err != nil {
			out.Interrupted = err
			out.Remaining = stepIDs(p.steps[i:])
			break
		}

		rec := p.runStep(ctx, out.RunID, s)
		out.Records = append(out.Records, rec)
		if rec.Err == nil {
			out.Completed = append(out.Completed, s.ID)
			continue
		}

		out.Failures = append(out.Failures, scheduler.Failure{ID: s.ID, Err: rec.Err})
		if failFast {
			out.Remaining = stepIDs(p.steps[i+1:])
			break
		}
	}
	out.Finished = time.Now()

	if !failFast {
		for _, f := range out.Failures {
			logging.Critical(p.logger, fmt.Sprintf("Could not run %s: %v", f.ID, f.Err))
		}
	}
	p.finish(ctx, out)
	return out
}

func (p *Pipeline) runStep(ctx context.Context, runID string, s Step) scheduler.Record {
	opts := task.Derive(p.base, s.Options, p.namespace, s.ID)
	p.logger.Debug(fmt.Sprintf("Starting task %s", s.ID), "options", opts.String())
	p.rt.Events.Publish(events.TaskStartedEvent{Source: p.namespace, ID: s.ID, Options: opts.String(), Timestamp: time.Now()})

	rec := scheduler.Record{ID: s.ID, Options: opts, Started: time.Now()}
	if p.recorder != nil {
		if err := p.recorder.StartTask(context.WithoutCancel(ctx), runID, rec); err != nil {
			p.logger.Warn("could not record task start", "task", s.ID, "error", err)
		}
	}
	t, err := s.New(p.rt, opts)
	if err == nil {
		rec.Value, err = task.Call(ctx, t)
	}
	rec.Err = err
	rec.Finished = time.Now()

	if err != nil {
		p.rt.Events.Publish(events.TaskFailedEvent{Source: p.namespace, ID: s.ID, Err: err, Duration: rec.Duration(), Timestamp: rec.Finished})
	} else {
		p.rt.Events.Publish(events.TaskCompletedEvent{Source: p.namespace, ID: s.ID, Result: fmt.Sprint(rec.Value), Duration: rec.Duration(), Timestamp: rec.Finished})
	}

	if p.recorder != nil {
		if err := p.recorder.RecordTask(context.WithoutCancel(ctx), runID, rec); err != nil {
			p.logger.Warn("could not record task", "task", s.ID, "error", err)
		}
	}
	return rec
}

func (p *Pipeline) begin(ctx context.Context, out *scheduler.Outcome) {
	if p.recorder == nil {
		return
	}
	info := scheduler.RunInfo{ID: out.RunID, Namespace: p.namespace, Threads: 1, Started: out.Started}
	for i, s := range p.steps {
		n := scheduler.Node{ID: s.ID, New: s.New, Options: s.Options}
		if i > 0 {
			n.DependsOn = []string{p.steps[i-1].ID}
		}
		info.Nodes = append(info.Nodes, n)
	}
	if err := p.recorder.BeginRun(ctx, info); err != nil {
		p.logger.Warn("could not record run start", "run", out.RunID, "error", err)
	}
}

func (p *Pipeline) finish(ctx context.Context, out *scheduler.Outcome) {
	p.rt.Events.Publish(events.RunDoneEvent{
		Source:    p.namespace,
		RunID:     out.RunID,
		Completed: out.Completed,
		Failed:    out.Failed(),
		Remaining: out.Remaining,
		Timestamp: out.Finished,
	})
	if p.recorder == nil {
		return
	}
	if err := p.recorder.FinishRun(context.WithoutCancel(ctx), out); err != nil {
		p.logger.Warn("could not record run end", "run", out.RunID, "error", err)
	}
}

func stepIDs(steps []Step) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}
