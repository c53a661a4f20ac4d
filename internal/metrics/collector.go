// Package metrics exports scheduler activity as Prometheus metrics, fed
// from the event bus.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/simpletasks/simpletasks/internal/events"
)

// Run outcome labels.
const (
	RunCompleted  = "completed"
	RunFailed     = "failed"
	RunIncomplete = "incomplete" // no failures, but some tasks never became ready
)

// Collector turns events into metrics. All series are labelled with the
// namespace of the orchestrator or pipeline that published them.
type Collector struct {
	tasks    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	running  *prometheus.GaugeVec
	queued   *prometheus.GaugeVec
	pending  *prometheus.GaugeVec
	progress *prometheus.GaugeVec
}

// NewCollector creates the metrics and registers them with reg. Metrics
// already registered by another collector are shared.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "simpletasks_task_events_total", Help: "Task lifecycle events by kind (added, started, completed, failed)."},
			[]string{"source", "event"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "simpletasks_task_duration_seconds", Help: "Duration of task executions in seconds.", Buckets: prometheus.DefBuckets},
			[]string{"source", "status"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "simpletasks_runs_total", Help: "Orchestrator and pipeline runs by outcome."},
			[]string{"source", "status"},
		),
		running: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "simpletasks_tasks_running", Help: "Tasks currently executing."},
			[]string{"source"},
		),
		queued: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "simpletasks_queue_depth", Help: "Tasks admitted to the ready queue and not yet picked up."},
			[]string{"source"},
		),
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "simpletasks_tasks_remaining", Help: "Tasks whose prerequisites are not yet satisfied."},
			[]string{"source"},
		),
		progress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "simpletasks_task_progress_ratio", Help: "Reported progress of a running task, between 0 and 1."},
			[]string{"namespace"},
		),
	}

	var err error
	c.tasks = register(reg, c.tasks, &err)
	c.duration = register(reg, c.duration, &err)
	c.runs = register(reg, c.runs, &err)
	c.running = register(reg, c.running, &err)
	c.queued = register(reg, c.queued, &err)
	c.pending = register(reg, c.pending, &err)
	c.progress = register(reg, c.progress, &err)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// register registers col, returning the already registered collector of the
// same description when there is one. The first other failure is stored in
// errp.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, errp *error) T {
	err := reg.Register(col)
	if err == nil {
		return col
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	if *errp == nil {
		*errp = err
	}
	return col
}

// Observe updates the metrics for one event.
func (c *Collector) Observe(e events.Event) {
	switch ev := e.(type) {
	case events.TaskAddedEvent:
		c.tasks.WithLabelValues(ev.Source, "added").Inc()
	case events.TaskStartedEvent:
		c.tasks.WithLabelValues(ev.Source, "started").Inc()
	case events.TaskCompletedEvent:
		c.tasks.WithLabelValues(ev.Source, "completed").Inc()
		c.duration.WithLabelValues(ev.Source, "completed").Observe(ev.Duration.Seconds())
	case events.TaskFailedEvent:
		c.tasks.WithLabelValues(ev.Source, "failed").Inc()
		c.duration.WithLabelValues(ev.Source, "failed").Observe(ev.Duration.Seconds())
	case events.TaskProgressEvent:
		if ev.Total > 0 {
			c.progress.WithLabelValues(ev.Namespace).Set(float64(ev.Done) / float64(ev.Total))
		}
	case events.RunProgressEvent:
		c.running.WithLabelValues(ev.Source).Set(float64(ev.Running))
		c.queued.WithLabelValues(ev.Source).Set(float64(ev.Queued))
		c.pending.WithLabelValues(ev.Source).Set(float64(ev.Pending))
	case events.RunDoneEvent:
		status := RunCompleted
		switch {
		case len(ev.Failed) > 0:
			status = RunFailed
		case len(ev.Remaining) > 0:
			status = RunIncomplete
		}
		c.runs.WithLabelValues(ev.Source, status).Inc()
		c.running.WithLabelValues(ev.Source).Set(0)
		c.queued.WithLabelValues(ev.Source).Set(0)
		c.pending.WithLabelValues(ev.Source).Set(float64(len(ev.Remaining)))
	}
}

// Consume observes events from ch until it is closed or ctx is done.
func (c *Collector) Consume(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}
