package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/simpletasks/simpletasks/internal/events"
	"github.com/simpletasks/simpletasks/internal/logging"
	"github.com/simpletasks/simpletasks/internal/task"
)

type taskFunc func(ctx context.Context) (any, error)

func (f taskFunc) Run(ctx context.Context) (any, error) { return f(ctx) }

// sleeper returns a factory whose task sleeps d, then returns result or err.
func sleeper(d time.Duration, result any, err error) task.Factory {
	return func(rt task.Runtime, opts task.Options) (task.Task, error) {
		return taskFunc(func(ctx context.Context) (any, error) {
			time.Sleep(d)
			return result, err
		}), nil
	}
}

func succeed(d time.Duration) task.Factory { return sleeper(d, true, nil) }

func failing(d time.Duration) task.Factory { return sleeper(d, nil, errors.New("error")) }

func testRuntime(t *testing.T) (task.Runtime, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return task.Runtime{Logger: logging.New("debug", "text", &buf, true), Testing: true}, &buf
}

func mustNew(t *testing.T, name string, g *Graph, rt task.Runtime, opts task.Options, options ...Option) *Orchestrator {
	t.Helper()
	o, err := New(name, g, rt, opts, options...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func statuses(out *Outcome, ids ...string) map[string]Status {
	m := make(map[string]Status, len(ids))
	for _, id := range ids {
		m[id] = out.Status(id)
	}
	return m
}

func TestTopologicalOrder(t *testing.T) {
	rt, _ := testRuntime(t)
	g := NewGraph().
		Task("A", succeed(10*time.Millisecond)).
		Task("B", succeed(5*time.Millisecond)).
		Task("C", succeed(time.Millisecond), "A").
		Task("D", succeed(time.Millisecond), "A", "B").
		Task("E", succeed(time.Millisecond), "C", "D").
		Task("F", succeed(time.Millisecond))

	for _, threads := range []int{1, 2, 8} {
		t.Run(fmt.Sprintf("threads=%d", threads), func(t *testing.T) {
			out := mustNew(t, "Topo", g, rt, task.Options{}, WithThreads(threads)).Execute(context.Background())
			if err := out.Err(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			for _, n := range g.Nodes() {
				rec, found := out.Record(n.ID)
				if !found {
					t.Fatalf("%s did not run", n.ID)
				}
				for _, dep := range n.DependsOn {
					prereq, _ := out.Record(dep)
					if rec.Started.Before(prereq.Finished) {
						t.Errorf("%s started at %v before %s finished at %v", n.ID, rec.Started, dep, prereq.Finished)
					}
				}
			}
		})
	}
}

func TestExhaustion(t *testing.T) {
	rt, _ := testRuntime(t)
	g := NewGraph()
	for i := range 20 {
		var deps []string
		if i > 0 {
			deps = append(deps, fmt.Sprintf("T%02d", (i-1)/2))
		}
		g.Task(fmt.Sprintf("T%02d", i), succeed(time.Millisecond), deps...)
	}

	out := mustNew(t, "Tree", g, rt, task.Options{}, WithThreads(3)).Execute(context.Background())

	if err := out.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Completed) != 20 {
		t.Errorf("completed %d tasks, want 20", len(out.Completed))
	}
	if len(out.Remaining) != 0 || len(out.Failures) != 0 {
		t.Errorf("remaining=%v failures=%v, want none", out.Remaining, out.Failures)
	}
}

func TestFailFast(t *testing.T) {
	rt, _ := testRuntime(t)

	t.Run("dependent of failed task never runs", func(t *testing.T) {
		g := NewGraph().
			Task("A", failing(0)).
			Task("B", succeed(0), "A").
			Task("C", succeed(0))

		out := mustNew(t, "Orch", g, rt, task.Options{}, WithThreads(2)).Execute(context.Background())

		want := map[string]Status{"A": StatusFailed, "B": StatusPending, "C": StatusCompleted}
		if diff := cmp.Diff(want, statuses(out, "A", "B", "C")); diff != "" {
			t.Errorf("status mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"B"}, out.Remaining); diff != "" {
			t.Errorf("remaining mismatch (-want +got):\n%s", diff)
		}
		if !errors.Is(out.Err(), ErrTaskFailed) {
			t.Errorf("Err() = %v, want ErrTaskFailed", out.Err())
		}
	})

	t.Run("no admissions after failure", func(t *testing.T) {
		g := NewGraph().
			Task("A", failing(0)).
			Task("B", succeed(50*time.Millisecond)).
			Task("C", succeed(0), "B")

		out := mustNew(t, "Orch", g, rt, task.Options{}, WithThreads(2)).Execute(context.Background())

		if out.Status("C") != StatusPending {
			t.Errorf("C ran after A failed under fail-fast")
		}
		if out.Status("B") != StatusCompleted {
			t.Errorf("already admitted B should finish, got %v", out.Status("B"))
		}
	})
}

func TestFailFastDisabled(t *testing.T) {
	rt, _ := testRuntime(t)
	g := NewGraph().
		Task("A", failing(0)).
		Task("B", succeed(0), "A").
		Task("C", succeed(0))

	out := mustNew(t, "Orch", g, rt, task.Options{FailOnException: task.Bool(false)}, WithThreads(2)).Execute(context.Background())

	want := map[string]Status{"A": StatusFailed, "B": StatusCompleted, "C": StatusCompleted}
	if diff := cmp.Diff(want, statuses(out, "A", "B", "C")); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if len(out.Remaining) != 0 {
		t.Errorf("remaining = %v, want none", out.Remaining)
	}
	if !errors.Is(out.Err(), ErrTaskFailed) {
		t.Errorf("Err() = %v, want ErrTaskFailed", out.Err())
	}
	if len(out.Failures) != 1 || out.Failures[0].ID != "A" || out.Failures[0].Err.Error() != "error" {
		t.Errorf("failures = %v, want A: error", out.Failures)
	}
}

func TestUnsatisfiableDependency(t *testing.T) {
	rt, buf := testRuntime(t)
	g := NewGraph().
		Task("A", succeed(0)).
		Task("B", succeed(0)).
		Task("D", succeed(0), "X")

	o := mustNew(t, "OrchDeadlock", g, rt, task.Options{}, WithThreads(3))
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("remaining tasks must not be an error, got %v", err)
	}

	out := res.(*Outcome)
	if diff := cmp.Diff([]string{"D"}, out.Remaining); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}
	if out.Status("A") != StatusCompleted || out.Status("B") != StatusCompleted {
		t.Errorf("A and B should complete: %v", out.Records)
	}

	logs := buf.String()
	for _, want := range []string{
		`level=WARN msg="Task D depends on unknown tasks: X" logger=simpletasks.OrchDeadlock`,
		`level=CRITICAL msg="Done but some tasks remaining: D" logger=simpletasks.OrchDeadlock`,
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("missing log line %q in:\n%s", want, logs)
		}
	}
}

func TestOptionPrecedence(t *testing.T) {
	rt, _ := testRuntime(t)

	var mu sync.Mutex
	seen := make(map[string]task.Options)
	capture := func(rt task.Runtime, opts task.Options) (task.Task, error) {
		return taskFunc(func(ctx context.Context) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			seen[opts.LoggerNamespace] = opts
			return nil, nil
		}), nil
	}

	g := NewGraph()
	g.Add(Node{ID: "T", New: capture, Options: task.Options{DryRun: task.Bool(false), LoggerNamespace: "custom"}})
	g.Add(Node{ID: "U", New: capture})

	base := task.Options{LoggerNamespace: "P", DryRun: task.Bool(true)}
	out := mustNew(t, "ignored", g, rt, base).Execute(context.Background())
	if err := out.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tOpts, found := seen["P.T"]
	if !found {
		t.Fatalf("T did not run under derived namespace P.T, saw %v", seen)
	}
	if got, want := tOpts.String(), "{dryrun: false, loggernamespace: P.T}"; got != want {
		t.Errorf("T options = %s, want %s", got, want)
	}
	if uOpts := seen["P.U"]; !uOpts.IsDryRun() {
		t.Error("U should inherit dryrun from the base options")
	}
}

func TestCycleRejected(t *testing.T) {
	rt, _ := testRuntime(t)
	g := NewGraph().
		Task("A", succeed(0), "C").
		Task("B", succeed(0), "A").
		Task("C", succeed(0), "B")

	_, err := New("Cyclic", g, rt, task.Options{})
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("New() error = %v, want ErrCycle", err)
	}
}

func TestReuse(t *testing.T) {
	rt, _ := testRuntime(t)
	g := NewGraph().
		Task("A", succeed(0)).
		Task("B", failing(0), "A").
		Task("C", succeed(0), "B")

	o := mustNew(t, "Orch2", g, rt, task.Options{}, WithThreads(2))

	first := o.Execute(context.Background())
	second := o.Execute(context.Background())

	for i, out := range []*Outcome{first, second} {
		want := map[string]Status{"A": StatusCompleted, "B": StatusFailed, "C": StatusPending}
		if diff := cmp.Diff(want, statuses(out, "A", "B", "C")); diff != "" {
			t.Errorf("run %d status mismatch (-want +got):\n%s", i+1, diff)
		}
	}
	if first.RunID == second.RunID {
		t.Error("runs should get distinct identifiers")
	}
}

func TestConcurrentRuns(t *testing.T) {
	rt, _ := testRuntime(t)
	g := NewGraph().
		Task("A", succeed(5*time.Millisecond)).
		Task("B", succeed(5*time.Millisecond), "A")
	o := mustNew(t, "Shared", g, rt, task.Options{}, WithThreads(2))

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := o.Execute(context.Background())
			if len(out.Completed) != 2 {
				errs <- fmt.Errorf("completed = %v", out.Completed)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestNestedOrchestrator(t *testing.T) {
	rt, buf := testRuntime(t)

	var innerNS atomic.Value
	inner := NewGraph().
		Task("A", task.Wrap("A", func(ctx context.Context, env *task.Env) (any, error) {
			innerNS.Store(env.Namespace())
			return 1, nil
		})).
		Task("Fail", failing(0), "A")

	outer := NewGraph().
		Task("Inner", Factory("Inner", inner, WithThreads(1))).
		Task("After", succeed(0), "Inner").
		Task("Independent", succeed(0))

	out := mustNew(t, "Outer", outer, rt, task.Options{FailOnException: task.Bool(false)}, WithThreads(2)).Execute(context.Background())

	if got := innerNS.Load(); got != "simpletasks.Outer.Inner.A" {
		t.Errorf("inner task namespace = %v", got)
	}

	rec, _ := out.Record("Inner")
	if !errors.Is(rec.Err, ErrTaskFailed) {
		t.Errorf("Inner error = %v, want ErrTaskFailed", rec.Err)
	}
	if out.Status("After") != StatusCompleted {
		t.Errorf("After should run with fail-fast disabled, got %v", out.Status("After"))
	}

	logs := buf.String()
	for _, want := range []string{
		`level=CRITICAL msg="Could not run Fail: error" logger=simpletasks.Outer.Inner`,
		`level=CRITICAL msg="Could not run Inner: task failed" logger=simpletasks.Outer`,
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("missing log line %q", want)
		}
	}
}

func TestLogMessages(t *testing.T) {
	rt, buf := testRuntime(t)
	g := NewGraph().
		Task("NominalTask", succeed(0)).
		Task("FailureTask", task.Wrap("FailureTask", func(ctx context.Context, env *task.Env) (any, error) {
			return nil, errors.New("error")
		}), "NominalTask").
		Task("NominalTask4", succeed(0), "FailureTask")

	base := task.Options{Progress: task.Bool(false), DryRun: task.Bool(true), Verbose: task.Bool(true)}
	_, err := mustNew(t, "Orch", g, rt, base, WithThreads(3)).Run(context.Background())
	if !errors.Is(err, ErrTaskFailed) || err.Error() != "task failed" {
		t.Fatalf("Run() error = %v, want task failed", err)
	}

	logs := buf.String()
	for _, want := range []string{
		`level=INFO msg="Adding task NominalTask into queue" logger=simpletasks.Orch`,
		`level=INFO msg="Starting task NominalTask" logger=simpletasks.Orch` + "\n" +
			`level=DEBUG msg="Starting task NominalTask using arguments: {dryrun: true, loggernamespace: simpletasks.Orch.NominalTask, progress: false, verbose: true}" logger=simpletasks.Orch`,
		`level=INFO msg="Completed task NominalTask: true" logger=simpletasks.Orch`,
		`level=CRITICAL msg="Got exception: error" logger=simpletasks.Orch.FailureTask`,
		`level=INFO msg="Failed task FailureTask: error" logger=simpletasks.Orch`,
		`level=DEBUG msg="Failure - not picking up any new tasks" logger=simpletasks.Orch`,
		`level=DEBUG msg="0 tasks remaining in queue" logger=simpletasks.Orch`,
		`level=CRITICAL msg="Done but some tasks remaining: NominalTask4" logger=simpletasks.Orch`,
		`level=CRITICAL msg="Could not run FailureTask: error" logger=simpletasks.Orch`,
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("missing log output %q in:\n%s", want, logs)
		}
	}
	if strings.Contains(logs, "Starting task NominalTask4") {
		t.Error("NominalTask4 must not start after a failure")
	}
}

func TestEventTrail(t *testing.T) {
	rt, _ := testRuntime(t)
	bus := events.NewEventBus()
	defer bus.Close()
	rt.Events = bus
	ch := bus.SubscribeAll(256)

	g := NewGraph().
		Task("NominalTask", succeed(0)).
		Task("NominalTask2", succeed(0)).
		Task("NominalTask3", succeed(0), "NominalTask").
		Task("FailureTask", failing(0), "NominalTask2").
		Task("NominalTask4", succeed(0), "NominalTask2", "NominalTask3")

	out := mustNew(t, "Orch", g, rt, task.Options{}, WithThreads(1)).Execute(context.Background())

	var trail []string
	var progress []events.RunProgressEvent
	for len(ch) > 0 {
		switch e := (<-ch).(type) {
		case events.RunProgressEvent:
			progress = append(progress, e)
		case events.RunDoneEvent:
			trail = append(trail, "done:"+strings.Join(e.Remaining, ";"))
		default:
			trail = append(trail, e.EventType()+":"+e.TaskID())
		}
	}

	want := []string{
		"task.added:NominalTask",
		"task.added:NominalTask2",
		"task.started:NominalTask",
		"task.completed:NominalTask",
		"task.added:NominalTask3",
		"task.started:NominalTask2",
		"task.completed:NominalTask2",
		"task.added:FailureTask",
		"task.started:NominalTask3",
		"task.completed:NominalTask3",
		"task.added:NominalTask4",
		"task.started:FailureTask",
		"task.failed:FailureTask",
		"task.started:NominalTask4",
		"task.completed:NominalTask4",
		"done:",
	}
	if diff := cmp.Diff(want, trail); diff != "" {
		t.Errorf("event trail mismatch (-want +got):\n%s", diff)
	}

	if len(progress) != 6 {
		t.Fatalf("got %d progress snapshots, want one per pass (6)", len(progress))
	}
	last := progress[len(progress)-1]
	if last.Total != 5 || last.Completed != 4 || last.Failed != 1 || last.Pending != 0 || last.Running != 0 {
		t.Errorf("final snapshot = %+v", last)
	}
	if !errors.Is(out.Err(), ErrTaskFailed) {
		t.Errorf("Err() = %v, want ErrTaskFailed", out.Err())
	}
}

func TestThreadBound(t *testing.T) {
	rt, _ := testRuntime(t)

	var current, peak atomic.Int32
	tracked := func(rt task.Runtime, opts task.Options) (task.Task, error) {
		return taskFunc(func(ctx context.Context) (any, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return nil, nil
		}), nil
	}

	g := NewGraph()
	for i := range 8 {
		g.Task(fmt.Sprintf("T%d", i), tracked)
	}
	mustNew(t, "Bound", g, rt, task.Options{}, WithThreads(3)).Execute(context.Background())

	if p := peak.Load(); p > 3 || p < 2 {
		t.Errorf("peak concurrency = %d, want between 2 and 3", p)
	}
}

func TestExclusiveKeys(t *testing.T) {
	rt, _ := testRuntime(t)

	var current, peak atomic.Int32
	guarded := func(rt task.Runtime, opts task.Options) (task.Task, error) {
		return taskFunc(func(ctx context.Context) (any, error) {
			n := current.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return nil, nil
		}), nil
	}

	g := NewGraph()
	g.Add(Node{ID: "W1", New: guarded, Exclusive: []string{"db"}})
	g.Add(Node{ID: "W2", New: guarded, Exclusive: []string{"db", "cache"}})
	g.Add(Node{ID: "W3", New: guarded, Exclusive: []string{"db"}})

	out := mustNew(t, "Excl", g, rt, task.Options{}, WithThreads(3)).Execute(context.Background())
	if len(out.Completed) != 3 {
		t.Fatalf("completed = %v", out.Completed)
	}
	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrency = %d, tasks sharing a key overlapped", p)
	}
}

func TestNestedExclusiveKey(t *testing.T) {
	rt, _ := testRuntime(t)
	locks := NewResourceLockManager()

	var current, peak atomic.Int32
	guarded := func(rt task.Runtime, opts task.Options) (task.Task, error) {
		return taskFunc(func(ctx context.Context) (any, error) {
			n := current.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil, nil
		}), nil
	}

	inner := NewGraph()
	inner.Add(Node{ID: "X", New: guarded, Exclusive: []string{"db"}})
	inner.Add(Node{ID: "Y", New: guarded, Exclusive: []string{"db"}})

	outer := NewGraph()
	outer.Add(Node{ID: "Inner", New: Factory("Inner", inner, WithThreads(2), WithLocks(locks)), Exclusive: []string{"db"}})
	outer.Add(Node{ID: "Sibling", New: guarded, Exclusive: []string{"db"}})

	o := mustNew(t, "Outer", outer, rt, task.Options{}, WithThreads(2), WithLocks(locks))
	done := make(chan *Outcome, 1)
	go func() { done <- o.Execute(context.Background()) }()

	var out *Outcome
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested node waited for a key held by its parent node")
	}

	if err := out.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Completed) != 2 {
		t.Errorf("completed = %v", out.Completed)
	}
	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrency = %d, tasks sharing a key overlapped", p)
	}
	if n := locks.Held(); n != 0 {
		t.Errorf("Held() = %d after the run, want 0", n)
	}
}

func TestPanicAndConstructionFailures(t *testing.T) {
	rt, _ := testRuntime(t)
	boom := errors.New("cannot build")

	g := NewGraph().
		Task("Panics", func(rt task.Runtime, opts task.Options) (task.Task, error) {
			return taskFunc(func(ctx context.Context) (any, error) { panic("kaboom") }), nil
		}).
		Task("Unbuildable", func(rt task.Runtime, opts task.Options) (task.Task, error) {
			return nil, boom
		})

	out := mustNew(t, "Broken", g, rt, task.Options{FailOnException: task.Bool(false)}, WithThreads(2)).Execute(context.Background())

	p, _ := out.Record("Panics")
	if !errors.Is(p.Err, task.ErrPanic) {
		t.Errorf("Panics error = %v, want ErrPanic", p.Err)
	}
	u, _ := out.Record("Unbuildable")
	if !errors.Is(u.Err, boom) {
		t.Errorf("Unbuildable error = %v, want construction error", u.Err)
	}
}

func TestCancelledContext(t *testing.T) {
	rt, _ := testRuntime(t)
	g := NewGraph().
		Task("A", succeed(0)).
		Task("B", succeed(0), "A")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := mustNew(t, "Cancelled", g, rt, task.Options{}).Execute(ctx)
	if len(out.Records) != 0 {
		t.Errorf("records = %v, nothing should run", out.Records)
	}
	if diff := cmp.Diff([]string{"A", "B"}, out.Remaining); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(out.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", out.Err())
	}
}

func TestCancelStopsAdmissions(t *testing.T) {
	rt, _ := testRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())

	g := NewGraph().
		Task("A", func(rt task.Runtime, opts task.Options) (task.Task, error) {
			return taskFunc(func(ctx context.Context) (any, error) {
				cancel()
				return "done", nil
			}), nil
		}).
		Task("B", succeed(0), "A")

	out := mustNew(t, "Cancelling", g, rt, task.Options{}).Execute(ctx)
	if out.Status("A") != StatusCompleted || out.Status("B") != StatusPending {
		t.Errorf("A should finish and B never start: %v", out.Records)
	}
	if !errors.Is(out.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", out.Err())
	}
}

type fakeRecorder struct {
	mu       sync.Mutex
	begun    []RunInfo
	started  map[string][]string
	recorded map[string][]string
	finished []*Outcome
	failNext bool
}

func (f *fakeRecorder) BeginRun(ctx context.Context, info RunInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begun = append(f.begun, info)
	if f.failNext {
		return errors.New("disk full")
	}
	return nil
}

func (f *fakeRecorder) StartTask(ctx context.Context, runID string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started == nil {
		f.started = make(map[string][]string)
	}
	if rec.Started.IsZero() || !rec.Finished.IsZero() {
		return errors.New("start record should carry only a start time")
	}
	f.started[runID] = append(f.started[runID], rec.ID+"@"+rec.Options.LoggerNamespace)
	return nil
}

func (f *fakeRecorder) RecordTask(ctx context.Context, runID string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recorded == nil {
		f.recorded = make(map[string][]string)
	}
	f.recorded[runID] = append(f.recorded[runID], rec.ID+"="+rec.Status().String())
	return nil
}

func (f *fakeRecorder) FinishRun(ctx context.Context, outcome *Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, outcome)
	return nil
}

func TestRecorder(t *testing.T) {
	rt, buf := testRuntime(t)
	rec := &fakeRecorder{failNext: true}
	g := NewGraph().
		Task("A", succeed(0)).
		Task("B", failing(0), "A")

	out := mustNew(t, "Recorded", g, rt, task.Options{}, WithThreads(1), WithRecorder(rec)).Execute(context.Background())

	if len(rec.begun) != 1 || rec.begun[0].ID != out.RunID || len(rec.begun[0].Nodes) != 2 {
		t.Fatalf("BeginRun calls = %+v", rec.begun)
	}
	wantStarted := []string{"A@simpletasks.Recorded.A", "B@simpletasks.Recorded.B"}
	if diff := cmp.Diff(wantStarted, rec.started[out.RunID]); diff != "" {
		t.Errorf("started tasks mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(buf.String(), "could not record task start") {
		t.Errorf("unexpected start recording failure:\n%s", buf.String())
	}
	if diff := cmp.Diff([]string{"A=completed", "B=failed"}, rec.recorded[out.RunID]); diff != "" {
		t.Errorf("recorded tasks mismatch (-want +got):\n%s", diff)
	}
	if len(rec.finished) != 1 || rec.finished[0] != out {
		t.Errorf("FinishRun should receive the outcome")
	}
	if !strings.Contains(buf.String(), "could not record run start") {
		t.Error("recorder errors should be logged")
	}
}
