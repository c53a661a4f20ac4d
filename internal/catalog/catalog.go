// Package catalog turns configured definitions into runnable tasks.
//
// A task type name resolves, in order, to a factory registered in the
// task.Registry, a configured orchestrator or a configured pipeline.
// Orchestrators and pipelines may reference each other freely as long as no
// definition ends up containing itself.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/simpletasks/simpletasks/internal/config"
	"github.com/simpletasks/simpletasks/internal/events"
	"github.com/simpletasks/simpletasks/internal/logging"
	"github.com/simpletasks/simpletasks/internal/pipeline"
	"github.com/simpletasks/simpletasks/internal/scheduler"
	"github.com/simpletasks/simpletasks/internal/task"
)

// ErrRecursive is returned when a definition contains itself.
var ErrRecursive = errors.New("recursive definition")

// Catalog resolves task type names against a registry and a configuration.
type Catalog struct {
	cfg      *config.Config
	registry *task.Registry
	recorder scheduler.Recorder
	locks    *scheduler.ResourceLockManager

	mu        sync.Mutex
	factories map[string]task.Factory
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithRecorder records the history of every orchestrator and pipeline run
// the catalog builds.
func WithRecorder(r scheduler.Recorder) Option {
	return func(c *Catalog) { c.recorder = r }
}

// New creates a catalog. All orchestrators it builds share one resource
// lock manager, so exclusive keys hold across definitions.
func New(cfg *config.Config, registry *task.Registry, options ...Option) *Catalog {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if registry == nil {
		registry = task.NewRegistry()
	}
	c := &Catalog{
		cfg:       cfg,
		registry:  registry,
		locks:     scheduler.NewResourceLockManager(),
		factories: make(map[string]task.Factory),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Names lists every resolvable name, sorted.
func (c *Catalog) Names() []string {
	names := c.registry.Names()
	for name := range c.cfg.Orchestrators {
		names = append(names, name)
	}
	for name := range c.cfg.Pipelines {
		names = append(names, name)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Factory resolves name into a task factory.
func (c *Catalog) Factory(name string) (task.Factory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolve(name, nil)
}

// Check resolves every configured definition and reports all problems.
func (c *Catalog) Check() error {
	var errs []error
	for _, name := range c.Names() {
		if _, err := c.Factory(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Defaults returns the options every top-level run starts from.
func (c *Catalog) Defaults() task.Options {
	var opts task.Options
	if v := c.cfg.Settings.FailOnException; v != nil {
		opts.FailOnException = task.Bool(*v)
	}
	return opts
}

// Build resolves name and builds it with opts layered over the defaults.
func (c *Catalog) Build(name string, rt task.Runtime, opts task.Options) (task.Task, error) {
	f, err := c.Factory(name)
	if err != nil {
		return nil, err
	}
	return f(rt, c.Defaults().Override(opts))
}

// Run builds name and runs it.
func (c *Catalog) Run(ctx context.Context, name string, rt task.Runtime, opts task.Options) (any, error) {
	t, err := c.Build(name, rt, opts)
	if err != nil {
		return nil, err
	}
	return task.Call(ctx, t)
}

// resolve must be called with c.mu held. stack holds the definitions being
// built, outermost first.
func (c *Catalog) resolve(name string, stack []string) (task.Factory, error) {
	if f, ok := c.factories[name]; ok {
		return f, nil
	}
	if f, err := c.registry.Lookup(name); err == nil {
		return f, nil
	}
	if slices.Contains(stack, name) {
		return nil, fmt.Errorf("%w: %s", ErrRecursive, strings.Join(append(stack, name), " -> "))
	}

	var (
		f   task.Factory
		err error
	)
	if oc, ok := c.cfg.Orchestrators[name]; ok {
		f, err = c.buildOrchestrator(name, oc, append(stack, name))
	} else if pc, ok := c.cfg.Pipelines[name]; ok {
		f, err = c.buildPipeline(name, pc, append(stack, name))
	} else {
		return nil, fmt.Errorf("%w: %q", task.ErrUnknownTask, name)
	}
	if err != nil {
		return nil, err
	}

	c.factories[name] = f
	return f, nil
}

func (c *Catalog) buildOrchestrator(name string, oc config.OrchestratorConfig, stack []string) (task.Factory, error) {
	base, err := task.FromMap(oc.Options)
	if err != nil {
		return nil, fmt.Errorf("orchestrator %s: %w", name, err)
	}

	g := scheduler.NewGraph()
	for _, tc := range oc.Tasks {
		f, err := c.resolve(tc.Type, stack)
		if err != nil {
			return nil, fmt.Errorf("orchestrator %s: task %s: %w", name, tc.ID, err)
		}
		opts, err := task.FromMap(tc.Options)
		if err != nil {
			return nil, fmt.Errorf("orchestrator %s: task %s: %w", name, tc.ID, err)
		}
		n := scheduler.Node{ID: tc.ID, New: f, DependsOn: tc.DependsOn, Options: opts, Exclusive: tc.Exclusive}
		if err := g.Add(n); err != nil {
			return nil, fmt.Errorf("orchestrator %s: %w", name, err)
		}
	}
	if _, err := g.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator %s: %w", name, err)
	}

	threads := oc.Threads
	if threads == 0 {
		threads = c.cfg.Settings.Threads
	}
	if threads == 0 {
		threads = scheduler.DefaultThreads
	}

	options := []scheduler.Option{scheduler.WithThreads(threads), scheduler.WithLocks(c.locks)}
	if c.recorder != nil {
		options = append(options, scheduler.WithRecorder(c.recorder))
	}
	return withDefinitionOptions(scheduler.Factory(name, g, options...), base), nil
}

func (c *Catalog) buildPipeline(name string, pc config.PipelineConfig, stack []string) (task.Factory, error) {
	base, err := task.FromMap(pc.Options)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", name, err)
	}

	steps := make([]pipeline.Step, 0, len(pc.Steps))
	for _, sc := range pc.Steps {
		f, err := c.resolve(sc.Task, stack)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: step %s: %w", name, sc.StepID(), err)
		}
		opts, err := task.FromMap(sc.Options)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: step %s: %w", name, sc.StepID(), err)
		}
		steps = append(steps, pipeline.Step{ID: sc.StepID(), New: f, Options: opts})
	}

	var options []pipeline.Option
	if c.recorder != nil {
		options = append(options, pipeline.WithRecorder(c.recorder))
	}
	return withDefinitionOptions(pipeline.Factory(name, steps, options...), base), nil
}

// withDefinitionOptions layers the options of a definition over the options
// it is built with. The namespace handed down by a parent is kept.
func withDefinitionOptions(f task.Factory, def task.Options) task.Factory {
	return func(rt task.Runtime, opts task.Options) (task.Task, error) {
		merged := opts.Override(def)
		if opts.LoggerNamespace != "" {
			merged.LoggerNamespace = opts.LoggerNamespace
		}
		return f(rt, merged)
	}
}

// Runtime builds the runtime described by the settings, logging to w.
func Runtime(s config.Settings, w io.Writer, bus *events.EventBus) task.Runtime {
	logger := logging.New(s.LogLevel, s.LogFormat, w, false)
	return task.Runtime{
		Logger:    logger,
		Namespace: s.Namespace,
		Events:    bus,
		Breakers:  task.NewBreakerRegistry(task.DefaultBreakerConfig(), logger),
		Processes: task.NewProcessManager(),
	}
}
