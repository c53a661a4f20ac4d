// Package task defines the unit of work run by pipelines and orchestrators,
// the options every task receives, and the helpers task bodies use to stub
// side effects, retry flaky operations and report progress.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/simpletasks/simpletasks/internal/events"
	"github.com/simpletasks/simpletasks/internal/logging"
)

// DefaultNamespace is the root namespace used when a Runtime names none.
const DefaultNamespace = "simpletasks"

var (
	// ErrUnknownTask is returned when a task type is not registered.
	ErrUnknownTask = errors.New("unknown task type")

	// ErrPanic wraps a panic recovered from a task body.
	ErrPanic = errors.New("task panicked")
)

// Task is anything that can be run and yields a result or an error.
// Pipelines and orchestrators satisfy it too, so they nest.
type Task interface {
	Run(ctx context.Context) (any, error)
}

// Factory constructs a task from the runtime and its effective options.
// Options.LoggerNamespace is already set when a factory is invoked by a
// pipeline or an orchestrator.
type Factory func(rt Runtime, opts Options) (Task, error)

// Runtime carries the process-wide knobs and shared services every task
// sees. The zero value is usable: it logs through slog.Default and publishes
// nowhere.
type Runtime struct {
	Logger    *slog.Logger
	Namespace string // root namespace, DefaultNamespace when empty
	Debugging bool   // let task panics propagate instead of recovering them
	Testing   bool
	Events    *events.EventBus
	Breakers  *BreakerRegistry
	Processes *ProcessManager
}

// Root returns the root namespace.
func (rt Runtime) Root() string {
	if rt.Namespace == "" {
		return DefaultNamespace
	}
	return rt.Namespace
}

// NamespaceFor resolves the namespace of a task called name. An explicit
// loggernamespace option wins.
func (rt Runtime) NamespaceFor(name string, opts Options) string {
	if opts.LoggerNamespace != "" {
		return opts.LoggerNamespace
	}
	return ChildNamespace(rt.Root(), name)
}

// Named returns the runtime logger tagged with namespace ns.
func (rt Runtime) Named(ns string) *slog.Logger {
	return logging.Named(rt.Logger, ns)
}

// Call runs t, converting a panic into an error wrapping ErrPanic.
func Call(ctx context.Context, t Task) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, p, debug.Stack())
		}
	}()
	return t.Run(ctx)
}

// Registry maps task type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the built-in task types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.MustRegister(CommandType, Command)
	return r
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return errors.New("task type name is empty")
	}
	if f == nil {
		return fmt.Errorf("task type %q: nil factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("task type %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return f, nil
}

// Names lists the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}
