package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/simpletasks/simpletasks/internal/logging"
)

// DoFunc is the body of a task built with Wrap.
type DoFunc func(ctx context.Context, env *Env) (any, error)

// Env is what a task body sees: its effective options, a logger named after
// its namespace and the shared runtime.
type Env struct {
	Name    string
	Options Options
	Logger  *slog.Logger
	rt      Runtime
}

// NewEnv builds the environment of a task called name.
func NewEnv(rt Runtime, name string, opts Options) *Env {
	opts = opts.Clone()
	opts.LoggerNamespace = rt.NamespaceFor(name, opts)
	return &Env{
		Name:    name,
		Options: opts,
		Logger:  rt.Named(opts.LoggerNamespace),
		rt:      rt,
	}
}

// Namespace returns the logger namespace of the task.
func (e *Env) Namespace() string { return e.Options.LoggerNamespace }

// Testing reports whether the runtime runs under tests.
func (e *Env) Testing() bool { return e.rt.Testing }

// Runtime returns the runtime the task was built with.
func (e *Env) Runtime() Runtime { return e.rt }

// Runner is the Task produced by Wrap.
type Runner struct {
	do  DoFunc
	env *Env
}

// Wrap turns a body into a Factory. The resulting task recovers panics
// (unless Runtime.Debugging is set) and logs any failure at CRITICAL level
// before returning it.
func Wrap(name string, do DoFunc) Factory {
	return func(rt Runtime, opts Options) (Task, error) {
		return &Runner{do: do, env: NewEnv(rt, name, opts)}, nil
	}
}

// Env returns the environment the body will run with.
func (r *Runner) Env() *Env { return r.env }

// Run runs the body with the task environment.
func (r *Runner) Run(ctx context.Context) (any, error) {
	if r.env.rt.Debugging {
		return r.do(ctx, r.env)
	}

	res, err := Call(ctx, bodyTask{r})
	if err != nil {
		logging.Critical(r.env.Logger, fmt.Sprintf("Got exception: %v", err), "error", err)
		return nil, err
	}
	return res, nil
}

type bodyTask struct{ r *Runner }

func (b bodyTask) Run(ctx context.Context) (any, error) { return b.r.do(ctx, b.r.env) }
