package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures ExecuteOrRetry.
type RetryConfig struct {
	MaxRetries   int           // retries after the first attempt (default 5, negative for none)
	InitialDelay time.Duration // delay before the first retry (default 30s)
	Multiplier   float64       // delay growth per retry (default 1.5)
	MaxDelay     time.Duration // cap on a single delay, 0 for none
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: 30 * time.Second,
		Multiplier:   1.5,
	}
}

// Execute runs fn, or logs "Stubbed" and returns stub when the task is in
// dry-run mode. Wrap every side effect of a task body in it.
func Execute[T any](env *Env, fn func() (T, error), stub T) (T, error) {
	if env.Options.IsDryRun() {
		env.Logger.Info("Stubbed")
		return stub, nil
	}
	return fn()
}

// ExecuteOrRetry is Execute with retries. A failing fn is retried up to
// cfg.MaxRetries times, waiting cfg.InitialDelay before the first retry and
// multiplying the wait by cfg.Multiplier each time; once retries are
// exhausted the last error is returned. When the runtime has a
// BreakerRegistry, calls go through the breaker of the task namespace and an
// open circuit aborts immediately.
func ExecuteOrRetry[T any](ctx context.Context, env *Env, fn func() (T, error), cfg RetryConfig, stub T) (T, error) {
	if env.Options.IsDryRun() {
		return Execute(env, fn, stub)
	}

	def := DefaultRetryConfig()
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = def.MaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}

	var cb *gobreaker.CircuitBreaker
	if env.rt.Breakers != nil {
		cb = env.rt.Breakers.Get(env.Namespace())
	}

	var result T
	failures := 0

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		var err error
		if cb != nil {
			var v any
			v, err = cb.Execute(func() (any, error) {
				return fn()
			})
			if err == nil {
				result, _ = v.(T)
				return nil
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
		} else {
			var v T
			v, err = fn()
			if err == nil {
				result = v
				return nil
			}
		}

		failures++
		if failures > cfg.MaxRetries {
			env.Logger.Warn("Too many failures, abandoning")
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialDelay
	policy.Multiplier = cfg.Multiplier
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.MaxInterval = cfg.MaxDelay
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = 24 * time.Hour
	}

	notify := func(err error, next time.Duration) {
		env.Logger.Warn(fmt.Sprintf("Failed %d times (%v), retrying in %.0f seconds...", failures, err, next.Seconds()))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
