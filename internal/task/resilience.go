package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures the circuit breakers handed out by a
// BreakerRegistry.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // failures in a row that open the circuit (default 5)
	OpenTimeout         time.Duration // how long the circuit stays open (default 30s)
	HalfOpenRequests    uint32        // requests allowed while half-open (default 3)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    3,
	}
}

// BreakerRegistry hands out one circuit breaker per task namespace, shared by
// every ExecuteOrRetry call made under that namespace.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	logger   *slog.Logger
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates a registry. Zero fields of cfg take their
// defaults; a nil logger falls back to slog.Default().
func NewBreakerRegistry(cfg BreakerConfig, logger *slog.Logger) *BreakerRegistry {
	def := DefaultBreakerConfig()
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerRegistry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for namespace, creating it on first use.
func (r *BreakerRegistry) Get(namespace string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[namespace]; ok {
		return cb
	}

	trip := r.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        namespace,
		MaxRequests: r.cfg.HalfOpenRequests,
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// cancellation says nothing about the health of the operation
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[namespace] = cb
	return cb
}

// State reports the state of the breaker for namespace. Unknown namespaces
// report closed.
func (r *BreakerRegistry) State(namespace string) gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[namespace]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}
