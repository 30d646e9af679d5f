package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff retry behavior for collaborator
// calls.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// CircuitBreakerRegistry manages per-collaborator circuit breakers, so a
// failing analyzer does not trip the breaker guarding issue creation.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	log      *slog.Logger
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
func NewCircuitBreakerRegistry(logger *slog.Logger) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		log:      logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the given collaborator name.
// Creates a new one if it doesn't exist.
func (r *CircuitBreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	logger := r.log
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // Allow 3 test requests in half-open state
		Interval:    0,                // Don't clear counts automatically
		Timeout:     30 * time.Second, // Stay open for 30s before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip circuit after 5 consecutive failures
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"collaborator", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Don't count caller cancellation as collaborator failure
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[name] = cb
	return cb
}

// callWithRetry runs a collaborator call through the circuit breaker with
// exponential backoff retry. An open circuit or cancelled context stops the
// retry loop immediately.
func callWithRetry(ctx context.Context, cb *gobreaker.CircuitBreaker, retryCfg RetryConfig, call func(ctx context.Context) (any, error)) (any, error) {
	var result any

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		res, err := cb.Execute(func() (interface{}, error) {
			return call(ctx)
		})

		if err != nil {
			// Circuit is open - don't retry
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}

			// Context cancelled - stop retrying
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}

			return err
		}

		result = res
		return nil
	}

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = retryCfg.InitialInterval
	backoffPolicy.MaxInterval = retryCfg.MaxInterval
	backoffPolicy.MaxElapsedTime = retryCfg.MaxElapsedTime
	backoffPolicy.Multiplier = retryCfg.Multiplier
	backoffPolicy.RandomizationFactor = retryCfg.RandomizationFactor

	backoffWithContext := backoff.WithContext(backoffPolicy, ctx)

	err := backoff.Retry(operation, backoffWithContext)
	return result, err
}
