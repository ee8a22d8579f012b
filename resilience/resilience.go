// Package resilience provides retry and circuit-breaker policies, built on
// failsafe-go, for the origin fetch a proxy driver performs on a cache miss
// or revalidation. Policies are typed against *rfccache.Response rather than
// *http.Response so they compose directly with the sans-I/O core; the
// driver supplies the actual origin round trip as a plain function.
package resilience

import (
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/sandrolain/rfccache"
)

// Config holds the resilience policies applied around an origin fetch.
// Both are disabled (nil) by default and must be explicitly configured.
type Config struct {
	// RetryPolicy configures retry behavior using failsafe-go. If nil,
	// retry is disabled.
	RetryPolicy retrypolicy.RetryPolicy[*rfccache.Response]

	// CircuitBreaker configures circuit breaker behavior using failsafe-go.
	// If nil, circuit breaking is disabled.
	CircuitBreaker circuitbreaker.CircuitBreaker[*rfccache.Response]
}

// RetryPolicyBuilder returns a pre-configured retry policy builder for
// origin fetches, with sensible defaults the caller can further customize.
//
// Default configuration:
//   - Retries on: network errors and 5xx status codes
//   - Max retries: 3
//   - Backoff: exponential from 100ms to 10s
func RetryPolicyBuilder() retrypolicy.Builder[*rfccache.Response] {
	return retrypolicy.NewBuilder[*rfccache.Response]().
		HandleIf(func(r *rfccache.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && r.StatusCode >= 500
		}).
		WithMaxRetries(3).
		WithBackoff(100*time.Millisecond, 10*time.Second)
}

// CircuitBreakerBuilder returns a pre-configured circuit breaker builder for
// origin fetches, with sensible defaults the caller can further customize.
//
// Default configuration:
//   - Opens on: network errors and 5xx status codes
//   - Failure threshold: 5 consecutive failures
//   - Success threshold: 2 consecutive successes (in half-open state)
//   - Delay: 60 seconds before entering half-open state
func CircuitBreakerBuilder() circuitbreaker.Builder[*rfccache.Response] {
	return circuitbreaker.NewBuilder[*rfccache.Response]().
		HandleIf(func(r *rfccache.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && r.StatusCode >= 500
		}).
		WithFailureThreshold(5).
		WithSuccessThreshold(2).
		WithDelay(60 * time.Second)
}

// Execute runs fn (an origin fetch) wrapped in cfg's configured policies.
// With no policies configured it calls fn directly.
func Execute(cfg *Config, fn func() (*rfccache.Response, error)) (*rfccache.Response, error) {
	if cfg == nil {
		return fn()
	}

	var policies []failsafe.Policy[*rfccache.Response]
	if cfg.RetryPolicy != nil {
		policies = append(policies, cfg.RetryPolicy)
	}
	if cfg.CircuitBreaker != nil {
		policies = append(policies, cfg.CircuitBreaker)
	}
	if len(policies) == 0 {
		return fn()
	}

	return failsafe.With(policies...).Get(fn)
}
