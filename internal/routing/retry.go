package routing

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/calendar-ai-router/internal/providers"
)

// RetryPolicy controls backoff between attempts on one provider
type RetryPolicy struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	MaxJitter time.Duration `yaml:"max_jitter"`
}

// DefaultRetryPolicy returns 1s base, 30s cap and up to 1s of jitter
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
		MaxJitter: time.Second,
	}
}

// Backoff returns the jitter-free exponential delay after the given
// (1-based) failed attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if delay >= p.MaxDelay || delay > math.MaxInt64/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Delay is the wait before the next attempt. A rate-limit hint from the
// provider replaces the exponential backoff.
func (p RetryPolicy) Delay(attempt int, err *ClassifiedError) time.Duration {
	if err != nil && err.Type == ErrorRateLimit && err.RetryAfter > 0 {
		if err.RetryAfter > p.MaxDelay {
			return p.MaxDelay
		}
		return err.RetryAfter
	}

	delay := p.Backoff(attempt)
	if p.MaxJitter > 0 {
		delay += rand.N(p.MaxJitter)
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Work is one attempt against a provider
type Work func(ctx context.Context) (*providers.Result, error)

// RetryExecutor runs work with timeouts, backoff and breaker bookkeeping
type RetryExecutor struct {
	policy RetryPolicy
	logger *logrus.Logger
	wait   func(ctx context.Context, d time.Duration) error
}

// NewRetryExecutor creates a new retry executor
func NewRetryExecutor(policy RetryPolicy, logger *logrus.Logger) *RetryExecutor {
	return &RetryExecutor{policy: policy, logger: logger, wait: sleep}
}

// sleep blocks for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type attemptResult struct {
	result *providers.Result
	err    error
}

// Execute runs work up to maxAttempts times. It returns the number of
// attempts made; zero means the breaker rejected the call.
func (e *RetryExecutor) Execute(ctx context.Context, breaker *CircuitBreaker, work Work, maxAttempts int, timeout time.Duration) (*providers.Result, int, error) {
	if breaker.IsOpen() {
		return nil, 0, NewClassifiedError(ErrorCircuitOpen, fmt.Errorf("%w for provider %s", ErrCircuitOpen, breaker.provider))
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr *ClassifiedError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := e.attempt(ctx, work, timeout)
		if err == nil {
			breaker.RecordSuccess()
			return result, attempt, nil
		}

		lastErr = Classify(err)
		lastErr.Provider = breaker.provider

		// caller cancellation and bad input are not held against the provider
		if ctx.Err() != nil || lastErr.Type == ErrorConfiguration {
			breaker.ReleaseProbe()
			return nil, attempt, lastErr
		}
		if !lastErr.Retryable || attempt == maxAttempts {
			breaker.RecordFailure()
			return nil, attempt, lastErr
		}

		delay := e.policy.Delay(attempt, lastErr)
		e.logger.WithFields(logrus.Fields{
			"provider":   breaker.provider,
			"attempt":    attempt,
			"error_type": lastErr.Type,
			"delay_ms":   delay.Milliseconds(),
		}).Debug("Retrying request after backoff delay")

		if err := e.wait(ctx, delay); err != nil {
			breaker.ReleaseProbe()
			return nil, attempt, lastErr
		}
	}

	return nil, maxAttempts, lastErr
}

// attempt races work against the timeout. A result that arrives after the
// deadline is dropped; the underlying call keeps running.
func (e *RetryExecutor) attempt(ctx context.Context, work Work, timeout time.Duration) (*providers.Result, error) {
	done := make(chan attemptResult, 1)
	go func() {
		res, err := work(ctx)
		done <- attemptResult{result: res, err: err}
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case r := <-done:
		return r.result, r.err
	case <-deadline:
		return nil, NewClassifiedError(ErrorTimeout, fmt.Errorf("operation timed out after %v", timeout))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
