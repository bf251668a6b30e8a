package routing

import (
	"sync"
	"time"

	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

// BreakerState is the state of a provider circuit breaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig holds circuit breaker thresholds
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// DefaultBreakerConfig returns the default breaker thresholds
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
	}
}

// CircuitBreaker guards one provider. State transitions are evaluated
// lazily on IsOpen; no timers are involved.
type CircuitBreaker struct {
	mu       sync.Mutex
	provider string
	config   BreakerConfig
	now      func() time.Time
	onOpen   func(types.CircuitBreakerState)

	state        BreakerState
	failures     int
	lastFailure  time.Time
	nextRetry    time.Time
	probeGranted bool
}

// NewCircuitBreaker creates a closed breaker for provider
func NewCircuitBreaker(provider string, config BreakerConfig, now func() time.Time) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 60 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		provider: provider,
		config:   config,
		now:      now,
		state:    BreakerClosed,
	}
}

// OnOpen registers a hook called, outside the lock, each time the breaker opens
func (cb *CircuitBreaker) OnOpen(fn func(types.CircuitBreakerState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onOpen = fn
}

// IsOpen reports whether calls must be rejected. An open breaker whose
// retry time has passed moves to half-open and lets exactly this caller
// through as the probe.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if cb.now().Before(cb.nextRetry) {
			return true
		}
		cb.state = BreakerHalfOpen
		cb.probeGranted = true
		return false
	case BreakerHalfOpen:
		return cb.probeGranted
	}
	return false
}

// RecordFailure counts a failed call and reports whether it opened the breaker
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()

	now := cb.now()
	cb.failures++
	cb.lastFailure = now

	opened := false
	switch cb.state {
	case BreakerHalfOpen:
		opened = true
	case BreakerClosed:
		opened = cb.failures >= cb.config.FailureThreshold
	}
	if opened {
		cb.state = BreakerOpen
		cb.nextRetry = now.Add(cb.config.OpenTimeout)
		cb.probeGranted = false
	}

	hook := cb.onOpen
	snapshot := cb.snapshotLocked()
	cb.mu.Unlock()

	if opened && hook != nil {
		hook(snapshot)
	}
	return opened
}

// RecordSuccess closes the breaker and clears the failure count
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = BreakerClosed
	cb.failures = 0
	cb.probeGranted = false
	cb.nextRetry = time.Time{}
}

// ReleaseProbe hands back a half-open probe that ended without an outcome,
// such as a cancelled caller. The breaker returns to open with its old
// retry time, so the next caller becomes the probe.
func (cb *CircuitBreaker) ReleaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerHalfOpen && cb.probeGranted {
		cb.state = BreakerOpen
		cb.probeGranted = false
	}
}

// State returns the current state without triggering a transition
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns a copy of the breaker state for observability
func (cb *CircuitBreaker) Snapshot() types.CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.snapshotLocked()
}

func (cb *CircuitBreaker) snapshotLocked() types.CircuitBreakerState {
	s := types.CircuitBreakerState{
		Provider:            cb.provider,
		State:               string(cb.state),
		IsOpen:              cb.state == BreakerOpen || (cb.state == BreakerHalfOpen && cb.probeGranted),
		ConsecutiveFailures: cb.failures,
	}
	if !cb.lastFailure.IsZero() {
		t := cb.lastFailure
		s.LastFailureTime = &t
	}
	if cb.state == BreakerOpen {
		t := cb.nextRetry
		s.NextRetryTime = &t
	}
	return s
}
