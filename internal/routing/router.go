package routing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/calendar-ai-router/internal/providers"
	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

// RequestOptions are per-request overrides of the routing table
type RequestOptions struct {
	ForceProvider  string
	EnableFallback *bool
	Timeout        time.Duration
	RequestID      string
}

// RouterConfig holds retry budgets and resilience settings
type RouterConfig struct {
	PrimaryAttempts  int           `yaml:"primary_attempts"`
	FallbackAttempts int           `yaml:"fallback_attempts"`
	Retry            RetryPolicy   `yaml:"retry"`
	Breaker          BreakerConfig `yaml:"breaker"`
}

// DefaultRouterConfig returns 3 primary attempts and 2 fallback attempts
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		PrimaryAttempts:  3,
		FallbackAttempts: 2,
		Retry:            DefaultRetryPolicy(),
		Breaker:          DefaultBreakerConfig(),
	}
}

// Recorder receives routing telemetry. A nil Recorder disables it.
type Recorder interface {
	Record(entry types.RoutingLogEntry)
	RecordHealth(entry types.ServiceHealthLogEntry)
	RaiseAlert(alertType types.AlertType, severity types.AlertSeverity, title, description string, metrics types.AlertMetrics) (*types.Alert, bool)
}

// Router dispatches calendar operations to providers with retries,
// circuit breaking and fallback.
type Router struct {
	table    *RoutingTable
	registry *providers.Registry
	recorder Recorder
	executor *RetryExecutor
	usage    *UsageTracker
	config   RouterConfig
	logger   *logrus.Logger
	now      func() time.Time

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker

	totalRequests      atomic.Int64
	fallbacksTriggered atomic.Int64
	routingFailures    atomic.Int64
}

// NewRouter creates a new router instance
func NewRouter(table *RoutingTable, registry *providers.Registry, recorder Recorder, config RouterConfig, logger *logrus.Logger) *Router {
	if config.PrimaryAttempts <= 0 {
		config.PrimaryAttempts = 3
	}
	if config.FallbackAttempts <= 0 {
		config.FallbackAttempts = 2
	}

	return &Router{
		table:    table,
		registry: registry,
		recorder: recorder,
		executor: NewRetryExecutor(config.Retry, logger),
		usage:    NewUsageTracker(),
		config:   config,
		logger:   logger,
		now:      time.Now,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// RouteRequest runs operation on its primary provider and, for
// qualifying failures, on its fallback. Errors are always *ClassifiedError;
// when both providers fail the primary's error is returned.
func (r *Router) RouteRequest(ctx context.Context, operation string, args providers.Args, opts *RequestOptions) (*providers.Result, error) {
	r.totalRequests.Add(1)

	rule, ok := r.table.Rule(operation)
	if !ok {
		r.routingFailures.Add(1)
		cerr := NewClassifiedError(ErrorConfiguration, fmt.Errorf("%w: %s", ErrNoRoutingRule, operation))
		r.logger.WithFields(logrus.Fields{
			"operation":  operation,
			"error_type": cerr.Type,
		}).Error("No routing rule for operation")
		return nil, cerr
	}

	requestID := ""
	if opts != nil {
		requestID = opts.RequestID
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	decision := decide(operation, rule, opts)

	start := r.now()
	result, attempts, primaryErr := r.execute(ctx, decision.Target, operation, args, r.config.PrimaryAttempts, decision.Timeout)
	r.recordAttempt(requestID, decision, decision.Target, false, r.now().Sub(start), attempts, result, primaryErr)
	if primaryErr == nil {
		return result, nil
	}

	if !ShouldTryFallback(rule, opts, primaryErr) {
		r.routingFailures.Add(1)
		return nil, primaryErr
	}

	r.fallbacksTriggered.Add(1)
	r.logger.WithFields(logrus.Fields{
		"request_id":        requestID,
		"operation":         operation,
		"original_provider": decision.Target,
		"fallback_provider": decision.Fallback,
		"error_type":        primaryErr.Type,
	}).Warn("Attempting fallback routing")

	start = r.now()
	result, attempts, fallbackErr := r.execute(ctx, decision.Fallback, operation, args, r.config.FallbackAttempts, decision.Timeout)
	r.recordAttempt(requestID, decision, decision.Fallback, true, r.now().Sub(start), attempts, result, fallbackErr)
	if fallbackErr == nil {
		return result, nil
	}

	r.routingFailures.Add(1)
	return nil, primaryErr
}

// ShouldTryFallback reports whether a failed primary attempt may move to
// the fallback provider.
func ShouldTryFallback(rule RoutingRule, opts *RequestOptions, err *ClassifiedError) bool {
	if err == nil || !fallbackAllowed(rule, opts) {
		return false
	}
	return err.Type.FallbackEligible()
}

// RouteAs routes an operation and asserts the result type
func RouteAs[T any](ctx context.Context, r *Router, operation string, args providers.Args, opts *RequestOptions) (T, error) {
	var zero T
	res, err := r.RouteRequest(ctx, operation, args, opts)
	if err != nil {
		return zero, err
	}
	v, ok := res.Value.(T)
	if !ok {
		return zero, NewClassifiedError(ErrorUnknown, fmt.Errorf("unexpected result type %T for %s", res.Value, operation))
	}
	return v, nil
}

func (r *Router) execute(ctx context.Context, provider, operation string, args providers.Args, attempts int, timeout time.Duration) (*providers.Result, int, *ClassifiedError) {
	fn, ok := r.registry.Lookup(provider, operation)
	if !ok {
		cerr := NewClassifiedError(ErrorConfiguration, fmt.Errorf("provider %s does not implement %s", provider, operation))
		cerr.Provider = provider
		return nil, 0, cerr
	}

	breaker := r.breaker(provider)
	start := r.now()
	result, made, err := r.executor.Execute(ctx, breaker, func(ctx context.Context) (*providers.Result, error) {
		return fn(ctx, args)
	}, attempts, timeout)

	var cerr *ClassifiedError
	if err != nil {
		cerr = Classify(err)
		cerr.Provider = provider
	} else if result != nil {
		served := *result
		served.Provider = provider
		result = &served
	}
	r.recordPassiveHealth(provider, breaker, r.now().Sub(start), cerr)

	return result, made, cerr
}

func (r *Router) recordAttempt(requestID string, d *RoutingDecision, provider string, fallbackUsed bool, elapsed time.Duration, attempts int, result *providers.Result, cerr *ClassifiedError) {
	success := cerr == nil

	tokens := 0
	var usage *types.Usage
	if result != nil && result.Usage != nil {
		usage = result.Usage
		tokens = usage.TotalTokens
	}
	if cerr == nil || cerr.Type != ErrorConfiguration {
		r.usage.Record(provider, d.Operation, success, elapsed, tokens, r.now())
	}

	metadata := d.metadata()
	metadata["attempts"] = attempts

	entry := types.RoutingLogEntry{
		Timestamp:       r.now(),
		RequestID:       requestID,
		Operation:       d.Operation,
		PrimaryProvider: d.Target,
		ActualProvider:  provider,
		FallbackUsed:    fallbackUsed,
		ResponseTimeMs:  elapsed.Milliseconds(),
		Success:         success,
		TokenUsage:      usage,
		Metadata:        metadata,
	}
	if cerr != nil {
		entry.Error = cerr.Message
		entry.ErrorType = string(cerr.Type)
	}
	if r.recorder != nil {
		r.recorder.Record(entry)
	}

	fields := logrus.Fields{
		"request_id":    requestID,
		"operation":     d.Operation,
		"provider":      provider,
		"fallback_used": fallbackUsed,
		"duration_ms":   elapsed.Milliseconds(),
		"attempts":      attempts,
	}
	if success {
		r.logger.WithFields(fields).Info("Request routed")
		return
	}
	fields["error_type"] = cerr.Type
	fields["retryable"] = cerr.Retryable
	r.logger.WithFields(fields).WithField("error", cerr.Message).Warn("Routing attempt failed")
}

func (r *Router) recordPassiveHealth(provider string, breaker *CircuitBreaker, elapsed time.Duration, cerr *ClassifiedError) {
	if r.recorder == nil || (cerr != nil && cerr.Type == ErrorConfiguration) {
		return
	}

	snap := breaker.Snapshot()
	entry := types.ServiceHealthLogEntry{
		Timestamp:           r.now(),
		Provider:            provider,
		Status:              types.HealthHealthy,
		Source:              types.HealthSourcePassive,
		ResponseTimeMs:      elapsed.Milliseconds(),
		CircuitBreakerOpen:  snap.IsOpen,
		ConsecutiveFailures: snap.ConsecutiveFailures,
	}
	if cerr != nil {
		entry.Status = types.HealthDegraded
		entry.Error = cerr.Message
	}
	if snap.IsOpen {
		entry.Status = types.HealthUnhealthy
	}
	r.recorder.RecordHealth(entry)
}

// breaker returns the provider's breaker, creating it on first use
func (r *Router) breaker(provider string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[provider]; ok {
		return cb
	}

	cb := NewCircuitBreaker(provider, r.config.Breaker, r.now)
	cb.OnOpen(func(state types.CircuitBreakerState) {
		r.logger.WithFields(logrus.Fields{
			"provider":             state.Provider,
			"consecutive_failures": state.ConsecutiveFailures,
			"next_retry_time":      state.NextRetryTime,
		}).Error("Circuit breaker opened")

		if r.recorder == nil {
			return
		}
		r.recorder.RaiseAlert(
			types.AlertCircuitOpen,
			types.SeverityCritical,
			fmt.Sprintf("Circuit breaker open for %s", state.Provider),
			fmt.Sprintf("%s failed %d consecutive times; calls are rejected until %s",
				state.Provider, state.ConsecutiveFailures, state.NextRetryTime.Format(time.RFC3339)),
			types.AlertMetrics{
				Current:   float64(state.ConsecutiveFailures),
				Threshold: float64(cb.config.FailureThreshold),
				Window:    cb.config.OpenTimeout.String(),
			},
		)
	})
	r.breakers[provider] = cb
	return cb
}

// BreakerState returns a snapshot of one provider's breaker
func (r *Router) BreakerState(provider string) (types.CircuitBreakerState, bool) {
	r.mu.Lock()
	cb, ok := r.breakers[provider]
	r.mu.Unlock()
	if !ok {
		return types.CircuitBreakerState{Provider: provider, State: string(BreakerClosed)}, false
	}
	return cb.Snapshot(), true
}

// BreakerStates returns snapshots of every breaker, sorted by provider
func (r *Router) BreakerStates() []types.CircuitBreakerState {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	states := make([]types.CircuitBreakerState, 0, len(breakers))
	for _, cb := range breakers {
		states = append(states, cb.Snapshot())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Provider < states[j].Provider })
	return states
}

// Usage returns per-provider usage statistics
func (r *Router) Usage() map[string]types.UsageStatistics {
	return r.usage.Snapshot()
}

// Counters returns process-lifetime routing totals
func (r *Router) Counters() types.RouterCounters {
	return types.RouterCounters{
		TotalRequests:      r.totalRequests.Load(),
		FallbacksTriggered: r.fallbacksTriggered.Load(),
		RoutingFailures:    r.routingFailures.Load(),
	}
}

// Table returns the routing table in use
func (r *Router) Table() *RoutingTable {
	return r.table
}
