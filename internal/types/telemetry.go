package types

import (
	"time"
)

// RoutingLogEntry records the outcome of one routed attempt
type RoutingLogEntry struct {
	Timestamp       time.Time              `json:"timestamp"`
	RequestID       string                 `json:"request_id"`
	Operation       string                 `json:"operation"`
	PrimaryProvider string                 `json:"primary_provider"`
	ActualProvider  string                 `json:"actual_provider"`
	FallbackUsed    bool                   `json:"fallback_used"`
	ResponseTimeMs  int64                  `json:"response_time_ms"`
	Success         bool                   `json:"success"`
	Error           string                 `json:"error,omitempty"`
	ErrorType       string                 `json:"error_type,omitempty"`
	TokenUsage      *Usage                 `json:"token_usage,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Health check types
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthSource tells whether a sample came from a probe or a routed request
type HealthSource string

const (
	HealthSourceActive  HealthSource = "active"
	HealthSourcePassive HealthSource = "passive"
)

type ServiceHealthLogEntry struct {
	Timestamp           time.Time    `json:"timestamp"`
	Provider            string       `json:"provider"`
	Status              HealthStatus `json:"status"`
	Source              HealthSource `json:"source"`
	ResponseTimeMs      int64        `json:"response_time_ms,omitempty"`
	Error               string       `json:"error,omitempty"`
	CircuitBreakerOpen  bool         `json:"circuit_breaker_open"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
}

// CircuitBreakerState is a point-in-time view of one provider's breaker
type CircuitBreakerState struct {
	Provider            string     `json:"provider"`
	State               string     `json:"state"` // "closed", "open", "half_open"
	IsOpen              bool       `json:"is_open"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureTime     *time.Time `json:"last_failure_time,omitempty"`
	NextRetryTime       *time.Time `json:"next_retry_time,omitempty"`
}

type AlertType string

const (
	AlertHighErrorRate    AlertType = "high_error_rate"
	AlertSlowResponse     AlertType = "slow_response"
	AlertHighFallbackRate AlertType = "high_fallback_rate"
	AlertCircuitOpen      AlertType = "circuit_breaker_open"
)

type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

type AlertMetrics struct {
	Current   float64 `json:"current"`
	Threshold float64 `json:"threshold"`
	Window    string  `json:"window"`
}

// Alert is raised by the telemetry sink and closed by an operator
type Alert struct {
	ID             string        `json:"id"`
	Timestamp      time.Time     `json:"timestamp"`
	Type           AlertType     `json:"type"`
	Severity       AlertSeverity `json:"severity"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Metrics        AlertMetrics  `json:"metrics"`
	Acknowledged   bool          `json:"acknowledged"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}

// UsageStatistics aggregates routed calls for one provider.
// Averages are maintained incrementally.
type UsageStatistics struct {
	Provider              string                     `json:"provider"`
	TotalRequests         int64                      `json:"total_requests"`
	SuccessfulRequests    int64                      `json:"successful_requests"`
	FailedRequests        int64                      `json:"failed_requests"`
	TotalTokens           int64                      `json:"total_tokens"`
	AverageResponseTimeMs float64                    `json:"average_response_time_ms"`
	SuccessRate           float64                    `json:"success_rate"`
	LastUsed              time.Time                  `json:"last_used"`
	Operations            map[string]*OperationUsage `json:"operations"`
}

type OperationUsage struct {
	Requests              int64   `json:"requests"`
	TotalTokens           int64   `json:"total_tokens"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
	SuccessRate           float64 `json:"success_rate"`
}

// RouterCounters are process-lifetime routing totals
type RouterCounters struct {
	TotalRequests      int64 `json:"total_requests"`
	FallbacksTriggered int64 `json:"fallbacks_triggered"`
	RoutingFailures    int64 `json:"routing_failures"`
}
