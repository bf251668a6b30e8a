package telemetry

import (
	"sort"
	"time"

	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

// HourCount is the number of routed entries in one hour of the day (UTC)
type HourCount struct {
	Hour     int `json:"hour"`
	Requests int `json:"requests"`
}

// Statistics summarizes the routing log over a time window. Rates are
// fractions in [0, 1].
type Statistics struct {
	Window                string         `json:"window"`
	TotalRequests         int            `json:"total_requests"`
	SuccessfulRequests    int            `json:"successful_requests"`
	FailedRequests        int            `json:"failed_requests"`
	SuccessRate           float64        `json:"success_rate"`
	ErrorRate             float64        `json:"error_rate"`
	AverageResponseTimeMs float64        `json:"average_response_time_ms"`
	FallbackRate          float64        `json:"fallback_rate"`
	ErrorTypes            map[string]int `json:"error_types"`
	ProviderUsage         map[string]int `json:"provider_usage"`
	OperationUsage        map[string]int `json:"operation_usage"`
	BusiestHours          []HourCount    `json:"busiest_hours"`
}

const busiestHoursLimit = 5

// Statistics aggregates entries newer than now-window
func (s *Sink) Statistics(window time.Duration) Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statisticsLocked(window)
}

func (s *Sink) statisticsLocked(window time.Duration) Statistics {
	stats := Statistics{
		Window:         window.String(),
		ErrorTypes:     make(map[string]int),
		ProviderUsage:  make(map[string]int),
		OperationUsage: make(map[string]int),
		BusiestHours:   []HourCount{},
	}

	cutoff := s.now().Add(-window)
	var totalMs int64
	fallbacks := 0
	hours := make(map[int]int)

	for _, e := range s.routing {
		if !e.Timestamp.After(cutoff) {
			continue
		}
		stats.TotalRequests++
		if e.Success {
			stats.SuccessfulRequests++
		} else {
			stats.FailedRequests++
			errorType := e.ErrorType
			if errorType == "" {
				errorType = "UNKNOWN"
			}
			stats.ErrorTypes[errorType]++
		}
		if e.FallbackUsed {
			fallbacks++
		}
		totalMs += e.ResponseTimeMs
		stats.ProviderUsage[e.ActualProvider]++
		stats.OperationUsage[e.Operation]++
		hours[e.Timestamp.UTC().Hour()]++
	}

	if stats.TotalRequests == 0 {
		return stats
	}

	total := float64(stats.TotalRequests)
	stats.SuccessRate = float64(stats.SuccessfulRequests) / total
	stats.ErrorRate = float64(stats.FailedRequests) / total
	stats.AverageResponseTimeMs = float64(totalMs) / total
	stats.FallbackRate = float64(fallbacks) / total

	for hour, n := range hours {
		stats.BusiestHours = append(stats.BusiestHours, HourCount{Hour: hour, Requests: n})
	}
	sort.Slice(stats.BusiestHours, func(i, j int) bool {
		a, b := stats.BusiestHours[i], stats.BusiestHours[j]
		if a.Requests != b.Requests {
			return a.Requests > b.Requests
		}
		return a.Hour < b.Hour
	})
	if len(stats.BusiestHours) > busiestHoursLimit {
		stats.BusiestHours = stats.BusiestHours[:busiestHoursLimit]
	}

	return stats
}

// Export is a point-in-time dump of the in-memory telemetry
type Export struct {
	GeneratedAt time.Time                     `json:"generated_at"`
	Window      string                        `json:"window"`
	Statistics  Statistics                    `json:"statistics"`
	RoutingLogs []types.RoutingLogEntry       `json:"routing_logs"`
	HealthLogs  []types.ServiceHealthLogEntry `json:"health_logs"`
	Alerts      []types.Alert                 `json:"alerts"`
}

// Export returns every log entry and alert newer than now-window together
// with the window's statistics.
func (s *Sink) Export(window time.Duration) *Export {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	out := &Export{
		GeneratedAt: now,
		Window:      window.String(),
		Statistics:  s.statisticsLocked(window),
		RoutingLogs: []types.RoutingLogEntry{},
		HealthLogs:  []types.ServiceHealthLogEntry{},
		Alerts:      []types.Alert{},
	}
	for _, e := range s.routing {
		if e.Timestamp.After(cutoff) {
			out.RoutingLogs = append(out.RoutingLogs, e)
		}
	}
	for _, e := range s.health {
		if e.Timestamp.After(cutoff) {
			out.HealthLogs = append(out.HealthLogs, e)
		}
	}
	for _, a := range s.alerts {
		if a.Timestamp.After(cutoff) {
			out.Alerts = append(out.Alerts, copyAlert(a))
		}
	}
	return out
}
