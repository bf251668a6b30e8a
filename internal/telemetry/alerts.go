package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

// ErrAlertNotFound is returned for unknown alert IDs
var ErrAlertNotFound = errors.New("alert not found")

// criticalMultiplier escalates an alert to critical at this multiple of its threshold
const criticalMultiplier = 2.0

type pendingAlert struct {
	alertType   types.AlertType
	severity    types.AlertSeverity
	title       string
	description string
	metrics     types.AlertMetrics
}

// CheckAlerts compares the last window's statistics with the thresholds
// and raises alerts that are not in cooldown. Nothing is checked until
// the window holds MinSamples entries.
func (s *Sink) CheckAlerts() []types.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.config.Alerting
	stats := s.statisticsLocked(cfg.Window)
	if stats.TotalRequests < cfg.MinSamples {
		return nil
	}

	window := cfg.Window.String()
	var pending []pendingAlert

	errorRate := stats.ErrorRate * 100
	if cfg.ErrorRateThreshold > 0 && errorRate > cfg.ErrorRateThreshold {
		pending = append(pending, pendingAlert{
			alertType:   types.AlertHighErrorRate,
			severity:    severityFor(errorRate, cfg.ErrorRateThreshold),
			title:       "High error rate",
			description: fmt.Sprintf("%.1f%% of routed requests failed in the last %s (threshold %.1f%%)", errorRate, window, cfg.ErrorRateThreshold),
			metrics:     types.AlertMetrics{Current: errorRate, Threshold: cfg.ErrorRateThreshold, Window: window},
		})
	}

	thresholdMs := float64(cfg.ResponseTimeThreshold.Milliseconds())
	if thresholdMs > 0 && stats.AverageResponseTimeMs > thresholdMs {
		pending = append(pending, pendingAlert{
			alertType:   types.AlertSlowResponse,
			severity:    severityFor(stats.AverageResponseTimeMs, thresholdMs),
			title:       "Slow responses",
			description: fmt.Sprintf("Average response time was %.0fms in the last %s (threshold %.0fms)", stats.AverageResponseTimeMs, window, thresholdMs),
			metrics:     types.AlertMetrics{Current: stats.AverageResponseTimeMs, Threshold: thresholdMs, Window: window},
		})
	}

	fallbackRate := stats.FallbackRate * 100
	if cfg.FallbackRateThreshold > 0 && fallbackRate > cfg.FallbackRateThreshold {
		pending = append(pending, pendingAlert{
			alertType:   types.AlertHighFallbackRate,
			severity:    severityFor(fallbackRate, cfg.FallbackRateThreshold),
			title:       "High fallback rate",
			description: fmt.Sprintf("%.1f%% of routed requests used a fallback provider in the last %s (threshold %.1f%%)", fallbackRate, window, cfg.FallbackRateThreshold),
			metrics:     types.AlertMetrics{Current: fallbackRate, Threshold: cfg.FallbackRateThreshold, Window: window},
		})
	}

	var raised []types.Alert
	for _, p := range pending {
		if a, ok := s.raiseLocked(p); ok {
			raised = append(raised, *a)
		}
	}
	return raised
}

func severityFor(current, threshold float64) types.AlertSeverity {
	if current >= threshold*criticalMultiplier {
		return types.SeverityCritical
	}
	return types.SeverityWarning
}

// RaiseAlert records an alert unless one of the same type was raised
// within the cooldown. It reports whether the alert was created.
func (s *Sink) RaiseAlert(alertType types.AlertType, severity types.AlertSeverity, title, description string, metrics types.AlertMetrics) (*types.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.raiseLocked(pendingAlert{
		alertType:   alertType,
		severity:    severity,
		title:       title,
		description: description,
		metrics:     metrics,
	})
}

func (s *Sink) raiseLocked(p pendingAlert) (*types.Alert, bool) {
	now := s.now()
	if last, ok := s.lastAlert[p.alertType]; ok && now.Sub(last) < s.config.Alerting.Cooldown {
		return nil, false
	}

	alert := &types.Alert{
		ID:          uuid.NewString(),
		Timestamp:   now,
		Type:        p.alertType,
		Severity:    p.severity,
		Title:       p.title,
		Description: p.description,
		Metrics:     p.metrics,
	}
	s.alerts = append(s.alerts, alert)
	if len(s.alerts) > s.config.MaxAlerts {
		s.alerts = s.alerts[len(s.alerts)-s.config.MaxAlerts:]
	}
	s.lastAlert[p.alertType] = now

	entry := s.logger.WithFields(logrus.Fields{
		"alert_id":  alert.ID,
		"type":      alert.Type,
		"severity":  alert.Severity,
		"current":   p.metrics.Current,
		"threshold": p.metrics.Threshold,
	})
	if alert.Severity == types.SeverityCritical {
		entry.Error(alert.Title)
	} else {
		entry.Warn(alert.Title)
	}

	c := copyAlert(alert)
	return &c, true
}

// Alerts returns alerts newest first. Resolved alerts are included only on request.
func (s *Sink) Alerts(includeResolved bool) []types.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if a.ResolvedAt != nil && !includeResolved {
			continue
		}
		out = append(out, copyAlert(a))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// AcknowledgeAlert marks an alert as seen by an operator
func (s *Sink) AcknowledgeAlert(id string) (*types.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.findLocked(id)
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if !a.Acknowledged {
		now := s.now()
		a.Acknowledged = true
		a.AcknowledgedAt = &now
	}
	c := copyAlert(a)
	return &c, nil
}

// ResolveAlert closes an alert; alerts are never resolved automatically
func (s *Sink) ResolveAlert(id string) (*types.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.findLocked(id)
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if a.ResolvedAt == nil {
		now := s.now()
		a.ResolvedAt = &now
	}
	c := copyAlert(a)
	return &c, nil
}

func (s *Sink) findLocked(id string) *types.Alert {
	for _, a := range s.alerts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func copyAlert(a *types.Alert) types.Alert {
	c := *a
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// ExportJSON renders Export(window) as indented JSON
func (s *Sink) ExportJSON(window time.Duration) ([]byte, error) {
	data, err := json.MarshalIndent(s.Export(window), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return data, nil
}
