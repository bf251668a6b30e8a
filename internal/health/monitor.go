package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tributary-ai/calendar-ai-router/internal/providers"
	"github.com/tributary-ai/calendar-ai-router/internal/security"
	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

// Config controls active provider probing
type Config struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultConfig probes every five minutes with a ten second timeout
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Schedule: "@every 5m",
		Timeout:  10 * time.Second,
	}
}

// BreakerInspector exposes circuit breaker state to the monitor
type BreakerInspector interface {
	BreakerState(provider string) (types.CircuitBreakerState, bool)
}

// Recorder stores health samples
type Recorder interface {
	RecordHealth(entry types.ServiceHealthLogEntry)
}

// Monitor runs provider health checks on a cron schedule
type Monitor struct {
	config   Config
	registry *providers.Registry
	breakers BreakerInspector
	recorder Recorder
	logger   *logrus.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewMonitor validates the schedule and creates a monitor
func NewMonitor(config Config, registry *providers.Registry, breakers BreakerInspector, recorder Recorder, logger *logrus.Logger) (*Monitor, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultConfig().Schedule
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid health check schedule %q: %w", config.Schedule, err)
	}

	return &Monitor{
		config:   config,
		registry: registry,
		breakers: breakers,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Start schedules periodic checks. It is a no-op when disabled.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled || m.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(m.config.Schedule, func() {
		m.CheckAll(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule health checks: %w", err)
	}
	c.Start()

	m.cron = c
	m.running = true
	m.logger.WithFields(logrus.Fields{
		"schedule":  m.config.Schedule,
		"providers": m.registry.ProviderNames(),
	}).Info("Health monitor started")
	return nil
}

// Stop halts scheduling and waits for a running check to finish
func (m *Monitor) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.running = false
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		m.logger.Info("Health monitor stopped")
	}
}

// CheckAll probes every registered provider concurrently and records
// one active sample per provider.
func (m *Monitor) CheckAll(ctx context.Context) []types.ServiceHealthLogEntry {
	names := m.registry.ProviderNames()
	results := make([]types.ServiceHealthLogEntry, len(names))

	g, gCtx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = m.check(gCtx, name)
			return nil
		})
	}
	_ = g.Wait()

	for _, entry := range results {
		if m.recorder != nil {
			m.recorder.RecordHealth(entry)
		}
	}
	return results
}

func (m *Monitor) check(ctx context.Context, name string) types.ServiceHealthLogEntry {
	entry := types.ServiceHealthLogEntry{
		Provider: name,
		Source:   types.HealthSourceActive,
		Status:   types.HealthHealthy,
	}
	if m.breakers != nil {
		if state, ok := m.breakers.BreakerState(name); ok {
			entry.CircuitBreakerOpen = state.IsOpen
			entry.ConsecutiveFailures = state.ConsecutiveFailures
		}
	}

	provider, ok := m.registry.Provider(name)
	if !ok {
		entry.Timestamp = m.now()
		entry.Status = types.HealthUnhealthy
		entry.Error = "provider not registered"
		return entry
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	start := m.now()
	err := provider.HealthCheck(ctx)
	entry.Timestamp = m.now()
	entry.ResponseTimeMs = entry.Timestamp.Sub(start).Milliseconds()

	switch {
	case err != nil:
		entry.Status = types.HealthUnhealthy
		entry.Error = security.SanitizeMessage(err.Error())
	case entry.CircuitBreakerOpen:
		// reachable again, but the breaker still rejects traffic
		entry.Status = types.HealthDegraded
	}

	fields := logrus.Fields{
		"provider":         name,
		"status":           entry.Status,
		"response_time_ms": entry.ResponseTimeMs,
	}
	if err != nil {
		m.logger.WithFields(fields).WithField("error", entry.Error).Warn("Provider health check failed")
	} else {
		m.logger.WithFields(fields).Debug("Provider health check passed")
	}
	return entry
}
