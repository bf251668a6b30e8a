package telemetry

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

// Config holds buffer sizes and alerting thresholds
type Config struct {
	MaxRoutingEntries int         `yaml:"max_routing_entries"`
	MaxHealthEntries  int         `yaml:"max_health_entries"`
	TrimRatio         float64     `yaml:"trim_ratio"`
	MaxAlerts         int         `yaml:"max_alerts"`
	Alerting          AlertConfig `yaml:"alerting"`
}

// AlertConfig holds the thresholds checked after every recorded entry.
// Rates are percentages.
type AlertConfig struct {
	Enabled               bool          `yaml:"enabled"`
	ErrorRateThreshold    float64       `yaml:"error_rate_threshold"`
	ResponseTimeThreshold time.Duration `yaml:"response_time_threshold"`
	FallbackRateThreshold float64       `yaml:"fallback_rate_threshold"`
	Cooldown              time.Duration `yaml:"cooldown"`
	MinSamples            int           `yaml:"min_samples"`
	Window                time.Duration `yaml:"window"`
}

// DefaultConfig returns the stock buffer sizes and thresholds
func DefaultConfig() Config {
	return Config{
		MaxRoutingEntries: 10000,
		MaxHealthEntries:  1000,
		TrimRatio:         0.8,
		MaxAlerts:         500,
		Alerting: AlertConfig{
			Enabled:               true,
			ErrorRateThreshold:    10,
			ResponseTimeThreshold: 5000 * time.Millisecond,
			FallbackRateThreshold: 20,
			Cooldown:              30 * time.Minute,
			MinSamples:            10,
			Window:                time.Hour,
		},
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxRoutingEntries <= 0 {
		c.MaxRoutingEntries = d.MaxRoutingEntries
	}
	if c.MaxHealthEntries <= 0 {
		c.MaxHealthEntries = d.MaxHealthEntries
	}
	if c.TrimRatio <= 0 || c.TrimRatio >= 1 {
		c.TrimRatio = d.TrimRatio
	}
	if c.MaxAlerts <= 0 {
		c.MaxAlerts = d.MaxAlerts
	}
	if c.Alerting.MinSamples <= 0 {
		c.Alerting.MinSamples = d.Alerting.MinSamples
	}
	if c.Alerting.Window <= 0 {
		c.Alerting.Window = d.Alerting.Window
	}
}

// Sink keeps routing and health logs in memory and raises alerts on them
type Sink struct {
	config Config
	logger *logrus.Logger
	now    func() time.Time

	mu        sync.Mutex
	routing   []types.RoutingLogEntry
	health    []types.ServiceHealthLogEntry
	alerts    []*types.Alert
	lastAlert map[types.AlertType]time.Time
}

// NewSink creates a new telemetry sink
func NewSink(config Config, logger *logrus.Logger) *Sink {
	config.applyDefaults()
	return &Sink{
		config:    config,
		logger:    logger,
		now:       time.Now,
		routing:   make([]types.RoutingLogEntry, 0, 256),
		health:    make([]types.ServiceHealthLogEntry, 0, 64),
		lastAlert: make(map[types.AlertType]time.Time),
	}
}

// Record appends a routing entry and evaluates alert thresholds
func (s *Sink) Record(entry types.RoutingLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	s.mu.Lock()
	s.routing = append(s.routing, entry)
	s.routing = trim(s.routing, s.config.MaxRoutingEntries, s.config.TrimRatio)
	s.mu.Unlock()

	if s.config.Alerting.Enabled {
		s.CheckAlerts()
	}
}

// RecordHealth appends a provider health sample
func (s *Sink) RecordHealth(entry types.ServiceHealthLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = append(s.health, entry)
	s.health = trim(s.health, s.config.MaxHealthEntries, s.config.TrimRatio)
}

// trim drops the oldest entries once capacity is exceeded, keeping
// ratio*capacity of the newest.
func trim[T any](entries []T, capacity int, ratio float64) []T {
	if len(entries) <= capacity {
		return entries
	}
	keep := int(float64(capacity) * ratio)
	if keep < 1 {
		keep = 1
	}
	out := make([]T, keep, capacity)
	copy(out, entries[len(entries)-keep:])
	return out
}

// RoutingLogs returns up to limit of the newest routing entries, oldest first.
// A limit of zero returns everything.
func (s *Sink) RoutingLogs(limit int) []types.RoutingLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tail(s.routing, limit)
}

// HealthLogs returns up to limit of the newest health samples, oldest first
func (s *Sink) HealthLogs(limit int) []types.ServiceHealthLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tail(s.health, limit)
}

func tail[T any](entries []T, limit int) []T {
	start := 0
	if limit > 0 && len(entries) > limit {
		start = len(entries) - limit
	}
	out := make([]T, len(entries)-start)
	copy(out, entries[start:])
	return out
}

// LatestHealth returns the newest health sample per provider
func (s *Sink) LatestHealth() map[string]types.ServiceHealthLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]types.ServiceHealthLogEntry)
	for _, e := range s.health {
		latest[e.Provider] = e
	}
	return latest
}

// Config returns the effective configuration
func (s *Sink) Config() Config {
	return s.config
}
