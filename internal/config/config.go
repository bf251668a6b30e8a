package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/calendar-ai-router/internal/health"
	"github.com/tributary-ai/calendar-ai-router/internal/middleware"
	"github.com/tributary-ai/calendar-ai-router/internal/providers"
	"github.com/tributary-ai/calendar-ai-router/internal/providers/anthropic"
	"github.com/tributary-ai/calendar-ai-router/internal/providers/openai"
	"github.com/tributary-ai/calendar-ai-router/internal/routing"
	"github.com/tributary-ai/calendar-ai-router/internal/security"
	"github.com/tributary-ai/calendar-ai-router/internal/server"
	"github.com/tributary-ai/calendar-ai-router/internal/telemetry"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Router    RouterConfig     `yaml:"router"`
	Providers ProvidersConfig  `yaml:"providers"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Health    health.Config    `yaml:"health"`
	Logging   LoggingConfig    `yaml:"logging"`
	Security  SecurityConfig   `yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// RouterConfig holds retry budgets, resilience settings and routing rules
type RouterConfig struct {
	PrimaryAttempts  int                            `yaml:"primary_attempts"`
	FallbackAttempts int                            `yaml:"fallback_attempts"`
	Retry            routing.RetryPolicy            `yaml:"retry"`
	Breaker          routing.BreakerConfig          `yaml:"breaker"`
	Rules            map[string]routing.RoutingRule `yaml:"rules"`
}

// ProvidersConfig holds configuration for all providers
type ProvidersConfig struct {
	OpenAI    *openai.OpenAIConfig       `yaml:"openai"`
	Anthropic *anthropic.AnthropicConfig `yaml:"anthropic"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
	Debug  bool   `yaml:"debug"`
}

// SecurityConfig holds HTTP-facing protection settings
type SecurityConfig struct {
	RateLimiting      security.RateLimitConfig    `yaml:"rate_limiting"`
	RequestValidation middleware.ValidationConfig `yaml:"request_validation"`
	AllowedOrigins    []string                    `yaml:"allowed_origins"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}
	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := config.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if config.Logging.Debug {
		config.Logging.Level = "debug"
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   90 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	rc := routing.DefaultRouterConfig()
	c.Router = RouterConfig{
		PrimaryAttempts:  rc.PrimaryAttempts,
		FallbackAttempts: rc.FallbackAttempts,
		Retry:            rc.Retry,
		Breaker:          rc.Breaker,
		Rules:            routing.DefaultRoutingRules(),
	}

	c.Providers = ProvidersConfig{
		OpenAI: &openai.OpenAIConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.3,
			Timeout:     60 * time.Second,
		},
		Anthropic: &anthropic.AnthropicConfig{
			Model:       "claude-3-5-haiku-latest",
			MaxTokens:   1024,
			Temperature: 0.3,
			Timeout:     60 * time.Second,
		},
	}

	c.Telemetry = telemetry.DefaultConfig()
	c.Health = health.DefaultConfig()

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Security = SecurityConfig{
		RateLimiting: security.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
			BurstSize:         20,
			CleanupInterval:   5 * time.Minute,
			IdleTimeout:       10 * time.Minute,
		},
		RequestValidation: middleware.ValidationConfig{Enabled: true},
	}
}

// loadFromFile loads configuration from YAML file. Keys absent from the
// file keep their defaults.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv applies environment overrides
func (c *Config) loadFromEnv() error {
	if port := os.Getenv("AI_ROUTER_PORT"); port != "" {
		c.Server.Port = port
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.Providers.OpenAI == nil {
			c.Providers.OpenAI = &openai.OpenAIConfig{}
		}
		c.Providers.OpenAI.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if c.Providers.Anthropic == nil {
			c.Providers.Anthropic = &anthropic.AnthropicConfig{}
		}
		c.Providers.Anthropic.APIKey = key
	}

	if level := os.Getenv("AI_ROUTER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("AI_ROUTER_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if v := os.Getenv("AI_ROUTER_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AI_ROUTER_DEBUG: %w", err)
		}
		c.Logging.Debug = debug
	}

	alerting := &c.Telemetry.Alerting
	if v := os.Getenv("AI_ROUTER_ALERTS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AI_ROUTER_ALERTS_ENABLED: %w", err)
		}
		alerting.Enabled = enabled
	}
	if err := envFloat("AI_ROUTER_ALERT_ERROR_RATE", &alerting.ErrorRateThreshold); err != nil {
		return err
	}
	if err := envFloat("AI_ROUTER_ALERT_FALLBACK_RATE", &alerting.FallbackRateThreshold); err != nil {
		return err
	}
	if err := envDuration("AI_ROUTER_ALERT_RESPONSE_TIME_MS", time.Millisecond, &alerting.ResponseTimeThreshold); err != nil {
		return err
	}
	if err := envDuration("AI_ROUTER_ALERT_COOLDOWN_MINUTES", time.Minute, &alerting.Cooldown); err != nil {
		return err
	}

	return nil
}

func envFloat(name string, dst *float64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = f
	return nil
}

// envDuration reads an integer count of unit
func envDuration(name string, unit time.Duration, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = time.Duration(n) * unit
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Router.PrimaryAttempts < 1 || c.Router.FallbackAttempts < 1 {
		return fmt.Errorf("retry budgets must be at least 1 (primary %d, fallback %d)", c.Router.PrimaryAttempts, c.Router.FallbackAttempts)
	}
	if c.Router.Retry.BaseDelay < 0 || c.Router.Retry.MaxDelay < c.Router.Retry.BaseDelay {
		return fmt.Errorf("retry max_delay must be at least base_delay")
	}
	if c.Router.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure_threshold must be at least 1")
	}
	if len(c.Router.Rules) == 0 {
		return fmt.Errorf("at least one routing rule must be configured")
	}
	for op, rule := range c.Router.Rules {
		if !providers.IsKnownOperation(op) {
			return fmt.Errorf("routing rule for unknown operation: %s", op)
		}
		if !isSupportedProvider(rule.Primary) {
			return fmt.Errorf("routing rule for %s has unsupported primary provider %q", op, rule.Primary)
		}
		if rule.Fallback != "" && !isSupportedProvider(rule.Fallback) {
			return fmt.Errorf("routing rule for %s has unsupported fallback provider %q", op, rule.Fallback)
		}
	}

	if r := c.Telemetry.TrimRatio; r <= 0 || r >= 1 {
		return fmt.Errorf("telemetry trim_ratio must be between 0 and 1, got %v", r)
	}
	a := c.Telemetry.Alerting
	if a.ErrorRateThreshold < 0 || a.ErrorRateThreshold > 100 || a.FallbackRateThreshold < 0 || a.FallbackRateThreshold > 100 {
		return fmt.Errorf("alert rate thresholds must be percentages between 0 and 100")
	}
	if a.ResponseTimeThreshold < 0 || a.Cooldown < 0 {
		return fmt.Errorf("alert durations cannot be negative")
	}

	if len(c.AvailableProviders()) == 0 {
		return fmt.Errorf("at least one provider API key is required (OPENAI_API_KEY or ANTHROPIC_API_KEY)")
	}

	return nil
}

func isSupportedProvider(name string) bool {
	return name == openai.ProviderName || name == anthropic.ProviderName
}

// Warnings lists non-fatal problems worth logging at startup
func (c *Config) Warnings() []string {
	var warnings []string
	if !c.HasProvider(openai.ProviderName) {
		warnings = append(warnings, "OpenAI API key not configured; rules using openai will be rerouted")
	}
	if !c.HasProvider(anthropic.ProviderName) {
		warnings = append(warnings, "Anthropic API key not configured; rules using anthropic will be rerouted")
	}
	return warnings
}

// HasProvider reports whether provider has an API key
func (c *Config) HasProvider(name string) bool {
	switch name {
	case openai.ProviderName:
		return c.Providers.OpenAI != nil && c.Providers.OpenAI.APIKey != ""
	case anthropic.ProviderName:
		return c.Providers.Anthropic != nil && c.Providers.Anthropic.APIKey != ""
	}
	return false
}

// AvailableProviders returns providers that have an API key, sorted
func (c *Config) AvailableProviders() []string {
	var names []string
	for _, name := range []string{openai.ProviderName, anthropic.ProviderName} {
		if c.HasProvider(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ToRouterConfig converts to routing.RouterConfig
func (c *Config) ToRouterConfig() routing.RouterConfig {
	return routing.RouterConfig{
		PrimaryAttempts:  c.Router.PrimaryAttempts,
		FallbackAttempts: c.Router.FallbackAttempts,
		Retry:            c.Router.Retry,
		Breaker:          c.Router.Breaker,
	}
}

// ToServerConfig converts to server.ServerConfig
func (c *Config) ToServerConfig() *server.ServerConfig {
	rateLimit := c.Security.RateLimiting
	validation := c.Security.RequestValidation

	return &server.ServerConfig{
		Port:           c.Server.Port,
		ReadTimeout:    c.Server.ReadTimeout,
		WriteTimeout:   c.Server.WriteTimeout,
		MaxHeaderBytes: c.Server.MaxHeaderBytes,
		Security: &middleware.SecurityMiddlewareConfig{
			RateLimit:      &rateLimit,
			Validation:     &validation,
			AllowedOrigins: c.Security.AllowedOrigins,
		},
	}
}

// SaveToFile saves the current configuration to a YAML file.
// API keys are never written.
func (c *Config) SaveToFile(path string) error {
	redacted := *c
	if c.Providers.OpenAI != nil {
		o := *c.Providers.OpenAI
		o.APIKey = ""
		redacted.Providers.OpenAI = &o
	}
	if c.Providers.Anthropic != nil {
		a := *c.Providers.Anthropic
		a.APIKey = ""
		redacted.Providers.Anthropic = &a
	}

	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
