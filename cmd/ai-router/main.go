package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/calendar-ai-router/api"
	"github.com/tributary-ai/calendar-ai-router/internal/config"
	"github.com/tributary-ai/calendar-ai-router/internal/health"
	"github.com/tributary-ai/calendar-ai-router/internal/middleware"
	"github.com/tributary-ai/calendar-ai-router/internal/providers"
	"github.com/tributary-ai/calendar-ai-router/internal/providers/anthropic"
	"github.com/tributary-ai/calendar-ai-router/internal/providers/openai"
	"github.com/tributary-ai/calendar-ai-router/internal/routing"
	"github.com/tributary-ai/calendar-ai-router/internal/server"
	"github.com/tributary-ai/calendar-ai-router/internal/telemetry"
)

const version = "1.0.0"

// Application represents the main application
type Application struct {
	config  *config.Config
	router  *routing.Router
	sink    *telemetry.Sink
	monitor *health.Monitor
	server  *server.Server
	logger  *logrus.Logger
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	registry := providers.NewRegistry()
	if err := registerProviders(registry, cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to register providers: %w", err)
	}

	table, err := routing.NewRoutingTable(cfg.Router.Rules)
	if err != nil {
		return nil, fmt.Errorf("invalid routing rules: %w", err)
	}
	table, _, err = table.Resolve(registry.Has, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve routing table: %w", err)
	}

	sink := telemetry.NewSink(cfg.Telemetry, logger)
	routerInstance := routing.NewRouter(table, registry, sink, cfg.ToRouterConfig(), logger)

	monitor, err := health.NewMonitor(cfg.Health, registry, routerInstance, sink, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create health monitor: %w", err)
	}

	doc, err := middleware.LoadOpenAPI(api.OpenAPISpec)
	if err != nil {
		return nil, fmt.Errorf("failed to load API document: %w", err)
	}

	serverInstance, err := server.NewServer(routerInstance, sink, doc, cfg.ToServerConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	for _, op := range table.Operations() {
		rule, _ := table.Rule(op)
		logger.WithFields(logrus.Fields{
			"operation": op,
			"primary":   rule.Primary,
			"fallback":  rule.Fallback,
			"enabled":   rule.HasFallback(),
			"timeout":   rule.Timeout.String(),
		}).Info("Routing rule loaded")
	}

	return &Application{
		config:  cfg,
		router:  routerInstance,
		sink:    sink,
		monitor: monitor,
		server:  serverInstance,
		logger:  logger,
	}, nil
}

// Run starts the application and blocks until shutdown
func (app *Application) Run() error {
	app.logger.WithField("version", version).Info("Starting calendar AI router")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.monitor.Start(); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}
	defer app.monitor.Stop()

	// one probe round at startup so /health has data before the first tick
	if app.config.Health.Enabled {
		go app.monitor.CheckAll(context.Background())
	}

	serverErrors := make(chan error, 1)
	go func() {
		if err := app.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	counters := app.router.Counters()
	app.logger.WithFields(logrus.Fields{
		"total_requests":      counters.TotalRequests,
		"fallbacks_triggered": counters.FallbacksTriggered,
		"routing_failures":    counters.RoutingFailures,
		"active_alerts":       len(app.sink.Alerts(false)),
	}).Info("Graceful shutdown completed")
	return nil
}

// setupLogger configures the logger based on configuration
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	switch config.Output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// registerProviders registers every provider that has an API key
func registerProviders(registry *providers.Registry, cfg *config.Config, logger *logrus.Logger) error {
	if cfg.HasProvider(openai.ProviderName) {
		registry.Register(openai.NewOpenAIProvider(cfg.Providers.OpenAI, logger))
		logger.WithFields(logrus.Fields{
			"provider": openai.ProviderName,
			"model":    cfg.Providers.OpenAI.Model,
		}).Info("OpenAI provider registered")
	}

	if cfg.HasProvider(anthropic.ProviderName) {
		registry.Register(anthropic.NewAnthropicProvider(cfg.Providers.Anthropic, logger))
		logger.WithFields(logrus.Fields{
			"provider": anthropic.ProviderName,
			"model":    cfg.Providers.Anthropic.Model,
		}).Info("Anthropic provider registered")
	}

	names := registry.ProviderNames()
	if len(names) == 0 {
		return fmt.Errorf("no providers were registered - check your configuration and API keys")
	}

	logger.WithField("providers", names).Info("Provider registration completed")
	return nil
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY                    OpenAI API key\n")
	fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY                 Anthropic API key\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_PORT                    Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_LOG_LEVEL               Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_LOG_FORMAT              Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_DEBUG                   Force debug logging (true,false)\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_ALERTS_ENABLED          Enable threshold alerts (true,false)\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_ALERT_ERROR_RATE        Error rate alert threshold, percent\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_ALERT_RESPONSE_TIME_MS  Average response time alert threshold\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_ALERT_FALLBACK_RATE     Fallback rate alert threshold, percent\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_ALERT_COOLDOWN_MINUTES  Minimum minutes between alerts of one type\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s -config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY=sk-xxx ANTHROPIC_API_KEY=sk-ant-xxx %s\n", os.Args[0])
}

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("Calendar AI Router v%s\n", version)
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
