package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/calendar-ai-router/internal/middleware"
	"github.com/tributary-ai/calendar-ai-router/internal/providers"
	"github.com/tributary-ai/calendar-ai-router/internal/routing"
	"github.com/tributary-ai/calendar-ai-router/internal/telemetry"
	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

const (
	defaultWindowHours = 24
	maxWindowHours     = 720
	maxBodyBytes       = 1 << 20
)

// Server exposes routed operations and the operator API over HTTP
type Server struct {
	router             *routing.Router
	sink               *telemetry.Sink
	doc                *openapi3.T
	httpServer         *http.Server
	logger             *logrus.Logger
	config             *ServerConfig
	securityMiddleware *middleware.SecurityMiddleware
	now                func() time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string                               `yaml:"port"`
	ReadTimeout    time.Duration                        `yaml:"read_timeout"`
	WriteTimeout   time.Duration                        `yaml:"write_timeout"`
	MaxHeaderBytes int                                  `yaml:"max_header_bytes"`
	Security       *middleware.SecurityMiddlewareConfig `yaml:"security"`
}

// NewServer creates a new server instance. doc may be nil when request
// validation is disabled; /docs then returns 404.
func NewServer(router *routing.Router, sink *telemetry.Sink, doc *openapi3.T, config *ServerConfig, logger *logrus.Logger) (*Server, error) {
	securityMiddleware, err := middleware.NewSecurityMiddleware(config.Security, doc, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize security middleware: %w", err)
	}

	return &Server{
		router:             router,
		sink:               sink,
		doc:                doc,
		logger:             logger,
		config:             config,
		securityMiddleware: securityMiddleware,
		now:                time.Now,
	}, nil
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting AI router server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping AI router server")
	s.securityMiddleware.Stop()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the fully wired HTTP handler
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.Logging(s.logger))
	r.Use(s.securityMiddleware.Handler())

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/operations/{operation}", s.handleOperation).Methods(http.MethodPost)
	api.HandleFunc("/routing/statistics", s.handleStatistics).Methods(http.MethodGet)
	api.HandleFunc("/routing/usage", s.handleUsage).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/acknowledge", s.handleAcknowledgeAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/resolve", s.handleResolveAlert).Methods(http.MethodPost)
	api.HandleFunc("/logs/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealthCheck).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealthCheck).Methods(http.MethodGet)
	s.setupDocsRoutes(r)

	return r
}

// Handlers

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	operation := mux.Vars(r)["operation"]
	if !providers.IsKnownOperation(operation) {
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", fmt.Sprintf("Unknown operation %q", operation), false)
		return
	}

	var req types.OperationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("Invalid JSON: %v", err), false)
		return
	}

	args, err := providers.DecodeArgs(operation, req.Input)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error(), false)
		return
	}

	opts := &routing.RequestOptions{RequestID: middleware.RequestID(r.Context())}
	if o := req.Options; o != nil {
		opts.ForceProvider = o.ForceProvider
		opts.EnableFallback = o.EnableFallback
		if o.TimeoutMs > 0 {
			opts.Timeout = time.Duration(o.TimeoutMs) * time.Millisecond
		}
	}

	result, err := s.router.RouteRequest(r.Context(), operation, args, opts)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	if result == nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, string(routing.ErrorUnknown), "provider returned no result", false)
		return
	}

	s.writeJSON(w, http.StatusOK, types.OperationResponse{
		RequestID: opts.RequestID,
		Operation: operation,
		Provider:  result.Provider,
		Model:     result.Model,
		Result:    result.Value,
		Usage:     result.Usage,
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	window, ok := s.windowParam(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.sink.Statistics(window))
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.router.Usage(),
		"counters":  s.router.Counters(),
		"timestamp": s.now().Unix(),
	})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	includeResolved := false
	if v := r.URL.Query().Get("include_resolved"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "include_resolved must be a boolean", false)
			return
		}
		includeResolved = parsed
	}

	alerts := s.sink.Alerts(includeResolved)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	s.updateAlert(w, mux.Vars(r)["id"], s.sink.AcknowledgeAlert)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	s.updateAlert(w, mux.Vars(r)["id"], s.sink.ResolveAlert)
}

func (s *Server) updateAlert(w http.ResponseWriter, id string, update func(string) (*types.Alert, error)) {
	alert, err := update(id)
	if errors.Is(err, telemetry.ErrAlertNotFound) {
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", fmt.Sprintf("Alert %s not found", id), false)
		return
	}
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "api_error", err.Error(), false)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	window, ok := s.windowParam(w, r)
	if !ok {
		return
	}
	data, err := s.sink.ExportJSON(window)
	if err != nil {
		s.logger.WithError(err).Error("Failed to export routing logs")
		s.writeErrorResponse(w, http.StatusInternalServerError, "api_error", "export failed", false)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ai-routing-%s.json"`, s.now().UTC().Format("20060102-150405")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleHealthCheck reports breaker state and the latest health sample per
// provider. It returns 503 only when no provider can take traffic.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	breakers := s.router.BreakerStates()
	latest := s.sink.LatestHealth()

	openCount := 0
	for _, b := range breakers {
		if b.IsOpen {
			openCount++
		}
	}
	degraded := openCount > 0
	for _, h := range latest {
		if h.Status != types.HealthHealthy {
			degraded = true
		}
	}

	status := types.HealthHealthy
	code := http.StatusOK
	switch {
	case len(breakers) > 0 && openCount == len(breakers):
		status = types.HealthUnhealthy
		code = http.StatusServiceUnavailable
	case degraded:
		status = types.HealthDegraded
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":           status,
		"circuit_breakers": breakers,
		"providers":        latest,
		"timestamp":        s.now().Unix(),
	})
}

// Helper functions

func (s *Server) windowParam(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	hours := defaultWindowHours
	if v := r.URL.Query().Get("hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > maxWindowHours {
			s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("hours must be between 1 and %d", maxWindowHours), false)
			return 0, false
		}
		hours = parsed
	}
	return time.Duration(hours) * time.Hour, true
}

// statusForError maps a classified routing error to an HTTP status
func statusForError(cerr *routing.ClassifiedError) int {
	switch cerr.Type {
	case routing.ErrorRateLimit:
		return http.StatusTooManyRequests
	case routing.ErrorTimeout:
		return http.StatusGatewayTimeout
	case routing.ErrorServiceUnavailable, routing.ErrorCircuitOpen:
		return http.StatusServiceUnavailable
	case routing.ErrorNetwork, routing.ErrorAuthentication:
		// upstream credentials are ours, not the caller's
		return http.StatusBadGateway
	case routing.ErrorConfiguration:
		if errors.Is(cerr, routing.ErrNoRoutingRule) {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeRoutingError(w http.ResponseWriter, err error) {
	var cerr *routing.ClassifiedError
	if !errors.As(err, &cerr) {
		cerr = routing.Classify(err)
	}

	if cerr.Type == routing.ErrorRateLimit && cerr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int((cerr.RetryAfter+time.Second-1)/time.Second)))
	}
	s.writeErrorResponse(w, statusForError(cerr), string(cerr.Type), cerr.Message, cerr.Retryable)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errType, message string, retryable bool) {
	s.writeJSON(w, statusCode, types.ErrorResponse{
		Error: types.ErrorDetail{
			Message:   message,
			Type:      errType,
			Code:      statusCode,
			Retryable: retryable,
		},
	})
}
