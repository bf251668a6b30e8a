package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/calendar-ai-router/api"
	"github.com/tributary-ai/calendar-ai-router/internal/health"
	"github.com/tributary-ai/calendar-ai-router/internal/middleware"
	"github.com/tributary-ai/calendar-ai-router/internal/providers"
	"github.com/tributary-ai/calendar-ai-router/internal/providers/anthropic"
	"github.com/tributary-ai/calendar-ai-router/internal/providers/openai"
	"github.com/tributary-ai/calendar-ai-router/internal/routing"
	"github.com/tributary-ai/calendar-ai-router/internal/server"
	"github.com/tributary-ai/calendar-ai-router/internal/telemetry"
	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

type stack struct {
	handler        http.Handler
	sink           *telemetry.Sink
	router         *routing.Router
	monitor        *health.Monitor
	openaiCalls    atomic.Int64
	anthropicCalls atomic.Int64
}

// newStack wires both SDK adapters against local fakes. OpenAI is down
// with 503s; Anthropic answers every message with reply.
func newStack(t *testing.T, reply string) *stack {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := &stack{}

	openaiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.openaiCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"The server is overloaded","type":"server_error"}}`))
	}))
	t.Cleanup(openaiSrv.Close)

	anthropicSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.anthropicCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":            "msg_01",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-3-5-haiku-latest",
			"content":       []map[string]interface{}{{"type": "text", "text": reply}},
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]interface{}{"input_tokens": 20, "output_tokens": 10},
		})
	}))
	t.Cleanup(anthropicSrv.Close)

	registry := providers.NewRegistry()
	registry.Register(openai.NewOpenAIProvider(&openai.OpenAIConfig{
		APIKey:  "sk-test-openai",
		BaseURL: openaiSrv.URL + "/v1",
		Timeout: 5 * time.Second,
	}, logger))
	registry.Register(anthropic.NewAnthropicProvider(&anthropic.AnthropicConfig{
		APIKey:  "sk-ant-test",
		BaseURL: anthropicSrv.URL,
		Timeout: 5 * time.Second,
	}, logger))

	table, err := routing.NewRoutingTable(routing.DefaultRoutingRules())
	if err != nil {
		t.Fatalf("Failed to build routing table: %v", err)
	}
	table, warnings, err := table.Resolve(registry.Has, logger)
	if err != nil || len(warnings) != 0 {
		t.Fatalf("Unexpected resolve result: %v %v", warnings, err)
	}

	sinkConfig := telemetry.DefaultConfig()
	sinkConfig.Alerting.Enabled = false
	s.sink = telemetry.NewSink(sinkConfig, logger)

	routerConfig := routing.DefaultRouterConfig()
	routerConfig.Retry = routing.RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	s.router = routing.NewRouter(table, registry, s.sink, routerConfig, logger)

	s.monitor, err = health.NewMonitor(health.DefaultConfig(), registry, s.router, s.sink, logger)
	if err != nil {
		t.Fatalf("Failed to create monitor: %v", err)
	}

	doc, err := middleware.LoadOpenAPI(api.OpenAPISpec)
	if err != nil {
		t.Fatalf("Failed to load API document: %v", err)
	}
	srv, err := server.NewServer(s.router, s.sink, doc, &server.ServerConfig{
		Port: "0",
		Security: &middleware.SecurityMiddlewareConfig{
			Validation: &middleware.ValidationConfig{Enabled: true},
		},
	}, logger)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	s.handler = srv.Handler()
	return s
}

func (s *stack) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestIntegration_TitlesFallBackToAnthropic(t *testing.T) {
	s := newStack(t, `{"suggestions": ["Quarterly planning", "Roadmap review"]}`)

	rec := s.post(t, "/v1/operations/titles", `{"input":{"description":"plan the next quarter","count":2}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Provider string                 `json:"provider"`
		Result   types.TitleSuggestions `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Provider != "anthropic" {
		t.Errorf("Expected anthropic to serve the fallback, got %s", resp.Provider)
	}
	if len(resp.Result.Suggestions) != 2 || resp.Result.Suggestions[0] != "Quarterly planning" {
		t.Errorf("Unexpected suggestions: %v", resp.Result.Suggestions)
	}

	if got := s.openaiCalls.Load(); got != 3 {
		t.Errorf("Expected 3 OpenAI attempts, got %d", got)
	}
	if got := s.anthropicCalls.Load(); got != 1 {
		t.Errorf("Expected 1 Anthropic call, got %d", got)
	}

	logs := s.sink.RoutingLogs(0)
	if len(logs) != 2 {
		t.Fatalf("Expected 2 routing log entries, got %d", len(logs))
	}
	if logs[0].Success || logs[0].ErrorType != string(routing.ErrorServiceUnavailable) {
		t.Errorf("Unexpected primary entry: %+v", logs[0])
	}
	if !logs[1].Success || !logs[1].FallbackUsed || logs[1].ActualProvider != "anthropic" {
		t.Errorf("Unexpected fallback entry: %+v", logs[1])
	}

	counters := s.router.Counters()
	if counters.TotalRequests != 1 || counters.FallbacksTriggered != 1 || counters.RoutingFailures != 0 {
		t.Errorf("Unexpected counters: %+v", counters)
	}
}

func TestIntegration_AgendaServedByPrimary(t *testing.T) {
	s := newStack(t, `{"items": [{"title": "Goals", "duration_minutes": 10}, {"title": "Risks", "duration_minutes": 20}]}`)

	rec := s.post(t, "/v1/operations/agenda", `{"input":{"title":"Launch readiness","duration_minutes":30}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"provider":"anthropic"`) {
		t.Errorf("Expected agenda to be served by anthropic: %s", rec.Body.String())
	}
	if got := s.openaiCalls.Load(); got != 0 {
		t.Errorf("Expected no OpenAI calls, got %d", got)
	}
}

func TestIntegration_ForcedProviderDoesNotFallBack(t *testing.T) {
	s := newStack(t, `{"suggestions": ["unused"]}`)

	rec := s.post(t, "/v1/operations/titles", `{"input":{"description":"sync"},"options":{"force_provider":"openai"}}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := s.anthropicCalls.Load(); got != 0 {
		t.Errorf("Expected no Anthropic calls, got %d", got)
	}
}

func TestIntegration_HealthMonitor(t *testing.T) {
	s := newStack(t, "ok")

	results := s.monitor.CheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("Expected 2 health results, got %d", len(results))
	}

	latest := s.sink.LatestHealth()
	if latest["anthropic"].Status != types.HealthHealthy {
		t.Errorf("Expected anthropic healthy, got %+v", latest["anthropic"])
	}
	if latest["openai"].Status != types.HealthUnhealthy {
		t.Errorf("Expected openai unhealthy, got %+v", latest["openai"])
	}
	if latest["openai"].Source != types.HealthSourceActive {
		t.Errorf("Expected an active sample, got %s", latest["openai"].Source)
	}
}
