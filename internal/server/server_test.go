package server

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/calendar-ai-router/api"
	"github.com/tributary-ai/calendar-ai-router/internal/middleware"
	"github.com/tributary-ai/calendar-ai-router/internal/providers"
	"github.com/tributary-ai/calendar-ai-router/internal/routing"
	"github.com/tributary-ai/calendar-ai-router/internal/telemetry"
	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

type testEnv struct {
	server  *Server
	handler http.Handler
	sink    *telemetry.Sink
	router  *routing.Router
	primary atomic.Int64
	backup  atomic.Int64
}

func titlesOp(counter *atomic.Int64, err error, suggestions ...string) providers.OperationFunc {
	return func(ctx context.Context, args providers.Args) (*providers.Result, error) {
		counter.Add(1)
		if err != nil {
			return nil, err
		}
		return &providers.Result{
			Value: types.TitleSuggestions{Suggestions: suggestions},
			Model: "test-model",
			Usage: &types.Usage{TotalTokens: 12},
		}, nil
	}
}

// createTestServer wires primary and backup providers for titles. A nil
// error makes the provider succeed.
func createTestServer(t *testing.T, primaryErr, backupErr error, validate bool) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &testEnv{}
	registry := providers.NewRegistry()
	registry.RegisterOperation("primary", types.OperationTitles, titlesOp(&env.primary, primaryErr, "Weekly sync"))
	registry.RegisterOperation("backup", types.OperationTitles, titlesOp(&env.backup, backupErr, "Team check-in"))

	table, err := routing.NewRoutingTable(map[string]routing.RoutingRule{
		types.OperationTitles: {Primary: "primary", Fallback: "backup", FallbackEnabled: true, Timeout: time.Second},
	})
	require.NoError(t, err)

	sinkConfig := telemetry.DefaultConfig()
	sinkConfig.Alerting.Enabled = false
	env.sink = telemetry.NewSink(sinkConfig, logger)

	routerConfig := routing.DefaultRouterConfig()
	routerConfig.Retry = routing.RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	env.router = routing.NewRouter(table, registry, env.sink, routerConfig, logger)

	doc, err := middleware.LoadOpenAPI(api.OpenAPISpec)
	require.NoError(t, err)

	config := &ServerConfig{
		Port: "0",
		Security: &middleware.SecurityMiddlewareConfig{
			Validation: &middleware.ValidationConfig{Enabled: validate},
		},
	}
	env.server, err = NewServer(env.router, env.sink, doc, config, logger)
	require.NoError(t, err)
	env.handler = env.server.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ErrorDetail {
	t.Helper()
	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func TestServer_OperationSuccess(t *testing.T) {
	env := createTestServer(t, nil, nil, true)

	rec := env.do(t, http.MethodPost, "/v1/operations/titles", `{"input":{"description":"weekly sync with design"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		RequestID string                 `json:"request_id"`
		Operation string                 `json:"operation"`
		Provider  string                 `json:"provider"`
		Model     string                 `json:"model"`
		Result    types.TitleSuggestions `json:"result"`
		Usage     *types.Usage           `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "primary", resp.Provider)
	assert.Equal(t, "titles", resp.Operation)
	assert.Equal(t, []string{"Weekly sync"}, resp.Result.Suggestions)
	assert.Equal(t, rec.Header().Get(middleware.RequestIDHeader), resp.RequestID)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.TotalTokens)

	logs := env.sink.RoutingLogs(0)
	require.Len(t, logs, 1)
	assert.Equal(t, resp.RequestID, logs[0].RequestID)
}

func TestServer_OperationFallback(t *testing.T) {
	env := createTestServer(t, &providers.ProviderError{Provider: "primary", StatusCode: 503, Err: assert.AnError}, nil, false)

	rec := env.do(t, http.MethodPost, "/v1/operations/titles", `{"input":{"description":"sync"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"provider":"backup"`)
	assert.Equal(t, int64(3), env.primary.Load())
	assert.Equal(t, int64(1), env.backup.Load())
}

func TestServer_OperationErrors(t *testing.T) {
	tests := []struct {
		name       string
		primaryErr error
		backupErr  error
		options    string
		wantCode   int
		wantType   string
		retryable  bool
	}{
		{
			name:       "rate limit on both providers",
			primaryErr: &providers.ProviderError{StatusCode: 429, RetryAfterHint: 1500 * time.Millisecond, Err: assert.AnError},
			backupErr:  &providers.ProviderError{StatusCode: 429, Err: assert.AnError},
			wantCode:   http.StatusTooManyRequests,
			wantType:   string(routing.ErrorRateLimit),
			retryable:  true,
		},
		{
			name:       "upstream auth failure is a gateway error",
			primaryErr: &providers.ProviderError{StatusCode: 401, Err: assert.AnError},
			wantCode:   http.StatusBadGateway,
			wantType:   string(routing.ErrorAuthentication),
		},
		{
			name:       "unavailable without fallback",
			primaryErr: &providers.ProviderError{StatusCode: 503, Err: assert.AnError},
			options:    `,"options":{"enable_fallback":false}`,
			wantCode:   http.StatusServiceUnavailable,
			wantType:   string(routing.ErrorServiceUnavailable),
			retryable:  true,
		},
		{
			name:     "unknown forced provider",
			options:  `,"options":{"force_provider":"nobody"}`,
			wantCode: http.StatusBadRequest,
			wantType: string(routing.ErrorConfiguration),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := createTestServer(t, tt.primaryErr, tt.backupErr, false)
			rec := env.do(t, http.MethodPost, "/v1/operations/titles", `{"input":{"description":"sync"}`+tt.options+`}`)

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			detail := decodeError(t, rec)
			assert.Equal(t, tt.wantType, detail.Type)
			assert.Equal(t, tt.wantCode, detail.Code)
			assert.Equal(t, tt.retryable, detail.Retryable)
			if tt.wantCode == http.StatusTooManyRequests {
				assert.Equal(t, "2", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestServer_OperationBadRequests(t *testing.T) {
	env := createTestServer(t, nil, nil, false)

	rec := env.do(t, http.MethodPost, "/v1/operations/summarize", `{"input":{}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// registered operation name, but no rule for it in this table
	rec = env.do(t, http.MethodPost, "/v1/operations/agenda", `{"input":{"title":"Planning"}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(routing.ErrorConfiguration), decodeError(t, rec).Type)

	rec = env.do(t, http.MethodPost, "/v1/operations/titles", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/operations/titles", `{"input":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "description is required")
	assert.Equal(t, int64(0), env.primary.Load())
}

func TestServer_StatisticsAndUsage(t *testing.T) {
	env := createTestServer(t, nil, nil, false)
	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, "/v1/operations/titles", `{"input":{"description":"sync"}}`)
	}

	rec := env.do(t, http.MethodGet, "/v1/routing/statistics?hours=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats telemetry.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.TotalRequests)
	assert.Equal(t, 1.0, stats.SuccessRate)

	rec = env.do(t, http.MethodGet, "/v1/routing/statistics?hours=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/routing/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var usage struct {
		Providers map[string]types.UsageStatistics `json:"providers"`
		Counters  types.RouterCounters             `json:"counters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.Equal(t, int64(3), usage.Counters.TotalRequests)
	assert.Equal(t, int64(3), usage.Providers["primary"].SuccessfulRequests)
}

func TestServer_Alerts(t *testing.T) {
	env := createTestServer(t, nil, nil, false)
	alert, ok := env.sink.RaiseAlert(types.AlertSlowResponse, types.SeverityWarning, "Slow responses", "", types.AlertMetrics{})
	require.True(t, ok)

	rec := env.do(t, http.MethodGet, "/v1/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), alert.ID)

	rec = env.do(t, http.MethodPost, "/v1/alerts/"+alert.ID+"/acknowledge", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"acknowledged":true`)

	rec = env.do(t, http.MethodPost, "/v1/alerts/"+alert.ID+"/resolve", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/alerts", "")
	assert.Contains(t, rec.Body.String(), `"count":0`)
	rec = env.do(t, http.MethodGet, "/v1/alerts?include_resolved=true", "")
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = env.do(t, http.MethodPost, "/v1/alerts/missing/resolve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Export(t *testing.T) {
	env := createTestServer(t, nil, nil, false)
	env.do(t, http.MethodPost, "/v1/operations/titles", `{"input":{"description":"sync"}}`)

	rec := env.do(t, http.MethodGet, "/v1/logs/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	var export telemetry.Export
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	assert.Len(t, export.RoutingLogs, 1)
}

func TestServer_Health(t *testing.T) {
	env := createTestServer(t, nil, nil, false)

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	env.do(t, http.MethodPost, "/v1/operations/titles", `{"input":{"description":"sync"}}`)
	rec = env.do(t, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"primary"`)
}

func TestServer_HealthUnhealthyWhenAllBreakersOpen(t *testing.T) {
	authErr := &providers.ProviderError{StatusCode: 401, Err: assert.AnError}
	env := createTestServer(t, authErr, authErr, false)

	// auth failures are neither retried nor failed over; five trip the primary breaker
	for i := 0; i < 5; i++ {
		env.do(t, http.MethodPost, "/v1/operations/titles", `{"input":{"description":"sync"}}`)
	}

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)

	rec = env.do(t, http.MethodPost, "/v1/operations/titles", `{"input":{"description":"sync"}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(routing.ErrorCircuitOpen), decodeError(t, rec).Type)
}

func TestServer_Docs(t *testing.T) {
	env := createTestServer(t, nil, nil, false)

	rec := env.do(t, http.MethodGet, "/docs/openapi.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])

	rec = env.do(t, http.MethodGet, "/docs/openapi.yaml", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openapi: 3.0.3")

	rec = env.do(t, http.MethodGet, "/docs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/docs/openapi.json")
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		errType routing.ErrorType
		want    int
	}{
		{routing.ErrorRateLimit, http.StatusTooManyRequests},
		{routing.ErrorTimeout, http.StatusGatewayTimeout},
		{routing.ErrorServiceUnavailable, http.StatusServiceUnavailable},
		{routing.ErrorCircuitOpen, http.StatusServiceUnavailable},
		{routing.ErrorNetwork, http.StatusBadGateway},
		{routing.ErrorAuthentication, http.StatusBadGateway},
		{routing.ErrorConfiguration, http.StatusBadRequest},
		{routing.ErrorUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(routing.NewClassifiedError(tt.errType, assert.AnError)))
		})
	}

	noRule := routing.NewClassifiedError(routing.ErrorConfiguration, routing.ErrNoRoutingRule)
	assert.Equal(t, http.StatusNotFound, statusForError(noRule))
}
