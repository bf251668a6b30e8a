package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/calendar-ai-router/api"
	"github.com/tributary-ai/calendar-ai-router/internal/security"
	"github.com/tributary-ai/calendar-ai-router/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func loadDoc(t *testing.T) *openapi3.T {
	t.Helper()
	doc, err := LoadOpenAPI(api.OpenAPISpec)
	require.NoError(t, err)
	return doc
}

// echoBody proves the handler still sees the request body after validation
func echoBody(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func TestLoadOpenAPI(t *testing.T) {
	doc := loadDoc(t)
	assert.NotNil(t, doc.Paths.Find("/v1/operations/{operation}"))

	_, err := LoadOpenAPI([]byte("not: [valid"))
	assert.Error(t, err)
}

func TestNewSecurityMiddleware(t *testing.T) {
	config := &SecurityMiddlewareConfig{
		RateLimit: &security.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Validation:     &ValidationConfig{Enabled: true},
		AllowedOrigins: []string{"*"},
	}

	m, err := NewSecurityMiddleware(config, loadDoc(t), testLogger())
	require.NoError(t, err)
	defer m.Stop()

	assert.NotNil(t, m.rateLimiter)
	assert.True(t, m.validator.enabled)
}

func TestNewSecurityMiddleware_ValidationWithoutDocument(t *testing.T) {
	config := &SecurityMiddlewareConfig{Validation: &ValidationConfig{Enabled: true}}

	m, err := NewSecurityMiddleware(config, nil, testLogger())
	assert.Error(t, err)
	assert.Nil(t, m)
}

func TestSecurityMiddleware_Headers(t *testing.T) {
	m, err := NewSecurityMiddleware(nil, nil, testLogger())
	require.NoError(t, err)

	handler := m.Handler()(http.HandlerFunc(echoBody))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), "CORS is off without allowed origins")
}

func TestSecurityMiddleware_CORS(t *testing.T) {
	m, err := NewSecurityMiddleware(&SecurityMiddlewareConfig{
		AllowedOrigins: []string{"https://calendar.example.com"},
	}, nil, testLogger())
	require.NoError(t, err)
	handler := m.Handler()(http.HandlerFunc(echoBody))

	req := httptest.NewRequest(http.MethodOptions, "/v1/operations/titles", nil)
	req.Header.Set("Origin", "https://calendar.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://calendar.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityMiddleware_RateLimit(t *testing.T) {
	m, err := NewSecurityMiddleware(&SecurityMiddlewareConfig{
		RateLimit: &security.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: 2},
	}, nil, testLogger())
	require.NoError(t, err)
	defer m.Stop()
	handler := m.Handler()(http.HandlerFunc(echoBody))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestValidationMiddleware_Disabled(t *testing.T) {
	vm, err := NewValidationMiddleware(nil, nil, testLogger())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/operations/titles", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	vm.Middleware(http.HandlerFunc(echoBody)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidationMiddleware_Requests(t *testing.T) {
	vm, err := NewValidationMiddleware(&ValidationConfig{Enabled: true}, loadDoc(t), testLogger())
	require.NoError(t, err)
	handler := vm.Middleware(http.HandlerFunc(echoBody))

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
	}{
		{"valid operation request", http.MethodPost, "/v1/operations/titles", `{"input":{"description":"sync"}}`, http.StatusOK},
		{"missing input", http.MethodPost, "/v1/operations/titles", `{"options":{}}`, http.StatusBadRequest},
		{"wrong option type", http.MethodPost, "/v1/operations/titles", `{"input":{},"options":{"enable_fallback":"yes"}}`, http.StatusBadRequest},
		{"hours out of range", http.MethodGet, "/v1/routing/statistics?hours=0", "", http.StatusBadRequest},
		{"valid hours", http.MethodGet, "/v1/routing/statistics?hours=12", "", http.StatusOK},
		{"undocumented path", http.MethodGet, "/health", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK && tt.body != "" {
				assert.JSONEq(t, tt.body, rec.Body.String())
			}
			if tt.wantCode == http.StatusBadRequest {
				var resp types.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "validation_error", resp.Error.Type)
				assert.False(t, resp.Error.Retryable)
			}
		})
	}
}

func TestLogging_RequestID(t *testing.T) {
	var seen string
	handler := Logging(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", seen)
}
