package security

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLimiter(t *testing.T, config *RateLimitConfig) *ClientRateLimiter {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	limiter := NewClientRateLimiter(config, logger)
	t.Cleanup(limiter.Stop)
	return limiter
}

func TestNewClientRateLimiter_Defaults(t *testing.T) {
	config := &RateLimitConfig{Enabled: true}
	limiter := createTestLimiter(t, config)

	assert.Equal(t, 120, config.RequestsPerMinute)
	assert.Equal(t, 120, config.BurstSize)
	assert.Equal(t, 5*time.Minute, config.CleanupInterval)
	assert.NotNil(t, limiter.clients)
}

func TestClientRateLimiter_Disabled(t *testing.T) {
	limiter := createTestLimiter(t, &RateLimitConfig{Enabled: false, RequestsPerMinute: 60})

	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Allow("client").Allowed)
	}
}

func TestClientRateLimiter_ExceedBurst(t *testing.T) {
	limiter := createTestLimiter(t, &RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: 3})
	frozen := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return frozen }

	for i := 0; i < 3; i++ {
		result := limiter.Allow("client")
		require.True(t, result.Allowed)
		assert.Equal(t, 2-i, result.Remaining)
	}

	result := limiter.Allow("client")
	assert.False(t, result.Allowed)
	assert.Equal(t, time.Second, result.RetryAfter)

	// other clients have their own bucket
	assert.True(t, limiter.Allow("other").Allowed)

	// one second later a token is back
	frozen = frozen.Add(time.Second)
	assert.True(t, limiter.Allow("client").Allowed)
}

func TestClientRateLimiter_Reset(t *testing.T) {
	limiter := createTestLimiter(t, &RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: 1})
	frozen := time.Now()
	limiter.now = func() time.Time { return frozen }

	require.True(t, limiter.Allow("client").Allowed)
	require.False(t, limiter.Allow("client").Allowed)

	limiter.Reset("client")
	assert.True(t, limiter.Allow("client").Allowed)
}

func TestClientRateLimiter_Cleanup(t *testing.T) {
	limiter := createTestLimiter(t, &RateLimitConfig{Enabled: true, RequestsPerMinute: 60, IdleTimeout: time.Minute})
	start := time.Now()
	limiter.now = func() time.Time { return start }

	limiter.Allow("idle")
	limiter.now = func() time.Time { return start.Add(2 * time.Minute) }
	limiter.Allow("fresh")
	limiter.cleanup()

	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	assert.NotContains(t, limiter.clients, "idle")
	assert.Contains(t, limiter.clients, "fresh")
}

func TestClientRateLimiter_Middleware(t *testing.T) {
	limiter := createTestLimiter(t, &RateLimitConfig{Enabled: true, RequestsPerMinute: 30, BurstSize: 1})
	frozen := time.Now()
	limiter.now = func() time.Time { return frozen }

	handler := limiter.Middleware(ClientKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/alerts", nil)
	req.RemoteAddr = "10.0.0.7:51234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_error", body["error"]["type"])
	assert.Equal(t, true, body["error"]["retryable"])
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.10:4000"
	assert.Equal(t, "ip:192.168.1.10", ClientKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "ip:203.0.113.5", ClientKey(req))
}
