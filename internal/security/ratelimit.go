package security

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

// ClientRateLimiter keeps one token bucket per client key
type ClientRateLimiter struct {
	config *RateLimitConfig
	logger *logrus.Logger
	now    func() time.Time

	mutex   sync.Mutex
	clients map[string]*clientLimiter

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientRateLimiter creates a limiter and starts idle-client cleanup
func NewClientRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *ClientRateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 120
	}
	if config.BurstSize <= 0 {
		config.BurstSize = config.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 10 * time.Minute
	}

	rl := &ClientRateLimiter{
		config:      config,
		logger:      logger,
		now:         time.Now,
		clients:     make(map[string]*clientLimiter),
		stopCleanup: make(chan struct{}),
	}
	rl.startCleanup()
	return rl
}

// Allow checks whether one more request from key fits the budget
func (rl *ClientRateLimiter) Allow(key string) *RateLimitResult {
	if !rl.config.Enabled {
		return &RateLimitResult{Allowed: true, Limit: rl.config.RequestsPerMinute, Remaining: rl.config.RequestsPerMinute}
	}

	now := rl.now()
	lim := rl.limiterFor(key, now)

	if lim.AllowN(now, 1) {
		return &RateLimitResult{
			Allowed:   true,
			Limit:     rl.config.RequestsPerMinute,
			Remaining: int(math.Max(0, math.Floor(lim.TokensAt(now)))),
		}
	}

	retryAfter := time.Duration(float64(time.Minute) / float64(rl.config.RequestsPerMinute))
	rl.logger.WithFields(logrus.Fields{
		"key":         MaskAPIKey(key),
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")

	return &RateLimitResult{
		Allowed:    false,
		Limit:      rl.config.RequestsPerMinute,
		Remaining:  0,
		RetryAfter: retryAfter,
	}
}

// Reset forgets the bucket for a key
func (rl *ClientRateLimiter) Reset(key string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	delete(rl.clients, key)
}

func (rl *ClientRateLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	c, ok := rl.clients[key]
	if !ok {
		perSecond := rate.Limit(float64(rl.config.RequestsPerMinute) / 60.0)
		c = &clientLimiter{limiter: rate.NewLimiter(perSecond, rl.config.BurstSize)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (rl *ClientRateLimiter) startCleanup() {
	rl.cleanupTicker = time.NewTicker(rl.config.CleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.stopCleanup:
				return
			}
		}
	}()
}

// cleanup removes clients that haven't been seen recently
func (rl *ClientRateLimiter) cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := rl.now().Add(-rl.config.IdleTimeout)
	removed := 0
	for key, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.WithField("removed_clients", removed).Debug("Rate limit cleanup completed")
	}
}

// Stop stops the cleanup goroutine
func (rl *ClientRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopCleanup)
	})
}

// Middleware rejects requests over the per-client budget with 429
func (rl *ClientRateLimiter) Middleware(keyExtractor func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result := rl.Allow(key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				seconds := int(math.Ceil(result.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]interface{}{
						"message":     "Rate limit exceeded",
						"type":        "rate_limit_error",
						"code":        http.StatusTooManyRequests,
						"retryable":   true,
						"retry_after": seconds,
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey keys rate limiting on the caller IP
func ClientKey(r *http.Request) string {
	return "ip:" + ClientIP(r)
}
