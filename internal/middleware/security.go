package middleware

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/calendar-ai-router/internal/security"
)

// SecurityMiddlewareConfig holds configuration for the request middleware stack
type SecurityMiddlewareConfig struct {
	RateLimit      *security.RateLimitConfig `yaml:"rate_limit"`
	Validation     *ValidationConfig         `yaml:"validation"`
	AllowedOrigins []string                  `yaml:"allowed_origins"`
}

// SecurityMiddleware combines rate limiting, request validation and
// response headers for the HTTP API
type SecurityMiddleware struct {
	rateLimiter    *security.ClientRateLimiter
	validator      *ValidationMiddleware
	allowedOrigins []string
	logger         *logrus.Logger
}

// NewSecurityMiddleware creates the middleware stack. doc is only needed
// when validation is enabled.
func NewSecurityMiddleware(config *SecurityMiddlewareConfig, doc *openapi3.T, logger *logrus.Logger) (*SecurityMiddleware, error) {
	if config == nil {
		config = &SecurityMiddlewareConfig{}
	}

	var rateLimiter *security.ClientRateLimiter
	if config.RateLimit != nil && config.RateLimit.Enabled {
		rateLimiter = security.NewClientRateLimiter(config.RateLimit, logger)
	}

	validator, err := NewValidationMiddleware(config.Validation, doc, logger)
	if err != nil {
		return nil, err
	}

	return &SecurityMiddleware{
		rateLimiter:    rateLimiter,
		validator:      validator,
		allowedOrigins: config.AllowedOrigins,
		logger:         logger,
	}, nil
}

// Handler creates the middleware chain
func (s *SecurityMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := s.validator.Middleware(next)

		if s.rateLimiter != nil {
			handler = s.rateLimiter.Middleware(security.ClientKey)(handler)
		}

		if len(s.allowedOrigins) > 0 {
			handler = s.corsMiddleware(handler)
		}

		return securityHeaders(handler)
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-API-Version", "1.0")
		next.ServeHTTP(w, r)
	})
}

func (s *SecurityMiddleware) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := false
		for _, o := range s.allowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stop releases background resources
func (s *SecurityMiddleware) Stop() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}
