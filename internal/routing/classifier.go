package routing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tributary-ai/calendar-ai-router/internal/providers"
	"github.com/tributary-ai/calendar-ai-router/internal/security"
)

// ErrorType is the routing taxonomy of provider failures
type ErrorType string

const (
	ErrorRateLimit          ErrorType = "API_RATE_LIMIT"
	ErrorTimeout            ErrorType = "TIMEOUT"
	ErrorServiceUnavailable ErrorType = "SERVICE_UNAVAILABLE"
	ErrorNetwork            ErrorType = "NETWORK_ERROR"
	ErrorAuthentication     ErrorType = "AUTHENTICATION"
	ErrorCircuitOpen        ErrorType = "CIRCUIT_BREAKER_OPEN"
	ErrorConfiguration      ErrorType = "CONFIGURATION"
	ErrorUnknown            ErrorType = "UNKNOWN"
)

// Retryable reports whether errors of this type are worth another attempt
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorRateLimit, ErrorTimeout, ErrorServiceUnavailable, ErrorNetwork:
		return true
	}
	return false
}

// FallbackEligible reports whether errors of this type may switch provider
func (t ErrorType) FallbackEligible() bool {
	switch t {
	case ErrorRateLimit, ErrorTimeout, ErrorServiceUnavailable:
		return true
	}
	return false
}

var (
	// ErrCircuitOpen is returned when a provider's breaker rejects a call
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrNoRoutingRule is returned for operations without a routing rule
	ErrNoRoutingRule = errors.New("no routing rule for operation")
)

// ClassifiedError is the only error type RouteRequest returns
type ClassifiedError struct {
	Type       ErrorType     `json:"type"`
	Message    string        `json:"message"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Provider   string        `json:"provider,omitempty"`
	Err        error         `json:"-"`
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

type statusCoder interface {
	HTTPStatus() int
}

type retryAfterer interface {
	RetryAfter() time.Duration
}

var retryAfterPattern = regexp.MustCompile(`retry[- ]after[:\s]*(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|sec|seconds?)?`)

// Classify maps any failure onto the routing taxonomy. Structured
// signals win over message matching.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	ce := &ClassifiedError{Message: security.SanitizeMessage(err.Error()), Err: err}

	if sc, ok := asStatusCoder(err); ok {
		ce.StatusCode = sc.HTTPStatus()
	}
	var ra retryAfterer
	if errors.As(err, &ra) {
		ce.RetryAfter = ra.RetryAfter()
	}

	ce.Type = classifyType(err, ce)
	ce.Retryable = ce.Type.Retryable()
	if ce.Type != ErrorRateLimit {
		ce.RetryAfter = 0
	}
	return ce
}

// NewClassifiedError builds a classified error of a known type
func NewClassifiedError(t ErrorType, err error) *ClassifiedError {
	return &ClassifiedError{
		Type:      t,
		Message:   security.SanitizeMessage(err.Error()),
		Retryable: t.Retryable(),
		Err:       err,
	}
}

func asStatusCoder(err error) (statusCoder, bool) {
	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() > 0 {
		return sc, true
	}
	return nil, false
}

func classifyType(err error, ce *ClassifiedError) ErrorType {
	if errors.Is(err, ErrCircuitOpen) {
		return ErrorCircuitOpen
	}
	if errors.Is(err, ErrNoRoutingRule) ||
		errors.Is(err, providers.ErrInvalidInput) ||
		errors.Is(err, providers.ErrUnknownOperation) {
		return ErrorConfiguration
	}

	switch ce.StatusCode {
	case 429:
		return ErrorRateLimit
	case 408, 504:
		return ErrorTimeout
	case 401, 403:
		return ErrorAuthentication
	case 500, 502, 503, 529:
		return ErrorServiceUnavailable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTimeout
		}
		return ErrorNetwork
	}

	return classifyMessage(strings.ToLower(err.Error()), ce)
}

func classifyMessage(msg string, ce *ClassifiedError) ErrorType {
	switch {
	case containsAny(msg, "rate limit", "rate_limit", "ratelimit", "quota", "too many requests", "429"):
		if ce.RetryAfter == 0 {
			ce.RetryAfter = parseRetryAfterHint(msg)
		}
		return ErrorRateLimit
	case containsAny(msg, "timeout", "timed out", "deadline"):
		return ErrorTimeout
	case containsAny(msg, "network", "connection", "econnreset", "econnrefused", "fetch failed", "dns", "no such host"):
		return ErrorNetwork
	case containsAny(msg, "unauthorized", "authentication", "api key", "api_key", "permission", "forbidden", "401", "403"):
		return ErrorAuthentication
	case containsAny(msg, "service unavailable", "unavailable", "503", "overloaded"):
		return ErrorServiceUnavailable
	case containsAny(msg, "circuit breaker open", "circuit breaker is open"):
		return ErrorCircuitOpen
	}
	return ErrorUnknown
}

func parseRetryAfterHint(msg string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil || n <= 0 {
		return 0
	}
	if strings.HasPrefix(m[2], "ms") || strings.HasPrefix(m[2], "milli") {
		return time.Duration(n * float64(time.Millisecond))
	}
	return time.Duration(n * float64(time.Second))
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
