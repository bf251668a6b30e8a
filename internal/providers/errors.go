package providers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ProviderError wraps an SDK failure with the structured fields the
// classifier understands.
type ProviderError struct {
	Provider       string
	StatusCode     int
	RetryAfterHint time.Duration
	Err            error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s api error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s api error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the upstream status code, or 0 when unknown
func (e *ProviderError) HTTPStatus() int {
	return e.StatusCode
}

// RetryAfter returns the upstream Retry-After hint, or 0
func (e *ProviderError) RetryAfter() time.Duration {
	return e.RetryAfterHint
}

// ParseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form.
func ParseRetryAfter(header http.Header, now time.Time) time.Duration {
	if header == nil {
		return 0
	}
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
