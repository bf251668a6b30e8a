package security

import (
	"net/http"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`), "Bearer " + redacted},
	{regexp.MustCompile(`sk-(?:ant-)?[A-Za-z0-9_\-]{8,}`), redacted},
	{regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`), redacted},
	{regexp.MustCompile(`(?i)\b(x-api-key|api[_-]?key|access_token|token|secret|password|key)("?\s*[=:]\s*"?)[^\s&"',;]+`), "${1}${2}" + redacted},
}

// SanitizeMessage removes API keys, bearer tokens and secret query
// parameters from an error message before it is logged or returned.
func SanitizeMessage(msg string) string {
	for _, p := range secretPatterns {
		msg = p.re.ReplaceAllString(msg, p.repl)
	}
	return msg
}

// SanitizeFields redacts values whose key looks sensitive
func SanitizeFields(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}

	sanitized := make(map[string]interface{}, len(details))
	for key, value := range details {
		switch {
		case isSensitiveField(key):
			sanitized[key] = redacted
		case isString(value):
			sanitized[key] = SanitizeMessage(value.(string))
		default:
			sanitized[key] = value
		}
	}
	return sanitized
}

func isString(v interface{}) bool {
	_, ok := v.(string)
	return ok
}

func isSensitiveField(field string) bool {
	fieldLower := strings.ToLower(field)
	for _, sensitive := range []string{
		"password", "token", "secret", "api_key", "apikey", "api-key",
		"credential", "authorization", "bearer",
	} {
		if strings.Contains(fieldLower, sensitive) {
			return true
		}
	}
	return false
}

// MaskAPIKey keeps the first and last four characters of a key
func MaskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:4] + "****" + apiKey[len(apiKey)-4:]
}

// ClientIP returns the caller address, honouring proxy headers
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}
