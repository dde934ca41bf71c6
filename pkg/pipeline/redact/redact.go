package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|gemini[_-]?api[_-]?key|x-goog-api-key|secret[_-]?key|access[_-]?key)\b\s*[:=]\s*[^\s"']+`)

	// Gemini accepts the key as a query parameter; transport errors echo the full URL.
	keyQueryRe = regexp.MustCompile(`([?&])key=[^&\s"']+`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = keyQueryRe.ReplaceAllString(out, "${1}key=<redacted>")
	return strings.TrimSpace(out)
}
