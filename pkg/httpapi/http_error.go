package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/core"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/redact"
)

// HTTPError is a sanitized summary of a non-2xx response from an enrichment service.
//
// Important: do not include raw response bodies here (can leak PII/tokens).
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	RetryAfter time.Duration

	// Snippet is a redacted, truncated hint of the response body.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error"
	}
	parts := []string{
		fmt.Sprintf("http error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if e.RetryAfter > 0 {
		parts = append(parts, "retryAfter="+e.RetryAfter.String())
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

// Retryable reports whether the status is worth another attempt (throttling or server side).
func (e *HTTPError) Retryable() bool {
	return e != nil && (e.StatusCode == http.StatusTooManyRequests || e.StatusCode/100 == 5)
}

// RetryDelay is the wait the server asked for before the next attempt, or 0.
func (e *HTTPError) RetryDelay() time.Duration {
	if e == nil {
		return 0
	}
	return e.RetryAfter
}

// ThrottleRetries is how many extra attempts a throttled (429) request may use, whatever the
// scheduler's retry budget.
const ThrottleRetries = 1

// Classify marks e for the schedulers: throttling is retried at most ThrottleRetries times,
// other retryable statuses use the full budget and everything else is final.
func Classify(e *HTTPError) error {
	switch {
	case e == nil:
		return nil
	case e.StatusCode == http.StatusTooManyRequests:
		return &core.LimitedTransientError{Err: e, ExtraRetries: ThrottleRetries}
	case e.Retryable():
		return &core.TransientError{Err: e}
	default:
		return e
	}
}

// NewHTTPError builds an HTTPError from a response and its (already read) body.
func NewHTTPError(op string, resp *http.Response, body []byte) *HTTPError {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
		h.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	h.Snippet = redactAndTruncate(body)
	return h
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	// Keep this small: response bodies can contain sensitive data.
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
