package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/core"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPError_RedactsAndTruncates(t *testing.T) {
	resp := &http.Response{StatusCode: 503, Status: "503 Service Unavailable", Header: http.Header{}}
	resp.Header.Set("Retry-After", "7")
	body := "upstream said api_key=secret123\n" + strings.Repeat("x", 400)

	e := NewHTTPError("nominatim.search", resp, []byte(body))
	require.Equal(t, 503, e.StatusCode)
	require.Equal(t, 7*time.Second, e.RetryAfter)
	require.True(t, e.Retryable())
	require.NotContains(t, e.Snippet, "secret123")
	require.NotContains(t, e.Snippet, "\n")
	require.True(t, strings.HasSuffix(e.Snippet, "..."))
	require.Contains(t, e.Error(), "op=nominatim.search")
	require.Contains(t, e.Error(), "retryAfter=7s")
}

func TestHTTPError_Retryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{code: 400, want: false},
		{code: 404, want: false},
		{code: 429, want: true},
		{code: 500, want: true},
		{code: 502, want: true},
	}
	for _, tt := range tests {
		e := &HTTPError{StatusCode: tt.code}
		require.Equal(t, tt.want, e.Retryable(), "status %d", tt.code)
	}
	var nilErr *HTTPError
	require.False(t, nilErr.Retryable())
	require.Equal(t, "http error", nilErr.Error())
}

func TestParseBaseURL(t *testing.T) {
	u, err := ParseBaseURL("nominatim.test/api?x=1", "nominatim")
	require.NoError(t, err)
	require.Equal(t, "https://nominatim.test/api/", u.String())
	require.Equal(t, "https://nominatim.test/api/search", Resolve(u, "/search").String())

	_, err = ParseBaseURL("  ", "nominatim")
	require.ErrorContains(t, err, "nominatim base URL is required")
}

func TestNewHTTPClient_BadCAPath(t *testing.T) {
	_, err := NewHTTPClient("/does/not/exist.pem", time.Second)
	require.Error(t, err)

	c, err := NewHTTPClient("", 0)
	require.NoError(t, err)
	require.Equal(t, DefaultTimeout, c.Timeout)
}

func TestClassify(t *testing.T) {
	throttled := Classify(&HTTPError{StatusCode: 429, RetryAfter: 3 * time.Second})
	var lte *core.LimitedTransientError
	require.ErrorAs(t, throttled, &lte)
	require.Equal(t, ThrottleRetries, lte.MaxExtraRetries())
	var he *HTTPError
	require.ErrorAs(t, throttled, &he)
	require.Equal(t, 3*time.Second, he.RetryDelay())

	var te *core.TransientError
	require.ErrorAs(t, Classify(&HTTPError{StatusCode: 503}), &te)

	final := Classify(&HTTPError{StatusCode: 404})
	require.False(t, errors.As(final, &te))
	require.False(t, errors.As(final, &lte))
	require.NoError(t, Classify(nil))
}
