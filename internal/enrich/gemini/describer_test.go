package gemini

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shpitdev/sf-graffiti-search/internal/enrich"
	"github.com/shpitdev/sf-graffiti-search/pkg/httpapi"
	"github.com/shpitdev/sf-graffiti-search/pkg/mockservices"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/core"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/worker"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name          string
		in            error
		wantTransient bool
	}{
		{name: "nil", in: nil, wantTransient: false},
		{name: "api_429", in: genai.APIError{Code: 429}, wantTransient: true},
		{name: "api_500", in: genai.APIError{Code: 500}, wantTransient: true},
		{name: "api_400", in: genai.APIError{Code: 400}, wantTransient: false},
		{name: "net_timeout", in: timeoutNetErr{}, wantTransient: true},
		{name: "plain", in: errors.New("bad image"), wantTransient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyErr(tt.in)
			isTransient := worker.IsTransient(got)
			if isTransient != tt.wantTransient {
				t.Fatalf("transient=%v want=%v (err=%T %v)", isTransient, tt.wantTransient, got, got)
			}
		})
	}
}

func TestImageMIMEType(t *testing.T) {
	require.Equal(t, "image/webp", imageMIMEType("image/webp; charset=binary", nil))
	require.Equal(t, "image/png", imageMIMEType("application/octet-stream", []byte("\x89PNG\r\n\x1a\nrest")))
	require.Equal(t, "image/jpeg", imageMIMEType("", []byte("not an image")))
}

func newMockDescriber(t *testing.T) (*Describer, *mockservices.Server, string) {
	t.Helper()
	mock := mockservices.New()
	mock.RequireAPIKey("test-key")
	ts := httptest.NewServer(mock.Handler())
	t.Cleanup(ts.Close)

	d, err := New(context.Background(), Config{
		APIKey:     "test-key",
		Model:      "gemini-test",
		BaseURL:    ts.URL,
		HTTPClient: ts.Client(),
	})
	require.NoError(t, err)
	return d, mock, ts.URL
}

func TestDescribe_SendsImageAndParsesAnswer(t *testing.T) {
	d, mock, base := newMockDescriber(t)
	mock.SetDescription("wall-1", "TITLE: Pink heart on brick\n\nDESCRIPTION: A pink heart is sprayed on red brick. The outline is black.")

	got, err := d.Describe(context.Background(), mockservices.ImageURL(base, "wall-1"))
	require.NoError(t, err)
	require.Equal(t, enrich.Description{
		Title:    "Pink heart on brick",
		Analysis: "A pink heart is sprayed on red brick. The outline is black.",
	}, got)

	calls := mock.CallsTo(mockservices.ServiceGemini)
	require.Len(t, calls, 1)
	require.Equal(t, "wall-1", calls[0].Subject)
	require.Len(t, mock.CallsTo(mockservices.ServiceImages), 1)
}

func TestDescribe_ServiceErrors(t *testing.T) {
	d, mock, base := newMockDescriber(t)
	mock.FailDescribe("throttled", http.StatusTooManyRequests)
	mock.FailDescribe("rejected", http.StatusBadRequest)
	mock.FailImage("gone", http.StatusNotFound)
	mock.FailImage("flaky", http.StatusBadGateway)

	ctx := context.Background()
	var te *core.TransientError
	var lte *core.LimitedTransientError

	_, err := d.Describe(ctx, mockservices.ImageURL(base, "throttled"))
	require.ErrorAs(t, err, &lte)
	require.Equal(t, httpapi.ThrottleRetries, lte.MaxExtraRetries())

	_, err = d.Describe(ctx, mockservices.ImageURL(base, "rejected"))
	require.Error(t, err)
	require.False(t, errors.As(err, &te))

	_, err = d.Describe(ctx, mockservices.ImageURL(base, "gone"))
	var he *httpapi.HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusNotFound, he.StatusCode)
	require.False(t, errors.As(err, &te))

	_, err = d.Describe(ctx, mockservices.ImageURL(base, "flaky"))
	require.ErrorAs(t, err, &te)

	require.Len(t, mock.CallsTo(mockservices.ServiceGemini), 2, "failed downloads never reach the model")
}

func TestDescribe_WrongKey(t *testing.T) {
	mock := mockservices.New()
	mock.RequireAPIKey("right")
	ts := httptest.NewServer(mock.Handler())
	defer ts.Close()

	d, err := New(context.Background(), Config{APIKey: "wrong", BaseURL: ts.URL, HTTPClient: ts.Client()})
	require.NoError(t, err)
	require.Equal(t, DefaultModel, d.Model())

	out, err := enrich.DescribeImage(context.Background(), d, mockservices.ImageURL(ts.URL, "x"))
	require.Error(t, err)
	require.Equal(t, enrich.Placeholder(), out)
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "GEMINI_API_KEY")
}
