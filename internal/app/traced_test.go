package app

import (
	"context"
	"errors"
	"testing"

	"github.com/shpitdev/sf-graffiti-search/internal/enrich"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/core"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func failingGeocoder(err error) enrich.Geocoder {
	return enrich.GeocoderFunc(func(context.Context, string) (enrich.Coordinates, bool, error) {
		return enrich.Coordinates{}, false, err
	})
}

type traceLine struct {
	record    string
	attempt   int64
	willRetry bool
}

func traceLines(t *testing.T, logs *observer.ObservedLogs) []traceLine {
	t.Helper()
	var out []traceLine
	for _, e := range logs.FilterMessage("geocode response").All() {
		m := e.ContextMap()
		rec, _ := m["record"].(string)
		attempt, _ := m["attempt"].(int64)
		retry, _ := m["willRetry"].(bool)
		out = append(out, traceLine{record: rec, attempt: attempt, willRetry: retry})
	}
	return out
}

func TestTracedGeocoder_CountsAttemptsPerRecord(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	g := newTracedGeocoder(failingGeocoder(&core.TransientError{Err: errors.New("503")}), zap.New(obs), 1)

	// Two reports at the same building, the first one retried once.
	for _, id := range []string{"A", "A", "B"} {
		ctx := enrich.WithRecordID(context.Background(), id)
		if _, _, err := g.Geocode(ctx, "1 MAIN ST"); err == nil {
			t.Fatalf("expected the geocoder error")
		}
	}

	got := traceLines(t, logs)
	want := []traceLine{
		{record: "A", attempt: 1, willRetry: true},
		{record: "A", attempt: 2, willRetry: false},
		{record: "B", attempt: 1, willRetry: true},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d failure lines, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: want %+v got %+v", i, want[i], got[i])
		}
	}
}

func TestTracedGeocoder_ThrottlingLimitsWillRetry(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	throttled := &core.LimitedTransientError{Err: errors.New("429"), ExtraRetries: 1}
	g := newTracedGeocoder(failingGeocoder(throttled), zap.New(obs), 5)

	ctx := enrich.WithRecordID(context.Background(), "A")
	_, _, _ = g.Geocode(ctx, "1 MAIN ST")
	_, _, _ = g.Geocode(ctx, "1 MAIN ST")

	got := traceLines(t, logs)
	if len(got) != 2 || !got[0].willRetry || got[1].willRetry {
		t.Fatalf("throttled record should be retried once only: %+v", got)
	}
}
