package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shpitdev/sf-graffiti-search/internal/enrich"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/redact"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/worker"
	"go.uber.org/zap"
)

// attemptTracer numbers the requests made per record so retries show up in the logs. Records
// are told apart by enrich.RecordID; the request subject is the fallback key.
type attemptTracer struct {
	logger     *zap.Logger
	maxRetries int

	mu       sync.Mutex
	attempts map[string]int
}

func newAttemptTracer(logger *zap.Logger, maxRetries int) *attemptTracer {
	return &attemptTracer{logger: logger, maxRetries: maxRetries, attempts: make(map[string]int)}
}

func (t *attemptTracer) nextAttempt(ctx context.Context, subject string) (int, []zap.Field) {
	key := enrich.RecordID(ctx)
	var fields []zap.Field
	if key != "" {
		fields = append(fields, zap.String("record", key))
	} else {
		key = subject
	}
	return t.count(key), fields
}

func (t *attemptTracer) count(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[key]++
	return t.attempts[key]
}

func (t *attemptTracer) request(ctx context.Context, msg string, attempt int, fields ...zap.Field) {
	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	t.logger.Debug(msg, append(fields, zap.Int("attempt", attempt), zap.String("deadlineIn", deadlineIn))...)
}

func (t *attemptTracer) failure(msg string, attempt int, elapsed time.Duration, err error, fields ...zap.Field) {
	t.logger.Warn(msg, append(fields,
		zap.Int("attempt", attempt),
		zap.Duration("duration", elapsed),
		zap.Bool("retryable", worker.IsTransient(err)),
		zap.Bool("willRetry", worker.WillRetry(err, attempt, t.maxRetries)),
		zap.String("error", redact.Secrets(err.Error())),
	)...)
}

type tracedDescriber struct {
	next enrich.Describer
	*attemptTracer
}

func newTracedDescriber(next enrich.Describer, logger *zap.Logger, maxRetries int) *tracedDescriber {
	return &tracedDescriber{next: next, attemptTracer: newAttemptTracer(logger, maxRetries)}
}

func (t *tracedDescriber) Describe(ctx context.Context, mediaURL string) (enrich.Description, error) {
	mediaURL = strings.TrimSpace(mediaURL)
	attempt, fields := t.nextAttempt(ctx, mediaURL)
	fields = append(fields, zap.String("url", mediaURL))
	t.request(ctx, "describe request", attempt, fields...)

	start := time.Now()
	out, err := t.next.Describe(ctx, mediaURL)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		t.failure("describe response", attempt, elapsed, err, fields...)
		return out, err
	}
	t.logger.Debug("describe response", append(fields,
		zap.Int("attempt", attempt),
		zap.Duration("duration", elapsed),
		zap.String("title", out.Title),
		zap.Int("analysisChars", len(out.Analysis)),
	)...)
	return out, nil
}

type tracedGeocoder struct {
	next enrich.Geocoder
	*attemptTracer
}

func newTracedGeocoder(next enrich.Geocoder, logger *zap.Logger, maxRetries int) *tracedGeocoder {
	return &tracedGeocoder{next: next, attemptTracer: newAttemptTracer(logger, maxRetries)}
}

func (t *tracedGeocoder) Geocode(ctx context.Context, address string) (enrich.Coordinates, bool, error) {
	attempt, fields := t.nextAttempt(ctx, address)
	fields = append(fields, zap.String("address", address))
	t.request(ctx, "geocode request", attempt, fields...)

	start := time.Now()
	c, found, err := t.next.Geocode(ctx, address)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		t.failure("geocode response", attempt, elapsed, err, fields...)
		return c, found, err
	}
	t.logger.Debug("geocode response", append(fields,
		zap.Int("attempt", attempt),
		zap.Duration("duration", elapsed),
		zap.Bool("found", found),
		zap.Float64("lat", c.Latitude),
		zap.Float64("lon", c.Longitude),
	)...)
	return c, found, nil
}
