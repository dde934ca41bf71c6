package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/core"
	"golang.org/x/time/rate"
)

const (
	DefaultBatchSize      = 100
	DefaultRequestTimeout = 60 * time.Second
	DefaultMinInterval    = time.Second

	// MaxRetryAfter caps a server-requested retry delay.
	MaxRetryAfter = time.Minute
)

// Func performs one external request for one item.
type Func[In any, Out any] func(context.Context, In) (Out, error)

type Options struct {
	// BatchSize bounds the number of requests a Batch scheduler keeps in flight.
	BatchSize      int
	MaxRetries     int
	RequestTimeout time.Duration

	// RateLimitRPS is a global limit across all in-flight requests. Set to <=0 to disable.
	RateLimitRPS float64

	// MinInterval is the gap a Paced scheduler keeps between the completion of one request
	// and the dispatch of the next.
	MinInterval time.Duration

	// BackoffInitial is the initial sleep before retrying a transient failure.
	BackoffInitial time.Duration
	// BackoffMax caps exponential backoff.
	BackoffMax time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64
}

// Result holds the outcome for one input item.
type Result[In any, Out any] struct {
	Input    In
	Output   Out
	Err      error
	Attempts int
	Duration time.Duration
}

// Scheduler dispatches a chunk of items and returns only once every item in it has finished.
type Scheduler[In any, Out any] interface {
	// ChunkSize is the number of items one Run call is meant to consume.
	ChunkSize() int
	Run(ctx context.Context, items []In, fn Func[In, Out]) ([]Result[In, Out], error)
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.MinInterval < 0 {
		o.MinInterval = 0
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	if o.BackoffJitterFrac < 0 {
		o.BackoffJitterFrac = 0
	}
	return o
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// hooks run around every attempt, retries included.
type hooks struct {
	before func(context.Context) error
	after  func()
}

func processOne[In any, Out any](ctx context.Context, item In, fn Func[In, Out], h hooks, opts Options) (res Result[In, Out]) {
	start := time.Now()
	res.Input = item
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("worker: panic while processing item: %v", r)
		}
		res.Duration = time.Since(start)
	}()
	res.Output, res.Attempts, res.Err = processWithRetry(ctx, item, fn, h, opts)
	return res
}

func processWithRetry[In any, Out any](ctx context.Context, item In, fn Func[In, Out], h hooks, opts Options) (Out, int, error) {
	var lastOut Out
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastOut, attempt, err
		}
		if h.before != nil {
			if err := h.before(ctx); err != nil {
				return lastOut, attempt, err
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
		result, err := fn(reqCtx, item)
		cancel()
		if h.after != nil {
			h.after()
		}
		lastOut = result
		if err == nil {
			return result, attempt + 1, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return lastOut, attempt + 1, ctx.Err()
		}
		if !IsTransient(err) || attempt >= maxExtraRetries(opts.MaxRetries, err) {
			return lastOut, attempt + 1, err
		}

		sleep := backoffSleep(opts.BackoffInitial, opts.BackoffMax, opts.BackoffJitterFrac, attempt)
		if d := retryAfter(err); d > sleep {
			sleep = d
		}
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return lastOut, attempt + 1, ctx.Err()
		}
	}
}

// retryHint is implemented by errors that carry a server-requested delay, such as
// *httpapi.HTTPError.
type retryHint interface {
	RetryDelay() time.Duration
}

func retryAfter(err error) time.Duration {
	var h retryHint
	if !errors.As(err, &h) {
		return 0
	}
	return min(h.RetryDelay(), MaxRetryAfter)
}

// WillRetry reports whether a scheduler configured with maxRetries makes another attempt after
// err failed the given 1-based attempt.
func WillRetry(err error, attempt, maxRetries int) bool {
	return IsTransient(err) && attempt-1 < maxExtraRetries(maxRetries, err)
}

type retryCap interface {
	MaxExtraRetries() int
}

func maxExtraRetries(defaultRetries int, err error) int {
	if defaultRetries < 0 {
		defaultRetries = 0
	}
	var capErr retryCap
	if errors.As(err, &capErr) {
		limited := capErr.MaxExtraRetries()
		if limited < 0 {
			limited = 0
		}
		if limited < defaultRetries {
			return limited
		}
	}
	return defaultRetries
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	var lte *core.LimitedTransientError
	if errors.As(err, &lte) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func backoffSleep(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
			break
		}
	}
	if jitterFrac <= 0 {
		return sleep
	}
	// Apply +/- jitterFrac.
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
