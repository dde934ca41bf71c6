package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Paced issues exactly one request at a time and keeps at least MinInterval between the
// completion of one request and the dispatch of the next, retries included.
//
// The pacing state survives across Run calls, so a driver that hands over one item per
// call still gets a correctly spaced request stream.
type Paced[In any, Out any] struct {
	opts    Options
	limiter *rate.Limiter

	mu       sync.Mutex
	lastDone time.Time
}

var _ Scheduler[string, string] = (*Paced[string, string])(nil)

func NewPaced[In any, Out any](opts Options) *Paced[In, Out] {
	if opts.MinInterval == 0 {
		opts.MinInterval = DefaultMinInterval
	}
	opts = opts.withDefaults()
	return &Paced[In, Out]{
		opts:    opts,
		limiter: newLimiter(opts.RateLimitRPS),
	}
}

func (p *Paced[In, Out]) ChunkSize() int {
	return 1
}

func (p *Paced[In, Out]) Run(ctx context.Context, items []In, fn Func[In, Out]) ([]Result[In, Out], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := hooks{
		before: p.beforeAttempt,
		after: func() {
			p.lastDone = time.Now()
		},
	}

	out := make([]Result[In, Out], 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, processOne(ctx, item, fn, h, p.opts))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Paced[In, Out]) beforeAttempt(ctx context.Context) error {
	if !p.lastDone.IsZero() {
		if wait := p.opts.MinInterval - time.Since(p.lastDone); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}
	if p.limiter != nil {
		return p.limiter.Wait(ctx)
	}
	return nil
}
