package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Batch fires every item of a chunk at once and waits for all of them before returning.
//
// At most BatchSize requests are in flight; the barrier at the end of Run is what keeps
// aggregate throughput at one chunk per chunk latency.
type Batch[In any, Out any] struct {
	opts    Options
	limiter *rate.Limiter
}

var _ Scheduler[string, string] = (*Batch[string, string])(nil)

func NewBatch[In any, Out any](opts Options) *Batch[In, Out] {
	opts = opts.withDefaults()
	return &Batch[In, Out]{
		opts:    opts,
		limiter: newLimiter(opts.RateLimitRPS),
	}
}

func (b *Batch[In, Out]) ChunkSize() int {
	return b.opts.BatchSize
}

// Run processes items concurrently. Per-item failures are reported in the results; only a
// cancelled ctx fails the whole call.
func (b *Batch[In, Out]) Run(ctx context.Context, items []In, fn Func[In, Out]) ([]Result[In, Out], error) {
	if len(items) == 0 {
		return nil, ctx.Err()
	}

	h := hooks{}
	if b.limiter != nil {
		h.before = b.limiter.Wait
	}

	out := make([]Result[In, Out], len(items))
	var g errgroup.Group
	g.SetLimit(b.opts.BatchSize)
	for i, item := range items {
		g.Go(func() error {
			out[i] = processOne(ctx, item, fn, h, b.opts)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
