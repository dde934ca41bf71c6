package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/core"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/worker"
	"github.com/stretchr/testify/require"
)

type span struct {
	start time.Time
	end   time.Time
}

type spanRecorder struct {
	mu    sync.Mutex
	spans []span
	open  int
	max   int
}

func (r *spanRecorder) fn(work time.Duration, fail func(int) error) worker.Func[int, int] {
	return func(_ context.Context, in int) (int, error) {
		r.mu.Lock()
		r.open++
		if r.open > r.max {
			r.max = r.open
		}
		s := span{start: time.Now()}
		r.mu.Unlock()

		time.Sleep(work)

		r.mu.Lock()
		s.end = time.Now()
		r.spans = append(r.spans, s)
		r.open--
		r.mu.Unlock()
		if fail != nil {
			return 0, fail(in)
		}
		return in, nil
	}
}

func (r *spanRecorder) requireGaps(t *testing.T, interval time.Duration) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Equal(t, 1, r.max, "paced requests must never overlap")
	for i := 1; i < len(r.spans); i++ {
		gap := r.spans[i].start.Sub(r.spans[i-1].end)
		require.GreaterOrEqual(t, gap, interval, "gap before request %d", i)
	}
}

func TestPacedRun_KeepsIntervalBetweenRequests(t *testing.T) {
	t.Parallel()

	const interval = 25 * time.Millisecond
	rec := &spanRecorder{}
	p := worker.NewPaced[int, int](worker.Options{MinInterval: interval})

	out, err := p.Run(context.Background(), []int{1, 2, 3, 4}, rec.fn(5*time.Millisecond, nil))
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.Len(t, rec.spans, 4)
	rec.requireGaps(t, interval)
}

func TestPacedRun_IntervalSpansCalls(t *testing.T) {
	t.Parallel()

	const interval = 25 * time.Millisecond
	rec := &spanRecorder{}
	p := worker.NewPaced[int, int](worker.Options{MinInterval: interval})
	require.Equal(t, 1, p.ChunkSize())

	for i := 0; i < 3; i++ {
		_, err := p.Run(context.Background(), []int{i}, rec.fn(time.Millisecond, nil))
		require.NoError(t, err)
	}
	rec.requireGaps(t, interval)
}

func TestPacedRun_RetriesArePacedToo(t *testing.T) {
	t.Parallel()

	const interval = 20 * time.Millisecond
	rec := &spanRecorder{}
	p := worker.NewPaced[int, int](worker.Options{
		MinInterval:    interval,
		MaxRetries:     2,
		BackoffInitial: time.Millisecond,
		BackoffMax:     time.Millisecond,
	})

	out, err := p.Run(context.Background(), []int{7}, rec.fn(time.Millisecond, func(int) error {
		return &core.TransientError{Err: errors.New("429")}
	}))
	require.NoError(t, err)
	require.Equal(t, 3, out[0].Attempts)
	rec.requireGaps(t, interval)
}

func TestPacedRun_FailuresDoNotStopTheRun(t *testing.T) {
	t.Parallel()

	rec := &spanRecorder{}
	p := worker.NewPaced[int, int](worker.Options{MinInterval: time.Millisecond})
	out, err := p.Run(context.Background(), []int{1, 2, 3}, rec.fn(0, func(in int) error {
		if in == 2 {
			return errors.New("no route")
		}
		return nil
	}))
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.NoError(t, out[0].Err)
	require.Error(t, out[1].Err)
	require.NoError(t, out[2].Err)
}

func TestPacedRun_CancelWhileWaiting(t *testing.T) {
	t.Parallel()

	p := worker.NewPaced[int, int](worker.Options{MinInterval: time.Hour})
	rec := &spanRecorder{}
	_, err := p.Run(context.Background(), []int{1}, rec.fn(0, nil))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Run(ctx, []int{2}, rec.fn(0, nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
