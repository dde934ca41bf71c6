package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shpitdev/sf-graffiti-search/internal/store"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/core"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/redact"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/worker"
	"go.uber.org/zap"
)

// Stage is one enrichment pass. The driver asks Resolve for outstanding work before every
// chunk, sends items through Process via the scheduler, and folds each result back in with
// Merge once the whole chunk has finished.
type Stage[In any, Out any] struct {
	Name    string
	Resolve func() []In
	Key     func(In) string
	Process core.Processor[In, Out]
	// Merge applies one result to the store and reports whether it counts as a success. An error
	// aborts the run.
	Merge func(worker.Result[In, Out]) (bool, error)
}

// Recorder observes per-record outcomes. Implementations must be cheap; they run on the merge
// path.
type Recorder interface {
	ObserveResult(stage string, ok bool, d time.Duration)
}

type Options struct {
	// Limit bounds the records attempted in this run. <=0 means no bound.
	Limit    int
	Logger   *zap.Logger
	Recorder Recorder
}

// Summary reports a run. It is returned even when the run fails.
type Summary struct {
	Stage       string
	Succeeded   int
	Failed      int
	Total       int
	Remaining   int
	Chunks      int
	Checkpoints int
	// Stopped is set when ctx was cancelled before the work ran out.
	Stopped bool
}

// Run drives one stage until the unprocessed set is empty, Limit is reached or ctx is
// cancelled. Cancellation is honored between chunks only; a chunk that has started is allowed
// to finish and is merged and checkpointed before Run returns.
func Run[In any, Out any](
	ctx context.Context,
	st Stage[In, Out],
	sched worker.Scheduler[In, Out],
	cp *Checkpointer,
	opts Options,
) (Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("stage", st.Name))
	sum := Summary{Stage: st.Name}

	attempted := make(map[string]struct{})
	pendingOf := func() []In {
		all := st.Resolve()
		var out []In
		for _, item := range all {
			if _, seen := attempted[st.Key(item)]; seen {
				continue
			}
			out = append(out, item)
		}
		return out
	}

	initial := st.Resolve()
	logger.Info("stage start",
		zap.Int("unprocessed", len(initial)),
		zap.Int("limit", opts.Limit),
		zap.Int("chunkSize", sched.ChunkSize()),
	)

	runErr := func() error {
		for {
			if opts.Limit > 0 && sum.Total >= opts.Limit {
				return nil
			}
			if ctx.Err() != nil {
				sum.Stopped = true
				logger.Warn("stopping at chunk boundary", zap.Error(ctx.Err()))
				return nil
			}

			pending := pendingOf()
			if len(pending) == 0 {
				return nil
			}
			n := sched.ChunkSize()
			if opts.Limit > 0 {
				n = min(n, opts.Limit-sum.Total)
			}
			chunk := pending[:min(n, len(pending))]
			for _, item := range chunk {
				attempted[st.Key(item)] = struct{}{}
			}

			chunkStart := time.Now()
			results, err := sched.Run(context.WithoutCancel(ctx), chunk, st.Process.Process)
			if err != nil {
				return fmt.Errorf("schedule %s chunk %d: %w", st.Name, sum.Chunks+1, err)
			}
			sum.Chunks++

			okN, failN := 0, 0
			for _, res := range results {
				ok, err := st.Merge(res)
				if err != nil {
					return fmt.Errorf("merge %s result for %q: %w", st.Name, st.Key(res.Input), err)
				}
				sum.Total++
				if ok {
					okN++
					sum.Succeeded++
				} else {
					failN++
					sum.Failed++
					if res.Err != nil {
						logger.Debug("record failed",
							zap.String("key", st.Key(res.Input)),
							zap.Int("attempts", res.Attempts),
							zap.String("error", redact.Secrets(res.Err.Error())),
						)
					}
				}
				if opts.Recorder != nil {
					opts.Recorder.ObserveResult(st.Name, ok, res.Duration)
				}
			}

			saved, err := cp.Advance(len(results))
			if err != nil {
				return err
			}
			if saved {
				logger.Info("checkpoint written", zap.Int("checkpoints", cp.Written()), zap.Int("processed", sum.Total))
			}
			logger.Info("chunk complete",
				zap.Int("chunk", sum.Chunks),
				zap.Int("size", len(results)),
				zap.Int("ok", okN),
				zap.Int("failed", failN),
				zap.Int("processed", sum.Total),
				zap.Duration("duration", time.Since(chunkStart).Round(time.Millisecond)),
			)
		}
	}()

	if runErr == nil || !isPersistenceFailure(runErr) {
		if err := cp.Final(); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	sum.Checkpoints = cp.Written()
	sum.Remaining = len(st.Resolve())
	if runErr != nil {
		return sum, runErr
	}

	logger.Info("stage complete",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("total", sum.Total),
		zap.Int("remaining", sum.Remaining),
		zap.Int("checkpoints", sum.Checkpoints),
		zap.Bool("stopped", sum.Stopped),
	)
	return sum, nil
}

// isPersistenceFailure reports whether err came from a failed store write, in which case a
// further write attempt is pointless.
func isPersistenceFailure(err error) bool {
	var pe *store.PersistenceError
	return errors.As(err, &pe)
}
