package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shpitdev/sf-graffiti-search/internal/config"
	"github.com/shpitdev/sf-graffiti-search/internal/enrich"
	"github.com/shpitdev/sf-graffiti-search/internal/enrich/gemini"
	"github.com/shpitdev/sf-graffiti-search/internal/enrich/nominatim"
	"github.com/shpitdev/sf-graffiti-search/internal/metrics"
	"github.com/shpitdev/sf-graffiti-search/internal/pipeline"
	"github.com/shpitdev/sf-graffiti-search/internal/publish"
	"github.com/shpitdev/sf-graffiti-search/internal/runlog"
	"github.com/shpitdev/sf-graffiti-search/internal/source"
	"github.com/shpitdev/sf-graffiti-search/internal/store"
	"github.com/shpitdev/sf-graffiti-search/pkg/httpapi"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/redact"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/schema"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/worker"
	"go.uber.org/zap"
)

// Result is what a stage run reports back to the CLI.
type Result struct {
	RunID    string
	Summary  pipeline.Summary
	Snapshot *publish.Snapshot
}

// Overrides replaces the configured backends. Zero fields keep the configured ones.
type Overrides struct {
	Describer enrich.Describer
	Geocoder  enrich.Geocoder
}

// RunDescribe adds described records for up to limit source rows that are not in the store yet.
func RunDescribe(ctx context.Context, cfg config.Config, limit int, logger *zap.Logger, ov Overrides) (Result, error) {
	runID := newRunID()
	stage := string(schema.StageDescribe)
	logger = withRun(logger, runID)
	res := Result{RunID: runID}

	d := ov.Describer
	if d == nil && cfg.Describe.Backend == config.BackendGemini && cfg.Gemini.APIKey == "" {
		return res, config.Errorf("GEMINI_API_KEY is required for the %s describe backend", config.BackendGemini)
	}

	rows, stats, err := source.ReadFile(cfg.SourcePath, cfg.Columns)
	if err != nil {
		return res, &config.Error{Err: err}
	}
	logger.Info("source loaded",
		zap.String("stage", stage),
		zap.String("path", cfg.SourcePath),
		zap.Int("rows", stats.Rows),
		zap.Int("accepted", stats.Accepted),
		zap.Int("droppedNoMedia", stats.DroppedNoMedia),
		zap.Int("droppedNoID", stats.DroppedNoID),
		zap.Int("malformed", stats.Malformed),
		zap.Int("duplicates", stats.Duplicates),
	)

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return res, err
	}

	if d == nil {
		hc, err := httpapi.NewHTTPClient(cfg.CABundle, cfg.RequestTimeout)
		if err != nil {
			return res, &config.Error{Err: err}
		}
		if d, err = newDescriber(ctx, cfg, hc); err != nil {
			return res, &config.Error{Err: err}
		}
		if gd, ok := d.(*gemini.Describer); ok {
			logger.Info("describer ready", zap.String("stage", stage), zap.String("model", gd.Model()))
		}
	}
	traced := newTracedDescriber(d, logger.With(zap.String("stage", stage)), cfg.MaxRetries)

	sched := worker.NewBatch[source.Record, enrich.Description](worker.Options{
		BatchSize:      cfg.Describe.BatchSize,
		MaxRetries:     cfg.MaxRetries,
		RequestTimeout: cfg.RequestTimeout,
		RateLimitRPS:   cfg.Describe.RateLimitRPS,
	})
	policy := pipeline.CheckpointPolicy{Every: cfg.Describe.CheckpointEvery, EachChunk: true}

	return runStage(ctx, cfg, logger, stage, res, st, limit, policy, func(cp *pipeline.Checkpointer, opts pipeline.Options) (pipeline.Summary, error) {
		return pipeline.Run(ctx, pipeline.DescribeStage(rows, st, traced), sched, cp, opts)
	})
}

// RunGeocode fills in coordinates for up to limit stored records that lack them.
func RunGeocode(ctx context.Context, cfg config.Config, limit int, logger *zap.Logger, ov Overrides) (Result, error) {
	runID := newRunID()
	stage := string(schema.StageGeocode)
	logger = withRun(logger, runID)
	res := Result{RunID: runID}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return res, err
	}

	g := ov.Geocoder
	if g == nil {
		hc, err := httpapi.NewHTTPClient(cfg.CABundle, cfg.RequestTimeout)
		if err != nil {
			return res, &config.Error{Err: err}
		}
		if g, err = newGeocoder(cfg, hc); err != nil {
			return res, &config.Error{Err: err}
		}
	}
	traced := newTracedGeocoder(g, logger.With(zap.String("stage", stage)), cfg.MaxRetries)

	sched := worker.NewPaced[store.Record, pipeline.GeocodeOutcome](worker.Options{
		MaxRetries:     cfg.MaxRetries,
		RequestTimeout: cfg.RequestTimeout,
		MinInterval:    cfg.Geocode.Interval,
	})
	policy := pipeline.CheckpointPolicy{Every: cfg.Geocode.CheckpointEvery}

	return runStage(ctx, cfg, logger, stage, res, st, limit, policy, func(cp *pipeline.Checkpointer, opts pipeline.Options) (pipeline.Summary, error) {
		return pipeline.Run(ctx, pipeline.GeocodeStage(st, traced, cfg.Geocode.MaxAttempts), sched, cp, opts)
	})
}

type stageFunc func(cp *pipeline.Checkpointer, opts pipeline.Options) (pipeline.Summary, error)

// runStage wraps one driver run with the ledger, metrics and snapshot publishing. logger carries
// run_id only; the driver adds the stage field itself.
func runStage(
	ctx context.Context,
	cfg config.Config,
	runLogger *zap.Logger,
	stage string,
	res Result,
	st *store.Store,
	limit int,
	policy pipeline.CheckpointPolicy,
	run stageFunc,
) (Result, error) {
	logger := runLogger.With(zap.String("stage", stage))
	// 0 means the configured default; a negative limit lifts the bound.
	if limit == 0 {
		limit = cfg.DefaultLimit
	}

	var pub *publish.Publisher
	if pc := cfg.Publish.Client(); pc.Enabled() {
		p, err := publish.New(pc)
		if err != nil {
			return res, &config.Error{Err: err}
		}
		pub = p
	}

	var ledger *runlog.Ledger
	if cfg.RunlogPath != "" {
		l, err := runlog.Open(cfg.RunlogPath)
		if err != nil {
			return res, err
		}
		defer func() { _ = l.Close() }()
		if err := l.Start(ctx, res.RunID, stage, limit, time.Now()); err != nil {
			logger.Warn("run ledger start failed", zap.Error(err))
		} else {
			ledger = l
		}
	}

	m := metrics.New()
	cp := pipeline.NewCheckpointer(st.Save, policy)
	cp.OnWrite(func() {
		m.ObserveCheckpoint(stage, st.Len())
	})

	runStart := time.Now()
	described, geocoded := st.Counts()
	logger.Info("run start",
		zap.String("store", st.Path()),
		zap.Int("stored", st.Len()),
		zap.Int("described", described),
		zap.Int("geocoded", geocoded),
		zap.Int("limit", limit),
	)
	sum, runErr := run(cp, pipeline.Options{Limit: limit, Logger: runLogger, Recorder: m})
	res.Summary = sum

	if err := m.WriteTextfile(cfg.MetricsTextfile); err != nil {
		logger.Warn("write metrics textfile failed", zap.String("path", cfg.MetricsTextfile), zap.Error(err))
	}

	switch {
	case runErr != nil || pub == nil:
	case sum.Stopped:
		logger.Info("snapshot not published; run was interrupted")
	default:
		snap, err := pub.Publish(ctx, st.Path())
		if err != nil {
			runErr = fmt.Errorf("publish snapshot: %w", err)
		} else {
			res.Snapshot = &snap
			logger.Info("snapshot published",
				zap.String("bucket", snap.Bucket),
				zap.String("object", snap.Object),
				zap.Int64("bytes", snap.Size),
			)
		}
	}

	if ledger != nil {
		if err := ledger.Finish(context.WithoutCancel(ctx), res.RunID, time.Now(), runlog.Outcome{
			Succeeded:   sum.Succeeded,
			Failed:      sum.Failed,
			Total:       sum.Total,
			Remaining:   sum.Remaining,
			Checkpoints: sum.Checkpoints,
			Stopped:     sum.Stopped,
			Err:         redactErr(runErr),
		}); err != nil {
			logger.Warn("run ledger finish failed", zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("total", sum.Total),
		zap.Int("remaining", sum.Remaining),
		zap.Int("checkpoints", sum.Checkpoints),
		zap.Bool("stopped", sum.Stopped),
		zap.Duration("duration", time.Since(runStart).Round(time.Millisecond)),
	}
	if runErr != nil {
		logger.Error("run failed", append(fields, zap.String("error", redact.Secrets(runErr.Error())))...)
		return res, runErr
	}
	logger.Info("run complete", fields...)
	return res, nil
}

// Repair recovers a truncated store file in place, keeping a backup of the original.
func Repair(cfg config.Config, logger *zap.Logger) (store.RepairResult, error) {
	res, err := store.Repair(cfg.StorePath)
	if err != nil {
		return res, err
	}
	if logger != nil {
		logger.Info("repair complete",
			zap.String("path", res.Path),
			zap.Bool("alreadyValid", res.AlreadyValid),
			zap.Int("recovered", res.Recovered),
			zap.Int64("discardedBytes", res.DiscardedBytes),
			zap.String("backup", res.BackupPath),
		)
	}
	return res, nil
}

// History lists the most recent runs from the ledger.
func History(ctx context.Context, cfg config.Config, n int) ([]runlog.Run, error) {
	if cfg.RunlogPath == "" {
		return nil, config.Errorf("RUNLOG_PATH is not set")
	}
	l, err := runlog.Open(cfg.RunlogPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = l.Close() }()
	return l.List(ctx, n)
}

func newDescriber(ctx context.Context, cfg config.Config, hc *http.Client) (enrich.Describer, error) {
	switch cfg.Describe.Backend {
	case config.BackendStub:
		return &enrich.Stub{}, nil
	case config.BackendGemini:
		return gemini.New(ctx, gemini.Config{
			APIKey:     cfg.Gemini.APIKey,
			Model:      cfg.Gemini.Model,
			BaseURL:    cfg.Gemini.BaseURL,
			Prompt:     cfg.Describe.Prompt,
			HTTPClient: hc,
		})
	default:
		return nil, fmt.Errorf("unknown describe backend %q", cfg.Describe.Backend)
	}
}

func newGeocoder(cfg config.Config, hc *http.Client) (enrich.Geocoder, error) {
	switch cfg.Geocode.Backend {
	case config.BackendStub:
		return &enrich.Stub{}, nil
	case config.BackendNominatim:
		return nominatim.New(nominatim.Config{
			BaseURL:    cfg.Nominatim.BaseURL,
			UserAgent:  cfg.Nominatim.UserAgent,
			Locality:   cfg.Geocode.Locality,
			HTTPClient: hc,
		})
	default:
		return nil, fmt.Errorf("unknown geocode backend %q", cfg.Geocode.Backend)
	}
}

func newRunID() string {
	return ulid.Make().String()
}

func withRun(logger *zap.Logger, runID string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String("run_id", runID))
}

func redactErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(redact.Secrets(err.Error()))
}
