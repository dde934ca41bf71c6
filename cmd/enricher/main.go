package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/shpitdev/sf-graffiti-search/internal/app"
	"github.com/shpitdev/sf-graffiti-search/internal/config"
	"github.com/shpitdev/sf-graffiti-search/internal/version"
	applog "github.com/shpitdev/sf-graffiti-search/pkg/log"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/redact"
	"github.com/shpitdev/sf-graffiti-search/pkg/pipeline/schema"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(os.Stderr, "warning: .env not loaded: %s\n", redact.Secrets(err.Error()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// runFailure marks errors that happened after configuration was accepted. Everything else exits
// with status 2.
type runFailure struct {
	err error
}

func (e *runFailure) Error() string { return e.err.Error() }
func (e *runFailure) Unwrap() error { return e.err }

func failed(err error) error {
	if err == nil || config.IsError(err) {
		return err
	}
	return &runFailure{err: err}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var rf *runFailure
	if errors.As(err, &rf) {
		return 1
	}
	return 2
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s\n", redact.Secrets(err.Error()))
		return 2
	}

	c := &cli{cfg: cfg, stdout: stdout}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err = root.ExecuteContext(ctx)
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %s\n", redact.Secrets(err.Error()))
	}
	return exitCode(err)
}

type cli struct {
	cfg    config.Config
	stdout io.Writer
	logger *zap.Logger
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "enricher",
		Short: "Describe and geocode graffiti reports into a searchable record store",
		Long: `enricher reads the city's graffiti photo table and maintains a JSON record store.

  describe [limit]  add AI titles and descriptions for photos not yet in the store
  geocode [limit]   add coordinates to stored records that lack them
  repair            recover a store file truncated by an interrupted write
  history           list recent runs from the run ledger

Settings come from the environment (a .env file is loaded first) and PIPELINE_CONFIG.`,
		Version:       version.Current,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := applog.New(c.cfg.Log.Level, c.cfg.Log.Format)
			if err != nil {
				return config.Errorf("build logger: %w", err)
			}
			c.logger = logger
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&c.cfg.StorePath, "store", c.cfg.StorePath, "Record store path (env: STORE_PATH)")
	pf.StringVar(&c.cfg.Log.Level, "log-level", c.cfg.Log.Level, "debug|info|warn|error (env: LOG_LEVEL)")
	pf.StringVar(&c.cfg.Log.Format, "log-format", c.cfg.Log.Format, "json|console (env: LOG_FORMAT)")
	pf.DurationVar(&c.cfg.RequestTimeout, "request-timeout", c.cfg.RequestTimeout, "Per-request timeout (env: REQUEST_TIMEOUT)")
	pf.IntVar(&c.cfg.MaxRetries, "max-retries", c.cfg.MaxRetries, "Retries per record for transient failures (env: MAX_RETRIES)")

	root.AddCommand(c.describeCmd(), c.geocodeCmd(), c.repairCmd(), c.historyCmd())
	return root
}

func (c *cli) describeCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "describe [limit]",
		Short: "Describe photos that are not in the store yet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := parseLimit(args, all)
			if err != nil {
				return err
			}
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			res, err := app.RunDescribe(cmd.Context(), c.cfg, limit, c.logger, app.Overrides{})
			c.printSummary(res)
			return failed(err)
		},
	}
	f := cmd.Flags()
	f.StringVar(&c.cfg.SourcePath, "source", c.cfg.SourcePath, "Photo table, .csv or .xlsx (env: SOURCE_PATH)")
	f.StringVar(&c.cfg.Describe.Backend, "backend", c.cfg.Describe.Backend, "gemini|stub (env: DESCRIBE_BACKEND)")
	f.IntVar(&c.cfg.Describe.BatchSize, "batch-size", c.cfg.Describe.BatchSize, "Requests in flight per batch (env: DESCRIBE_BATCH_SIZE)")
	f.IntVar(&c.cfg.Describe.CheckpointEvery, "checkpoint-every", c.cfg.Describe.CheckpointEvery, "Write the store after this many records, 0 disables (env: DESCRIBE_CHECKPOINT_EVERY)")
	f.Float64Var(&c.cfg.Describe.RateLimitRPS, "rate-limit-rps", c.cfg.Describe.RateLimitRPS, "Global request rate limit, 0 disables (env: DESCRIBE_RATE_LIMIT_RPS)")
	f.StringVar(&c.cfg.Gemini.Model, "gemini-model", c.cfg.Gemini.Model, "Gemini model name (env: GEMINI_MODEL)")
	f.StringVar(&c.cfg.Gemini.BaseURL, "gemini-base-url", c.cfg.Gemini.BaseURL, "Gemini API base URL override (env: GEMINI_BASE_URL)")
	f.BoolVar(&all, "all", false, "Ignore the limit and process every unprocessed row")
	return cmd
}

func (c *cli) geocodeCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "geocode [limit]",
		Short: "Add coordinates to stored records that lack them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := parseLimit(args, all)
			if err != nil {
				return err
			}
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			res, err := app.RunGeocode(cmd.Context(), c.cfg, limit, c.logger, app.Overrides{})
			c.printSummary(res)
			return failed(err)
		},
	}
	f := cmd.Flags()
	f.StringVar(&c.cfg.Geocode.Backend, "backend", c.cfg.Geocode.Backend, "nominatim|stub (env: GEOCODE_BACKEND)")
	f.DurationVar(&c.cfg.Geocode.Interval, "interval", c.cfg.Geocode.Interval, "Pause between requests (env: GEOCODE_INTERVAL)")
	f.IntVar(&c.cfg.Geocode.CheckpointEvery, "checkpoint-every", c.cfg.Geocode.CheckpointEvery, "Write the store after this many records, 0 disables (env: GEOCODE_CHECKPOINT_EVERY)")
	f.IntVar(&c.cfg.Geocode.MaxAttempts, "max-attempts", c.cfg.Geocode.MaxAttempts, "Stop retrying a record after this many misses, 0 never stops (env: GEOCODE_MAX_ATTEMPTS)")
	f.StringVar(&c.cfg.Nominatim.BaseURL, "nominatim-base-url", c.cfg.Nominatim.BaseURL, "Nominatim base URL (env: NOMINATIM_BASE_URL)")
	f.BoolVar(&all, "all", false, "Ignore the limit and process every unprocessed record")
	return cmd
}

func (c *cli) repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Recover a store file truncated by an interrupted write",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := app.Repair(c.cfg, c.logger)
			if err != nil {
				return failed(err)
			}
			if res.AlreadyValid {
				_, _ = fmt.Fprintf(c.stdout, "%s is valid; nothing to repair\n", res.Path)
				return nil
			}
			_, _ = fmt.Fprintf(c.stdout, "recovered %d records into %s (discarded %d bytes, original kept at %s)\n",
				res.Recovered, res.Path, res.DiscardedBytes, res.BackupPath)
			return nil
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		n     int
		stage string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var only schema.Stage
			if stage != "" {
				s, err := schema.ParseStage(stage)
				if err != nil {
					return err
				}
				only = s
			}
			runs, err := app.History(cmd.Context(), c.cfg, n)
			if err != nil {
				return failed(err)
			}
			tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "RUN\tSTAGE\tSTARTED\tDURATION\tOK\tFAILED\tREMAINING\tERROR")
			for _, r := range runs {
				if only != "" && r.Stage != string(only) {
					continue
				}
				dur := "running"
				if r.FinishedAt != nil {
					dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.Stage, r.StartedAt.Local().Format(time.DateTime), dur, r.Succeeded, r.Failed, r.Remaining, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&n, "number", "n", 20, "Number of runs to show, 0 for all")
	cmd.Flags().StringVar(&stage, "stage", "", "Only show runs of this stage (describe|geocode)")
	return cmd
}

func (c *cli) printSummary(res app.Result) {
	s := res.Summary
	if s.Stage == "" {
		return
	}
	_, _ = fmt.Fprintf(c.stdout, "%s: succeeded=%d failed=%d total=%d remaining=%d checkpoints=%d run=%s\n",
		s.Stage, s.Succeeded, s.Failed, s.Total, s.Remaining, s.Checkpoints, res.RunID)
	if s.Stopped {
		_, _ = fmt.Fprintln(c.stdout, "interrupted: progress up to the last finished batch is saved; rerun to continue")
	}
}

func parseLimit(args []string, all bool) (int, error) {
	if all {
		return -1, nil
	}
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, config.Errorf("limit must be a positive integer (got %q)", args[0])
	}
	return n, nil
}
