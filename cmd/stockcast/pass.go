package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/andresuchdata/stockcast/internal/cache"
	"github.com/andresuchdata/stockcast/internal/config"
	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/pipeline"
	"github.com/andresuchdata/stockcast/internal/repository/postgres"
	"github.com/andresuchdata/stockcast/internal/scheduler"
	"github.com/bsm/redislock"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func workerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Number of pairs processed concurrently",
			EnvVars: []string{"PIPELINE_WORKERS"},
		},
		&cli.BoolFlag{
			Name:    "suppress-zero",
			Usage:   "Do not write projections whose values are all zero",
			EnvVars: []string{"PIPELINE_SUPPRESS_ZERO_PROJECTIONS"},
		},
	}
}

func passFlags() []cli.Flag {
	return append([]cli.Flag{
		newDBURLFlag(),
		&cli.StringFlag{
			Name:  "date",
			Usage: "As-of date (YYYY-MM-DD), defaults to today in SCHEDULER_TIMEZONE",
		},
	}, workerFlags()...)
}

func backfillFlags() []cli.Flag {
	return append([]cli.Flag{
		newDBURLFlag(),
		&cli.StringFlag{
			Name:     "from",
			Usage:    "First as-of date (YYYY-MM-DD)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "to",
			Usage: "Last as-of date (YYYY-MM-DD), defaults to today",
		},
	}, workerFlags()...)
}

func scheduleFlags() []cli.Flag {
	return append([]cli.Flag{
		newDBURLFlag(),
		&cli.IntFlag{
			Name:    "interval",
			Usage:   "Seconds between ticks",
			EnvVars: []string{"SCHEDULER_INTERVAL_SECONDS"},
		},
		&cli.BoolFlag{
			Name:    "distributed-lock",
			Usage:   "Also hold a redis lock while a pass runs, for several schedulers",
			EnvVars: []string{"SCHEDULER_DISTRIBUTED_LOCK"},
		},
	}, workerFlags()...)
}

func runsFlags() []cli.Flag {
	return []cli.Flag{
		newDBURLFlag(),
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Number of runs to list",
			Value: 10,
		},
		&cli.StringFlag{
			Name:  "date",
			Usage: "Only list runs of this as-of date (YYYY-MM-DD)",
		},
	}
}

func runMigrate(c *cli.Context) error {
	db, err := dbFrom(c)
	if err != nil {
		return err
	}
	if err := postgres.Migrate(c.Context, db); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	log.Info().Msg("database schema is up to date")
	return nil
}

func runPass(c *cli.Context) error {
	asOf, err := dateFlag(c, "date")
	if err != nil {
		return err
	}
	pass, err := newPass(c)
	if err != nil {
		return err
	}
	guard, err := passGuard(c, config.Load().Scheduler)
	if err != nil {
		return err
	}

	reports, err := runExclusive(c.Context, guard, pass, asOf, asOf)
	if err != nil {
		return err
	}
	invalidateMetrics(c)
	if reports[0].Errors > 0 {
		return cli.Exit(fmt.Sprintf("pass finished with %d errored units", reports[0].Errors), 2)
	}
	return nil
}

func runBackfill(c *cli.Context) error {
	from, err := dateFlag(c, "from")
	if err != nil {
		return err
	}
	to, err := dateFlag(c, "to")
	if err != nil {
		return err
	}
	if to.Before(from) {
		return fmt.Errorf("--to %s is before --from %s", to.Format(domain.DateLayout), from.Format(domain.DateLayout))
	}

	pass, err := newPass(c)
	if err != nil {
		return err
	}
	guard, err := passGuard(c, config.Load().Scheduler)
	if err != nil {
		return err
	}

	// The guard is held for the whole range: each pass anchors on the
	// actual rows written by the one before it
	reports, err := runExclusive(c.Context, guard, pass, from, to)
	if len(reports) > 0 {
		invalidateMetrics(c)
	}
	if err != nil {
		return err
	}

	var total domain.PassReport
	for _, r := range reports {
		total.Merge(r)
	}
	log.Info().
		Str("from", from.Format(domain.DateLayout)).
		Str("to", to.Format(domain.DateLayout)).
		Int("processed", total.Processed).
		Int("skipped", total.Skipped).
		Int("errors", total.Errors).
		Msg("backfill completed")
	if total.Errors > 0 {
		return cli.Exit(fmt.Sprintf("backfill finished with %d errored units", total.Errors), 2)
	}
	return nil
}

// runExclusive runs one pass per day from..to while holding guard. It
// refuses with exit code 3 when another pass holds the guard, and stops
// between days once ctx is done.
func runExclusive(ctx context.Context, guard scheduler.Guard, runner scheduler.Runner, from, to time.Time) ([]domain.PassReport, error) {
	var reports []domain.PassReport
	var ctxErr error
	err := scheduler.Exclusive(ctx, guard, func(ctx context.Context) {
		for d := from; !d.After(to); d = domain.AddDays(d, 1) {
			if ctxErr = ctx.Err(); ctxErr != nil {
				return
			}
			report := runner.Run(ctx, d)
			printReport(report)
			reports = append(reports, report)
		}
	})
	if errors.Is(err, scheduler.ErrPassRunning) {
		return nil, cli.Exit(err.Error(), 3)
	}
	if err != nil {
		return nil, err
	}
	return reports, ctxErr
}

func runSchedule(c *cli.Context) error {
	cfg := config.Load()
	schedCfg := cfg.Scheduler
	if c.IsSet("interval") {
		schedCfg.IntervalSeconds = c.Int("interval")
	}
	if c.IsSet("distributed-lock") {
		schedCfg.DistributedLock = c.Bool("distributed-lock")
	}

	pass, err := newPass(c)
	if err != nil {
		return err
	}

	guard, err := passGuard(c, schedCfg)
	if err != nil {
		return err
	}

	metrics, err := newMetricsService(c)
	if err != nil {
		return err
	}
	trig := scheduler.NewTrigger(pass, schedCfg,
		scheduler.WithGuard(guard),
		scheduler.OnComplete(func(ctx context.Context, report domain.PassReport) {
			if err := metrics.InvalidateAll(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to invalidate metrics cache")
			}
		}),
	)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := trig.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func passGuard(c *cli.Context, schedCfg config.SchedulerConfig) (scheduler.Guard, error) {
	db, err := dbFrom(c)
	if err != nil {
		return nil, err
	}
	return newPassGuard(db, config.Load().Cache, schedCfg)
}

// newPassGuard serializes passes inside the process and, through an advisory
// lock, across every process sharing the database. The redis lock is added
// when the distributed lock is enabled.
func newPassGuard(db *postgres.DB, cacheCfg config.CacheConfig, schedCfg config.SchedulerConfig) (scheduler.Guard, error) {
	guard := scheduler.ChainGuard{
		scheduler.NewLocalGuard(),
		postgres.NewAdvisoryLock(db, schedCfg.LockKey),
	}
	if !schedCfg.DistributedLock {
		return guard, nil
	}

	client, err := cache.NewRedisClient(cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("distributed lock needs redis: %w", err)
	}
	ttl := time.Duration(schedCfg.LockTTLSeconds) * time.Second
	return append(guard, scheduler.NewRedisGuard(redislock.New(client), schedCfg.LockKey, ttl)), nil
}

func listRuns(c *cli.Context) error {
	db, err := dbFrom(c)
	if err != nil {
		return err
	}
	repo := pipeline.NewRepository(db.DB)

	var runs []pipeline.PassRun
	if c.String("date") != "" {
		asOf, derr := dateFlag(c, "date")
		if derr != nil {
			return derr
		}
		runs, err = repo.GetRunsByDate(c.Context, asOf)
	} else {
		runs, err = repo.LatestRuns(c.Context, c.Int("limit"))
	}
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAS OF\tSTATUS\tPROCESSED\tSKIPPED\tERRORS\tSTARTED\tCOMPLETED")
	for _, r := range runs {
		completed := "-"
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.AsOf.Format(domain.DateLayout), r.Status,
			r.Processed, r.Skipped, r.Errors,
			r.StartedAt.Format(time.RFC3339), completed)
	}
	return w.Flush()
}

// invalidateMetrics drops cached horizons once a pass has rewritten them
func invalidateMetrics(c *cli.Context) {
	metrics, err := newMetricsService(c)
	if err == nil {
		err = metrics.InvalidateAll(c.Context)
	}
	if err != nil {
		log.Warn().Err(err).Msg("failed to invalidate metrics cache")
	}
}

func printReport(report domain.PassReport) {
	fmt.Printf("%s: processed=%d skipped=%d errors=%d duration=%s\n",
		report.AsOf.Format(domain.DateLayout), report.Processed, report.Skipped, report.Errors,
		report.Duration.Round(time.Millisecond))
	for _, f := range report.Failures {
		fmt.Printf("  %s\n", f)
	}
}
