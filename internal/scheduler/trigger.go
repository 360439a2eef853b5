// Package scheduler triggers forecasting passes on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/andresuchdata/stockcast/internal/config"
	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/rs/zerolog/log"
)

// Runner executes one pass for an as-of date
type Runner interface {
	Run(ctx context.Context, asOf time.Time) domain.PassReport
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, asOf time.Time) domain.PassReport

func (f RunnerFunc) Run(ctx context.Context, asOf time.Time) domain.PassReport {
	return f(ctx, asOf)
}

// Trigger runs a pass for today's date every interval. A tick that finds
// the previous pass still running is skipped.
type Trigger struct {
	runner     Runner
	guard      Guard
	interval   time.Duration
	loc        *time.Location
	runOnStart bool
	now        func() time.Time
	onComplete func(ctx context.Context, report domain.PassReport)
}

// Option configures a Trigger
type Option func(*Trigger)

func WithGuard(g Guard) Option {
	return func(t *Trigger) { t.guard = g }
}

func WithClock(now func() time.Time) Option {
	return func(t *Trigger) { t.now = now }
}

// OnComplete is called with every finished pass report
func OnComplete(fn func(ctx context.Context, report domain.PassReport)) Option {
	return func(t *Trigger) { t.onComplete = fn }
}

// NewTrigger creates a trigger from scheduler configuration
func NewTrigger(runner Runner, cfg config.SchedulerConfig, opts ...Option) *Trigger {
	t := &Trigger{
		runner:     runner,
		guard:      NewLocalGuard(),
		interval:   cfg.Interval(),
		loc:        cfg.Location(),
		runOnStart: cfg.RunOnStart,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.interval <= 0 {
		t.interval = 5 * time.Minute
	}
	if t.loc == nil {
		t.loc = time.UTC
	}
	return t
}

// Start ticks until ctx is done. The pass in flight when ctx is cancelled
// is allowed to finish.
func (t *Trigger) Start(ctx context.Context) error {
	log.Info().
		Dur("interval", t.interval).
		Str("timezone", t.loc.String()).
		Msg("scheduler started")

	if t.runOnStart {
		t.Tick(ctx)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick runs one pass for today's date in the configured timezone. It
// returns false when the guard was held and nothing ran.
func (t *Trigger) Tick(ctx context.Context) (domain.PassReport, bool) {
	asOf := domain.Today(t.now(), t.loc)

	var report domain.PassReport
	err := Exclusive(ctx, t.guard, func(ctx context.Context) {
		report = t.runner.Run(ctx, asOf)
	})
	switch {
	case errors.Is(err, ErrPassRunning):
		log.Warn().Str("as_of", asOf.Format(domain.DateLayout)).Msg("scheduler: previous pass still running, skipping tick")
		return domain.PassReport{}, false
	case err != nil:
		log.Error().Err(err).Msg("scheduler: could not check pass guard, skipping tick")
		return domain.PassReport{}, false
	}

	if t.onComplete != nil {
		t.onComplete(ctx, report)
	}
	return report, true
}
