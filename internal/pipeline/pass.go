// Package pipeline runs the daily forecasting pass: the actual row of the
// as-of date and a horizon of projections for every (user, product) pair.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/forecast"
	"github.com/andresuchdata/stockcast/internal/repository"
	"github.com/rs/zerolog/log"
)

// RunRecorder persists pass-run bookkeeping.
type RunRecorder interface {
	StartRun(ctx context.Context, run *PassRun) error
	FinishRun(ctx context.Context, run *PassRun) error
}

type noopRecorder struct{}

func (noopRecorder) StartRun(context.Context, *PassRun) error  { return nil }
func (noopRecorder) FinishRun(context.Context, *PassRun) error { return nil }

// Option configures a Pass
type Option func(*Pass)

// WithRecorder records every run through r
func WithRecorder(r RunRecorder) Option {
	return func(p *Pass) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithClock replaces time.Now for run timings
func WithClock(now func() time.Time) Option {
	return func(p *Pass) {
		p.now = now
	}
}

// Pass coordinates a forecasting run over every (user, product) pair.
type Pass struct {
	store       repository.Store
	cfg         Config
	actuals     *ActualsProcessor
	projections *ProjectionRunner
	recorder    RunRecorder
	now         func() time.Time
}

// NewPass creates a new Pass.
func NewPass(store repository.Store, cfg Config, opts ...Option) *Pass {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = forecast.HorizonDays
	}
	engine := forecast.NewEngine()
	p := &Pass{
		store:       store,
		cfg:         cfg,
		actuals:     NewActualsProcessor(store, engine, cfg),
		projections: NewProjectionRunner(store, engine, cfg),
		recorder:    noopRecorder{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes every pair for asOf. Failures are isolated per unit and
// returned in the report; Run itself never fails, and a panic outside a pair
// is reported as one errored unit.
func (p *Pass) Run(ctx context.Context, asOf time.Time) (report domain.PassReport) {
	asOf = domain.DateOf(asOf)
	started := p.now()
	report = domain.PassReport{AsOf: asOf, StartedAt: started}
	run := &PassRun{AsOf: asOf, Status: StatusRunning, StartedAt: started}

	defer func() {
		if r := recover(); r != nil {
			report.Fail(0, 0, asOf, stagePanic, fmt.Errorf("panic: %v", r))
			log.Error().
				Str("as_of", asOf.Format(domain.DateLayout)).
				Str("stack", string(debug.Stack())).
				Msgf("recovered from panic in pass: %v", r)
		}
		p.finish(ctx, run, &report, started)
	}()

	if err := p.recorder.StartRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("failed to record pass start")
	}

	jobs, err := p.pairs(ctx)
	if err != nil {
		report.Fail(0, 0, asOf, stageCatalog, err)
		log.Error().Err(err).Msg("failed to list pairs")
		return report
	}

	log.Info().
		Str("as_of", asOf.Format(domain.DateLayout)).
		Int("pairs", len(jobs)).
		Int("workers", p.cfg.Workers).
		Msg("starting pass")

	report.Merge(p.processPairs(ctx, asOf, jobs))
	return report
}

// finish stamps the duration on report and records the run outcome.
func (p *Pass) finish(ctx context.Context, run *PassRun, report *domain.PassReport, started time.Time) {
	finished := p.now()
	report.Duration = finished.Sub(started)
	run.Finish(*report, finished)
	if err := p.recorder.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn().Err(err).Msg("failed to record pass completion")
	}
	log.Info().
		Str("as_of", report.AsOf.Format(domain.DateLayout)).
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Dur("duration", report.Duration).
		Msg("pass completed")
}

func (p *Pass) pairs(ctx context.Context) ([]pairJob, error) {
	users, err := p.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	products, err := p.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make([]pairJob, 0, len(users)*len(products))
	for _, u := range users {
		for _, prod := range products {
			jobs = append(jobs, pairJob{user: u, product: prod})
		}
	}
	return jobs, nil
}
