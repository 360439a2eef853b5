package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/forecast"
	"github.com/andresuchdata/stockcast/internal/repository"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ProjectionRunner walks the horizon after the as-of date, deriving each day
// from the row of the day before it.
type ProjectionRunner struct {
	history      repository.HistoryStore
	metrics      repository.MetricsStore
	engine       *forecast.Engine
	retry        RetryPolicy
	horizon      int
	suppressZero bool
}

// NewProjectionRunner creates a projection runner over store
func NewProjectionRunner(store repository.Store, engine *forecast.Engine, cfg Config) *ProjectionRunner {
	return &ProjectionRunner{
		history:      store,
		metrics:      store,
		engine:       engine,
		retry:        cfg.Retry,
		horizon:      cfg.HorizonDays,
		suppressZero: cfg.SuppressZeroProjections,
	}
}

// Walk projects pr.asOf+1 through pr.asOf+horizon in date order. A day whose
// previous day has no row is skipped, as is a day that already holds an
// actual row. A failed day is reported and the walk moves on.
func (p *ProjectionRunner) Walk(ctx context.Context, pr *pairRun) domain.PassReport {
	var report domain.PassReport
	if pr.plan == nil {
		pr.planFrom(p.engine, p.horizon, decimal.NullDecimal{})
	}

	for i := 1; i <= p.horizon; i++ {
		date := domain.AddDays(pr.asOf, i)
		logger := log.With().
			Int64("user_id", pr.user.ID).
			Int64("product_id", pr.product.ID).
			Str("date", date.Format(domain.DateLayout)).
			Logger()

		if ctx.Err() != nil {
			pr.fail(&report, date, stageProjection, ctx.Err())
			continue
		}

		prior := pr.ledger.Record(domain.AddDays(date, -1))
		if prior == nil {
			report.Skipped++
			logger.Debug().Err(domain.ErrMissingAnchor).Msg("skipping projection")
			continue
		}
		if pr.ledger.Actual(date) != nil {
			report.Skipped++
			logger.Debug().Msg("actual row present, projection not written")
			continue
		}

		incoming, err := p.history.GetIncomingDue(ctx, pr.user.ID, pr.product.ID, date)
		if err != nil {
			pr.fail(&report, date, stageProjection, err)
			logger.Error().Err(err).Msg("failed to read incoming")
			continue
		}

		rec := p.project(pr, date, prior, incoming)
		if p.suppressZero && isZeroProjection(rec) {
			report.Skipped++
			continue
		}

		err = p.retry.Do(ctx, "upsert projection", func(ctx context.Context) error {
			return p.metrics.UpsertMetrics(ctx, rec)
		})
		if err != nil {
			pr.fail(&report, date, stageProjection, err)
			logger.Error().Err(err).Msg("failed to upsert projection")
			pr.replanAfter(p.engine, date)
			continue
		}

		pr.ledger.Put(*rec)
		report.Processed++
	}

	return report
}

func (p *ProjectionRunner) project(pr *pairRun, day time.Time, prior *domain.DailyMetrics, incoming decimal.Decimal) *domain.DailyMetrics {
	f := pr.forecastFor(p.engine, day)
	r := pr.calc.Calculate(forecast.Input{
		Date:     day,
		LeadTime: pr.product.LeadTime,
		Forecast: f,
		Incoming: incoming,
		Prior:    prior,
	})

	rec := &domain.DailyMetrics{
		UserID:          pr.user.ID,
		ProductID:       pr.product.ID,
		Date:            day,
		IsProjection:    true,
		Incoming:        incoming,
		Forecast:        f,
		OrderPoint:      r.OrderPoint,
		ProjectedOnHand: r.ProjectedOnHand,
		SOQ:             r.SOQ,
		PlannedArrival:  r.PlannedArrival,
		LeadTimeDays:    pr.product.LeadTime,
	}
	rec.Normalize()
	return rec
}

func isZeroProjection(m *domain.DailyMetrics) bool {
	return m.Forecast.IsZero() &&
		m.OrderPoint.IsZero() &&
		m.SOQ.IsZero() &&
		m.ProjectedOnHand.IsZero() &&
		m.Incoming.IsZero()
}
