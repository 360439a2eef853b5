package pipeline

import (
	"context"
	"fmt"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/forecast"
	"github.com/andresuchdata/stockcast/internal/repository"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ActualsProcessor records the observed day of a pair and moves arrivals
// that are due into on-hand.
type ActualsProcessor struct {
	history   repository.HistoryStore
	inventory repository.InventoryStore
	metrics   repository.MetricsStore
	engine    *forecast.Engine
	retry     RetryPolicy
	horizon   int
}

// NewActualsProcessor creates an actuals processor over store
func NewActualsProcessor(store repository.Store, engine *forecast.Engine, cfg Config) *ActualsProcessor {
	return &ActualsProcessor{
		history:   store,
		inventory: store,
		metrics:   store,
		engine:    engine,
		retry:     cfg.Retry,
		horizon:   cfg.HorizonDays,
	}
}

// Process upserts the actual row of pr.asOf and then transfers arrivals due
// on or before it. It always leaves pr with a plan, even when reading
// history fails, so the projection walk can still run.
func (a *ActualsProcessor) Process(ctx context.Context, pr *pairRun) domain.PassReport {
	var report domain.PassReport
	date := pr.asOf
	logger := log.With().
		Int64("user_id", pr.user.ID).
		Int64("product_id", pr.product.ID).
		Str("date", date.Format(domain.DateLayout)).
		Logger()

	rec, err := a.observe(ctx, pr)
	if err != nil {
		pr.planFrom(a.engine, a.horizon, decimal.NullDecimal{})
		pr.fail(&report, date, stageActual, err)
		logger.Error().Err(err).Msg("failed to read history")
		return report
	}

	pr.planFrom(a.engine, a.horizon, decimal.NewNullDecimal(rec.Sales))

	// Forecast and derived metrics, anchored on yesterday's row
	rec.Forecast = pr.forecastFor(a.engine, date)
	r := pr.calc.Calculate(forecast.Input{
		Date:     date,
		LeadTime: pr.product.LeadTime,
		Forecast: rec.Forecast,
		Incoming: rec.Incoming,
		Prior:    pr.ledger.Record(domain.AddDays(date, -1)),
	})
	rec.OrderPoint = r.OrderPoint
	rec.ProjectedOnHand = r.ProjectedOnHand
	rec.SOQ = r.SOQ
	rec.PlannedArrival = r.PlannedArrival
	rec.Normalize()

	err = a.retry.Do(ctx, "upsert actual metrics", func(ctx context.Context) error {
		return a.metrics.UpsertMetrics(ctx, rec)
	})
	if err != nil {
		pr.fail(&report, date, stageActual, err)
		logger.Error().Err(err).Msg("failed to upsert actual metrics")
	} else {
		pr.ledger.Put(*rec)
		report.Processed++
		logger.Debug().
			Str("forecast", rec.Forecast.String()).
			Str("soq", rec.SOQ.String()).
			Msg("actual metrics recorded")
	}

	// Arrivals are moved even when the metrics row failed; the balance
	// snapshot of today is already captured.
	var moved decimal.Decimal
	err = a.retry.Do(ctx, "transfer arrivals", func(ctx context.Context) error {
		var terr error
		moved, terr = a.inventory.TransferArrivals(ctx, pr.user.ID, pr.product.ID, date)
		return terr
	})
	if err != nil {
		pr.fail(&report, date, stageTransfer, err)
		logger.Error().Err(err).Msg("failed to transfer arrivals")
	} else if !moved.IsZero() {
		logger.Info().Str("quantity", moved.String()).Msg("arrivals transferred to on-hand")
	}

	return report
}

// observe reads sales, the opening balance and the incoming quantity of the
// day into a new actual row.
func (a *ActualsProcessor) observe(ctx context.Context, pr *pairRun) (*domain.DailyMetrics, error) {
	userID, productID, date := pr.user.ID, pr.product.ID, pr.asOf

	sales, err := a.history.GetSalesTotal(ctx, userID, productID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to read sales: %w", err)
	}
	onHand, err := a.history.SnapshotOnHand(ctx, userID, productID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to read on-hand: %w", err)
	}
	incoming, err := a.history.GetIncomingDue(ctx, userID, productID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to read incoming: %w", err)
	}

	rec := &domain.DailyMetrics{
		UserID:       userID,
		ProductID:    productID,
		Date:         date,
		IsProjection: false,
		Sales:        sales,
		OnHand:       onHand,
		Incoming:     incoming,
		LeadTimeDays: pr.product.LeadTime,
	}
	rec.Normalize()
	return rec, nil
}
