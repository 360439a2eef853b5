package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/forecast"
	"github.com/andresuchdata/stockcast/internal/repository"
	"github.com/shopspring/decimal"
)

// pairRun is the working state of one (user, product) pair during a pass.
// The ledger only ever reflects rows that were persisted successfully.
type pairRun struct {
	asOf    time.Time
	user    domain.User
	product domain.Product

	ledger *forecast.Ledger
	plan   *forecast.Plan
	calc   *forecast.Calculator
}

// loadPair reads the stored rows a pass needs for the pair: the forecast
// window and lead-time lookback before asOf, and the order point look-ahead
// past the horizon.
func loadPair(ctx context.Context, store repository.MetricsStore, user domain.User, product domain.Product, asOf time.Time, horizon int) (*pairRun, error) {
	asOf = domain.DateOf(asOf)
	lead := product.LeadTime
	if lead < 0 {
		lead = 0
	}

	back := forecast.WindowDays
	if lead > back {
		back = lead
	}
	from := domain.AddDays(asOf, -back)
	to := domain.AddDays(asOf, horizon+lead)

	rows, err := store.ListMetrics(ctx, user.ID, product.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics window: %w", err)
	}

	pr := &pairRun{
		asOf:    asOf,
		user:    user,
		product: product,
		ledger:  forecast.NewLedger(user.ID, product.ID, rows),
	}
	pr.calc = forecast.NewCalculator(pr.ledger, nil)
	return pr, nil
}

// planFrom forecasts asOf and the horizon behind it. todaySales, when valid,
// is what the actual row of asOf will carry.
func (pr *pairRun) planFrom(engine *forecast.Engine, horizon int, todaySales decimal.NullDecimal) {
	if todaySales.Valid {
		todaySales.Decimal = todaySales.Decimal.Round(domain.QuantityPlaces)
	}
	pr.plan = engine.BuildPlan(pr.ledger, pr.asOf, horizon+1, todaySales)
	pr.calc = forecast.NewCalculator(pr.ledger, pr.plan)
}

// replanAfter rebuilds the plan for the days after failed from the ledger,
// so they no longer count the projection that was never written.
func (pr *pairRun) replanAfter(engine *forecast.Engine, failed time.Time) {
	end := domain.AddDays(pr.asOf, pr.plan.Days()-1)
	next := domain.AddDays(failed, 1)
	if next.After(end) {
		return
	}
	days := int(domain.DayNumber(end)-domain.DayNumber(next)) + 1
	pr.plan = engine.BuildPlan(pr.ledger, next, days, decimal.NullDecimal{})
	pr.calc = forecast.NewCalculator(pr.ledger, pr.plan)
}

// forecastFor returns the planned forecast of date, or computes it from the
// ledger when the date is outside the plan.
func (pr *pairRun) forecastFor(engine *forecast.Engine, date time.Time) decimal.Decimal {
	if f, ok := pr.plan.At(date); ok {
		return f
	}
	return engine.Forecast(pr.ledger, date).Round(domain.QuantityPlaces)
}

func (pr *pairRun) fail(report *domain.PassReport, date time.Time, stage string, err error) {
	report.Fail(pr.user.ID, pr.product.ID, date, stage, err)
}
