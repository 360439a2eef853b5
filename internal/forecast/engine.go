// Package forecast holds the rolling-average demand forecast and the
// replenishment arithmetic built on top of it.
package forecast

import (
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	// WindowDays is the length of the rolling average.
	WindowDays = 7
	// HorizonDays is how far ahead a pass projects.
	HorizonDays = 14
)

var windowLen = decimal.NewFromInt(WindowDays)

// Engine computes the 7-day rolling-average forecast.
type Engine struct{}

// NewEngine creates a forecast engine
func NewEngine() *Engine {
	return &Engine{}
}

// Forecast is the unweighted mean demand of the WindowDays days strictly
// before date. Days without a row count as zero. The result keeps full
// precision.
func (e *Engine) Forecast(l *Ledger, date time.Time) decimal.Decimal {
	sum := decimal.Zero
	for n := 1; n <= WindowDays; n++ {
		sum = sum.Add(l.Demand(domain.AddDays(date, -n)))
	}
	return sum.Div(windowLen)
}

// BuildPlan forecasts days consecutive days starting at from, in date order.
// Each planned day is overlaid on a scratch copy of l the way it will be
// persisted, so later days see it in their window: from as an actual row
// carrying fromSales (when valid), later days as projection rows unless the
// ledger already holds an actual row for them. A plan assumes every
// projection it overlays gets written; callers rebuild it when one is not.
func (e *Engine) BuildPlan(l *Ledger, from time.Time, days int, fromSales decimal.NullDecimal) *Plan {
	from = domain.DateOf(from)
	plan := &Plan{
		start:     domain.DayNumber(from),
		forecasts: make([]decimal.Decimal, 0, days),
	}

	scratch := l.Clone()
	for i := 0; i < days; i++ {
		date := domain.AddDays(from, i)
		f := e.Forecast(scratch, date).Round(domain.QuantityPlaces)
		plan.forecasts = append(plan.forecasts, f)

		switch {
		case i == 0 && fromSales.Valid:
			scratch.Put(domain.DailyMetrics{
				UserID:    l.UserID,
				ProductID: l.ProductID,
				Date:      date,
				Sales:     fromSales.Decimal,
				Forecast:  f,
			})
		case scratch.Actual(date) != nil:
			// observed history wins over the plan
		default:
			scratch.Put(domain.DailyMetrics{
				UserID:       l.UserID,
				ProductID:    l.ProductID,
				Date:         date,
				IsProjection: true,
				Forecast:     f,
			})
		}
	}
	return plan
}
