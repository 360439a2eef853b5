package forecast

import (
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/shopspring/decimal"
)

// Input is everything needed to derive the replenishment metrics of one day.
type Input struct {
	Date     time.Time
	LeadTime int
	Forecast decimal.Decimal
	Incoming decimal.Decimal
	// Prior is the previous day's row; nil starts the balance at zero.
	Prior *domain.DailyMetrics
}

// Replenishment holds the derived metrics of one day.
type Replenishment struct {
	OrderPoint      decimal.Decimal
	ProjectedOnHand decimal.Decimal
	SOQ             decimal.Decimal
	PlannedArrival  decimal.Decimal
	// Arriving is the earlier SOQ landing on this day.
	Arriving decimal.Decimal
}

// Calculator derives order point, projected on-hand, SOQ and planned arrival
// from a forecast and the stored history of a pair.
type Calculator struct {
	ledger *Ledger
	plan   *Plan
}

// NewCalculator binds a calculator to a pair's ledger and forecast plan.
// plan may be nil.
func NewCalculator(l *Ledger, plan *Plan) *Calculator {
	return &Calculator{ledger: l, plan: plan}
}

// Calculate computes all metrics for in
func (c *Calculator) Calculate(in Input) Replenishment {
	r := Replenishment{}

	// 1. Order point = forecast summed over the lead time
	r.OrderPoint = c.OrderPoint(in.Date, in.LeadTime, in.Forecast)

	// 2. Projected on hand, arrivals included, never negative
	r.Arriving = c.ArrivingOn(in.Date, in.LeadTime)
	r.ProjectedOnHand = ProjectedOnHand(in.Prior, in.Incoming, r.Arriving, in.Forecast)

	// 3. Suggested order quantity
	r.SOQ = SOQ(r.ProjectedOnHand, r.OrderPoint)

	// 4. Planned arrival is the SOQ itself, picked up lead-time days later
	r.PlannedArrival = PlannedArrival(in.Date, r.SOQ)

	return r
}

// OrderPoint sums forecast and the forecasts of the following leadTime-1
// days. A following day uses its planned forecast, then its stored row, and
// falls back to forecast when neither is known. Zero lead time yields zero.
func (c *Calculator) OrderPoint(date time.Time, leadTime int, forecast decimal.Decimal) decimal.Decimal {
	if leadTime <= 0 {
		return decimal.Zero
	}

	total := forecast
	for i := 1; i < leadTime; i++ {
		next := domain.AddDays(date, i)
		if f, ok := c.plan.At(next); ok {
			total = total.Add(f)
			continue
		}
		if rec := c.ledger.Record(next); rec != nil {
			total = total.Add(rec.Forecast)
			continue
		}
		total = total.Add(forecast)
	}
	return total
}

// ArrivingOn is the SOQ recorded leadTime days before date, zero when the
// lead time is zero or no such row exists.
func (c *Calculator) ArrivingOn(date time.Time, leadTime int) decimal.Decimal {
	if leadTime <= 0 {
		return decimal.Zero
	}
	return c.ledger.SOQAt(domain.AddDays(date, -leadTime))
}

// ProjectedOnHand starts from the prior projected on-hand, or the prior
// actual on-hand when that is exactly zero, adds incoming and arriving,
// subtracts forecast and clamps at zero.
func ProjectedOnHand(prior *domain.DailyMetrics, incoming, arriving, forecast decimal.Decimal) decimal.Decimal {
	start := decimal.Zero
	if prior != nil {
		start = prior.ProjectedOnHand
		if start.IsZero() {
			start = prior.OnHand
		}
	}

	projected := start.Add(incoming).Add(arriving).Sub(forecast)
	if projected.IsNegative() {
		return decimal.Zero
	}
	return projected
}

// SOQ is the shortfall of projected on-hand against the order point.
func SOQ(projectedOnHand, orderPoint decimal.Decimal) decimal.Decimal {
	return decimal.Max(orderPoint.Sub(projectedOnHand), decimal.Zero)
}

// PlannedArrival records today's SOQ as the quantity planned to arrive; it is
// consulted through Ledger.SOQAt lead-time days later.
func PlannedArrival(_ time.Time, soq decimal.Decimal) decimal.Decimal {
	return soq
}
