package forecast

import (
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/shopspring/decimal"
)

// Plan is the forecast of a run of consecutive days, rounded the way it is
// persisted.
type Plan struct {
	start     int64
	forecasts []decimal.Decimal
}

// At returns the planned forecast of date.
func (p *Plan) At(date time.Time) (decimal.Decimal, bool) {
	if p == nil {
		return decimal.Zero, false
	}
	i := domain.DayNumber(date) - p.start
	if i < 0 || i >= int64(len(p.forecasts)) {
		return decimal.Zero, false
	}
	return p.forecasts[i], true
}

// Days is the number of planned days.
func (p *Plan) Days() int {
	if p == nil {
		return 0
	}
	return len(p.forecasts)
}
