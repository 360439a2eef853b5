package forecast

import (
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/shopspring/decimal"
)

type slot struct {
	actual     *domain.DailyMetrics
	projection *domain.DailyMetrics
}

// Ledger is the rolling window of stored metrics rows of one (user, product)
// pair, keyed by calendar day. Records handed out are read-only.
type Ledger struct {
	UserID    int64
	ProductID int64
	days      map[int64]*slot
}

// NewLedger indexes rows of a single pair. Rows of other pairs are ignored.
func NewLedger(userID, productID int64, rows []domain.DailyMetrics) *Ledger {
	l := &Ledger{
		UserID:    userID,
		ProductID: productID,
		days:      make(map[int64]*slot, len(rows)),
	}
	for _, r := range rows {
		if r.UserID != userID || r.ProductID != productID {
			continue
		}
		l.Put(r)
	}
	return l
}

// Put stores a copy of rec in its actual or projection slot.
func (l *Ledger) Put(rec domain.DailyMetrics) {
	day := domain.DayNumber(rec.Date)
	s, ok := l.days[day]
	if !ok {
		s = &slot{}
		l.days[day] = s
	}
	if rec.IsProjection {
		s.projection = &rec
	} else {
		s.actual = &rec
	}
}

// Actual returns the non-projection row of date, or nil.
func (l *Ledger) Actual(date time.Time) *domain.DailyMetrics {
	if s, ok := l.days[domain.DayNumber(date)]; ok {
		return s.actual
	}
	return nil
}

// Projection returns the projection row of date, or nil.
func (l *Ledger) Projection(date time.Time) *domain.DailyMetrics {
	if s, ok := l.days[domain.DayNumber(date)]; ok {
		return s.projection
	}
	return nil
}

// Record returns the row of date, preferring the actual one.
func (l *Ledger) Record(date time.Time) *domain.DailyMetrics {
	if a := l.Actual(date); a != nil {
		return a
	}
	return l.Projection(date)
}

// Demand is the value date contributes to a forecast window: recorded sales
// of an actual row when non-zero, otherwise that row's forecast; the
// forecast of a projection row; zero when the day has no row.
func (l *Ledger) Demand(date time.Time) decimal.Decimal {
	if a := l.Actual(date); a != nil {
		if !a.Sales.IsZero() {
			return a.Sales
		}
		return a.Forecast
	}
	if p := l.Projection(date); p != nil {
		return p.Forecast
	}
	return decimal.Zero
}

// SOQAt is the suggested order quantity recorded on date, zero when absent.
// Planned arrivals are read back through it lead-time days later.
func (l *Ledger) SOQAt(date time.Time) decimal.Decimal {
	if r := l.Record(date); r != nil {
		return r.SOQ
	}
	return decimal.Zero
}

// Len is the number of days holding at least one row.
func (l *Ledger) Len() int {
	return len(l.days)
}

// Clone copies the day index; records themselves are shared read-only.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		UserID:    l.UserID,
		ProductID: l.ProductID,
		days:      make(map[int64]*slot, len(l.days)),
	}
	for day, s := range l.days {
		cp := *s
		c.days[day] = &cp
	}
	return c
}
