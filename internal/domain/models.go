// internal/domain/models.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuantityPlaces is the number of decimal places quantities are persisted with.
const QuantityPlaces = 2

// User owns inventory, sales and metrics.
type User struct {
	ID       int64  `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
}

// Product is immutable for the duration of a pass.
type Product struct {
	ID            int64  `json:"id" db:"id"`
	ProductNumber string `json:"product_number" db:"product_number"`
	Name          string `json:"name" db:"name"`
	LeadTime      int    `json:"lead_time" db:"lead_time"` // in days
}

// DailyMetrics is one row of the metrics table, keyed by
// (UserID, ProductID, Date, IsProjection).
type DailyMetrics struct {
	ID           int64     `json:"id" db:"id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	ProductID    int64     `json:"product_id" db:"product_id"`
	Date         time.Time `json:"date" db:"metric_date"`
	IsProjection bool      `json:"is_projection" db:"is_projection"`

	// Observed values
	Sales    decimal.Decimal `json:"sales" db:"sales"`
	OnHand   decimal.Decimal `json:"on_hand" db:"on_hand"`
	Incoming decimal.Decimal `json:"incoming" db:"incoming"`

	// Derived values
	Forecast        decimal.Decimal `json:"forecast" db:"forecast"`
	OrderPoint      decimal.Decimal `json:"order_point" db:"order_point"`
	ProjectedOnHand decimal.Decimal `json:"projected_on_hand" db:"projected_on_hand"`
	SOQ             decimal.Decimal `json:"soq" db:"soq"`
	PlannedArrival  decimal.Decimal `json:"planned_arrival" db:"planned_arrival"`
	LeadTimeDays    int             `json:"lead_time_days" db:"lead_time_days"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Key identifies the row a record upserts into.
func (m *DailyMetrics) Key() MetricsKey {
	return MetricsKey{
		UserID:       m.UserID,
		ProductID:    m.ProductID,
		Day:          DayNumber(m.Date),
		IsProjection: m.IsProjection,
	}
}

// Normalize truncates the date to a calendar day and rounds every quantity
// to QuantityPlaces. It is applied right before persistence.
func (m *DailyMetrics) Normalize() {
	m.Date = DateOf(m.Date)
	m.Sales = m.Sales.Round(QuantityPlaces)
	m.OnHand = m.OnHand.Round(QuantityPlaces)
	m.Incoming = m.Incoming.Round(QuantityPlaces)
	m.Forecast = m.Forecast.Round(QuantityPlaces)
	m.OrderPoint = m.OrderPoint.Round(QuantityPlaces)
	m.ProjectedOnHand = m.ProjectedOnHand.Round(QuantityPlaces)
	m.SOQ = m.SOQ.Round(QuantityPlaces)
	m.PlannedArrival = m.PlannedArrival.Round(QuantityPlaces)
}

// SameValues reports whether two records carry identical persisted values,
// ignoring surrogate id and timestamps.
func (m *DailyMetrics) SameValues(o *DailyMetrics) bool {
	return m.Key() == o.Key() &&
		m.LeadTimeDays == o.LeadTimeDays &&
		m.Sales.Equal(o.Sales) &&
		m.OnHand.Equal(o.OnHand) &&
		m.Incoming.Equal(o.Incoming) &&
		m.Forecast.Equal(o.Forecast) &&
		m.OrderPoint.Equal(o.OrderPoint) &&
		m.ProjectedOnHand.Equal(o.ProjectedOnHand) &&
		m.SOQ.Equal(o.SOQ) &&
		m.PlannedArrival.Equal(o.PlannedArrival)
}

// MetricsKey is the natural key of a metrics row.
type MetricsKey struct {
	UserID       int64
	ProductID    int64
	Day          int64
	IsProjection bool
}

// IncomingArrival is stock ordered but not yet on hand.
type IncomingArrival struct {
	ID          int64           `json:"id" db:"id"`
	UserID      int64           `json:"user_id" db:"user_id"`
	ProductID   int64           `json:"product_id" db:"product_id"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	ArrivalDate time.Time       `json:"arrival_date" db:"arrival_date"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// ArrivedArrival is an arrival already folded into on-hand. Keeping it lets
// the incoming quantity of a processed day be re-read after the transfer.
type ArrivedArrival struct {
	ID            int64           `json:"id" db:"id"`
	UserID        int64           `json:"user_id" db:"user_id"`
	ProductID     int64           `json:"product_id" db:"product_id"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	ArrivalDate   time.Time       `json:"arrival_date" db:"arrival_date"`
	TransferredAt time.Time       `json:"transferred_at" db:"transferred_at"`
}

// OnHandBalance is the single current stock level of a product for a user.
type OnHandBalance struct {
	UserID    int64           `json:"user_id" db:"user_id"`
	ProductID int64           `json:"product_id" db:"product_id"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// OnHandSnapshot is the opening balance of a pair for a calendar date.
type OnHandSnapshot struct {
	UserID       int64           `json:"user_id" db:"user_id"`
	ProductID    int64           `json:"product_id" db:"product_id"`
	SnapshotDate time.Time       `json:"snapshot_date" db:"snapshot_date"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
}

// SalesEvent is append-only.
type SalesEvent struct {
	ID        int64           `json:"id" db:"id"`
	UserID    int64           `json:"user_id" db:"user_id"`
	ProductID int64           `json:"product_id" db:"product_id"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	SaleDate  time.Time       `json:"sale_date" db:"sale_date"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
