// internal/repository/store.go
package repository

import (
	"context"
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/shopspring/decimal"
)

// CatalogStore lists the users and products a pass walks over.
type CatalogStore interface {
	ListUsers(ctx context.Context) ([]domain.User, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)
}

// HistoryStore is read access to observed sales, stock and arrivals.
type HistoryStore interface {
	// GetSalesTotal sums the sales events of a pair on date.
	GetSalesTotal(ctx context.Context, userID, productID int64, date time.Time) (decimal.Decimal, error)
	// GetOnHand returns the current balance, zero when no balance row exists.
	GetOnHand(ctx context.Context, userID, productID int64) (decimal.Decimal, error)
	// SnapshotOnHand returns the opening balance of date, capturing the
	// current balance the first time the date is asked for.
	SnapshotOnHand(ctx context.Context, userID, productID int64, date time.Time) (decimal.Decimal, error)
	// GetIncomingDue sums arrivals dated exactly date, pending or already transferred.
	GetIncomingDue(ctx context.Context, userID, productID int64, date time.Time) (decimal.Decimal, error)
}

// InventoryStore mutates balances and arrivals. Every method is atomic per
// (user, product).
type InventoryStore interface {
	AdjustOnHand(ctx context.Context, userID, productID int64, delta decimal.Decimal) error
	ListPendingArrivals(ctx context.Context, userID, productID int64, asOf time.Time) ([]domain.IncomingArrival, error)
	DeleteArrivals(ctx context.Context, ids []int64) error
	// TransferArrivals moves every pending arrival dated on or before asOf
	// into on-hand and returns the transferred quantity.
	TransferArrivals(ctx context.Context, userID, productID int64, asOf time.Time) (decimal.Decimal, error)
	CreateArrival(ctx context.Context, arrival *domain.IncomingArrival) error
	// RecordSale decrements on-hand and appends the sale, or fails with
	// *domain.InsufficientStockError leaving both untouched.
	RecordSale(ctx context.Context, sale *domain.SalesEvent) error
}

// MetricsStore is the daily metrics table.
type MetricsStore interface {
	// GetMetrics returns nil, nil when the row does not exist.
	GetMetrics(ctx context.Context, userID, productID int64, date time.Time, isProjection bool) (*domain.DailyMetrics, error)
	// UpsertMetrics writes the row keyed by (user, product, date, is_projection).
	UpsertMetrics(ctx context.Context, record *domain.DailyMetrics) error
	// ListMetrics returns actual and projection rows with from <= date <= to, ordered by date.
	ListMetrics(ctx context.Context, userID, productID int64, from, to time.Time) ([]domain.DailyMetrics, error)
}

// Store is everything the forecasting pass needs.
type Store interface {
	CatalogStore
	HistoryStore
	InventoryStore
	MetricsStore
}

// Seeder loads reference data and sales history in bulk.
type Seeder interface {
	// UpsertUser creates the user or fills in the id of the existing one.
	UpsertUser(ctx context.Context, u *domain.User) error
	// UpsertProduct creates or updates a product keyed by product number.
	UpsertProduct(ctx context.Context, p *domain.Product) error
	// ImportSales appends historical sales without touching balances.
	ImportSales(ctx context.Context, events []domain.SalesEvent) (int, error)
}
