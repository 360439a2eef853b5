package service

import (
	"context"
	"testing"

	"github.com/andresuchdata/stockcast/internal/cache"
	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/repository/memory"
)

// mapCache is an in-process MetricsCache for tests
type mapCache struct {
	rows map[cache.HorizonKey][]domain.DailyMetrics
	hits int
}

func newMapCache() *mapCache {
	return &mapCache{rows: make(map[cache.HorizonKey][]domain.DailyMetrics)}
}

func (c *mapCache) GetHorizon(_ context.Context, key cache.HorizonKey) ([]domain.DailyMetrics, bool, error) {
	rows, ok := c.rows[key]
	if ok {
		c.hits++
	}
	return rows, ok, nil
}

func (c *mapCache) SetHorizon(_ context.Context, key cache.HorizonKey, rows []domain.DailyMetrics) error {
	c.rows[key] = rows
	return nil
}

func (c *mapCache) InvalidatePair(_ context.Context, userID, productID int64) error {
	for k := range c.rows {
		if k.UserID == userID && k.ProductID == productID {
			delete(c.rows, k)
		}
	}
	return nil
}

func (c *mapCache) InvalidateAll(context.Context) error {
	c.rows = make(map[cache.HorizonKey][]domain.DailyMetrics)
	return nil
}

func TestMetricsService_GetHorizon(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutMetrics(domain.DailyMetrics{UserID: 1, ProductID: 1, Date: today, Forecast: dec("4")})
	store.PutMetrics(domain.DailyMetrics{UserID: 1, ProductID: 1, Date: today, IsProjection: true, Forecast: dec("9")})
	store.PutMetrics(domain.DailyMetrics{UserID: 1, ProductID: 1, Date: domain.AddDays(today, 1), IsProjection: true, Forecast: dec("5")})
	store.PutMetrics(domain.DailyMetrics{UserID: 1, ProductID: 1, Date: domain.AddDays(today, 20), IsProjection: true, Forecast: dec("6")})

	c := newMapCache()
	svc := NewMetricsService(store, c)

	rows, err := svc.GetHorizon(ctx, 1, 1, today, 0)
	if err != nil {
		t.Fatalf("GetHorizon failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows inside the horizon, got %d", len(rows))
	}
	if rows[0].IsProjection || !rows[0].Forecast.Equal(dec("4")) {
		t.Errorf("Expected the actual row for today, got %+v", rows[0])
	}
	if !rows[1].IsProjection || !rows[1].Forecast.Equal(dec("5")) {
		t.Errorf("Expected tomorrow's projection, got %+v", rows[1])
	}

	if _, err := svc.GetHorizon(ctx, 1, 1, today, 0); err != nil {
		t.Fatalf("GetHorizon failed: %v", err)
	}
	if c.hits != 1 {
		t.Errorf("Expected second read served from cache, got %d hits", c.hits)
	}

	_ = svc.InvalidateAll(ctx)
	if len(c.rows) != 0 {
		t.Errorf("Expected cache emptied, got %d keys", len(c.rows))
	}
}

func TestOrderService_InvalidatesPairCache(t *testing.T) {
	ctx := context.Background()
	svc, store := newOrderFixture()
	c := newMapCache()
	svc.cache = c
	metrics := NewMetricsService(store, c)

	if _, err := metrics.GetHorizon(ctx, 1, 7, today, 0); err != nil {
		t.Fatalf("GetHorizon failed: %v", err)
	}
	if len(c.rows) != 1 {
		t.Fatalf("Expected one cached window, got %d", len(c.rows))
	}

	if _, err := svc.Buy(ctx, BuyRequest{UserID: 1, ProductID: 7, Quantity: dec("2")}); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	if len(c.rows) != 0 {
		t.Errorf("Expected buy to invalidate the pair's windows")
	}
}
