package service

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/stockcast/internal/cache"
	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/forecast"
	"github.com/andresuchdata/stockcast/internal/repository"
	"github.com/rs/zerolog/log"
)

// DefaultHorizonDays covers the as-of date and the projected horizon.
const DefaultHorizonDays = forecast.HorizonDays + 1

type MetricsService struct {
	store repository.MetricsStore
	cache cache.MetricsCache
}

func NewMetricsService(store repository.MetricsStore, cacheImpl cache.MetricsCache) *MetricsService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopMetricsCache()
	}
	return &MetricsService{store: store, cache: cacheImpl}
}

// GetHorizon returns one row per date from from onward for days days,
// preferring the actual row of a date over its projection. Dates without
// any row are left out.
func (s *MetricsService) GetHorizon(ctx context.Context, userID, productID int64, from time.Time, days int) ([]domain.DailyMetrics, error) {
	if days <= 0 {
		days = DefaultHorizonDays
	}
	from = domain.DateOf(from)
	key := cache.HorizonKey{UserID: userID, ProductID: productID, From: from, Days: days}

	if rows, ok, err := s.cache.GetHorizon(ctx, key); err == nil && ok {
		return rows, nil
	} else if err != nil {
		log.Warn().Err(err).Msg("metrics: cache get horizon failed")
	}

	stored, err := s.store.ListMetrics(ctx, userID, productID, from, domain.AddDays(from, days-1))
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	rows := preferActuals(stored)

	if err := s.cache.SetHorizon(ctx, key, rows); err != nil {
		log.Warn().Err(err).Msg("metrics: cache set horizon failed")
	}
	return rows, nil
}

// InvalidateAll drops every cached window, called once a pass completes.
func (s *MetricsService) InvalidateAll(ctx context.Context) error {
	return s.cache.InvalidateAll(ctx)
}

// preferActuals keeps one row per date, the actual one when both exist.
// Input order is kept.
func preferActuals(rows []domain.DailyMetrics) []domain.DailyMetrics {
	out := make([]domain.DailyMetrics, 0, len(rows))
	index := make(map[int64]int, len(rows))
	for _, r := range rows {
		day := domain.DayNumber(r.Date)
		if i, ok := index[day]; ok {
			if out[i].IsProjection && !r.IsProjection {
				out[i] = r
			}
			continue
		}
		index[day] = len(out)
		out = append(out, r)
	}
	return out
}
