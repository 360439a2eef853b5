package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresuchdata/stockcast/internal/config"
	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	metricsKeyPrefix     = "metrics:horizon"
	metricsScanBatchSize = 100
)

// HorizonKey identifies a cached metrics window of one pair
type HorizonKey struct {
	UserID    int64
	ProductID int64
	From      time.Time
	Days      int
}

// MetricsCache caches metrics windows read by the query side. A pass
// invalidates everything once it completes.
type MetricsCache interface {
	GetHorizon(ctx context.Context, key HorizonKey) ([]domain.DailyMetrics, bool, error)
	SetHorizon(ctx context.Context, key HorizonKey, rows []domain.DailyMetrics) error
	InvalidatePair(ctx context.Context, userID, productID int64) error
	InvalidateAll(ctx context.Context) error
}

type redisMetricsCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopMetricsCache struct{}

// NewMetricsCache returns a redis-backed cache, or a no-op one when caching
// is disabled.
func NewMetricsCache(cfg config.CacheConfig) (MetricsCache, error) {
	if !cfg.Enabled {
		return &noopMetricsCache{}, nil
	}

	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewRedisMetricsCache(client, metricsTTL(cfg)), nil
}

// NewRedisMetricsCache wraps an existing client
func NewRedisMetricsCache(client *redis.Client, ttl time.Duration) MetricsCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &redisMetricsCache{client: client, ttl: ttl}
}

func NewNoopMetricsCache() MetricsCache {
	return &noopMetricsCache{}
}

func (c *redisMetricsCache) GetHorizon(ctx context.Context, key HorizonKey) ([]domain.DailyMetrics, bool, error) {
	payload, err := c.client.Get(ctx, buildHorizonKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var rows []domain.DailyMetrics
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, false, fmt.Errorf("decode metrics cache: %w", err)
	}
	return rows, true, nil
}

func (c *redisMetricsCache) SetHorizon(ctx context.Context, key HorizonKey, rows []domain.DailyMetrics) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode metrics cache: %w", err)
	}
	if err := c.client.Set(ctx, buildHorizonKey(key), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisMetricsCache) InvalidatePair(ctx context.Context, userID, productID int64) error {
	return deleteKeysWithPrefix(ctx, c.client, pairKeyPrefix(userID, productID), metricsScanBatchSize)
}

func (c *redisMetricsCache) InvalidateAll(ctx context.Context) error {
	return deleteKeysWithPrefix(ctx, c.client, metricsKeyPrefix, metricsScanBatchSize)
}

func (noopMetricsCache) GetHorizon(context.Context, HorizonKey) ([]domain.DailyMetrics, bool, error) {
	return nil, false, nil
}

func (noopMetricsCache) SetHorizon(context.Context, HorizonKey, []domain.DailyMetrics) error {
	return nil
}

func (noopMetricsCache) InvalidatePair(context.Context, int64, int64) error { return nil }

func (noopMetricsCache) InvalidateAll(context.Context) error { return nil }

func pairKeyPrefix(userID, productID int64) string {
	return fmt.Sprintf("%s:u%d:p%d:", metricsKeyPrefix, userID, productID)
}

func buildHorizonKey(key HorizonKey) string {
	return fmt.Sprintf("%s%s:%d", pairKeyPrefix(key.UserID, key.ProductID), key.From.Format(domain.DateLayout), key.Days)
}
