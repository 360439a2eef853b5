package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/andresuchdata/stockcast/internal/config"
)

func TestBuildHorizonKey(t *testing.T) {
	key := HorizonKey{UserID: 3, ProductID: 12, From: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), Days: 15}
	got := buildHorizonKey(key)

	if got != "metrics:horizon:u3:p12:2025-03-10:15" {
		t.Errorf("Unexpected key %q", got)
	}
	if !strings.HasPrefix(got, pairKeyPrefix(3, 12)) {
		t.Errorf("Expected key under the pair prefix")
	}
	if strings.HasPrefix(got, pairKeyPrefix(3, 1)) {
		t.Errorf("Pair prefix of product 1 must not match product 12")
	}
}

func TestNewMetricsCache_DisabledIsNoop(t *testing.T) {
	c, err := NewMetricsCache(config.CacheConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetricsCache failed: %v", err)
	}

	ctx := context.Background()
	key := HorizonKey{UserID: 1, ProductID: 1, Days: 15}
	if err := c.SetHorizon(ctx, key, nil); err != nil {
		t.Errorf("SetHorizon failed: %v", err)
	}
	if _, ok, _ := c.GetHorizon(ctx, key); ok {
		t.Error("Expected noop cache to always miss")
	}
	if err := c.InvalidateAll(ctx); err != nil {
		t.Errorf("InvalidateAll failed: %v", err)
	}
}

func TestBuildRedisOptions(t *testing.T) {
	opts, err := buildRedisOptions(config.CacheConfig{RedisPassword: "secret", RedisDB: 2})
	if err != nil {
		t.Fatalf("buildRedisOptions failed: %v", err)
	}
	if opts.Addr != "127.0.0.1:6379" || opts.DB != 2 || opts.Password != "secret" {
		t.Errorf("Unexpected options %+v", opts)
	}

	opts, err = buildRedisOptions(config.CacheConfig{RedisURL: "redis://cache:6380/4"})
	if err != nil {
		t.Fatalf("buildRedisOptions with url failed: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 4 {
		t.Errorf("Unexpected options from url %+v", opts)
	}

	if _, err := buildRedisOptions(config.CacheConfig{RedisURL: "://bad"}); err == nil {
		t.Error("Expected invalid url error")
	}
}

func TestMetricsTTL(t *testing.T) {
	if got := metricsTTL(config.CacheConfig{}); got != defaultCacheTTL {
		t.Errorf("Expected default TTL, got %s", got)
	}
	if got := metricsTTL(config.CacheConfig{MetricsTTLSeconds: 90}); got != 90*time.Second {
		t.Errorf("Expected 90s, got %s", got)
	}
}
