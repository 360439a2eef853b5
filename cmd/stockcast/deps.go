package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/stockcast/internal/cache"
	"github.com/andresuchdata/stockcast/internal/config"
	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/pipeline"
	"github.com/andresuchdata/stockcast/internal/repository/postgres"
	"github.com/andresuchdata/stockcast/internal/service"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

type contextKey string

const dbKey contextKey = "db"

func newDBURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "db-url",
		Usage:   "Database connection string, overrides DB_* settings",
		EnvVars: []string{"DATABASE_URL"},
	}
}

func initDB(c *cli.Context) error {
	cfg := config.Load()
	dbCfg := cfg.Database
	if url := c.String("db-url"); url != "" {
		dbCfg.URL = url
	}

	db, err := postgres.NewDB(&dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Store the database connection in the context
	c.Context = context.WithValue(c.Context, dbKey, db)
	return nil
}

func closeDB(c *cli.Context) error {
	if db, ok := c.Context.Value(dbKey).(*postgres.DB); ok && db != nil {
		return db.Close()
	}
	return nil
}

func dbFrom(c *cli.Context) (*postgres.DB, error) {
	db, ok := c.Context.Value(dbKey).(*postgres.DB)
	if !ok || db == nil {
		return nil, errors.New("database connection not initialised")
	}
	return db, nil
}

// newMetricsCache falls back to no caching when redis is unreachable; the
// cache only ever holds derived rows.
func newMetricsCache(cfg *config.Config) cache.MetricsCache {
	mc, err := cache.NewMetricsCache(cfg.Cache)
	if err != nil {
		log.Warn().Err(err).Msg("metrics cache disabled")
		return cache.NewNoopMetricsCache()
	}
	return mc
}

// newPass wires a pass over the postgres store, recording every run in
// pass_runs.
func newPass(c *cli.Context) (*pipeline.Pass, error) {
	db, err := dbFrom(c)
	if err != nil {
		return nil, err
	}
	cfg := config.Load()

	pcfg := pipeline.ConfigFrom(cfg.Pipeline)
	if c.IsSet("workers") {
		pcfg.Workers = c.Int("workers")
	}
	if c.IsSet("suppress-zero") {
		pcfg.SuppressZeroProjections = c.Bool("suppress-zero")
	}

	return pipeline.NewPass(
		postgres.NewStore(db),
		pcfg,
		pipeline.WithRecorder(pipeline.NewRepository(db.DB)),
	), nil
}

// dateFlag parses a YYYY-MM-DD flag, defaulting to today in the scheduler
// timezone when unset.
func dateFlag(c *cli.Context, name string) (time.Time, error) {
	v := c.String(name)
	if v == "" {
		return domain.Today(time.Now(), config.Load().Scheduler.Location()), nil
	}
	d, err := domain.ParseDate(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: %w", name, v, err)
	}
	return d, nil
}

func newMetricsService(c *cli.Context) (*service.MetricsService, error) {
	db, err := dbFrom(c)
	if err != nil {
		return nil, err
	}
	return service.NewMetricsService(postgres.NewStore(db), newMetricsCache(config.Load())), nil
}
