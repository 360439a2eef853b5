package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresuchdata/stockcast/internal/config"
	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/export"
	"github.com/andresuchdata/stockcast/internal/repository"
	"github.com/andresuchdata/stockcast/internal/repository/postgres"
	"github.com/andresuchdata/stockcast/internal/service"
	"github.com/andresuchdata/stockcast/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func exportFlags() []cli.Flag {
	return []cli.Flag{
		newDBURLFlag(),
		&cli.StringFlag{
			Name:  "from",
			Usage: "First date (YYYY-MM-DD), defaults to today",
		},
		&cli.IntFlag{
			Name:  "days",
			Usage: "Number of days per pair",
			Value: service.DefaultHorizonDays,
		},
		&cli.StringFlag{
			Name:    "out-dir",
			Usage:   "Directory the workbook is written to",
			EnvVars: []string{"APP_DATA_DIR"},
		},
		&cli.BoolFlag{
			Name:    "upload",
			Usage:   "Upload the workbook to object storage",
			EnvVars: []string{"STORAGE_ENABLED"},
		},
	}
}

func runExport(c *cli.Context) error {
	cfg := config.Load()
	from, err := dateFlag(c, "from")
	if err != nil {
		return err
	}
	db, err := dbFrom(c)
	if err != nil {
		return err
	}
	store := postgres.NewStore(db)
	metrics := service.NewMetricsService(store, newMetricsCache(cfg))

	rows, err := collectHorizon(c.Context, store, metrics, from, c.Int("days"))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := export.WriteHorizonWorkbook(&buf, rows); err != nil {
		return err
	}

	name := fmt.Sprintf("horizon_%s.xlsx", from.Format(domain.DateLayout))
	outDir := c.String("out-dir")
	if outDir == "" {
		outDir = cfg.App.DataDir
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", outDir, err)
	}
	path := filepath.Join(outDir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Info().Str("file", path).Int("rows", len(rows)).Msg("horizon exported")

	if !c.Bool("upload") {
		return nil
	}
	client, err := storage.NewMinioClient(cfg.Storage)
	if err != nil {
		return err
	}
	return publish(c.Context, client, name, buf.Bytes())
}

// collectHorizon reads the horizon of every (user, product) pair in catalog
// order.
func collectHorizon(ctx context.Context, catalog repository.CatalogStore, metrics *service.MetricsService, from time.Time, days int) ([]domain.DailyMetrics, error) {
	users, err := catalog.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	products, err := catalog.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	var rows []domain.DailyMetrics
	for _, u := range users {
		for _, p := range products {
			horizon, err := metrics.GetHorizon(ctx, u.ID, p.ID, from, days)
			if err != nil {
				return nil, fmt.Errorf("user %d product %d: %w", u.ID, p.ID, err)
			}
			rows = append(rows, horizon...)
		}
	}
	return rows, nil
}

func publish(ctx context.Context, store storage.ObjectStorage, key string, data []byte) error {
	if err := store.UploadObject(ctx, key, data); err != nil {
		return err
	}
	log.Info().Str("key", key).Int("bytes", len(data)).Msg("horizon uploaded")
	return nil
}
