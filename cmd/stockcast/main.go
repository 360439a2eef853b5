package main

import (
	"os"

	"github.com/andresuchdata/stockcast/internal/config"
	"github.com/andresuchdata/stockcast/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("error loading .env file")
	}

	app := &cli.App{
		Name:  "stockcast",
		Usage: "Demand forecasting and replenishment signals",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "log-json",
				Usage:   "Write JSON log lines instead of console output",
				EnvVars: []string{"LOG_JSON"},
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply pending database migrations",
				Flags:  []cli.Flag{newDBURLFlag()},
				Before: initDB,
				After:  closeDB,
				Action: runMigrate,
			},
			{
				Name:   "seed",
				Usage:  "Load users, products, balances and sales history from CSV or XLSX files",
				Flags:  seedFlags(),
				Before: initDB,
				After:  closeDB,
				Action: runSeed,
			},
			{
				Name:   "run-pass",
				Usage:  "Run one forecasting pass for a date",
				Flags:  passFlags(),
				Before: initDB,
				After:  closeDB,
				Action: runPass,
			},
			{
				Name:   "backfill",
				Usage:  "Run a forecasting pass for every date in a range, oldest first",
				Flags:  backfillFlags(),
				Before: initDB,
				After:  closeDB,
				Action: runBackfill,
			},
			{
				Name:   "schedule",
				Usage:  "Run a pass on every tick until interrupted",
				Flags:  scheduleFlags(),
				Before: initDB,
				After:  closeDB,
				Action: runSchedule,
			},
			{
				Name:   "runs",
				Usage:  "List recent pass runs",
				Flags:  runsFlags(),
				Before: initDB,
				After:  closeDB,
				Action: listRuns,
			},
			{
				Name:   "buy",
				Usage:  "Order stock that arrives after the product's lead time",
				Flags:  orderFlags("order-date"),
				Before: initDB,
				After:  closeDB,
				Action: runBuy,
			},
			{
				Name:   "sell",
				Usage:  "Sell stock from the current balance",
				Flags:  orderFlags("sale-date"),
				Before: initDB,
				After:  closeDB,
				Action: runSell,
			},
			{
				Name:   "metrics",
				Usage:  "Print the metrics horizon of a pair",
				Flags:  metricsFlags(),
				Before: initDB,
				After:  closeDB,
				Action: showMetrics,
			},
			{
				Name:   "export",
				Usage:  "Write the metrics horizon of every pair to an XLSX workbook",
				Flags:  exportFlags(),
				Before: initDB,
				After:  closeDB,
				Action: runExport,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("stockcast failed")
	}
}

func setupLogging(c *cli.Context) error {
	cfg := config.Load()

	if c.Bool("log-json") || cfg.Log.JSON {
		logger.UseJSON(os.Stdout)
	}
	level := c.String("log-level")
	if level == "" {
		level = cfg.Log.Level
	}
	logger.SetLevel(level)
	return nil
}
