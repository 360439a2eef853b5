package pipeline

import (
	"time"

	"github.com/andresuchdata/stockcast/internal/config"
	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/forecast"
)

// Config holds configuration for a forecasting pass
type Config struct {
	Workers                 int  // Number of (user, product) pairs processed concurrently
	HorizonDays             int  // Days projected after the as-of date
	SuppressZeroProjections bool // Skip persisting projections that carry nothing but zeros
	Retry                   RetryPolicy
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		HorizonDays: forecast.HorizonDays,
		Retry:       DefaultRetryPolicy(),
	}
}

// ConfigFrom maps application configuration onto a pass configuration.
func ConfigFrom(c config.PipelineConfig) Config {
	cfg := DefaultConfig()
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	cfg.SuppressZeroProjections = c.SuppressZeroProjections
	if c.RetryAttempts > 0 {
		cfg.Retry.Attempts = c.RetryAttempts
	}
	if c.RetryBackoffMillis > 0 {
		maxBackoff := time.Duration(c.RetryMaxBackoffMillis) * time.Millisecond
		cfg.Retry.Backoff = ExponentialBackoff(time.Duration(c.RetryBackoffMillis)*time.Millisecond, maxBackoff)
	}
	return cfg
}

// PassStatus represents the current state of a pass run
type PassStatus string

const (
	StatusRunning   PassStatus = "running"
	StatusCompleted PassStatus = "completed"
	StatusPartial   PassStatus = "partial" // finished with errored units
	StatusFailed    PassStatus = "failed"
)

// PassRun tracks a single execution of a pass for an as-of date
type PassRun struct {
	ID           int64      `db:"id"`
	AsOf         time.Time  `db:"as_of"`
	Status       PassStatus `db:"status"`
	Processed    int        `db:"processed"`
	Skipped      int        `db:"skipped"`
	Errors       int        `db:"errors"`
	StartedAt    time.Time  `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	ErrorMessage string     `db:"error_message"`
}

// Finish copies a report's counts onto the run and picks its final status.
func (r *PassRun) Finish(report domain.PassReport, at time.Time) {
	r.Processed = report.Processed
	r.Skipped = report.Skipped
	r.Errors = report.Errors
	r.CompletedAt = &at

	switch {
	case report.Errors == 0:
		r.Status = StatusCompleted
	case report.Processed == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
	if len(report.Failures) > 0 {
		r.ErrorMessage = report.Failures[0].String()
	}
}

// Stage names used in unit failures
const (
	stageLoad       = "load"
	stageActual     = "actual"
	stageTransfer   = "transfer"
	stageProjection = "projection"
	stageCatalog    = "catalog"
	stagePanic      = "panic"
)
