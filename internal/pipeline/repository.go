package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// Repository handles database operations for pass tracking
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new pass-run repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

var _ RunRecorder = (*Repository)(nil)

// StartRun inserts a new pass run record
func (r *Repository) StartRun(ctx context.Context, run *PassRun) error {
	query := `
		INSERT INTO pass_runs (as_of, status, processed, skipped, errors, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	return r.db.QueryRowContext(
		ctx, query,
		run.AsOf, run.Status, run.Processed, run.Skipped, run.Errors, run.StartedAt,
	).Scan(&run.ID)
}

// FinishRun stores the final counts and status of a run
func (r *Repository) FinishRun(ctx context.Context, run *PassRun) error {
	if run.ID == 0 {
		return errors.New("pass run was never started")
	}

	query := `
		UPDATE pass_runs
		SET status = $1, processed = $2, skipped = $3, errors = $4,
		    completed_at = $5, error_message = $6
		WHERE id = $7
	`

	_, err := r.db.ExecContext(
		ctx, query,
		run.Status, run.Processed, run.Skipped, run.Errors,
		run.CompletedAt, run.ErrorMessage, run.ID,
	)
	return err
}

// GetRunsByDate retrieves every run recorded for an as-of date
func (r *Repository) GetRunsByDate(ctx context.Context, asOf time.Time) ([]PassRun, error) {
	query := `
		SELECT id, as_of, status, processed, skipped, errors,
		       started_at, completed_at, COALESCE(error_message, '') AS error_message
		FROM pass_runs
		WHERE as_of = $1
		ORDER BY started_at DESC
	`

	var runs []PassRun
	if err := r.db.SelectContext(ctx, &runs, query, asOf); err != nil {
		return nil, err
	}
	return runs, nil
}

// LatestRuns returns the most recent runs, newest first
func (r *Repository) LatestRuns(ctx context.Context, limit int) ([]PassRun, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, as_of, status, processed, skipped, errors,
		       started_at, completed_at, COALESCE(error_message, '') AS error_message
		FROM pass_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	var runs []PassRun
	err := r.db.SelectContext(ctx, &runs, query, limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return runs, err
}
