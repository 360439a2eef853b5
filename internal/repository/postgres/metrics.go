package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/jmoiron/sqlx"
)

const metricsColumns = `
	id, user_id, product_id, metric_date, is_projection,
	sales, on_hand, incoming, forecast, order_point,
	projected_on_hand, soq, planned_arrival, lead_time_days, updated_at
`

func (s *Store) GetMetrics(ctx context.Context, userID, productID int64, date time.Time, isProjection bool) (*domain.DailyMetrics, error) {
	query := `
		SELECT ` + metricsColumns + `
		FROM daily_metrics
		WHERE user_id = $1 AND product_id = $2 AND metric_date = $3 AND is_projection = $4
	`

	var m domain.DailyMetrics
	err := sqlx.GetContext(ctx, s.db, &m, query, userID, productID, domain.DateOf(date), isProjection)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get metrics", err)
	}
	return &m, nil
}

func (s *Store) UpsertMetrics(ctx context.Context, record *domain.DailyMetrics) error {
	if record == nil {
		return errors.New("metrics record is nil")
	}
	rec := *record
	rec.Normalize()

	query := `
		INSERT INTO daily_metrics (
			user_id, product_id, metric_date, is_projection,
			sales, on_hand, incoming, forecast, order_point,
			projected_on_hand, soq, planned_arrival, lead_time_days, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (user_id, product_id, metric_date, is_projection)
		DO UPDATE SET
			sales = EXCLUDED.sales,
			on_hand = EXCLUDED.on_hand,
			incoming = EXCLUDED.incoming,
			forecast = EXCLUDED.forecast,
			order_point = EXCLUDED.order_point,
			projected_on_hand = EXCLUDED.projected_on_hand,
			soq = EXCLUDED.soq,
			planned_arrival = EXCLUDED.planned_arrival,
			lead_time_days = EXCLUDED.lead_time_days,
			updated_at = NOW()
		RETURNING id, updated_at
	`

	err := s.db.QueryRowxContext(ctx, query,
		rec.UserID, rec.ProductID, rec.Date, rec.IsProjection,
		rec.Sales, rec.OnHand, rec.Incoming, rec.Forecast, rec.OrderPoint,
		rec.ProjectedOnHand, rec.SOQ, rec.PlannedArrival, rec.LeadTimeDays,
	).Scan(&record.ID, &record.UpdatedAt)
	if err != nil {
		return classify("upsert metrics", err)
	}
	return nil
}

func (s *Store) ListMetrics(ctx context.Context, userID, productID int64, from, to time.Time) ([]domain.DailyMetrics, error) {
	query := `
		SELECT ` + metricsColumns + `
		FROM daily_metrics
		WHERE user_id = $1 AND product_id = $2
		  AND metric_date BETWEEN $3 AND $4
		ORDER BY metric_date, is_projection
	`

	var rows []domain.DailyMetrics
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, userID, productID, domain.DateOf(from), domain.DateOf(to)); err != nil {
		return nil, classify("list metrics", err)
	}
	return rows, nil
}
