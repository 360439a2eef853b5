package postgres

import (
	"context"
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func (s *Store) GetSalesTotal(ctx context.Context, userID, productID int64, date time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM sales_events
		WHERE user_id = $1 AND product_id = $2 AND sale_date = $3
	`

	var total decimal.Decimal
	if err := s.db.GetContext(ctx, &total, query, userID, productID, domain.DateOf(date)); err != nil {
		return decimal.Zero, classify("sum sales", err)
	}
	return total, nil
}

func (s *Store) GetOnHand(ctx context.Context, userID, productID int64) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE((
			SELECT quantity FROM on_hand_balances
			WHERE user_id = $1 AND product_id = $2
		), 0)
	`

	var qty decimal.Decimal
	if err := s.db.GetContext(ctx, &qty, query, userID, productID); err != nil {
		return decimal.Zero, classify("read on-hand", err)
	}
	return qty, nil
}

// SnapshotOnHand captures the balance as the opening balance of date the
// first time it is called for that date and returns the stored value after.
func (s *Store) SnapshotOnHand(ctx context.Context, userID, productID int64, date time.Time) (decimal.Decimal, error) {
	day := domain.DateOf(date)
	var qty decimal.Decimal

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO on_hand_snapshots (user_id, product_id, snapshot_date, quantity)
			SELECT $1, $2, $3, COALESCE((
				SELECT quantity FROM on_hand_balances
				WHERE user_id = $1 AND product_id = $2
			), 0)
			ON CONFLICT (user_id, product_id, snapshot_date) DO NOTHING
		`, userID, productID, day)
		if err != nil {
			return err
		}
		return tx.GetContext(ctx, &qty, `
			SELECT quantity FROM on_hand_snapshots
			WHERE user_id = $1 AND product_id = $2 AND snapshot_date = $3
		`, userID, productID, day)
	})
	if err != nil {
		return decimal.Zero, classify("snapshot on-hand", err)
	}
	return qty, nil
}

func (s *Store) GetIncomingDue(ctx context.Context, userID, productID int64, date time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0) FROM (
			SELECT quantity FROM incoming_arrivals
			WHERE user_id = $1 AND product_id = $2 AND arrival_date = $3
			UNION ALL
			SELECT quantity FROM arrival_history
			WHERE user_id = $1 AND product_id = $2 AND arrival_date = $3
		) due
	`

	var total decimal.Decimal
	if err := s.db.GetContext(ctx, &total, query, userID, productID, domain.DateOf(date)); err != nil {
		return decimal.Zero, classify("sum incoming", err)
	}
	return total, nil
}

// ImportSales appends historical sales events without touching balances.
func (s *Store) ImportSales(ctx context.Context, events []domain.SalesEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	users := make([]int64, len(events))
	products := make([]int64, len(events))
	quantities := make([]string, len(events))
	dates := make([]string, len(events))
	for i, e := range events {
		users[i] = e.UserID
		products[i] = e.ProductID
		quantities[i] = e.Quantity.String()
		dates[i] = domain.DateOf(e.SaleDate).Format(domain.DateLayout)
	}

	query := `
		INSERT INTO sales_events (user_id, product_id, quantity, sale_date)
		SELECT * FROM UNNEST($1::bigint[], $2::bigint[], $3::numeric[], $4::date[])
	`
	res, err := s.db.ExecContext(ctx, query,
		pq.Array(users), pq.Array(products), pq.Array(quantities), pq.Array(dates))
	if err != nil {
		return 0, classify("import sales", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
