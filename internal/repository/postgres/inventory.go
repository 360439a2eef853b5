package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const upsertBalanceQuery = `
	INSERT INTO on_hand_balances (user_id, product_id, quantity, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (user_id, product_id) DO UPDATE
	SET quantity = on_hand_balances.quantity + EXCLUDED.quantity,
	    updated_at = NOW()
`

func (s *Store) AdjustOnHand(ctx context.Context, userID, productID int64, delta decimal.Decimal) error {
	if _, err := s.db.ExecContext(ctx, upsertBalanceQuery, userID, productID, delta); err != nil {
		return classify("adjust on-hand", err)
	}
	return nil
}

func (s *Store) ListPendingArrivals(ctx context.Context, userID, productID int64, asOf time.Time) ([]domain.IncomingArrival, error) {
	query := `
		SELECT id, user_id, product_id, quantity, arrival_date, created_at
		FROM incoming_arrivals
		WHERE user_id = $1 AND product_id = $2 AND arrival_date <= $3
		ORDER BY arrival_date, id
	`

	var arrivals []domain.IncomingArrival
	if err := sqlx.SelectContext(ctx, s.db, &arrivals, query, userID, productID, domain.DateOf(asOf)); err != nil {
		return nil, classify("list pending arrivals", err)
	}
	return arrivals, nil
}

func (s *Store) DeleteArrivals(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM incoming_arrivals WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return classify("delete arrivals", err)
	}
	return nil
}

// TransferArrivals locks the due arrivals of the pair, archives them, adds
// their total to on-hand and deletes them, all in one transaction.
func (s *Store) TransferArrivals(ctx context.Context, userID, productID int64, asOf time.Time) (decimal.Decimal, error) {
	total := decimal.Zero

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var due []domain.IncomingArrival
		err := tx.SelectContext(ctx, &due, `
			SELECT id, user_id, product_id, quantity, arrival_date, created_at
			FROM incoming_arrivals
			WHERE user_id = $1 AND product_id = $2 AND arrival_date <= $3
			ORDER BY arrival_date, id
			FOR UPDATE
		`, userID, productID, domain.DateOf(asOf))
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		ids := make([]int64, len(due))
		for i, a := range due {
			ids[i] = a.ID
			total = total.Add(a.Quantity)
		}

		// 1. Archive, so the incoming of a processed day stays readable
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO arrival_history (id, user_id, product_id, quantity, arrival_date, transferred_at)
			SELECT id, user_id, product_id, quantity, arrival_date, NOW()
			FROM incoming_arrivals
			WHERE id = ANY($1)
			ON CONFLICT (id) DO NOTHING
		`, pq.Array(ids)); err != nil {
			return err
		}

		// 2. Add to on-hand
		if _, err := tx.ExecContext(ctx, upsertBalanceQuery, userID, productID, total); err != nil {
			return err
		}

		// 3. Remove from pending
		_, err = tx.ExecContext(ctx, `DELETE FROM incoming_arrivals WHERE id = ANY($1)`, pq.Array(ids))
		return err
	})
	if err != nil {
		return decimal.Zero, classify("transfer arrivals", err)
	}
	return total, nil
}

// CreateArrival adds to the pending arrival of the same date when one exists.
func (s *Store) CreateArrival(ctx context.Context, arrival *domain.IncomingArrival) error {
	if arrival == nil {
		return errors.New("arrival is nil")
	}

	query := `
		INSERT INTO incoming_arrivals (user_id, product_id, quantity, arrival_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id, arrival_date) DO UPDATE
		SET quantity = incoming_arrivals.quantity + EXCLUDED.quantity
		RETURNING id, quantity, arrival_date, created_at
	`

	err := s.db.QueryRowxContext(ctx, query,
		arrival.UserID, arrival.ProductID, arrival.Quantity, domain.DateOf(arrival.ArrivalDate),
	).Scan(&arrival.ID, &arrival.Quantity, &arrival.ArrivalDate, &arrival.CreatedAt)
	if err != nil {
		return classify("create arrival", err)
	}
	return nil
}

// RecordSale locks the balance row, rejects a sale larger than it and
// otherwise decrements it and appends the event.
func (s *Store) RecordSale(ctx context.Context, sale *domain.SalesEvent) error {
	if sale == nil {
		return errors.New("sale is nil")
	}

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var available decimal.Decimal
		err := tx.GetContext(ctx, &available, `
			SELECT quantity FROM on_hand_balances
			WHERE user_id = $1 AND product_id = $2
			FOR UPDATE
		`, sale.UserID, sale.ProductID)
		if errors.Is(err, sql.ErrNoRows) {
			available = decimal.Zero
		} else if err != nil {
			return err
		}

		if available.LessThan(sale.Quantity) {
			return &domain.InsufficientStockError{Available: available, Requested: sale.Quantity}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE on_hand_balances
			SET quantity = quantity - $3, updated_at = NOW()
			WHERE user_id = $1 AND product_id = $2
		`, sale.UserID, sale.ProductID, sale.Quantity); err != nil {
			return err
		}

		return tx.QueryRowxContext(ctx, `
			INSERT INTO sales_events (user_id, product_id, quantity, sale_date)
			VALUES ($1, $2, $3, $4)
			RETURNING id, sale_date, created_at
		`, sale.UserID, sale.ProductID, sale.Quantity, domain.DateOf(sale.SaleDate),
		).Scan(&sale.ID, &sale.SaleDate, &sale.CreatedAt)
	})

	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		return stockErr
	}
	if err != nil {
		return classify("record sale", err)
	}
	return nil
}
