// internal/repository/postgres/store.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/repository"
	"github.com/jmoiron/sqlx"
)

// Store implements repository.Store on Postgres. Methods that touch more
// than one row run in a transaction and lock the pair's rows first.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

var (
	_ repository.Store  = (*Store)(nil)
	_ repository.Seeder = (*Store)(nil)
)

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	if err := sqlx.SelectContext(ctx, s.db, &users, `SELECT id, username FROM users ORDER BY id`); err != nil {
		return nil, classify("list users", err)
	}
	return users, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	query := `
		SELECT id, product_number, name, lead_time
		FROM products
		ORDER BY id
	`

	var products []domain.Product
	if err := sqlx.SelectContext(ctx, s.db, &products, query); err != nil {
		return nil, classify("list products", err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	query := `
		SELECT id, product_number, name, lead_time
		FROM products
		WHERE id = $1
	`

	var p domain.Product
	err := sqlx.GetContext(ctx, s.db, &p, query, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", productID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, classify("get product", err)
	}
	return &p, nil
}

// UpsertUser inserts a user or returns the existing id for its username.
func (s *Store) UpsertUser(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (username)
		VALUES ($1)
		ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query, u.Username).Scan(&u.ID); err != nil {
		return classify("upsert user", err)
	}
	return nil
}

// UpsertProduct inserts a product keyed by its product number, updating the
// name and lead time of an existing one.
func (s *Store) UpsertProduct(ctx context.Context, p *domain.Product) error {
	query := `
		INSERT INTO products (product_number, name, lead_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_number) DO UPDATE
		SET name = EXCLUDED.name, lead_time = EXCLUDED.lead_time
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query, p.ProductNumber, p.Name, p.LeadTime).Scan(&p.ID); err != nil {
		return classify("upsert product", err)
	}
	return nil
}
