package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/export"
	"github.com/andresuchdata/stockcast/internal/repository"
	"github.com/andresuchdata/stockcast/internal/repository/postgres"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

const salesBatchSize = 1000

func seedFlags() []cli.Flag {
	return []cli.Flag{
		newDBURLFlag(),
		&cli.StringFlag{
			Name:    "data-dir",
			Usage:   "Directory with users, products, balances and sales tables (.csv or .xlsx)",
			Value:   "./data/seeds",
			EnvVars: []string{"SEED_DATA_DIR"},
		},
	}
}

// seedStore is what loading seed tables writes through
type seedStore interface {
	repository.Seeder
	repository.HistoryStore
	repository.InventoryStore
}

func runSeed(c *cli.Context) error {
	db, err := dbFrom(c)
	if err != nil {
		return err
	}

	log.Info().Str("data_dir", c.String("data-dir")).Msg("starting database seeding")
	s := newSeeder(postgres.NewStore(db))
	if err := s.seedDir(c.Context, c.String("data-dir")); err != nil {
		return fmt.Errorf("failed to seed: %w", err)
	}
	log.Info().
		Int("users", len(s.users)).
		Int("products", len(s.products)).
		Int("balances", s.balances).
		Int("sales", s.sales).
		Msg("database seeding completed")
	return nil
}

type seeder struct {
	store seedStore

	users    map[string]int64 // by username
	products map[string]int64 // by product number
	balances int
	sales    int
}

func newSeeder(store seedStore) *seeder {
	return &seeder{
		store:    store,
		users:    make(map[string]int64),
		products: make(map[string]int64),
	}
}

// seedDir loads users, products, balances and sales in that order. A
// missing table is skipped.
func (s *seeder) seedDir(ctx context.Context, dir string) error {
	steps := []struct {
		table string
		load  func(context.Context, []map[string]string) error
	}{
		{"users", s.seedUsers},
		{"products", s.seedProducts},
		{"balances", s.seedBalances},
		{"sales", s.seedSales},
	}

	for _, step := range steps {
		rows, path, err := readTable(dir, step.table)
		if err != nil {
			return err
		}
		if path == "" {
			log.Warn().Str("table", step.table).Msg("no seed file, skipping")
			continue
		}
		log.Info().Str("table", step.table).Str("file", path).Int("rows", len(rows)).Msg("seeding")
		if err := step.load(ctx, rows); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func (s *seeder) seedUsers(ctx context.Context, rows []map[string]string) error {
	for i, row := range rows {
		if _, err := s.userID(ctx, row["username"]); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	return nil
}

func (s *seeder) seedProducts(ctx context.Context, rows []map[string]string) error {
	for i, row := range rows {
		p := &domain.Product{
			ProductNumber: row["product_number"],
			Name:          row["name"],
		}
		if p.ProductNumber == "" {
			return fmt.Errorf("row %d: product_number is required", i+2)
		}
		if p.Name == "" {
			p.Name = p.ProductNumber
		}
		if lt := row["lead_time"]; lt != "" {
			n, err := strconv.Atoi(lt)
			if err != nil || n < 0 {
				return fmt.Errorf("row %d: invalid lead_time %q", i+2, lt)
			}
			p.LeadTime = n
		}

		if err := s.store.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		s.products[p.ProductNumber] = p.ID
	}
	return nil
}

// seedBalances sets each on-hand balance to the given quantity.
func (s *seeder) seedBalances(ctx context.Context, rows []map[string]string) error {
	for i, row := range rows {
		userID, productID, err := s.pair(ctx, row)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		qty, err := quantity(row["quantity"], true)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}

		current, err := s.store.GetOnHand(ctx, userID, productID)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		if delta := qty.Sub(current); !delta.IsZero() {
			if err := s.store.AdjustOnHand(ctx, userID, productID, delta); err != nil {
				return fmt.Errorf("row %d: %w", i+2, err)
			}
		}
		s.balances++
	}
	return nil
}

func (s *seeder) seedSales(ctx context.Context, rows []map[string]string) error {
	batch := make([]domain.SalesEvent, 0, salesBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.store.ImportSales(ctx, batch)
		if err != nil {
			return err
		}
		s.sales += n
		batch = batch[:0]
		return nil
	}

	for i, row := range rows {
		userID, productID, err := s.pair(ctx, row)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
		date, err := domain.ParseDate(row["sale_date"])
		if err != nil {
			return fmt.Errorf("row %d: invalid sale_date %q", i+2, row["sale_date"])
		}
		qty, err := quantity(row["quantity"], false)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}

		batch = append(batch, domain.SalesEvent{
			UserID:    userID,
			ProductID: productID,
			Quantity:  qty,
			SaleDate:  date,
		})
		if len(batch) == salesBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// userID returns the id of username, creating the user on first sight.
func (s *seeder) userID(ctx context.Context, username string) (int64, error) {
	if username == "" {
		return 0, errors.New("username is required")
	}
	if id, ok := s.users[username]; ok {
		return id, nil
	}
	u := &domain.User{Username: username}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return 0, err
	}
	s.users[username] = u.ID
	return u.ID, nil
}

func (s *seeder) pair(ctx context.Context, row map[string]string) (int64, int64, error) {
	userID, err := s.userID(ctx, row["username"])
	if err != nil {
		return 0, 0, err
	}
	productID, ok := s.products[row["product_number"]]
	if !ok {
		return 0, 0, fmt.Errorf("unknown product_number %q", row["product_number"])
	}
	return userID, productID, nil
}

func quantity(s string, allowZero bool) (decimal.Decimal, error) {
	q, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid quantity %q", s)
	}
	if q.IsNegative() || (!allowZero && q.IsZero()) {
		return decimal.Zero, fmt.Errorf("%w: got %s", domain.ErrInvalidQuantity, s)
	}
	return q.Round(domain.QuantityPlaces), nil
}

// readTable reads dir/name.csv, or dir/name.xlsx when there is no CSV, into
// rows keyed by lower-cased header. path is empty when neither exists.
func readTable(dir, name string) (rows []map[string]string, path string, err error) {
	var records [][]string

	csvPath := filepath.Join(dir, name+".csv")
	xlsxPath := filepath.Join(dir, name+".xlsx")
	switch {
	case fileExists(csvPath):
		path = csvPath
		records, err = readCSV(csvPath)
	case fileExists(xlsxPath):
		path = xlsxPath
		records, err = export.ReadSheetRecords(xlsxPath)
	default:
		return nil, "", nil
	}
	if err != nil {
		return nil, path, err
	}
	return toRows(records), path, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV %s: %w", path, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func toRows(records [][]string) []map[string]string {
	if len(records) == 0 {
		return nil
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		empty := true
		for i, h := range header {
			if i < len(record) {
				row[h] = strings.TrimSpace(record[i])
				if row[h] != "" {
					empty = false
				}
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return rows
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
