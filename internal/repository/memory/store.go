package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/repository"
	"github.com/shopspring/decimal"
)

type pairKey struct {
	userID    int64
	productID int64
}

type snapshotKey struct {
	pair pairKey
	day  int64
}

// Store provides in-memory storage for every repository interface. One mutex
// guards all tables so each method is a single atomic unit.
type Store struct {
	mu sync.Mutex

	users     []domain.User
	products  []domain.Product
	balances  map[pairKey]decimal.Decimal
	snapshots map[snapshotKey]decimal.Decimal
	arrivals  []domain.IncomingArrival
	arrived   []domain.ArrivedArrival
	sales     []domain.SalesEvent
	metrics   map[domain.MetricsKey]domain.DailyMetrics

	nextID int64
	now    func() time.Time

	// failing upserts for contention tests
	upsertFailures int
	upsertCalls    int
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		balances:  make(map[pairKey]decimal.Decimal),
		snapshots: make(map[snapshotKey]decimal.Decimal),
		metrics:   make(map[domain.MetricsKey]domain.DailyMetrics),
		now:       time.Now,
	}
}

// Verify interface compliance
var (
	_ repository.Store  = (*Store)(nil)
	_ repository.Seeder = (*Store)(nil)
)

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddUser registers a user
func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, u)
}

// AddProduct registers a product
func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = append(s.products, p)
}

// SetOnHand overwrites the balance of a pair
func (s *Store) SetOnHand(userID, productID int64, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[pairKey{userID, productID}] = qty
}

// AddSale appends a sales event without touching on-hand, for loading history.
func (s *Store) AddSale(userID, productID int64, date time.Time, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sales = append(s.sales, domain.SalesEvent{
		ID:        s.id(),
		UserID:    userID,
		ProductID: productID,
		Quantity:  qty,
		SaleDate:  domain.DateOf(date),
		CreatedAt: s.now(),
	})
}

// PutMetrics stores a row as-is, for loading history.
func (s *Store) PutMetrics(m domain.DailyMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Normalize()
	s.metrics[m.Key()] = m
}

// FailNextUpserts makes the next n UpsertMetrics calls fail with contention.
func (s *Store) FailNextUpserts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertFailures = n
}

// UpsertCalls returns how many times UpsertMetrics was invoked.
func (s *Store) UpsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCalls
}

// AllMetrics returns every metrics row ordered by pair, date and kind.
func (s *Store) AllMetrics() []domain.DailyMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DailyMetrics, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, m)
	}
	sortMetrics(out)
	return out
}

// Sales returns a copy of the sales log.
func (s *Store) Sales() []domain.SalesEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SalesEvent(nil), s.sales...)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.User(nil), s.users...), nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Product(nil), s.products...), nil
}

func (s *Store) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.products {
		if s.products[i].ID == productID {
			p := s.products[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("product %d: %w", productID, domain.ErrNotFound)
}

func (s *Store) UpsertUser(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username {
			u.ID = existing.ID
			return nil
		}
	}
	if u.ID == 0 {
		u.ID = s.id()
	}
	s.users = append(s.users, *u)
	return nil
}

func (s *Store) UpsertProduct(ctx context.Context, p *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.products {
		if s.products[i].ProductNumber == p.ProductNumber {
			p.ID = s.products[i].ID
			s.products[i].Name = p.Name
			s.products[i].LeadTime = p.LeadTime
			return nil
		}
	}
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.products = append(s.products, *p)
	return nil
}

func (s *Store) ImportSales(ctx context.Context, events []domain.SalesEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		e.ID = s.id()
		e.SaleDate = domain.DateOf(e.SaleDate)
		e.CreatedAt = s.now()
		s.sales = append(s.sales, e)
	}
	return len(events), nil
}

func (s *Store) GetSalesTotal(ctx context.Context, userID, productID int64, date time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := domain.DayNumber(date)
	total := decimal.Zero
	for _, e := range s.sales {
		if e.UserID == userID && e.ProductID == productID && domain.DayNumber(e.SaleDate) == day {
			total = total.Add(e.Quantity)
		}
	}
	return total, nil
}

func (s *Store) GetOnHand(ctx context.Context, userID, productID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[pairKey{userID, productID}], nil
}

func (s *Store) SnapshotOnHand(ctx context.Context, userID, productID int64, date time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := snapshotKey{pairKey{userID, productID}, domain.DayNumber(date)}
	if qty, ok := s.snapshots[key]; ok {
		return qty, nil
	}
	qty := s.balances[key.pair]
	s.snapshots[key] = qty
	return qty, nil
}

func (s *Store) GetIncomingDue(ctx context.Context, userID, productID int64, date time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := domain.DayNumber(date)
	total := decimal.Zero
	for _, a := range s.arrivals {
		if a.UserID == userID && a.ProductID == productID && domain.DayNumber(a.ArrivalDate) == day {
			total = total.Add(a.Quantity)
		}
	}
	for _, a := range s.arrived {
		if a.UserID == userID && a.ProductID == productID && domain.DayNumber(a.ArrivalDate) == day {
			total = total.Add(a.Quantity)
		}
	}
	return total, nil
}

func (s *Store) AdjustOnHand(ctx context.Context, userID, productID int64, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{userID, productID}
	s.balances[key] = s.balances[key].Add(delta)
	return nil
}

func (s *Store) ListPendingArrivals(ctx context.Context, userID, productID int64, asOf time.Time) ([]domain.IncomingArrival, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked(userID, productID, asOf), nil
}

func (s *Store) pendingLocked(userID, productID int64, asOf time.Time) []domain.IncomingArrival {
	day := domain.DayNumber(asOf)
	var out []domain.IncomingArrival
	for _, a := range s.arrivals {
		if a.UserID == userID && a.ProductID == productID && domain.DayNumber(a.ArrivalDate) <= day {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) DeleteArrivals(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(ids)
	return nil
}

func (s *Store) deleteLocked(ids []int64) {
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.arrivals[:0]
	for _, a := range s.arrivals {
		if !drop[a.ID] {
			kept = append(kept, a)
		}
	}
	s.arrivals = kept
}

func (s *Store) TransferArrivals(ctx context.Context, userID, productID int64, asOf time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.pendingLocked(userID, productID, asOf)
	if len(pending) == 0 {
		return decimal.Zero, nil
	}

	total := decimal.Zero
	ids := make([]int64, 0, len(pending))
	now := s.now()
	for _, a := range pending {
		total = total.Add(a.Quantity)
		ids = append(ids, a.ID)
		s.arrived = append(s.arrived, domain.ArrivedArrival{
			ID:            a.ID,
			UserID:        a.UserID,
			ProductID:     a.ProductID,
			Quantity:      a.Quantity,
			ArrivalDate:   a.ArrivalDate,
			TransferredAt: now,
		})
	}

	key := pairKey{userID, productID}
	s.balances[key] = s.balances[key].Add(total)
	s.deleteLocked(ids)
	return total, nil
}

func (s *Store) CreateArrival(ctx context.Context, arrival *domain.IncomingArrival) error {
	if arrival == nil {
		return errors.New("arrival is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	arrival.ArrivalDate = domain.DateOf(arrival.ArrivalDate)
	day := domain.DayNumber(arrival.ArrivalDate)
	for i := range s.arrivals {
		a := &s.arrivals[i]
		if a.UserID == arrival.UserID && a.ProductID == arrival.ProductID && domain.DayNumber(a.ArrivalDate) == day {
			a.Quantity = a.Quantity.Add(arrival.Quantity)
			*arrival = *a
			return nil
		}
	}

	arrival.ID = s.id()
	arrival.CreatedAt = s.now()
	s.arrivals = append(s.arrivals, *arrival)
	return nil
}

func (s *Store) RecordSale(ctx context.Context, sale *domain.SalesEvent) error {
	if sale == nil {
		return errors.New("sale is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{sale.UserID, sale.ProductID}
	available := s.balances[key]
	if available.LessThan(sale.Quantity) {
		return &domain.InsufficientStockError{Available: available, Requested: sale.Quantity}
	}

	s.balances[key] = available.Sub(sale.Quantity)
	sale.ID = s.id()
	sale.SaleDate = domain.DateOf(sale.SaleDate)
	sale.CreatedAt = s.now()
	s.sales = append(s.sales, *sale)
	return nil
}

func (s *Store) GetMetrics(ctx context.Context, userID, productID int64, date time.Time, isProjection bool) (*domain.DailyMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.MetricsKey{UserID: userID, ProductID: productID, Day: domain.DayNumber(date), IsProjection: isProjection}
	m, ok := s.metrics[key]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *Store) UpsertMetrics(ctx context.Context, record *domain.DailyMetrics) error {
	if record == nil {
		return errors.New("metrics record is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertCalls++
	if s.upsertFailures > 0 {
		s.upsertFailures--
		return &domain.StorageContentionError{Op: "upsert metrics", Err: errors.New("simulated write conflict")}
	}

	rec := *record
	rec.Normalize()
	key := rec.Key()
	if existing, ok := s.metrics[key]; ok {
		rec.ID = existing.ID
	} else {
		rec.ID = s.id()
	}
	rec.UpdatedAt = s.now()
	s.metrics[key] = rec
	record.ID = rec.ID
	return nil
}

func (s *Store) ListMetrics(ctx context.Context, userID, productID int64, from, to time.Time) ([]domain.DailyMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo, hi := domain.DayNumber(from), domain.DayNumber(to)
	var out []domain.DailyMetrics
	for key, m := range s.metrics {
		if key.UserID == userID && key.ProductID == productID && key.Day >= lo && key.Day <= hi {
			out = append(out, m)
		}
	}
	sortMetrics(out)
	return out, nil
}

func sortMetrics(rows []domain.DailyMetrics) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].Key(), rows[j].Key()
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		return !a.IsProjection && b.IsProjection
	})
}
