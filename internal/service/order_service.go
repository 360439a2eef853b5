package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/andresuchdata/stockcast/internal/cache"
	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/andresuchdata/stockcast/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// BuyRequest orders stock that arrives lead-time days after OrderDate.
type BuyRequest struct {
	UserID    int64           `json:"user_id" validate:"required,gt=0"`
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	// OrderDate defaults to today when zero
	OrderDate time.Time `json:"order_date"`
}

// SellRequest sells stock from the current balance.
type SellRequest struct {
	UserID    int64           `json:"user_id" validate:"required,gt=0"`
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	SaleDate  time.Time       `json:"sale_date"`
}

// ValidationError lists the failing field of a request with its rule.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, tag := range e.Fields {
		parts = append(parts, field+" failed "+tag)
	}
	sort.Strings(parts)
	return "invalid request: " + strings.Join(parts, ", ")
}

// OrderService is the buy/sell boundary. Requests are rejected before they
// reach storage when invalid.
type OrderService struct {
	catalog   repository.CatalogStore
	inventory repository.InventoryStore
	cache     cache.MetricsCache
	validate  *validator.Validate
	now       func() time.Time
	loc       *time.Location
}

func NewOrderService(catalog repository.CatalogStore, inventory repository.InventoryStore, cacheImpl cache.MetricsCache, loc *time.Location) *OrderService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopMetricsCache()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &OrderService{
		catalog:   catalog,
		inventory: inventory,
		cache:     cacheImpl,
		validate:  newValidator(),
		now:       time.Now,
		loc:       loc,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// decimals are validated by their numeric value
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Buy creates an incoming arrival dated OrderDate plus the product's lead
// time. Arrivals of the same date add up.
func (s *OrderService) Buy(ctx context.Context, req BuyRequest) (*domain.IncomingArrival, error) {
	req.Quantity = req.Quantity.Round(domain.QuantityPlaces)
	if err := s.check(req, req.Quantity); err != nil {
		return nil, err
	}

	product, err := s.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	orderDate := s.dateOr(req.OrderDate)
	arrival := &domain.IncomingArrival{
		UserID:      req.UserID,
		ProductID:   req.ProductID,
		Quantity:    req.Quantity,
		ArrivalDate: domain.AddDays(orderDate, product.LeadTime),
	}
	if err := s.inventory.CreateArrival(ctx, arrival); err != nil {
		return nil, fmt.Errorf("failed to create arrival: %w", err)
	}

	s.invalidate(ctx, req.UserID, req.ProductID)
	log.Info().
		Int64("user_id", req.UserID).
		Int64("product_id", req.ProductID).
		Str("quantity", req.Quantity.String()).
		Str("arrival_date", arrival.ArrivalDate.Format(domain.DateLayout)).
		Msg("purchase recorded")
	return arrival, nil
}

// Sell decrements on-hand and appends a sales event. A sale above the
// current balance fails with *domain.InsufficientStockError and changes
// nothing.
func (s *OrderService) Sell(ctx context.Context, req SellRequest) (*domain.SalesEvent, error) {
	req.Quantity = req.Quantity.Round(domain.QuantityPlaces)
	if err := s.check(req, req.Quantity); err != nil {
		return nil, err
	}

	if _, err := s.catalog.GetProduct(ctx, req.ProductID); err != nil {
		return nil, err
	}

	sale := &domain.SalesEvent{
		UserID:    req.UserID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		SaleDate:  s.dateOr(req.SaleDate),
	}
	if err := s.inventory.RecordSale(ctx, sale); err != nil {
		var stockErr *domain.InsufficientStockError
		if errors.As(err, &stockErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record sale: %w", err)
	}

	s.invalidate(ctx, req.UserID, req.ProductID)
	log.Info().
		Int64("user_id", req.UserID).
		Int64("product_id", req.ProductID).
		Str("quantity", sale.Quantity.String()).
		Msg("sale recorded")
	return sale, nil
}

// check validates req, reporting a quantity failure as domain.ErrInvalidQuantity.
func (s *OrderService) check(req any, qty decimal.Decimal) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if fe.Field() == "Quantity" {
			return fmt.Errorf("%w: got %s", domain.ErrInvalidQuantity, qty)
		}
		fields[fe.Field()] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}

func (s *OrderService) dateOr(t time.Time) time.Time {
	if t.IsZero() {
		return domain.Today(s.now(), s.loc)
	}
	return domain.DateOf(t)
}

func (s *OrderService) invalidate(ctx context.Context, userID, productID int64) {
	if err := s.cache.InvalidatePair(ctx, userID, productID); err != nil {
		log.Warn().Err(err).Msg("orders: cache invalidate failed")
	}
}
