package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissingAnchor means the previous day has no metrics row to recurse from.
	ErrMissingAnchor = errors.New("no previous-day metrics record to project from")

	// ErrInvalidQuantity rejects zero or negative buy/sell quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")

	// ErrNotFound is returned by lookups of a single entity that does not exist.
	ErrNotFound = errors.New("not found")
)

// StorageContentionError wraps a transient write conflict (serialization
// failure, deadlock, lock timeout). Callers may retry it.
type StorageContentionError struct {
	Op  string
	Err error
}

func (e *StorageContentionError) Error() string {
	return fmt.Sprintf("storage contention during %s: %v", e.Op, e.Err)
}

func (e *StorageContentionError) Unwrap() error { return e.Err }

// IsContention reports whether err is, or wraps, a StorageContentionError.
func IsContention(err error) bool {
	var ce *StorageContentionError
	return errors.As(err, &ce)
}

// InsufficientStockError rejects a sell that exceeds the current balance.
type InsufficientStockError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	if e.Available.IsZero() {
		return fmt.Sprintf("no stock available, but requested %s", e.Requested.String())
	}
	return fmt.Sprintf("only %s available, but requested %s", e.Available.String(), e.Requested.String())
}
