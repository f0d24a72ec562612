package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDatabase          = errors.New("database error")
	ErrDuplicate         = errors.New("duplicate record")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError is returned when a conditional decrement finds
// fewer units than requested.
type InsufficientStockError struct {
	ProductID string
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: %d available", e.ProductID, e.Available)
}

// Is lets errors.Is match ErrInsufficientStock
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// uniqueViolation is the Postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

func wrapDBError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return fmt.Errorf("%w: %v", ErrDatabase, err)
}
