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
	// ErrNoChange is returned by an OrderMutation to leave the order untouched
	ErrNoChange = errors.New("no change")
)

// StockShortageError names the product whose stock could not cover a line item
type StockShortageError struct {
	ProductID   int64
	ProductName string
	Requested   int
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (%s), requested %d", e.ProductID, e.ProductName, e.Requested)
}

func (e *StockShortageError) Unwrap() error {
	return ErrInsufficientStock
}

// ProductMissingError is returned when a line item references an absent or archived product
type ProductMissingError struct {
	ProductID int64
}

func (e *ProductMissingError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

func (e *ProductMissingError) Unwrap() error {
	return ErrNotFound
}

// DuplicateError reports which unique constraint rejected a write
type DuplicateError struct {
	Constraint string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate record violates %s", e.Constraint)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

const uniqueViolation = "23505"

// classify maps driver errors onto repository errors
func classify(err error) error {
	var pqErr *pq.Error

	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &DuplicateError{Constraint: pqErr.Constraint}
	}

	return fmt.Errorf("%w: %v", ErrDatabase, err)
}
