package service

import (
	"errors"
	"fmt"
)

// ErrEmptyCart is returned when checkout is called with no lines.
var ErrEmptyCart = errors.New("cart is empty")

// ErrInvalidCredentials is returned when email or password do not match.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrEmailTaken is returned when registering an already-used email.
var ErrEmailTaken = errors.New("email already registered")

// ProductNotFoundError reports a cart line referencing a product that
// does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// InsufficientStockError reports a cart line asking for more units than
// are available. Available reflects the stock observed at the time the
// check or decrement ran.
type InsufficientStockError struct {
	ProductID int64
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (product %d): available=%d, requested=%d",
		e.Name, e.ProductID, e.Available, e.Requested)
}

// PersistenceError wraps a database failure surfaced before any order
// write happened.
type PersistenceError struct {
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %v", e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// PartialCommitFailure reports a write failure after the order header
// was created. The transaction rolls back, so no order, line, or stock
// change remains visible; the error names the line that failed.
type PartialCommitFailure struct {
	ProductID int64
	Cause     error
}

func (e *PartialCommitFailure) Error() string {
	return fmt.Sprintf("checkout aborted at product %d: %v", e.ProductID, e.Cause)
}

func (e *PartialCommitFailure) Unwrap() error {
	return e.Cause
}
