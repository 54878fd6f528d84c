package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or illegal input; the caller's fault,
	// never retried.
	ErrValidation = errors.New("validation error")

	ErrBelowMinimumAmount = errors.New("below minimum order amount")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("order not found")

	// ErrTransactionConflict is infrastructure-level contention. The whole
	// operation is safe to retry since no partial state escapes.
	ErrTransactionConflict = errors.New("transaction conflict")

	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError aborts the whole fulfillment transaction; no partial
// order is ever created.
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
