package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrValidation indicates malformed or incomplete input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidQuantity indicates a zero or out-of-range quantity.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrInsufficientStock indicates an allocation cannot be satisfied.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidStateTransition indicates a workflow transition not permitted
	// from the record's current state.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrOverReturn indicates a return exceeding the remaining returnable
	// quantity of the original sale line.
	ErrOverReturn = errors.New("return exceeds original sale quantity")
	// ErrConcurrencyConflict indicates a lock or serialization conflict. The
	// whole operation is safe to retry from scratch.
	ErrConcurrencyConflict = errors.New("concurrency conflict, retry")
)

// StockError describes an allocation or adjustment failure with enough
// identity for the caller to point at the offending medication or batch.
type StockError struct {
	MedicationID int64
	BatchID      int64
	Requested    int64
	Available    int64
}

func (e *StockError) Error() string {
	if e.BatchID != 0 {
		return fmt.Sprintf("insufficient stock on batch %d: requested %d, available %d", e.BatchID, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for medication %d: requested %d, available %d", e.MedicationID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// OverReturnError identifies the sale line whose returnable quantity would be
// exceeded.
type OverReturnError struct {
	SaleLineID int64
	Requested  int64
	Returnable int64
}

func (e *OverReturnError) Error() string {
	return fmt.Sprintf("return of %d exceeds returnable quantity %d on sale line %d", e.Requested, e.Returnable, e.SaleLineID)
}

func (e *OverReturnError) Unwrap() error { return ErrOverReturn }

// StateError reports a rejected workflow transition.
type StateError struct {
	Entity string
	ID     int64
	From   string
	To     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %d: transition %s -> %s not allowed", e.Entity, e.ID, e.From, e.To)
}

func (e *StateError) Unwrap() error { return ErrInvalidStateTransition }
