package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a debit would make the balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrMissingProfessional is returned when no professional id is given.
	ErrMissingProfessional = errors.New("professional id is required")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	ProfessionalID ProfessionalID
	Available      Credits
	Requested      Credits
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %d, requested %d, shortfall %d",
		e.ProfessionalID, e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}
