/*
errors.go - Error taxonomy for allocation, cancellation and expiry

ERROR CATEGORIES:
  1. Domain errors - deterministic, safe to show to the acting user
     NotFound, Forbidden, InvalidState, CapacityExceeded, Expired,
     AlreadyClaimed, NotEligible, InsufficientBalance, InvalidInput
  2. Transient errors - storage failed inside an atomic unit; the unit was
     rolled back and a retry may succeed

Every domain error is returned before any mutation is committed.

USAGE:
  if errors.Is(err, marketplace.ErrCapacityExceeded) { ... }
  if marketplace.IsTransient(err) { retry }
*/
package marketplace

import (
	"errors"
	"fmt"

	"github.com/warp/lead-engine/ledger"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("invalid state")
	ErrCapacityExceeded = errors.New("lead capacity exceeded")
	ErrExpired          = errors.New("lead expired")
	ErrAlreadyClaimed   = errors.New("lead already claimed by professional")
	ErrNotEligible      = errors.New("professional not eligible")
	ErrInvalidInput     = errors.New("invalid input")

	// ErrInsufficientBalance is the ledger's sentinel, re-exported so callers
	// only need this package's taxonomy.
	ErrInsufficientBalance = ledger.ErrInsufficientBalance

	// ErrConcurrentModification is returned by a store when a version-checked
	// lead update lost a race. The engine retries it.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrTransient marks storage failures. Use IsTransient.
	ErrTransient = errors.New("transient storage error")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidStateError names the lead status that made the operation illegal.
type InvalidStateError struct {
	LeadID    LeadID
	Status    Status
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s lead %s in status %q", e.Operation, e.LeadID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// TransientError wraps a storage failure inside an atomic unit.
type TransientError struct {
	Operation string
	Err       error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

var domainErrors = []error{
	ErrNotFound,
	ErrForbidden,
	ErrInvalidState,
	ErrCapacityExceeded,
	ErrExpired,
	ErrAlreadyClaimed,
	ErrNotEligible,
	ErrInsufficientBalance,
	ErrInvalidInput,
}

// IsDomainError reports whether err belongs to the deterministic taxonomy.
func IsDomainError(err error) bool {
	if err == nil || errors.Is(err, ErrTransient) {
		return false
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsTransient reports whether a retry of the same request may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsRetryable reports whether the engine should rerun the atomic unit.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}
