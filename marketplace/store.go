/*
store.go - Persistence contracts for leads, claims and the directory

PURPOSE:
  Defines the interface between the engine and the database. Allocation and
  cancellation each run as ONE atomic unit through TxStore.WithTx; the Tx
  handed to the callback also satisfies ledger.Store, so debits and refunds
  commit or roll back together with the lead and claim writes.

SERIALIZATION CONTRACT:
  - Tx.GetLead must return the lead as of a point after which no other
    committed unit can change it until this unit ends (lock or serialized
    transaction). Preconditions are checked on that read, never on an
    earlier one.
  - UpdateLead is additionally version-checked: the stored version must
    equal lead.Version, otherwise ErrConcurrentModification.
  - InsertClaim must reject a second (lead, professional) pair with
    ErrAlreadyClaimed even if the caller skipped ClaimByPair.
  - Units touching different leads and different professionals must not
    block each other (stores that cannot do better, e.g. SQLite's single
    writer, document it).

IMPLEMENTATIONS:
  - store/sqlite: SQLite, one SQL transaction per unit
  - store/memory: in-memory double with per-lead / per-professional locks
*/
package marketplace

import (
	"context"
	"time"

	"github.com/warp/lead-engine/ledger"
)

// LeadStore owns lead lifecycle state.
type LeadStore interface {
	// GetLead returns ErrNotFound when the lead does not exist.
	GetLead(ctx context.Context, id LeadID) (Lead, error)

	InsertLead(ctx context.Context, lead Lead) error

	// UpdateLead writes lead if the stored version equals lead.Version and
	// stores lead.Version+1.
	UpdateLead(ctx context.Context, lead Lead) error

	ListLeads(ctx context.Context, filter LeadFilter) ([]Lead, error)
}

// ClaimStore owns the (lead, professional) claim records.
type ClaimStore interface {
	// ClaimByPair returns nil when the professional holds no claim on the lead.
	ClaimByPair(ctx context.Context, leadID LeadID, professionalID ProfessionalID) (*Claim, error)

	// InsertClaim returns ErrAlreadyClaimed on a duplicate pair.
	InsertClaim(ctx context.Context, claim Claim) error

	// ClaimsByLead returns the lead's claims, oldest first.
	ClaimsByLead(ctx context.Context, leadID LeadID) ([]Claim, error)

	// SetQuoteSubmitted flags the claim; ErrNotFound if there is none.
	SetQuoteSubmitted(ctx context.Context, leadID LeadID, professionalID ProfessionalID, submitted bool) error
}

// Tx is everything an atomic unit may touch.
type Tx interface {
	LeadStore
	ClaimStore
	ledger.Store
}

// TxStore is the full store. Methods called outside WithTx are each atomic
// on their own.
type TxStore interface {
	Tx

	// WithTx runs fn as one atomic unit. If fn returns an error nothing fn
	// wrote is kept.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// ExpireDue moves every lead with ExpiresAt <= now and an expirable
	// status to StatusExpired and returns their ids. Leads already expired,
	// accepted or cancelled are untouched.
	ExpireDue(ctx context.Context, now time.Time) ([]LeadID, error)
}

// Directory is the read-only user directory.
type Directory interface {
	// Professional returns ErrNotFound for unknown ids.
	Professional(ctx context.Context, id ProfessionalID) (Professional, error)
}
