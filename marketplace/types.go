/*
Package marketplace implements lead claim allocation on top of the credit ledger.

PURPOSE:
  Homeowners post leads. Approved professionals claim one of a lead's
  limited slots by spending credits. Homeowners may cancel a lead, which
  refunds every claimant. Leads past their deadline are expired by a
  background sweep.

KEY CONCEPTS IN THIS FILE (types.go):
  - Lead:         A posted service request with a fixed number of claim slots
  - Claim:        A professional's paid reservation of one slot
  - Professional: Read-only eligibility facts from the user directory

CONSISTENCY DOMAINS:
  - One lead + its claims
  - One professional's balance + transaction log (see package ledger)
  Claim spans one lead and one professional. Cancel spans one lead and
  every professional holding a claim on it.

SEE ALSO:
  - lifecycle.go:    Lead status state machine
  - pricing.go:      Bracket → credit cost table
  - allocation.go:   Claim
  - cancellation.go: Cancel
  - expiry.go:       SweepExpired
*/
package marketplace

import (
	"time"

	"github.com/warp/lead-engine/ledger"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LeadID string
type ClaimID string
type UserID string

// ProfessionalID is shared with the ledger so balances and claims line up.
type ProfessionalID = ledger.ProfessionalID

// =============================================================================
// LEAD CONTENT
// =============================================================================

// BudgetBracket is one entry of the ordered budget enumeration.
// The valid set and its order come from the PriceTable.
type BudgetBracket string

const (
	BudgetUnder1K  BudgetBracket = "under_1k"
	Budget1KTo5K   BudgetBracket = "1k_5k"
	Budget5KTo15K  BudgetBracket = "5k_15k"
	Budget15KTo50K BudgetBracket = "15k_50k"
	BudgetOver50K  BudgetBracket = "over_50k"
)

type Urgency string

const (
	UrgencyFlexible  Urgency = "flexible"
	UrgencyStandard  Urgency = "standard"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// Content is what the homeowner wrote. The core only reads Budget and Urgency.
type Content struct {
	Category    string
	Description string
	Location    string
	Budget      BudgetBracket
	Urgency     Urgency
	Timeline    string
	Preferences string
}

// =============================================================================
// LEAD
// =============================================================================

type Lead struct {
	ID      LeadID
	OwnerID UserID
	Content Content

	Status     Status
	ClaimCount int
	MaxClaims  int // platform constant captured at creation

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time

	CancelReason           string
	CancelledAt            *time.Time
	AcceptedProfessionalID ProfessionalID

	// Version is incremented by every store update (optimistic check).
	Version int64
}

// SlotsRemaining is the number of claims still available.
func (l Lead) SlotsRemaining() int {
	if l.ClaimCount >= l.MaxClaims {
		return 0
	}
	return l.MaxClaims - l.ClaimCount
}

// ExpiredAt reports whether the claim deadline has passed at now.
func (l Lead) ExpiredAt(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// =============================================================================
// CLAIM
// =============================================================================

type Claim struct {
	ID             ClaimID
	LeadID         LeadID
	ProfessionalID ProfessionalID

	// CreditsCost is the amount debited at claim time. Refunds use this,
	// never the current price table.
	CreditsCost ledger.Credits

	DebitTransactionID ledger.TransactionID
	ClaimedAt          time.Time

	// QuoteSubmitted is owned by the quoting subsystem.
	QuoteSubmitted bool
}

// =============================================================================
// PROFESSIONAL (external directory facts)
// =============================================================================

type Role string

const (
	RoleHomeowner Role = "homeowner"
	RoleProvider  Role = "provider"
	RoleAdmin     Role = "admin"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

type Professional struct {
	ID                 ProfessionalID
	Name               string
	Role               Role
	VerificationStatus VerificationStatus
}

// Eligible reports whether the professional may claim leads.
func (p Professional) Eligible() bool {
	return p.Role == RoleProvider && p.VerificationStatus == VerificationApproved
}

// =============================================================================
// OPERATION RESULTS
// =============================================================================

// ClaimResult is returned by a successful Claim.
type ClaimResult struct {
	Claim          Claim
	CreditsCharged ledger.Credits
	Balance        ledger.Credits
	Lead           Lead
}

// Refund records one claimant refund issued (or replayed) by Cancel.
type Refund struct {
	ClaimID        ClaimID
	ProfessionalID ProfessionalID
	Credits        ledger.Credits
	TransactionID  ledger.TransactionID
	Replayed       bool
}

// CancelResult is returned by Cancel.
// AlreadyCancelled is set when the lead was cancelled by an earlier call.
type CancelResult struct {
	Lead             Lead
	Refunds          []Refund
	AlreadyCancelled bool
}

// LeadFilter narrows ListLeads. Zero values match everything.
type LeadFilter struct {
	OwnerID UserID
	Status  Status
	Limit   int
}
