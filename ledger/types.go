/*
Package ledger implements the professional credit ledger.

PURPOSE:
  Every professional holds a single integer credit balance backed by an
  append-only log of transactions. Claiming a lead spends credits,
  cancelling a lead refunds them, buying credits grants them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Credits:     Integer amount of platform credit (never fractional)
  - Transaction: Immutable ledger entry with a signed delta
  - Account:     Current balance + version for one professional
  - Receipt:     Result of a ledger write (or of a replayed one)

CRITICAL INVARIANTS:
  1. balance == Σ transaction deltas, per professional, at all times
  2. balance never goes negative
  3. a transaction and its balance change commit together or not at all
  4. an idempotency key is used at most once, across all professionals

SEE ALSO:
  - store.go: Persistence contract that enforces invariants 1-4
  - ledger.go: Spend / Refund / Grant operations
*/
package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// IDENTIFIERS & AMOUNTS
// =============================================================================

type ProfessionalID string
type TransactionID string

// Credits is a whole number of platform credits.
type Credits int64

func (c Credits) String() string { return fmt.Sprintf("%d credits", int64(c)) }

// =============================================================================
// TRANSACTION - Immutable change to a professional's balance
// =============================================================================

type TransactionType string

const (
	TxSpend      TransactionType = "spend"      // Lead claim debit
	TxRefund     TransactionType = "refund"     // Reversal of a claim debit
	TxPurchase   TransactionType = "purchase"   // Credits bought by the professional
	TxAdjustment TransactionType = "adjustment" // Manual admin correction
)

// Reason is a short machine-readable tag for why a transaction exists.
type Reason string

const (
	ReasonLeadClaim     Reason = "lead_claim"
	ReasonLeadCancelled Reason = "lead_cancelled"
	ReasonPurchase      Reason = "credit_purchase"
	ReasonAdjustment    Reason = "admin_adjustment"
)

// Metadata correlates a transaction with the marketplace objects that caused it.
type Metadata struct {
	LeadID  string
	ClaimID string
	Note    string
}

type Transaction struct {
	ID             TransactionID
	ProfessionalID ProfessionalID
	Type           TransactionType
	Delta          Credits // negative for spend, positive otherwise
	BalanceAfter   Credits
	Reason         Reason
	Metadata       Metadata
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// ACCOUNT & RECEIPT
// =============================================================================

// Account is the current balance of one professional.
// Version increases by one on every applied transaction.
type Account struct {
	ProfessionalID ProfessionalID
	Balance        Credits
	Version        int64
	UpdatedAt      time.Time
}

// Receipt is returned by every ledger write.
// Replayed is true when the idempotency key was already used and the
// existing transaction is returned instead of writing a new one.
type Receipt struct {
	TransactionID TransactionID
	Balance       Credits
	Replayed      bool
}

// Verification is the result of recomputing a balance from its log.
type Verification struct {
	ProfessionalID   ProfessionalID
	StoredBalance    Credits
	ComputedBalance  Credits
	TransactionCount int
}

func (v Verification) Consistent() bool { return v.StoredBalance == v.ComputedBalance }

// =============================================================================
// IDEMPOTENCY KEYS
// =============================================================================

// SpendKey identifies the single debit allowed for a (lead, professional) pair.
func SpendKey(leadID string, professionalID ProfessionalID) string {
	return "spend:" + leadID + ":" + string(professionalID)
}

// RefundKey identifies the single refund allowed for a claim.
func RefundKey(leadID, claimID string) string {
	return "refund:" + leadID + ":" + claimID
}
