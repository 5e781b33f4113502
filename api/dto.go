/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the marketplace and ledger models from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Operation results wrapping several DTOs

TYPES:
  Leads:         LeadDTO, ContentDTO, CreateLeadRequest
  Claims:        ClaimDTO, ClaimResponse
  Cancellation:  CancelRequest, CancelResponse, RefundDTO
  Acceptance:    AcceptRequest
  Professionals: ProfessionalDTO, CreateProfessionalRequest
  Credits:       BalanceDTO, TransactionDTO, GrantCreditsRequest, ReceiptDTO,
                 VerificationDTO
  Admin:         SweepResponse, ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/lead-engine/ledger"
	"github.com/warp/lead-engine/marketplace"
)

// =============================================================================
// LEADS
// =============================================================================

type ContentDTO struct {
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Budget      string `json:"budget"`
	Urgency     string `json:"urgency,omitempty"`
	Timeline    string `json:"timeline,omitempty"`
	Preferences string `json:"preferences,omitempty"`
}

// CreateLeadRequest is the body of POST /api/leads. The owner is the actor.
type CreateLeadRequest struct {
	ContentDTO
}

type LeadDTO struct {
	ID                     string     `json:"id"`
	OwnerID                string     `json:"owner_id"`
	Content                ContentDTO `json:"content"`
	Status                 string     `json:"status"`
	ClaimCount             int        `json:"claim_count"`
	MaxClaims              int        `json:"max_claims"`
	SlotsRemaining         int        `json:"slots_remaining"`
	CreatedAt              string     `json:"created_at"`
	UpdatedAt              string     `json:"updated_at"`
	ExpiresAt              string     `json:"expires_at"`
	CancelReason           string     `json:"cancel_reason,omitempty"`
	CancelledAt            *string    `json:"cancelled_at,omitempty"`
	AcceptedProfessionalID string     `json:"accepted_professional_id,omitempty"`
}

// =============================================================================
// CLAIMS
// =============================================================================

type ClaimDTO struct {
	ID                 string `json:"id"`
	LeadID             string `json:"lead_id"`
	ProfessionalID     string `json:"professional_id"`
	CreditsCost        int64  `json:"credits_cost"`
	DebitTransactionID string `json:"debit_transaction_id,omitempty"`
	ClaimedAt          string `json:"claimed_at"`
	QuoteSubmitted     bool   `json:"quote_submitted"`
}

// ClaimResponse is returned by POST /api/leads/{id}/claims.
type ClaimResponse struct {
	Claim          ClaimDTO `json:"claim"`
	CreditsCharged int64    `json:"credits_charged"`
	Balance        int64    `json:"balance"`
	Lead           LeadDTO  `json:"lead"`
}

// =============================================================================
// CANCELLATION & ACCEPTANCE
// =============================================================================

type CancelRequest struct {
	Reason string `json:"reason"`
}

type RefundDTO struct {
	ClaimID        string `json:"claim_id"`
	ProfessionalID string `json:"professional_id"`
	Credits        int64  `json:"credits"`
	TransactionID  string `json:"transaction_id"`
	Replayed       bool   `json:"replayed,omitempty"`
}

type CancelResponse struct {
	Lead             LeadDTO     `json:"lead"`
	Refunds          []RefundDTO `json:"refunds"`
	AlreadyCancelled bool        `json:"already_cancelled"`
}

type AcceptRequest struct {
	ProfessionalID string `json:"professional_id"`
}

// =============================================================================
// PROFESSIONALS & CREDITS
// =============================================================================

type ProfessionalDTO struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Role               string `json:"role"`
	VerificationStatus string `json:"verification_status"`
	Eligible           bool   `json:"eligible"`
}

type CreateProfessionalRequest struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Role               string `json:"role"`
	VerificationStatus string `json:"verification_status"`
}

type BalanceDTO struct {
	ProfessionalID string `json:"professional_id"`
	Balance        int64  `json:"balance"`
}

type TransactionDTO struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Delta          int64  `json:"delta"`
	BalanceAfter   int64  `json:"balance_after"`
	Reason         string `json:"reason"`
	LeadID         string `json:"lead_id,omitempty"`
	ClaimID        string `json:"claim_id,omitempty"`
	Note           string `json:"note,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// GrantCreditsRequest adds credits. Reference, when set, makes the grant
// idempotent (a payment id, for example).
type GrantCreditsRequest struct {
	Amount     int64  `json:"amount"`
	Reference  string `json:"reference,omitempty"`
	Adjustment bool   `json:"adjustment,omitempty"`
	Note       string `json:"note,omitempty"`
}

type ReceiptDTO struct {
	TransactionID string `json:"transaction_id"`
	Balance       int64  `json:"balance"`
	Replayed      bool   `json:"replayed,omitempty"`
}

type VerificationDTO struct {
	ProfessionalID   string `json:"professional_id"`
	StoredBalance    int64  `json:"stored_balance"`
	ComputedBalance  int64  `json:"computed_balance"`
	TransactionCount int    `json:"transaction_count"`
	Consistent       bool   `json:"consistent"`
}

// =============================================================================
// ADMIN
// =============================================================================

type SweepResponse struct {
	Expired int    `json:"expired"`
	RanAt   string `json:"ran_at"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toContentDTO(c marketplace.Content) ContentDTO {
	return ContentDTO{
		Category:    c.Category,
		Description: c.Description,
		Location:    c.Location,
		Budget:      string(c.Budget),
		Urgency:     string(c.Urgency),
		Timeline:    c.Timeline,
		Preferences: c.Preferences,
	}
}

func (c ContentDTO) toContent() marketplace.Content {
	return marketplace.Content{
		Category:    c.Category,
		Description: c.Description,
		Location:    c.Location,
		Budget:      marketplace.BudgetBracket(c.Budget),
		Urgency:     marketplace.Urgency(c.Urgency),
		Timeline:    c.Timeline,
		Preferences: c.Preferences,
	}
}

func toLeadDTO(l marketplace.Lead) LeadDTO {
	dto := LeadDTO{
		ID:                     string(l.ID),
		OwnerID:                string(l.OwnerID),
		Content:                toContentDTO(l.Content),
		Status:                 string(l.Status),
		ClaimCount:             l.ClaimCount,
		MaxClaims:              l.MaxClaims,
		SlotsRemaining:         l.SlotsRemaining(),
		CreatedAt:              l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:              l.UpdatedAt.Format(time.RFC3339),
		ExpiresAt:              l.ExpiresAt.Format(time.RFC3339),
		CancelReason:           l.CancelReason,
		AcceptedProfessionalID: string(l.AcceptedProfessionalID),
	}
	if l.CancelledAt != nil {
		s := l.CancelledAt.Format(time.RFC3339)
		dto.CancelledAt = &s
	}
	return dto
}

func toClaimDTO(c marketplace.Claim) ClaimDTO {
	return ClaimDTO{
		ID:                 string(c.ID),
		LeadID:             string(c.LeadID),
		ProfessionalID:     string(c.ProfessionalID),
		CreditsCost:        int64(c.CreditsCost),
		DebitTransactionID: string(c.DebitTransactionID),
		ClaimedAt:          c.ClaimedAt.Format(time.RFC3339),
		QuoteSubmitted:     c.QuoteSubmitted,
	}
}

func toProfessionalDTO(p marketplace.Professional) ProfessionalDTO {
	return ProfessionalDTO{
		ID:                 string(p.ID),
		Name:               p.Name,
		Role:               string(p.Role),
		VerificationStatus: string(p.VerificationStatus),
		Eligible:           p.Eligible(),
	}
}

func toTransactionDTO(t ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:             string(t.ID),
		Type:           string(t.Type),
		Delta:          int64(t.Delta),
		BalanceAfter:   int64(t.BalanceAfter),
		Reason:         string(t.Reason),
		LeadID:         t.Metadata.LeadID,
		ClaimID:        t.Metadata.ClaimID,
		Note:           t.Metadata.Note,
		IdempotencyKey: t.IdempotencyKey,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
	}
}

func toReceiptDTO(r ledger.Receipt) ReceiptDTO {
	return ReceiptDTO{
		TransactionID: string(r.TransactionID),
		Balance:       int64(r.Balance),
		Replayed:      r.Replayed,
	}
}
