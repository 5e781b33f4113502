/*
handlers.go - HTTP API handlers for lead allocation and credits

PURPOSE:
  Exposes the marketplace engine and the credit ledger via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Leads:
    GET    /api/leads                         List leads (?owner_id=&status=&limit=)
    POST   /api/leads                         Post a lead (actor = owner)
    GET    /api/leads/{id}                    Lead details
    POST   /api/leads/{id}/claims             Claim a slot (actor = professional)
    GET    /api/leads/{id}/claims             List claims (actor = owner)
    POST   /api/leads/{id}/cancel             Cancel + refund claimants (actor = owner)
    POST   /api/leads/{id}/accept             Accept a claimant (actor = owner)
    POST   /api/leads/{id}/quotes             Flag a claim as quoted (actor = professional)

  Professionals:
    GET    /api/professionals                 List directory entries
    POST   /api/professionals                 Register / update a professional
    GET    /api/professionals/{id}            Directory entry
    GET    /api/professionals/{id}/balance    Credit balance
    GET    /api/professionals/{id}/transactions  Ledger history
    POST   /api/professionals/{id}/credits    Purchase / adjust credits
    GET    /api/professionals/{id}/ledger/verify Recompute balance from log

  Admin:
    POST   /api/admin/sweep                   Run the expiry sweep now

IDENTITY:
  The acting user is read from the X-Actor-ID header, which an upstream
  gateway sets after authentication.

ERROR HANDLING:
  Errors are returned as JSON {error, code, details}. Status by code:
  - 400: invalid_input
  - 401: missing actor
  - 402: insufficient_balance
  - 403: forbidden, not_eligible
  - 404: not_found
  - 409: invalid_state, capacity_exceeded, already_claimed
  - 410: expired
  - 503: transient (safe to retry)
  - 500: anything else

SEE ALSO:
  - dto.go:       Request/response data structures
  - server.go:    Router setup and middleware
  - scheduler.go: Background expiry sweep
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/lead-engine/ledger"
	"github.com/warp/lead-engine/marketplace"
)

// ActorHeader carries the authenticated user id.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Registry is the writable side of the professional directory.
type Registry interface {
	marketplace.Directory
	SaveProfessional(ctx context.Context, p marketplace.Professional) error
	ListProfessionals(ctx context.Context) ([]marketplace.Professional, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *marketplace.Engine
	Registry Registry

	// MinCancelReason is the minimum trimmed length of a cancel reason.
	MinCancelReason int
}

// NewHandler creates a new handler.
func NewHandler(engine *marketplace.Engine, registry Registry, minCancelReason int) *Handler {
	return &Handler{
		Engine:          engine,
		Registry:        registry,
		MinCancelReason: minCancelReason,
	}
}

// =============================================================================
// LEAD HANDLERS
// =============================================================================

// ListLeads returns leads matching the query filters, newest first.
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := marketplace.LeadFilter{
		OwnerID: marketplace.UserID(q.Get("owner_id")),
		Status:  marketplace.Status(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	leads, err := h.Engine.ListLeads(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list leads", err)
		return
	}

	dtos := make([]LeadDTO, len(leads))
	for i, l := range leads {
		dtos[i] = toLeadDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLead posts a new lead owned by the actor.
func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req CreateLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lead, err := h.Engine.CreateLead(r.Context(), marketplace.UserID(actor), req.toContent())
	if err != nil {
		writeDomainError(w, "Failed to create lead", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeadDTO(lead))
}

// GetLead returns a single lead.
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.Engine.GetLead(r.Context(), marketplace.LeadID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get lead", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadDTO(lead))
}

// =============================================================================
// CLAIM HANDLERS
// =============================================================================

// ClaimLead spends the actor's credits on one of the lead's slots.
func (h *Handler) ClaimLead(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	leadID := marketplace.LeadID(chi.URLParam(r, "id"))

	result, err := h.Engine.Claim(r.Context(), leadID, ledger.ProfessionalID(actor))
	if err != nil {
		writeDomainError(w, "Failed to claim lead", err)
		return
	}

	writeJSON(w, http.StatusCreated, ClaimResponse{
		Claim:          toClaimDTO(result.Claim),
		CreditsCharged: int64(result.CreditsCharged),
		Balance:        int64(result.Balance),
		Lead:           toLeadDTO(result.Lead),
	})
}

// ListClaims returns the lead's claims to its owner.
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	leadID := marketplace.LeadID(chi.URLParam(r, "id"))

	claims, err := h.Engine.ListClaims(r.Context(), leadID, marketplace.UserID(actor))
	if err != nil {
		writeDomainError(w, "Failed to list claims", err)
		return
	}

	dtos := make([]ClaimDTO, len(claims))
	for i, c := range claims {
		dtos[i] = toClaimDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CancelLead cancels the lead and refunds every claimant.
func (h *Handler) CancelLead(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if len([]rune(reason)) < h.MinCancelReason {
		writeDomainError(w, "Cancellation reason too short",
			fmt.Errorf("%w: reason must be at least %d characters", marketplace.ErrInvalidInput, h.MinCancelReason))
		return
	}

	leadID := marketplace.LeadID(chi.URLParam(r, "id"))
	result, err := h.Engine.Cancel(r.Context(), leadID, marketplace.UserID(actor), reason)
	if err != nil {
		writeDomainError(w, "Failed to cancel lead", err)
		return
	}

	refunds := make([]RefundDTO, len(result.Refunds))
	for i, rf := range result.Refunds {
		refunds[i] = RefundDTO{
			ClaimID:        string(rf.ClaimID),
			ProfessionalID: string(rf.ProfessionalID),
			Credits:        int64(rf.Credits),
			TransactionID:  string(rf.TransactionID),
			Replayed:       rf.Replayed,
		}
	}
	writeJSON(w, http.StatusOK, CancelResponse{
		Lead:             toLeadDTO(result.Lead),
		Refunds:          refunds,
		AlreadyCancelled: result.AlreadyCancelled,
	})
}

// AcceptLead marks one claimant as hired.
func (h *Handler) AcceptLead(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req AcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	leadID := marketplace.LeadID(chi.URLParam(r, "id"))
	lead, err := h.Engine.Accept(r.Context(), leadID, marketplace.UserID(actor), ledger.ProfessionalID(req.ProfessionalID))
	if err != nil {
		writeDomainError(w, "Failed to accept lead", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadDTO(lead))
}

// SubmitQuote flags the actor's claim as quoted.
func (h *Handler) SubmitQuote(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	leadID := marketplace.LeadID(chi.URLParam(r, "id"))
	if err := h.Engine.RecordQuote(r.Context(), leadID, ledger.ProfessionalID(actor)); err != nil {
		writeDomainError(w, "Failed to record quote", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PROFESSIONAL HANDLERS
// =============================================================================

func (h *Handler) ListProfessionals(w http.ResponseWriter, r *http.Request) {
	pros, err := h.Registry.ListProfessionals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list professionals", err)
		return
	}

	dtos := make([]ProfessionalDTO, len(pros))
	for i, p := range pros {
		dtos[i] = toProfessionalDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProfessional registers or updates a directory entry.
func (h *Handler) CreateProfessional(w http.ResponseWriter, r *http.Request) {
	var req CreateProfessionalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	p := marketplace.Professional{
		ID:                 ledger.ProfessionalID(req.ID),
		Name:               req.Name,
		Role:               marketplace.Role(req.Role),
		VerificationStatus: marketplace.VerificationStatus(req.VerificationStatus),
	}
	if p.Role == "" {
		p.Role = marketplace.RoleProvider
	}
	if p.VerificationStatus == "" {
		p.VerificationStatus = marketplace.VerificationPending
	}
	if !validRole(p.Role) || !validVerification(p.VerificationStatus) {
		writeError(w, http.StatusBadRequest, "Invalid role or verification_status", nil)
		return
	}

	if err := h.Registry.SaveProfessional(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save professional", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfessionalDTO(p))
}

func (h *Handler) GetProfessional(w http.ResponseWriter, r *http.Request) {
	p, err := h.Registry.Professional(r.Context(), ledger.ProfessionalID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get professional", err)
		return
	}
	writeJSON(w, http.StatusOK, toProfessionalDTO(p))
}

// =============================================================================
// CREDIT HANDLERS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProfessionalID(chi.URLParam(r, "id"))

	balance, err := h.Engine.Ledger().Balance(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{ProfessionalID: string(id), Balance: int64(balance)})
}

// GetTransactions returns the professional's ledger, oldest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProfessionalID(chi.URLParam(r, "id"))

	txs, err := h.Engine.Ledger().History(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, t := range txs {
		dtos[i] = toTransactionDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GrantCredits records a purchase (or an admin adjustment).
func (h *Handler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProfessionalID(chi.URLParam(r, "id"))

	var req GrantCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reason := ledger.ReasonPurchase
	if req.Adjustment {
		reason = ledger.ReasonAdjustment
	}
	var key string
	if req.Reference != "" {
		key = "grant:" + string(id) + ":" + req.Reference
	}

	receipt, err := h.Engine.Ledger().Grant(r.Context(), id, ledger.Credits(req.Amount), reason,
		ledger.Metadata{Note: req.Note}, key)
	if err != nil {
		writeDomainError(w, "Failed to grant credits", err)
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toReceiptDTO(receipt))
}

// VerifyLedger recomputes the balance from the transaction log.
func (h *Handler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProfessionalID(chi.URLParam(r, "id"))

	v, err := h.Engine.Ledger().Verify(r.Context(), id)
	dto := VerificationDTO{
		ProfessionalID:   string(id),
		StoredBalance:    int64(v.StoredBalance),
		ComputedBalance:  int64(v.ComputedBalance),
		TransactionCount: v.TransactionCount,
		Consistent:       err == nil && v.Consistent(),
	}
	if err != nil {
		writeJSON(w, http.StatusConflict, dto)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the expiry sweep immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.SweepExpired(r.Context())
	if err != nil {
		writeDomainError(w, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Expired: n, RanAt: time.Now().UTC().Format(time.RFC3339)})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: codeForStatus(status)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError derives status and code from the error taxonomy.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	code := errorCode(err)
	resp := ErrorResponse{Error: message, Code: code, Details: err.Error()}
	writeJSON(w, statusForCode(code), resp)
}

func errorCode(err error) string {
	if errors.Is(err, ledger.ErrInvalidAmount) || errors.Is(err, ledger.ErrMissingProfessional) {
		return "invalid_input"
	}
	return marketplace.Code(err)
}

func statusForCode(code string) int {
	switch code {
	case "invalid_input":
		return http.StatusBadRequest
	case "insufficient_balance":
		return http.StatusPaymentRequired
	case "forbidden", "not_eligible":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "invalid_state", "capacity_exceeded", "already_claimed":
		return http.StatusConflict
	case "expired":
		return http.StatusGone
	case "transient":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "Missing "+ActorHeader+" header", nil)
		return "", false
	}
	return actor, true
}

func validRole(r marketplace.Role) bool {
	switch r {
	case marketplace.RoleHomeowner, marketplace.RoleProvider, marketplace.RoleAdmin:
		return true
	}
	return false
}

func validVerification(v marketplace.VerificationStatus) bool {
	switch v {
	case marketplace.VerificationPending, marketplace.VerificationApproved, marketplace.VerificationRejected:
		return true
	}
	return false
}
