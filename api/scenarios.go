/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the store with realistic data
	for demos. Each scenario registers professionals, funds their balances,
	posts leads and drives them through claims or cancellation.

AVAILABLE SCENARIOS:
	busy-marketplace: Five providers fill a lead, a sixth is turned away
	cancel-refund:    Three claims, then the homeowner cancels
	low-balance:      A provider without enough credits for an emergency lead

HOW SCENARIOS WORK:
 1. Register professionals (upsert)
 2. Grant credits with a scenario reference (repeat loads do not top up)
 3. Post leads through the engine
 4. Claim / cancel through the engine, exactly as the API would

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "cancel-refund"}

NOTE:
	Scenarios add data; they never delete. Only use in development.

SEE ALSO:
  - handlers.go: Endpoints exercised by the scenarios
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/lead-engine/ledger"
	"github.com/warp/lead-engine/marketplace"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "busy-marketplace",
		Name:        "Busy Marketplace",
		Description: "Five providers claim every slot of one lead; a sixth gets capacity_exceeded",
	},
	{
		ID:          "cancel-refund",
		Name:        "Cancel & Refund",
		Description: "Three providers claim an urgent lead, the homeowner cancels and everyone is refunded",
	},
	{
		ID:          "low-balance",
		Name:        "Low Balance",
		Description: "A provider with 7 credits cannot claim an emergency lead costing 23",
	},
}

// ScenarioResult summarizes what a scenario created.
type ScenarioResult struct {
	Scenario ScenarioDTO `json:"scenario"`
	Leads    []LeadDTO   `json:"leads"`
	Events   []string    `json:"events"`
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario runs the requested scenario against the live engine.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var (
		result *ScenarioResult
		err    error
	)
	ctx := r.Context()
	switch req.ScenarioID {
	case "busy-marketplace":
		result, err = h.loadBusyMarketplaceScenario(ctx)
	case "cancel-refund":
		result, err = h.loadCancelRefundScenario(ctx)
	case "low-balance":
		result, err = h.loadLowBalanceScenario(ctx)
	default:
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadBusyMarketplaceScenario(ctx context.Context) (*ScenarioResult, error) {
	res := newScenarioResult("busy-marketplace")

	pros := []string{"pro-ana", "pro-ben", "pro-cleo", "pro-dev", "pro-eli", "pro-fay"}
	for _, id := range pros {
		if err := h.seedProvider(ctx, res, id, 100); err != nil {
			return nil, err
		}
	}

	lead, err := h.Engine.CreateLead(ctx, "home-owner-1", marketplace.Content{
		Category:    "plumbing",
		Description: "Replace kitchen sink and garbage disposal",
		Location:    "Austin, TX",
		Budget:      marketplace.Budget1KTo5K,
		Urgency:     marketplace.UrgencyStandard,
	})
	if err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}

	for _, id := range pros {
		claimed, err := h.Engine.Claim(ctx, lead.ID, ledger.ProfessionalID(id))
		switch {
		case err == nil:
			lead = claimed.Lead
			res.Events = append(res.Events, fmt.Sprintf("%s claimed for %d credits (%d/%d)",
				id, claimed.CreditsCharged, lead.ClaimCount, lead.MaxClaims))
		case errors.Is(err, marketplace.ErrCapacityExceeded), errors.Is(err, marketplace.ErrInvalidState):
			res.Events = append(res.Events, fmt.Sprintf("%s rejected: %s", id, marketplace.Code(err)))
		default:
			return nil, fmt.Errorf("claim by %s: %w", id, err)
		}
	}

	res.Leads = append(res.Leads, toLeadDTO(lead))
	return res, nil
}

func (h *Handler) loadCancelRefundScenario(ctx context.Context) (*ScenarioResult, error) {
	res := newScenarioResult("cancel-refund")

	pros := []string{"pro-gus", "pro-hal", "pro-ivy"}
	for _, id := range pros {
		if err := h.seedProvider(ctx, res, id, 50); err != nil {
			return nil, err
		}
	}

	lead, err := h.Engine.CreateLead(ctx, "home-owner-2", marketplace.Content{
		Category:    "roofing",
		Description: "Storm damage, several shingles missing",
		Location:    "Denver, CO",
		Budget:      marketplace.Budget5KTo15K,
		Urgency:     marketplace.UrgencyUrgent,
	})
	if err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}

	for _, id := range pros {
		if _, err := h.Engine.Claim(ctx, lead.ID, ledger.ProfessionalID(id)); err != nil {
			return nil, fmt.Errorf("claim by %s: %w", id, err)
		}
		res.Events = append(res.Events, id+" claimed")
	}

	cancelled, err := h.Engine.Cancel(ctx, lead.ID, "home-owner-2", "Insurance adjuster found a contractor already")
	if err != nil {
		return nil, fmt.Errorf("cancel: %w", err)
	}
	for _, rf := range cancelled.Refunds {
		res.Events = append(res.Events, fmt.Sprintf("%s refunded %d credits", rf.ProfessionalID, rf.Credits))
	}

	res.Leads = append(res.Leads, toLeadDTO(cancelled.Lead))
	return res, nil
}

func (h *Handler) loadLowBalanceScenario(ctx context.Context) (*ScenarioResult, error) {
	res := newScenarioResult("low-balance")

	if err := h.seedProvider(ctx, res, "pro-jo", 7); err != nil {
		return nil, err
	}

	lead, err := h.Engine.CreateLead(ctx, "home-owner-3", marketplace.Content{
		Category:    "electrical",
		Description: "Power out in half the house",
		Location:    "Portland, OR",
		Budget:      marketplace.Budget5KTo15K,
		Urgency:     marketplace.UrgencyEmergency,
	})
	if err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}

	_, err = h.Engine.Claim(ctx, lead.ID, "pro-jo")
	if !errors.Is(err, marketplace.ErrInsufficientBalance) {
		return nil, fmt.Errorf("expected insufficient balance, got %v", err)
	}
	res.Events = append(res.Events, "pro-jo rejected: "+err.Error())

	res.Leads = append(res.Leads, toLeadDTO(lead))
	return res, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func newScenarioResult(id string) *ScenarioResult {
	res := &ScenarioResult{Events: []string{}}
	for _, s := range scenarios {
		if s.ID == id {
			res.Scenario = s
		}
	}
	return res
}

// seedProvider registers an approved provider and funds them once per
// scenario.
func (h *Handler) seedProvider(ctx context.Context, res *ScenarioResult, id string, credits ledger.Credits) error {
	p := marketplace.Professional{
		ID:                 ledger.ProfessionalID(id),
		Name:               id,
		Role:               marketplace.RoleProvider,
		VerificationStatus: marketplace.VerificationApproved,
	}
	if err := h.Registry.SaveProfessional(ctx, p); err != nil {
		return fmt.Errorf("save professional %s: %w", id, err)
	}

	key := "grant:" + id + ":scenario-" + res.Scenario.ID
	receipt, err := h.Engine.Ledger().Grant(ctx, p.ID, credits, ledger.ReasonPurchase,
		ledger.Metadata{Note: "demo scenario"}, key)
	if err != nil {
		return fmt.Errorf("fund %s: %w", id, err)
	}
	if !receipt.Replayed {
		res.Events = append(res.Events, fmt.Sprintf("%s funded with %d credits", id, credits))
	}
	return nil
}
