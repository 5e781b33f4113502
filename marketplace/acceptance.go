package marketplace

import (
	"context"
	"fmt"
)

// =============================================================================
// ACCEPTANCE & QUOTES - Hooks for the external quoting flow
// =============================================================================

// Accept records that the owner hired professionalID. The lead becomes
// accepted, a terminal status: no further claims, cancellation or expiry.
func (e *Engine) Accept(ctx context.Context, leadID LeadID, requesterID UserID, professionalID ProfessionalID) (Lead, error) {
	if leadID == "" || requesterID == "" || professionalID == "" {
		return Lead{}, fmt.Errorf("%w: lead, requester and professional ids are required", ErrInvalidInput)
	}

	var accepted Lead
	err := e.atomically(ctx, "accept", func(tx Tx) error {
		lead, err := tx.GetLead(ctx, leadID)
		if err != nil {
			return err
		}
		if lead.OwnerID != requesterID {
			return fmt.Errorf("%w: only the lead owner may accept", ErrForbidden)
		}
		if !CanTransition(lead.Status, StatusAccepted) {
			return &InvalidStateError{LeadID: lead.ID, Status: lead.Status, Operation: "accept"}
		}

		now := e.now().UTC()
		if lead.ExpiredAt(now) {
			return fmt.Errorf("%w: lead %s", ErrExpired, lead.ID)
		}

		claim, err := tx.ClaimByPair(ctx, leadID, professionalID)
		if err != nil {
			return err
		}
		if claim == nil {
			return fmt.Errorf("%w: professional %s holds no claim on lead %s", ErrNotFound, professionalID, leadID)
		}

		lead.Status = StatusAccepted
		lead.AcceptedProfessionalID = professionalID
		lead.UpdatedAt = now
		if err := tx.UpdateLead(ctx, lead); err != nil {
			return err
		}
		lead.Version++
		accepted = lead
		return nil
	})
	return accepted, err
}

// RecordQuote flags the professional's claim as quoted. Lead status is left
// to the quoting flow.
func (e *Engine) RecordQuote(ctx context.Context, leadID LeadID, professionalID ProfessionalID) error {
	if leadID == "" || professionalID == "" {
		return fmt.Errorf("%w: lead id and professional id are required", ErrInvalidInput)
	}
	return e.atomically(ctx, "record quote", func(tx Tx) error {
		lead, err := tx.GetLead(ctx, leadID)
		if err != nil {
			return err
		}
		if lead.Status == StatusCancelled || lead.Status == StatusExpired {
			return &InvalidStateError{LeadID: lead.ID, Status: lead.Status, Operation: "quote"}
		}
		return tx.SetQuoteSubmitted(ctx, leadID, professionalID, true)
	})
}
