package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/warp/lead-engine/ledger"
	"github.com/warp/lead-engine/metrics"
)

// =============================================================================
// ALLOCATION - Claim a slot on a lead
// =============================================================================

// Claim reserves one of the lead's slots for professionalID and debits the
// lead's credit cost from the professional's balance.
//
// Preconditions, checked in order on the lead as read inside the unit:
//  1. lead exists                        ErrNotFound
//  2. status is open or full             *InvalidStateError (ErrExpired if expired)
//  3. claimCount < maxClaims             ErrCapacityExceeded
//  4. now <= expiresAt                   ErrExpired
//  5. no claim for (lead, professional)  ErrAlreadyClaimed
//  6. professional is approved provider  ErrNotEligible
//
// The debit, the claim insert, the claim count increment and the open→full
// transition commit as one unit. An insufficient balance leaves nothing
// behind, and so does any failure after the debit.
func (e *Engine) Claim(ctx context.Context, leadID LeadID, professionalID ProfessionalID) (*ClaimResult, error) {
	start := time.Now()
	result, err := e.claim(ctx, leadID, professionalID)
	metrics.ClaimDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ClaimsTotal.WithLabelValues(Code(err)).Inc()
		if IsTransient(err) {
			log.Printf("[Engine] claim %s by %s failed: %v", leadID, professionalID, err)
		}
		return nil, err
	}

	metrics.ClaimsTotal.WithLabelValues("ok").Inc()
	metrics.CreditsSpent.Add(float64(result.CreditsCharged))
	return result, nil
}

func (e *Engine) claim(ctx context.Context, leadID LeadID, professionalID ProfessionalID) (*ClaimResult, error) {
	if leadID == "" || professionalID == "" {
		return nil, fmt.Errorf("%w: lead id and professional id are required", ErrInvalidInput)
	}

	// Directory facts are read-only inputs; read them before the unit so the
	// unit only touches the lead and the professional's account.
	pro, proErr := e.directory.Professional(ctx, professionalID)
	if proErr != nil && !errors.Is(proErr, ErrNotFound) {
		return nil, &TransientError{Operation: "claim: directory lookup", Err: proErr}
	}

	var result *ClaimResult
	err := e.atomically(ctx, "claim", func(tx Tx) error {
		lead, err := tx.GetLead(ctx, leadID)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		if err := checkClaimable(lead, now); err != nil {
			return err
		}

		existing, err := tx.ClaimByPair(ctx, leadID, professionalID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: claim %s", ErrAlreadyClaimed, existing.ID)
		}

		if proErr != nil {
			return fmt.Errorf("%w: professional %s is not registered", ErrNotEligible, professionalID)
		}
		if !pro.Eligible() {
			return fmt.Errorf("%w: professional %s has role %q and verification %q",
				ErrNotEligible, professionalID, pro.Role, pro.VerificationStatus)
		}

		cost, err := e.cfg.Pricing.Cost(lead.Content.Budget, lead.Content.Urgency)
		if err != nil {
			return err
		}

		claim := Claim{
			ID:             ClaimID(uuid.NewString()),
			LeadID:         leadID,
			ProfessionalID: professionalID,
			CreditsCost:    cost,
			ClaimedAt:      now,
		}

		receipt, err := ledger.New(tx, ledger.WithClock(e.now)).Spend(ctx, professionalID, cost,
			ledger.ReasonLeadClaim, ledger.Metadata{LeadID: string(leadID), ClaimID: string(claim.ID)})
		if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
			return fmt.Errorf("%w: debit already recorded", ErrAlreadyClaimed)
		}
		if err != nil {
			return err
		}
		claim.DebitTransactionID = receipt.TransactionID

		if err := tx.InsertClaim(ctx, claim); err != nil {
			return err
		}

		lead.ClaimCount++
		if lead.ClaimCount >= lead.MaxClaims {
			lead.Status = StatusFull
		}
		lead.UpdatedAt = now
		if err := tx.UpdateLead(ctx, lead); err != nil {
			return err
		}
		lead.Version++

		result = &ClaimResult{
			Claim:          claim,
			CreditsCharged: cost,
			Balance:        receipt.Balance,
			Lead:           lead,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// checkClaimable applies preconditions 2-4 to a lead read under the unit.
func checkClaimable(lead Lead, now time.Time) error {
	if lead.Status == StatusExpired {
		return fmt.Errorf("%w: lead %s expired at %s", ErrExpired, lead.ID, lead.ExpiresAt.Format(time.RFC3339))
	}
	if !lead.Status.Claimable() {
		return &InvalidStateError{LeadID: lead.ID, Status: lead.Status, Operation: "claim"}
	}
	if lead.ClaimCount >= lead.MaxClaims {
		return fmt.Errorf("%w: lead %s has %d/%d claims", ErrCapacityExceeded, lead.ID, lead.ClaimCount, lead.MaxClaims)
	}
	if lead.ExpiredAt(now) {
		return fmt.Errorf("%w: lead %s expired at %s", ErrExpired, lead.ID, lead.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
