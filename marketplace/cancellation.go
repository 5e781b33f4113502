package marketplace

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/warp/lead-engine/ledger"
	"github.com/warp/lead-engine/metrics"
)

// =============================================================================
// CANCELLATION - Terminate a lead and refund every claimant
// =============================================================================

// Cancel moves the lead to cancelled and refunds each claim's original
// CreditsCost, as one atomic unit.
//
// FAILURE POLICY: all or nothing. If any refund fails the whole unit rolls
// back; the lead keeps its status and no professional is refunded, so the
// caller can retry the same request.
//
// IDEMPOTENCE: cancelling an already cancelled lead is a no-op that returns
// the lead with AlreadyCancelled set. Refunds are keyed by (lead, claim) in
// the ledger, so no claim is ever refunded twice.
//
// Errors: ErrNotFound, ErrForbidden (not the owner), *InvalidStateError
// (accepted or expired).
func (e *Engine) Cancel(ctx context.Context, leadID LeadID, requesterID UserID, reason string) (*CancelResult, error) {
	result, err := e.cancel(ctx, leadID, requesterID, reason)
	if err != nil {
		metrics.CancellationsTotal.WithLabelValues(Code(err)).Inc()
		if IsTransient(err) {
			log.Printf("[Engine] cancel %s failed, nothing refunded: %v", leadID, err)
		}
		return nil, err
	}

	if result.AlreadyCancelled {
		metrics.CancellationsTotal.WithLabelValues("noop").Inc()
		return result, nil
	}
	metrics.CancellationsTotal.WithLabelValues("ok").Inc()
	for _, r := range result.Refunds {
		if !r.Replayed {
			metrics.RefundsTotal.Inc()
			metrics.CreditsRefunded.Add(float64(r.Credits))
		}
	}
	log.Printf("[Engine] lead %s cancelled, %d claim(s) refunded", leadID, len(result.Refunds))
	return result, nil
}

func (e *Engine) cancel(ctx context.Context, leadID LeadID, requesterID UserID, reason string) (*CancelResult, error) {
	if leadID == "" || requesterID == "" {
		return nil, fmt.Errorf("%w: lead id and requester id are required", ErrInvalidInput)
	}

	var result *CancelResult
	err := e.atomically(ctx, "cancel", func(tx Tx) error {
		lead, err := tx.GetLead(ctx, leadID)
		if err != nil {
			return err
		}
		if lead.OwnerID != requesterID {
			return fmt.Errorf("%w: only the lead owner may cancel", ErrForbidden)
		}

		switch lead.Status {
		case StatusCancelled:
			result = &CancelResult{Lead: lead, AlreadyCancelled: true}
			return nil
		case StatusAccepted, StatusExpired:
			return &InvalidStateError{LeadID: lead.ID, Status: lead.Status, Operation: "cancel"}
		}

		claims, err := tx.ClaimsByLead(ctx, leadID)
		if err != nil {
			return err
		}
		// Professionals are always locked in id order so concurrent
		// cancellations sharing claimants cannot deadlock.
		sort.Slice(claims, func(i, j int) bool {
			return claims[i].ProfessionalID < claims[j].ProfessionalID
		})

		led := ledger.New(tx, ledger.WithClock(e.now))
		refunds := make([]Refund, 0, len(claims))
		for _, c := range claims {
			receipt, err := led.Refund(ctx, c.ProfessionalID, c.CreditsCost, ledger.ReasonLeadCancelled,
				ledger.Metadata{LeadID: string(leadID), ClaimID: string(c.ID), Note: reason})
			if err != nil {
				return fmt.Errorf("refund claim %s for %s: %w", c.ID, c.ProfessionalID, err)
			}
			refunds = append(refunds, Refund{
				ClaimID:        c.ID,
				ProfessionalID: c.ProfessionalID,
				Credits:        c.CreditsCost,
				TransactionID:  receipt.TransactionID,
				Replayed:       receipt.Replayed,
			})
		}

		now := e.now().UTC()
		lead.Status = StatusCancelled
		lead.CancelReason = reason
		lead.CancelledAt = &now
		lead.UpdatedAt = now
		if err := tx.UpdateLead(ctx, lead); err != nil {
			return err
		}
		lead.Version++

		result = &CancelResult{Lead: lead, Refunds: refunds}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
