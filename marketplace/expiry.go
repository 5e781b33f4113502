package marketplace

import (
	"context"
	"log"
	"time"

	"github.com/warp/lead-engine/metrics"
)

// =============================================================================
// EXPIRY - Terminalize leads past their deadline
// =============================================================================

// SweepExpired moves every open, full or quoted lead whose ExpiresAt is at
// or before now to expired, and returns how many leads changed.
//
// It touches only lead status: no claims, no ledger. Running it twice is a
// no-op the second time, and it never touches accepted or cancelled leads.
// Claims racing the sweep are safe because Claim re-checks the deadline on
// the lead it reads inside its own unit.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	start := time.Now()
	ids, err := e.store.ExpireDue(ctx, e.now().UTC())
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("[Sweeper] sweep failed: %v", err)
		return 0, classify("sweep expired", err)
	}

	if len(ids) > 0 {
		metrics.LeadsExpired.Add(float64(len(ids)))
		log.Printf("[Sweeper] expired %d lead(s)", len(ids))
	}
	return len(ids), nil
}
