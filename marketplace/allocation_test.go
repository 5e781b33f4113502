package marketplace_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lead-engine/ledger"
	"github.com/warp/lead-engine/marketplace"
	"github.com/warp/lead-engine/store/memory"
)

// =============================================================================
// CLAIM - Happy path and pricing
// =============================================================================

func TestClaim_FillsLeadAfterMaxClaims(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: A 1k-5k standard lead and five funded providers
		ctx := context.Background()
		lead := h.lead(t, "owner-1", marketplace.Budget1KTo5K, marketplace.UrgencyStandard)
		var pros []marketplace.ProfessionalID
		for i := 1; i <= 5; i++ {
			pros = append(pros, h.provider(t, fmt.Sprintf("pro-%d", i), 100))
		}

		// WHEN: Each provider claims
		var last *marketplace.ClaimResult
		for i, pid := range pros {
			res, err := h.engine.Claim(ctx, lead.ID, pid)
			require.NoError(t, err)
			assert.EqualValues(t, 10, res.CreditsCharged)
			assert.EqualValues(t, 90, res.Balance)
			assert.Equal(t, i+1, res.Lead.ClaimCount)
			last = res
		}

		// THEN: The lead is full and every provider paid 10
		assert.Equal(t, marketplace.StatusFull, last.Lead.Status)
		stored := h.getLead(t, lead.ID)
		assert.Equal(t, marketplace.StatusFull, stored.Status)
		assert.Equal(t, 5, stored.ClaimCount)
		assert.Equal(t, 0, stored.SlotsRemaining())
		for _, pid := range pros {
			assert.EqualValues(t, 90, h.balance(t, pid))
		}
		h.requireConsistent(t, lead.ID, pros...)
	})
}

func TestClaim_EmergencyMultiplierRoundsUp(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		pid := h.provider(t, "pro-1", 100)

		emergency := h.lead(t, "owner-1", marketplace.Budget1KTo5K, marketplace.UrgencyEmergency)
		res, err := h.engine.Claim(ctx, emergency.ID, pid)
		require.NoError(t, err)
		assert.EqualValues(t, 15, res.CreditsCharged)
		assert.EqualValues(t, 15, res.Claim.CreditsCost)

		odd := h.lead(t, "owner-1", marketplace.Budget5KTo15K, marketplace.UrgencyEmergency)
		res, err = h.engine.Claim(ctx, odd.ID, pid)
		require.NoError(t, err)
		assert.EqualValues(t, 23, res.CreditsCharged, "15 x 1.5 = 22.5 rounds up")

		assert.EqualValues(t, 62, h.balance(t, pid))
	})
}

func TestClaim_RecordsDebitOnClaim(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		pid := h.provider(t, "pro-1", 40)
		lead := h.lead(t, "owner-1", marketplace.BudgetOver50K, marketplace.UrgencyFlexible)

		res, err := h.engine.Claim(ctx, lead.ID, pid)
		require.NoError(t, err)

		history, err := h.ledger.History(ctx, pid)
		require.NoError(t, err)
		require.Len(t, history, 2)
		debit := history[1]
		assert.Equal(t, res.Claim.DebitTransactionID, debit.ID)
		assert.EqualValues(t, -25, debit.Delta)
		assert.Equal(t, ledger.ReasonLeadClaim, debit.Reason)
		assert.Equal(t, string(lead.ID), debit.Metadata.LeadID)
		assert.Equal(t, string(res.Claim.ID), debit.Metadata.ClaimID)

		claim, err := h.store.ClaimByPair(ctx, lead.ID, pid)
		require.NoError(t, err)
		require.NotNil(t, claim)
		assert.Equal(t, res.Claim.ID, claim.ID)
		assert.EqualValues(t, 25, claim.CreditsCost)
		assert.False(t, claim.QuoteSubmitted)
	})
}

// =============================================================================
// CLAIM - Rejections
// =============================================================================

func TestClaim_SixthClaimRejectedWithoutCharge(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: A full lead
		ctx := context.Background()
		lead := h.lead(t, "owner-1", marketplace.Budget1KTo5K, marketplace.UrgencyStandard)
		for i := 1; i <= 5; i++ {
			_, err := h.engine.Claim(ctx, lead.ID, h.provider(t, fmt.Sprintf("pro-%d", i), 100))
			require.NoError(t, err)
		}
		late := h.provider(t, "pro-late", 100)

		// WHEN: A sixth provider claims
		_, err := h.engine.Claim(ctx, lead.ID, late)

		// THEN: CapacityExceeded and the balance is untouched
		assert.ErrorIs(t, err, marketplace.ErrCapacityExceeded)
		assert.Equal(t, "capacity_exceeded", marketplace.Code(err))
		assert.EqualValues(t, 100, h.balance(t, late))
		history, _ := h.ledger.History(ctx, late)
		assert.Len(t, history, 1)
		assert.Equal(t, 5, h.getLead(t, lead.ID).ClaimCount)
	})
}

func TestClaim_InsufficientBalanceLeavesNoClaim(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: A provider with 5 credits and a 10 credit lead
		ctx := context.Background()
		pid := h.provider(t, "pro-1", 5)
		lead := h.lead(t, "owner-1", marketplace.Budget1KTo5K, marketplace.UrgencyStandard)

		// WHEN: Claiming
		_, err := h.engine.Claim(ctx, lead.ID, pid)

		// THEN: Rejected with nothing written
		assert.ErrorIs(t, err, marketplace.ErrInsufficientBalance)
		assert.Equal(t, "insufficient_balance", marketplace.Code(err))
		assert.EqualValues(t, 5, h.balance(t, pid))

		claim, err := h.store.ClaimByPair(ctx, lead.ID, pid)
		require.NoError(t, err)
		assert.Nil(t, claim)
		stored := h.getLead(t, lead.ID)
		assert.Equal(t, 0, stored.ClaimCount)
		assert.Equal(t, marketplace.StatusOpen, stored.Status)
	})
}

func TestClaim_SameProfessionalTwice(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		pid := h.provider(t, "pro-1", 100)
		lead := h.lead(t, "owner-1", marketplace.Budget1KTo5K, marketplace.UrgencyStandard)

		_, err := h.engine.Claim(ctx, lead.ID, pid)
		require.NoError(t, err)

		_, err = h.engine.Claim(ctx, lead.ID, pid)
		assert.ErrorIs(t, err, marketplace.ErrAlreadyClaimed)

		assert.EqualValues(t, 90, h.balance(t, pid))
		assert.Equal(t, 1, h.getLead(t, lead.ID).ClaimCount)
	})
}

func TestClaim_IneligibleProfessionals(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		lead := h.lead(t, "owner-1", marketplace.Budget1KTo5K, marketplace.UrgencyStandard)

		require.NoError(t, h.dir.SaveProfessional(ctx, marketplace.Professional{
			ID: "pro-pending", Role: marketplace.RoleProvider, VerificationStatus: marketplace.VerificationPending,
		}))
		require.NoError(t, h.dir.SaveProfessional(ctx, marketplace.Professional{
			ID: "home-1", Role: marketplace.RoleHomeowner, VerificationStatus: marketplace.VerificationApproved,
		}))

		tests := []struct {
			name string
			id   marketplace.ProfessionalID
		}{
			{"pending verification", "pro-pending"},
			{"homeowner role", "home-1"},
			{"not registered", "pro-ghost"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := h.engine.Claim(ctx, lead.ID, tt.id)
				assert.ErrorIs(t, err, marketplace.ErrNotEligible)
				assert.Equal(t, "not_eligible", marketplace.Code(err))
			})
		}
		assert.Equal(t, 0, h.getLead(t, lead.ID).ClaimCount)
	})
}

func TestClaim_UnknownLead(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		pid := h.provider(t, "pro-1", 100)

		_, err := h.engine.Claim(context.Background(), "lead-missing", pid)
		assert.ErrorIs(t, err, marketplace.ErrNotFound)

		_, err = h.engine.Claim(context.Background(), "", pid)
		assert.ErrorIs(t, err, marketplace.ErrInvalidInput)
	})
}

func TestClaim_CapacityCheckedBeforeDuplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: A full lead where pro-1 already holds a claim
		ctx := context.Background()
		lead := h.lead(t, "owner-1", marketplace.Budget1KTo5K, marketplace.UrgencyStandard)
		for i := 1; i <= 5; i++ {
			_, err := h.engine.Claim(ctx, lead.ID, h.provider(t, fmt.Sprintf("pro-%d", i), 100))
			require.NoError(t, err)
		}

		// WHEN: pro-1 claims again
		_, err := h.engine.Claim(ctx, lead.ID, "pro-1")

		// THEN: Capacity is reported first
		assert.ErrorIs(t, err, marketplace.ErrCapacityExceeded)
	})
}

func TestClaim_CancelledLeadIsInvalidState(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		pid := h.provider(t, "pro-1", 100)
		lead := h.lead(t, "owner-1", marketplace.Budget1KTo5K, marketplace.UrgencyStandard)
		_, err := h.engine.Cancel(ctx, lead.ID, "owner-1", "changed my mind entirely")
		require.NoError(t, err)

		_, err = h.engine.Claim(ctx, lead.ID, pid)
		assert.ErrorIs(t, err, marketplace.ErrInvalidState)
		var stateErr *marketplace.InvalidStateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, marketplace.StatusCancelled, stateErr.Status)
		assert.EqualValues(t, 100, h.balance(t, pid))
	})
}

// =============================================================================
// CLAIM - Concurrency
// =============================================================================

func TestClaim_ConcurrentClaimsNeverExceedCapacity(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: 12 funded providers racing for 5 slots
		ctx := context.Background()
		lead := h.lead(t, "owner-1", marketplace.Budget1KTo5K, marketplace.UrgencyStandard)
		const racers = 12
		pros := make([]marketplace.ProfessionalID, racers)
		for i := range pros {
			pros[i] = h.provider(t, fmt.Sprintf("pro-%02d", i), 100)
		}

		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			full      atomic.Int32
		)
		for _, pid := range pros {
			wg.Add(1)
			go func(pid marketplace.ProfessionalID) {
				defer wg.Done()
				_, err := h.engine.Claim(ctx, lead.ID, pid)
				switch {
				case err == nil:
					succeeded.Add(1)
				case assert.ErrorIs(t, err, marketplace.ErrCapacityExceeded):
					full.Add(1)
				}
			}(pid)
		}
		wg.Wait()

		// THEN: Exactly five win, the rest are rejected and not charged
		assert.EqualValues(t, 5, succeeded.Load())
		assert.EqualValues(t, racers-5, full.Load())

		stored := h.getLead(t, lead.ID)
		assert.Equal(t, 5, stored.ClaimCount)
		assert.Equal(t, marketplace.StatusFull, stored.Status)

		charged := 0
		for _, pid := range pros {
			switch h.balance(t, pid) {
			case 90:
				charged++
			case 100:
			default:
				t.Errorf("unexpected balance for %s", pid)
			}
		}
		assert.Equal(t, 5, charged)
		h.requireConsistent(t, lead.ID, pros...)
	})
}

func TestClaim_ConcurrentClaimsDrainBalanceExactly(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: One provider with 30 credits racing for six 10 credit leads
		ctx := context.Background()
		pid := h.provider(t, "pro-1", 30)
		leads := make([]marketplace.Lead, 6)
		for i := range leads {
			leads[i] = h.lead(t, "owner-1", marketplace.Budget1KTo5K, marketplace.UrgencyStandard)
		}

		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			broke     atomic.Int32
		)
		for _, l := range leads {
			wg.Add(1)
			go func(id marketplace.LeadID) {
				defer wg.Done()
				_, err := h.engine.Claim(ctx, id, pid)
				switch {
				case err == nil:
					succeeded.Add(1)
				case assert.ErrorIs(t, err, marketplace.ErrInsufficientBalance):
					broke.Add(1)
				}
			}(l.ID)
		}
		wg.Wait()

		assert.EqualValues(t, 3, succeeded.Load())
		assert.EqualValues(t, 3, broke.Load())
		assert.EqualValues(t, 0, h.balance(t, pid))

		claimed := 0
		for _, l := range leads {
			claimed += h.getLead(t, l.ID).ClaimCount
			h.requireConsistent(t, l.ID, pid)
		}
		assert.Equal(t, 3, claimed)
	})
}

// =============================================================================
// CLAIM - Retry on version conflict
// =============================================================================

func TestClaim_RetriesAfterVersionConflict(t *testing.T) {
	// GIVEN: A store whose first lead update loses a race
	ctx := context.Background()
	base := memory.NewMemory()
	store := &conflictingStore{TxStore: base}
	store.remaining.Store(1)
	h := newHarness(t, store, base, marketplace.DefaultConfig())

	pid := h.provider(t, "pro-1", 100)
	lead := h.lead(t, "owner-1", marketplace.Budget1KTo5K, marketplace.UrgencyStandard)

	// WHEN: Claiming
	res, err := h.engine.Claim(ctx, lead.ID, pid)

	// THEN: The rerun succeeds and charges once
	require.NoError(t, err)
	assert.Equal(t, 1, res.Lead.ClaimCount)
	assert.EqualValues(t, 90, h.balance(t, pid))
	history, _ := h.ledger.History(ctx, pid)
	assert.Len(t, history, 2)
}

func TestClaim_PersistentConflictIsTransient(t *testing.T) {
	ctx := context.Background()
	base := memory.NewMemory()
	store := &conflictingStore{TxStore: base}
	store.remaining.Store(100)
	h := newHarness(t, store, base, marketplace.DefaultConfig())

	pid := h.provider(t, "pro-1", 100)
	lead := h.lead(t, "owner-1", marketplace.Budget1KTo5K, marketplace.UrgencyStandard)

	_, err := h.engine.Claim(ctx, lead.ID, pid)

	require.Error(t, err)
	assert.True(t, marketplace.IsTransient(err))
	assert.ErrorIs(t, err, marketplace.ErrConcurrentModification)
	assert.Equal(t, "transient", marketplace.Code(err))
	assert.EqualValues(t, 100, h.balance(t, pid))
	assert.Equal(t, 0, h.getLead(t, lead.ID).ClaimCount)
	assert.EqualValues(t, 97, store.remaining.Load(), "three attempts")
}
