package marketplace_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lead-engine/marketplace"
)

// =============================================================================
// ACCEPT
// =============================================================================

func TestAccept_OwnerHiresClaimant(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		lead, pros := claimed(t, h, 2, marketplace.Budget1KTo5K)

		accepted, err := h.engine.Accept(ctx, lead.ID, "owner-1", pros[1])
		require.NoError(t, err)

		assert.Equal(t, marketplace.StatusAccepted, accepted.Status)
		assert.Equal(t, pros[1], accepted.AcceptedProfessionalID)
		stored := h.getLead(t, lead.ID)
		assert.Equal(t, marketplace.StatusAccepted, stored.Status)
		assert.Equal(t, pros[1], stored.AcceptedProfessionalID)
		assert.True(t, stored.Status.Terminal())

		// Terminal: no claims, no second acceptance
		late := h.provider(t, "pro-late", 100)
		_, err = h.engine.Claim(ctx, lead.ID, late)
		assert.ErrorIs(t, err, marketplace.ErrInvalidState)
		_, err = h.engine.Accept(ctx, lead.ID, "owner-1", pros[0])
		assert.ErrorIs(t, err, marketplace.ErrInvalidState)
	})
}

func TestAccept_Rejections(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		lead, pros := claimed(t, h, 1, marketplace.Budget1KTo5K)
		outsider := h.provider(t, "pro-outsider", 100)

		_, err := h.engine.Accept(ctx, lead.ID, "someone-else", pros[0])
		assert.ErrorIs(t, err, marketplace.ErrForbidden)

		_, err = h.engine.Accept(ctx, lead.ID, "owner-1", outsider)
		assert.ErrorIs(t, err, marketplace.ErrNotFound)

		_, err = h.engine.Accept(ctx, "lead-missing", "owner-1", pros[0])
		assert.ErrorIs(t, err, marketplace.ErrNotFound)

		_, err = h.engine.Accept(ctx, lead.ID, "owner-1", "")
		assert.ErrorIs(t, err, marketplace.ErrInvalidInput)

		assert.Equal(t, marketplace.StatusOpen, h.getLead(t, lead.ID).Status)
	})
}

// =============================================================================
// QUOTES & CLAIM LISTING
// =============================================================================

func TestRecordQuote_FlagsClaim(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		lead, pros := claimed(t, h, 2, marketplace.Budget1KTo5K)

		require.NoError(t, h.engine.RecordQuote(ctx, lead.ID, pros[0]))

		claims, err := h.engine.ListClaims(ctx, lead.ID, "owner-1")
		require.NoError(t, err)
		require.Len(t, claims, 2)
		quoted := map[marketplace.ProfessionalID]bool{}
		for _, c := range claims {
			quoted[c.ProfessionalID] = c.QuoteSubmitted
		}
		assert.True(t, quoted[pros[0]])
		assert.False(t, quoted[pros[1]])

		err = h.engine.RecordQuote(ctx, lead.ID, "pro-outsider")
		assert.ErrorIs(t, err, marketplace.ErrNotFound)

		_, err = h.engine.Cancel(ctx, lead.ID, "owner-1", reason)
		require.NoError(t, err)
		err = h.engine.RecordQuote(ctx, lead.ID, pros[1])
		assert.ErrorIs(t, err, marketplace.ErrInvalidState)
	})
}

func TestListClaims_OwnerOnly(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		lead, pros := claimed(t, h, 3, marketplace.Budget5KTo15K)

		claims, err := h.engine.ListClaims(ctx, lead.ID, "owner-1")
		require.NoError(t, err)
		require.Len(t, claims, 3)
		for i, c := range claims {
			assert.Equal(t, pros[i], c.ProfessionalID, "oldest first")
			assert.EqualValues(t, 15, c.CreditsCost)
			assert.Equal(t, lead.ID, c.LeadID)
		}

		_, err = h.engine.ListClaims(ctx, lead.ID, "pro-1")
		assert.ErrorIs(t, err, marketplace.ErrForbidden)

		_, err = h.engine.ListClaims(ctx, "lead-missing", "owner-1")
		assert.ErrorIs(t, err, marketplace.ErrNotFound)
	})
}

// =============================================================================
// LEAD CREATION & LISTING
// =============================================================================

func TestCreateLead_Validation(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		valid := marketplace.Content{Category: "roofing", Budget: marketplace.Budget1KTo5K}

		tests := []struct {
			name    string
			owner   marketplace.UserID
			mutate  func(c *marketplace.Content)
			wantErr bool
		}{
			{"valid with default urgency", "owner-1", func(c *marketplace.Content) {}, false},
			{"missing owner", "", func(c *marketplace.Content) {}, true},
			{"missing category", "owner-1", func(c *marketplace.Content) { c.Category = " " }, true},
			{"unknown bracket", "owner-1", func(c *marketplace.Content) { c.Budget = "priceless" }, true},
			{"unknown urgency", "owner-1", func(c *marketplace.Content) { c.Urgency = "yesterday" }, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				content := valid
				tt.mutate(&content)
				lead, err := h.engine.CreateLead(ctx, tt.owner, content)
				if tt.wantErr {
					assert.ErrorIs(t, err, marketplace.ErrInvalidInput)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, marketplace.StatusOpen, lead.Status)
				assert.Equal(t, marketplace.UrgencyStandard, lead.Content.Urgency)
				assert.Equal(t, 5, lead.MaxClaims)
				assert.Equal(t, 0, lead.ClaimCount)
			})
		}
	})
}

func TestListLeads_Filters(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		a := h.lead(t, "owner-1", marketplace.Budget1KTo5K, marketplace.UrgencyStandard)
		h.lead(t, "owner-1", marketplace.BudgetUnder1K, marketplace.UrgencyStandard)
		h.lead(t, "owner-2", marketplace.BudgetOver50K, marketplace.UrgencyUrgent)
		_, err := h.engine.Cancel(ctx, a.ID, "owner-1", reason)
		require.NoError(t, err)

		all, err := h.engine.ListLeads(ctx, marketplace.LeadFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		mine, err := h.engine.ListLeads(ctx, marketplace.LeadFilter{OwnerID: "owner-1"})
		require.NoError(t, err)
		assert.Len(t, mine, 2)

		open, err := h.engine.ListLeads(ctx, marketplace.LeadFilter{Status: marketplace.StatusOpen})
		require.NoError(t, err)
		assert.Len(t, open, 2)

		limited, err := h.engine.ListLeads(ctx, marketplace.LeadFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		_, err = h.engine.ListLeads(ctx, marketplace.LeadFilter{Status: "bogus"})
		assert.ErrorIs(t, err, marketplace.ErrInvalidInput)

		_, err = h.engine.GetLead(ctx, "lead-missing")
		assert.ErrorIs(t, err, marketplace.ErrNotFound)
	})
}
