package marketplace_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/lead-engine/ledger"
	"github.com/warp/lead-engine/marketplace"
	"github.com/warp/lead-engine/store/memory"
	"github.com/warp/lead-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type registry interface {
	marketplace.Directory
	SaveProfessional(ctx context.Context, p marketplace.Professional) error
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine *marketplace.Engine
	store  marketplace.TxStore
	dir    registry
	clock  *fakeClock
	ledger *ledger.Ledger
}

// forEachStore runs fn once per store implementation with a fresh engine.
func forEachStore(t *testing.T, fn func(t *testing.T, h *harness)) {
	t.Run("memory", func(t *testing.T) {
		m := memory.NewMemory()
		fn(t, newHarness(t, m, m, marketplace.DefaultConfig()))
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, newHarness(t, s, s, marketplace.DefaultConfig()))
	})
}

func newHarness(t *testing.T, store marketplace.TxStore, dir registry, cfg marketplace.Config) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)}
	engine, err := marketplace.NewEngine(store, dir, cfg, marketplace.WithClock(clock.Now))
	require.NoError(t, err)
	return &harness{
		engine: engine,
		store:  store,
		dir:    dir,
		clock:  clock,
		ledger: ledger.New(store, ledger.WithClock(clock.Now)),
	}
}

// provider registers an approved provider holding credits.
func (h *harness) provider(t *testing.T, id string, credits ledger.Credits) marketplace.ProfessionalID {
	t.Helper()
	ctx := context.Background()
	pid := marketplace.ProfessionalID(id)
	require.NoError(t, h.dir.SaveProfessional(ctx, marketplace.Professional{
		ID:                 pid,
		Name:               id,
		Role:               marketplace.RoleProvider,
		VerificationStatus: marketplace.VerificationApproved,
	}))
	if credits > 0 {
		_, err := h.ledger.Grant(ctx, pid, credits, ledger.ReasonPurchase, ledger.Metadata{}, "")
		require.NoError(t, err)
	}
	return pid
}

func (h *harness) lead(t *testing.T, owner marketplace.UserID, budget marketplace.BudgetBracket, urgency marketplace.Urgency) marketplace.Lead {
	t.Helper()
	lead, err := h.engine.CreateLead(context.Background(), owner, marketplace.Content{
		Category:    "plumbing",
		Description: "Leaking water heater",
		Location:    "Austin, TX",
		Budget:      budget,
		Urgency:     urgency,
	})
	require.NoError(t, err)
	return lead
}

func (h *harness) balance(t *testing.T, pid marketplace.ProfessionalID) ledger.Credits {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), pid)
	require.NoError(t, err)
	return b
}

func (h *harness) getLead(t *testing.T, id marketplace.LeadID) marketplace.Lead {
	t.Helper()
	lead, err := h.engine.GetLead(context.Background(), id)
	require.NoError(t, err)
	return lead
}

// requireConsistent checks the ledger and lead invariants.
func (h *harness) requireConsistent(t *testing.T, leadID marketplace.LeadID, pros ...marketplace.ProfessionalID) {
	t.Helper()
	ctx := context.Background()
	for _, pid := range pros {
		v, err := h.ledger.Verify(ctx, pid)
		require.NoError(t, err)
		require.True(t, v.Consistent(), "balance of %s must equal the sum of its transactions", pid)
	}

	lead := h.getLead(t, leadID)
	require.GreaterOrEqual(t, lead.ClaimCount, 0)
	require.LessOrEqual(t, lead.ClaimCount, lead.MaxClaims)
	if lead.ClaimCount == lead.MaxClaims {
		require.NotEqual(t, marketplace.StatusOpen, lead.Status)
	}

	claims, err := h.store.ClaimsByLead(ctx, leadID)
	require.NoError(t, err)
	seen := make(map[marketplace.ProfessionalID]bool)
	for _, c := range claims {
		require.False(t, seen[c.ProfessionalID], "duplicate claim for %s", c.ProfessionalID)
		seen[c.ProfessionalID] = true
	}
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

var errDiskOnFire = errors.New("disk on fire")

// faultyStore fails ledger writes for one professional inside atomic units.
type faultyStore struct {
	marketplace.TxStore
	failRefundFor marketplace.ProfessionalID
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(tx marketplace.Tx) error) error {
	return f.TxStore.WithTx(ctx, func(tx marketplace.Tx) error {
		return fn(&faultyTx{Tx: tx, failRefundFor: f.failRefundFor})
	})
}

type faultyTx struct {
	marketplace.Tx
	failRefundFor marketplace.ProfessionalID
}

func (f *faultyTx) Apply(ctx context.Context, t ledger.Transaction) (ledger.Account, error) {
	if t.Type == ledger.TxRefund && t.ProfessionalID == f.failRefundFor {
		return ledger.Account{}, errDiskOnFire
	}
	return f.Tx.Apply(ctx, t)
}

// conflictingStore makes the first n lead updates inside units lose a race.
type conflictingStore struct {
	marketplace.TxStore
	remaining atomic.Int32
}

func (c *conflictingStore) WithTx(ctx context.Context, fn func(tx marketplace.Tx) error) error {
	return c.TxStore.WithTx(ctx, func(tx marketplace.Tx) error {
		return fn(&conflictingTx{Tx: tx, store: c})
	})
}

type conflictingTx struct {
	marketplace.Tx
	store *conflictingStore
}

func (c *conflictingTx) UpdateLead(ctx context.Context, lead marketplace.Lead) error {
	if c.store.remaining.Add(-1) >= 0 {
		return marketplace.ErrConcurrentModification
	}
	return c.Tx.UpdateLead(ctx, lead)
}
