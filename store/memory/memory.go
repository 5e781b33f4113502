// Package memory provides an in-memory store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/lead-engine/ledger"
	"github.com/warp/lead-engine/marketplace"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================
//
// Serialization: every atomic unit locks the leads and professionals it
// touches (one lock per lead, one per professional) and holds them until it
// commits or rolls back. Writes are buffered in the unit and published under
// a short store-wide mutex at commit. Units on different leads and
// professionals never wait for each other.
//
// Lock order: a unit locks at most one lead, first, then professionals.
// Callers that touch several professionals lock them in id order
// (marketplace.Engine.Cancel sorts claims for this).

type Memory struct {
	mu            sync.RWMutex
	leads         map[marketplace.LeadID]marketplace.Lead
	claims        map[marketplace.LeadID][]marketplace.Claim
	accounts      map[ledger.ProfessionalID]ledger.Account
	transactions  map[ledger.ProfessionalID][]ledger.Transaction
	keys          map[string]ledger.Transaction
	professionals map[ledger.ProfessionalID]marketplace.Professional

	locks *lockTable
}

func NewMemory() *Memory {
	return &Memory{
		leads:         make(map[marketplace.LeadID]marketplace.Lead),
		claims:        make(map[marketplace.LeadID][]marketplace.Claim),
		accounts:      make(map[ledger.ProfessionalID]ledger.Account),
		transactions:  make(map[ledger.ProfessionalID][]ledger.Transaction),
		keys:          make(map[string]ledger.Transaction),
		professionals: make(map[ledger.ProfessionalID]marketplace.Professional),
		locks:         &lockTable{sems: make(map[string]chan struct{})},
	}
}

// =============================================================================
// TRANSACTIONAL STORE (marketplace.TxStore)
// =============================================================================

// WithTx runs fn as one atomic unit.
func (m *Memory) WithTx(ctx context.Context, fn func(tx marketplace.Tx) error) error {
	tx := newMemTx(m)
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// ExpireDue expires each due lead in its own unit, so the sweep only ever
// holds one lead lock at a time.
func (m *Memory) ExpireDue(ctx context.Context, now time.Time) ([]marketplace.LeadID, error) {
	m.mu.RLock()
	var candidates []marketplace.LeadID
	for id, lead := range m.leads {
		if lead.Status.Expirable() && !lead.ExpiresAt.After(now) {
			candidates = append(candidates, id)
		}
	}
	m.mu.RUnlock()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	var expired []marketplace.LeadID
	for _, id := range candidates {
		changed := false
		err := m.WithTx(ctx, func(tx marketplace.Tx) error {
			lead, err := tx.GetLead(ctx, id)
			if err != nil {
				return err
			}
			// Re-check under the lead lock; a claim or cancel may have won.
			if !lead.Status.Expirable() || lead.ExpiresAt.After(now) {
				return nil
			}
			lead.Status = marketplace.StatusExpired
			lead.UpdatedAt = now
			changed = true
			return tx.UpdateLead(ctx, lead)
		})
		if err != nil {
			return expired, err
		}
		if changed {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

// =============================================================================
// LEADS & CLAIMS (each call is its own unit)
// =============================================================================

func (m *Memory) GetLead(_ context.Context, id marketplace.LeadID) (marketplace.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lead, ok := m.leads[id]
	if !ok {
		return marketplace.Lead{}, marketplace.ErrNotFound
	}
	return lead, nil
}

func (m *Memory) InsertLead(ctx context.Context, lead marketplace.Lead) error {
	return m.WithTx(ctx, func(tx marketplace.Tx) error { return tx.InsertLead(ctx, lead) })
}

func (m *Memory) UpdateLead(ctx context.Context, lead marketplace.Lead) error {
	return m.WithTx(ctx, func(tx marketplace.Tx) error { return tx.UpdateLead(ctx, lead) })
}

func (m *Memory) ListLeads(_ context.Context, filter marketplace.LeadFilter) ([]marketplace.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLeadsLocked(filter), nil
}

func (m *Memory) listLeadsLocked(filter marketplace.LeadFilter) []marketplace.Lead {
	var out []marketplace.Lead
	for _, lead := range m.leads {
		if filter.OwnerID != "" && lead.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && lead.Status != filter.Status {
			continue
		}
		out = append(out, lead)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (m *Memory) ClaimByPair(_ context.Context, leadID marketplace.LeadID, professionalID ledger.ProfessionalID) (*marketplace.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return findClaim(m.claims[leadID], professionalID), nil
}

func (m *Memory) InsertClaim(ctx context.Context, claim marketplace.Claim) error {
	return m.WithTx(ctx, func(tx marketplace.Tx) error { return tx.InsertClaim(ctx, claim) })
}

func (m *Memory) ClaimsByLead(_ context.Context, leadID marketplace.LeadID) ([]marketplace.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyClaims(m.claims[leadID]), nil
}

func (m *Memory) SetQuoteSubmitted(ctx context.Context, leadID marketplace.LeadID, professionalID ledger.ProfessionalID, submitted bool) error {
	return m.WithTx(ctx, func(tx marketplace.Tx) error {
		return tx.SetQuoteSubmitted(ctx, leadID, professionalID, submitted)
	})
}

// =============================================================================
// LEDGER (ledger.Store)
// =============================================================================

func (m *Memory) Apply(ctx context.Context, t ledger.Transaction) (ledger.Account, error) {
	var acct ledger.Account
	err := m.WithTx(ctx, func(tx marketplace.Tx) error {
		var err error
		acct, err = tx.Apply(ctx, t)
		return err
	})
	return acct, err
}

func (m *Memory) Account(_ context.Context, professionalID ledger.ProfessionalID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountLocked(professionalID), nil
}

// AccountIDs lists every professional holding a credit account.
func (m *Memory) AccountIDs(_ context.Context) ([]ledger.ProfessionalID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]ledger.ProfessionalID, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) accountLocked(professionalID ledger.ProfessionalID) ledger.Account {
	acct, ok := m.accounts[professionalID]
	if !ok {
		return ledger.Account{ProfessionalID: professionalID}
	}
	return acct
}

func (m *Memory) TransactionByKey(_ context.Context, key string) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.keys[key]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) Transactions(_ context.Context, professionalID ledger.ProfessionalID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.Transaction, len(m.transactions[professionalID]))
	copy(out, m.transactions[professionalID])
	return out, nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveProfessional(_ context.Context, p marketplace.Professional) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.professionals[p.ID] = p
	return nil
}

func (m *Memory) Professional(_ context.Context, id ledger.ProfessionalID) (marketplace.Professional, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.professionals[id]
	if !ok {
		return marketplace.Professional{}, marketplace.ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListProfessionals(_ context.Context) ([]marketplace.Professional, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]marketplace.Professional, 0, len(m.professionals))
	for _, p := range m.professionals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func findClaim(claims []marketplace.Claim, professionalID ledger.ProfessionalID) *marketplace.Claim {
	for _, c := range claims {
		if c.ProfessionalID == professionalID {
			c := c
			return &c
		}
	}
	return nil
}

func copyClaims(claims []marketplace.Claim) []marketplace.Claim {
	out := make([]marketplace.Claim, len(claims))
	copy(out, claims)
	return out
}
