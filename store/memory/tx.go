package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/warp/lead-engine/ledger"
	"github.com/warp/lead-engine/marketplace"
)

var errLeadExists = errors.New("lead already exists")

var (
	_ marketplace.TxStore   = (*Memory)(nil)
	_ marketplace.Tx        = (*memTx)(nil)
	_ marketplace.Directory = (*Memory)(nil)
)

// =============================================================================
// LOCK TABLE - One binary semaphore per lead / professional
// =============================================================================

type lockTable struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func (lt *lockTable) sem(key string) chan struct{} {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	s, ok := lt.sems[key]
	if !ok {
		s = make(chan struct{}, 1)
		lt.sems[key] = s
	}
	return s
}

func (lt *lockTable) acquire(ctx context.Context, key string) error {
	select {
	case lt.sem(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (lt *lockTable) release(key string) {
	<-lt.sem(key)
}

// =============================================================================
// MEMORY TX - Buffered unit of work
// =============================================================================

type memTx struct {
	m    *Memory
	held []string

	// Working copies of locked records. A nil lead pointer means the lead
	// did not exist when it was locked.
	leads       map[marketplace.LeadID]*marketplace.Lead
	claims      map[marketplace.LeadID][]marketplace.Claim
	dirtyLeads  map[marketplace.LeadID]bool
	dirtyClaims map[marketplace.LeadID]bool

	accounts map[ledger.ProfessionalID]*ledger.Account
	pending  []ledger.Transaction
	newKeys  map[string]ledger.Transaction
}

func newMemTx(m *Memory) *memTx {
	return &memTx{
		m:           m,
		leads:       make(map[marketplace.LeadID]*marketplace.Lead),
		claims:      make(map[marketplace.LeadID][]marketplace.Claim),
		dirtyLeads:  make(map[marketplace.LeadID]bool),
		dirtyClaims: make(map[marketplace.LeadID]bool),
		accounts:    make(map[ledger.ProfessionalID]*ledger.Account),
		newKeys:     make(map[string]ledger.Transaction),
	}
}

func (tx *memTx) lockLead(ctx context.Context, id marketplace.LeadID) error {
	if _, ok := tx.leads[id]; ok {
		return nil
	}
	key := "lead:" + string(id)
	if err := tx.m.locks.acquire(ctx, key); err != nil {
		return err
	}
	tx.held = append(tx.held, key)

	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	if lead, ok := tx.m.leads[id]; ok {
		tx.leads[id] = &lead
	} else {
		tx.leads[id] = nil
	}
	tx.claims[id] = copyClaims(tx.m.claims[id])
	return nil
}

func (tx *memTx) lockProfessional(ctx context.Context, id ledger.ProfessionalID) error {
	if _, ok := tx.accounts[id]; ok {
		return nil
	}
	key := "pro:" + string(id)
	if err := tx.m.locks.acquire(ctx, key); err != nil {
		return err
	}
	tx.held = append(tx.held, key)

	tx.m.mu.RLock()
	acct := tx.m.accountLocked(id)
	tx.m.mu.RUnlock()
	tx.accounts[id] = &acct
	return nil
}

func (tx *memTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.m.locks.release(tx.held[i])
	}
	tx.held = nil
}

// commit publishes every buffered write at once.
func (tx *memTx) commit() error {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	// Keys are checked again: a key can be claimed by a unit that locked a
	// different professional.
	for key := range tx.newKeys {
		if _, exists := m.keys[key]; exists {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}

	for id := range tx.dirtyLeads {
		m.leads[id] = *tx.leads[id]
	}
	for id := range tx.dirtyClaims {
		m.claims[id] = tx.claims[id]
	}
	for _, t := range tx.pending {
		m.transactions[t.ProfessionalID] = append(m.transactions[t.ProfessionalID], t)
		m.accounts[t.ProfessionalID] = *tx.accounts[t.ProfessionalID]
		if t.IdempotencyKey != "" {
			m.keys[t.IdempotencyKey] = t
		}
	}
	return nil
}

// =============================================================================
// marketplace.LeadStore
// =============================================================================

func (tx *memTx) GetLead(ctx context.Context, id marketplace.LeadID) (marketplace.Lead, error) {
	if err := tx.lockLead(ctx, id); err != nil {
		return marketplace.Lead{}, err
	}
	lead := tx.leads[id]
	if lead == nil {
		return marketplace.Lead{}, marketplace.ErrNotFound
	}
	return *lead, nil
}

func (tx *memTx) InsertLead(ctx context.Context, lead marketplace.Lead) error {
	if err := tx.lockLead(ctx, lead.ID); err != nil {
		return err
	}
	if tx.leads[lead.ID] != nil {
		return errLeadExists
	}
	tx.leads[lead.ID] = &lead
	tx.dirtyLeads[lead.ID] = true
	return nil
}

func (tx *memTx) UpdateLead(ctx context.Context, lead marketplace.Lead) error {
	if err := tx.lockLead(ctx, lead.ID); err != nil {
		return err
	}
	current := tx.leads[lead.ID]
	if current == nil {
		return marketplace.ErrNotFound
	}
	if current.Version != lead.Version {
		return marketplace.ErrConcurrentModification
	}
	lead.Version++
	tx.leads[lead.ID] = &lead
	tx.dirtyLeads[lead.ID] = true
	return nil
}

func (tx *memTx) ListLeads(ctx context.Context, filter marketplace.LeadFilter) ([]marketplace.Lead, error) {
	return tx.m.ListLeads(ctx, filter)
}

// =============================================================================
// marketplace.ClaimStore
// =============================================================================

func (tx *memTx) ClaimByPair(ctx context.Context, leadID marketplace.LeadID, professionalID ledger.ProfessionalID) (*marketplace.Claim, error) {
	if err := tx.lockLead(ctx, leadID); err != nil {
		return nil, err
	}
	return findClaim(tx.claims[leadID], professionalID), nil
}

func (tx *memTx) InsertClaim(ctx context.Context, claim marketplace.Claim) error {
	if err := tx.lockLead(ctx, claim.LeadID); err != nil {
		return err
	}
	if findClaim(tx.claims[claim.LeadID], claim.ProfessionalID) != nil {
		return marketplace.ErrAlreadyClaimed
	}
	tx.claims[claim.LeadID] = append(tx.claims[claim.LeadID], claim)
	tx.dirtyClaims[claim.LeadID] = true
	return nil
}

func (tx *memTx) ClaimsByLead(ctx context.Context, leadID marketplace.LeadID) ([]marketplace.Claim, error) {
	if err := tx.lockLead(ctx, leadID); err != nil {
		return nil, err
	}
	return copyClaims(tx.claims[leadID]), nil
}

func (tx *memTx) SetQuoteSubmitted(ctx context.Context, leadID marketplace.LeadID, professionalID ledger.ProfessionalID, submitted bool) error {
	if err := tx.lockLead(ctx, leadID); err != nil {
		return err
	}
	claims := tx.claims[leadID]
	for i := range claims {
		if claims[i].ProfessionalID == professionalID {
			claims[i].QuoteSubmitted = submitted
			tx.dirtyClaims[leadID] = true
			return nil
		}
	}
	return marketplace.ErrNotFound
}

// =============================================================================
// ledger.Store
// =============================================================================

func (tx *memTx) Apply(ctx context.Context, t ledger.Transaction) (ledger.Account, error) {
	if err := tx.lockProfessional(ctx, t.ProfessionalID); err != nil {
		return ledger.Account{}, err
	}

	if t.IdempotencyKey != "" {
		if _, ok := tx.newKeys[t.IdempotencyKey]; ok {
			return ledger.Account{}, ledger.ErrDuplicateIdempotencyKey
		}
		tx.m.mu.RLock()
		_, exists := tx.m.keys[t.IdempotencyKey]
		tx.m.mu.RUnlock()
		if exists {
			return ledger.Account{}, ledger.ErrDuplicateIdempotencyKey
		}
	}

	acct := tx.accounts[t.ProfessionalID]
	next := acct.Balance + t.Delta
	if next < 0 {
		return ledger.Account{}, &ledger.InsufficientBalanceError{
			ProfessionalID: t.ProfessionalID,
			Available:      acct.Balance,
			Requested:      -t.Delta,
		}
	}

	acct.Balance = next
	acct.Version++
	acct.UpdatedAt = t.CreatedAt
	t.BalanceAfter = next

	tx.pending = append(tx.pending, t)
	if t.IdempotencyKey != "" {
		tx.newKeys[t.IdempotencyKey] = t
	}
	return *acct, nil
}

func (tx *memTx) Account(ctx context.Context, professionalID ledger.ProfessionalID) (ledger.Account, error) {
	if err := tx.lockProfessional(ctx, professionalID); err != nil {
		return ledger.Account{}, err
	}
	return *tx.accounts[professionalID], nil
}

func (tx *memTx) TransactionByKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	if t, ok := tx.newKeys[key]; ok {
		return &t, nil
	}
	return tx.m.TransactionByKey(ctx, key)
}

func (tx *memTx) Transactions(ctx context.Context, professionalID ledger.ProfessionalID) ([]ledger.Transaction, error) {
	if err := tx.lockProfessional(ctx, professionalID); err != nil {
		return nil, err
	}
	out, _ := tx.m.Transactions(ctx, professionalID)
	for _, t := range tx.pending {
		if t.ProfessionalID == professionalID {
			out = append(out, t)
		}
	}
	return out, nil
}
