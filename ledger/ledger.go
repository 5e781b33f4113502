package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMissingCorrelation is returned by Refund when the metadata cannot
// identify the claim being refunded.
var ErrMissingCorrelation = errors.New("refund requires lead and claim correlation")

// =============================================================================
// LEDGER - Spend / Refund / Grant over a Store
// =============================================================================

// Ledger is a stateless service over a Store. Build one per atomic unit
// when the Store is transaction-scoped.
type Ledger struct {
	store Store
	now   func() time.Time
}

type Option func(*Ledger)

// WithClock overrides time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Spend debits amount from the professional's balance.
//
// Fails with *InsufficientBalanceError (errors.Is ErrInsufficientBalance)
// when the balance is lower than amount. When meta names a lead, the debit is
// keyed by (lead, professional) and a second debit for the same pair fails
// with ErrDuplicateIdempotencyKey.
func (l *Ledger) Spend(ctx context.Context, professionalID ProfessionalID, amount Credits, reason Reason, meta Metadata) (Receipt, error) {
	if err := validate(professionalID, amount); err != nil {
		return Receipt{}, err
	}

	var key string
	if meta.LeadID != "" {
		key = SpendKey(meta.LeadID, professionalID)
	}

	return l.apply(ctx, Transaction{
		ProfessionalID: professionalID,
		Type:           TxSpend,
		Delta:          -amount,
		Reason:         reason,
		Metadata:       meta,
		IdempotencyKey: key,
	})
}

// Refund credits amount back for a claim. It is idempotent per
// (meta.LeadID, meta.ClaimID): a repeated refund returns the original
// transaction with Replayed set and does not touch the balance.
func (l *Ledger) Refund(ctx context.Context, professionalID ProfessionalID, amount Credits, reason Reason, meta Metadata) (Receipt, error) {
	if err := validate(professionalID, amount); err != nil {
		return Receipt{}, err
	}
	if meta.LeadID == "" || meta.ClaimID == "" {
		return Receipt{}, ErrMissingCorrelation
	}

	key := RefundKey(meta.LeadID, meta.ClaimID)
	if receipt, ok, err := l.replay(ctx, key); err != nil || ok {
		return receipt, err
	}

	receipt, err := l.apply(ctx, Transaction{
		ProfessionalID: professionalID,
		Type:           TxRefund,
		Delta:          amount,
		Reason:         reason,
		Metadata:       meta,
		IdempotencyKey: key,
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// Lost a race with a concurrent refund for the same claim.
		if replayed, ok, rerr := l.replay(ctx, key); rerr == nil && ok {
			return replayed, nil
		}
	}
	return receipt, err
}

// Grant adds purchased or adjusted credits. A non-empty key makes the grant
// idempotent (e.g. a payment reference); a repeat returns Replayed.
func (l *Ledger) Grant(ctx context.Context, professionalID ProfessionalID, amount Credits, reason Reason, meta Metadata, key string) (Receipt, error) {
	if err := validate(professionalID, amount); err != nil {
		return Receipt{}, err
	}
	if key != "" {
		if receipt, ok, err := l.replay(ctx, key); err != nil || ok {
			return receipt, err
		}
	}

	txType := TxPurchase
	if reason == ReasonAdjustment {
		txType = TxAdjustment
	}
	return l.apply(ctx, Transaction{
		ProfessionalID: professionalID,
		Type:           txType,
		Delta:          amount,
		Reason:         reason,
		Metadata:       meta,
		IdempotencyKey: key,
	})
}

// Balance returns the professional's current balance.
func (l *Ledger) Balance(ctx context.Context, professionalID ProfessionalID) (Credits, error) {
	acct, err := l.store.Account(ctx, professionalID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// History returns the professional's transactions, oldest first.
func (l *Ledger) History(ctx context.Context, professionalID ProfessionalID) ([]Transaction, error) {
	return l.store.Transactions(ctx, professionalID)
}

// Verify recomputes the balance from the transaction log and compares it
// with the stored balance. It also checks every BalanceAfter running total.
func (l *Ledger) Verify(ctx context.Context, professionalID ProfessionalID) (Verification, error) {
	acct, err := l.store.Account(ctx, professionalID)
	if err != nil {
		return Verification{}, err
	}
	txs, err := l.store.Transactions(ctx, professionalID)
	if err != nil {
		return Verification{}, err
	}

	v := Verification{
		ProfessionalID:   professionalID,
		StoredBalance:    acct.Balance,
		TransactionCount: len(txs),
	}
	for _, tx := range txs {
		v.ComputedBalance += tx.Delta
		if tx.BalanceAfter != v.ComputedBalance {
			return v, fmt.Errorf("transaction %s: balance after %d, running total %d",
				tx.ID, tx.BalanceAfter, v.ComputedBalance)
		}
	}
	return v, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Ledger) apply(ctx context.Context, tx Transaction) (Receipt, error) {
	tx.ID = TransactionID(uuid.NewString())
	tx.CreatedAt = l.now().UTC()

	acct, err := l.store.Apply(ctx, tx)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{TransactionID: tx.ID, Balance: acct.Balance}, nil
}

func (l *Ledger) replay(ctx context.Context, key string) (Receipt, bool, error) {
	existing, err := l.store.TransactionByKey(ctx, key)
	if err != nil {
		return Receipt{}, false, err
	}
	if existing == nil {
		return Receipt{}, false, nil
	}
	acct, err := l.store.Account(ctx, existing.ProfessionalID)
	if err != nil {
		return Receipt{}, false, err
	}
	return Receipt{TransactionID: existing.ID, Balance: acct.Balance, Replayed: true}, true, nil
}

func validate(professionalID ProfessionalID, amount Credits) error {
	if professionalID == "" {
		return ErrMissingProfessional
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
