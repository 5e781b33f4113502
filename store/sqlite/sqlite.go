/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements marketplace.TxStore (leads, claims, credit ledger) and
  marketplace.Directory (professionals) on SQLite. The same SQL carries over
  to PostgreSQL with minor dialect changes.

KEY TABLES:
  leads:               Lead lifecycle state + content (version-checked updates)
  claims:              One row per (lead, professional), UNIQUE on the pair
  credit_accounts:     One balance per professional, CHECK (balance >= 0)
  credit_transactions: Append-only ledger, UNIQUE idempotency_key
  professionals:       Directory facts (role, verification status)

ATOMIC UNITS:
  WithTx opens one SQL transaction (BEGIN IMMEDIATE, see _txlock) and hands
  a transaction-scoped store to the callback. Ledger writes, claim inserts and
  lead updates made through it commit or roll back together.

CHECK-THEN-ACT:
  Balance checks are never a read followed by a write. A debit is a single
      UPDATE credit_accounts SET balance = balance + ? WHERE ... AND balance + ? >= 0
  and zero affected rows means insufficient balance. Lead updates are
      UPDATE leads ... WHERE id = ? AND version = ?

CONCURRENCY:
  SQLite has a single writer. The Store holds one connection and a
  sync.RWMutex: readers share, atomic units are serialized. Unrelated leads
  therefore queue behind each other here; a PostgreSQL deployment would rely
  on row locks instead.

USAGE:
  store, err := sqlite.New("./data/leads.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - marketplace/store.go: Interface definitions
  - ledger/store.go:      Ledger persistence contract
  - store/memory:         In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/warp/lead-engine/ledger"
	"github.com/warp/lead-engine/marketplace"
)

var (
	_ marketplace.TxStore   = (*Store)(nil)
	_ marketplace.Tx        = (*txStore)(nil)
	_ marketplace.Directory = (*Store)(nil)
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and SQLite
	// has one writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Leads
	CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT,
		location TEXT,
		budget TEXT NOT NULL,
		urgency TEXT NOT NULL,
		timeline TEXT,
		preferences TEXT,
		status TEXT NOT NULL,
		claim_count INTEGER NOT NULL DEFAULT 0,
		max_claims INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		cancel_reason TEXT,
		cancelled_at TEXT,
		accepted_professional_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		CHECK (claim_count >= 0 AND claim_count <= max_claims)
	);

	CREATE INDEX IF NOT EXISTS idx_leads_owner
		ON leads(owner_id);

	-- Sweeper hot path
	CREATE INDEX IF NOT EXISTS idx_leads_status_expires
		ON leads(status, expires_at);

	-- Claims
	CREATE TABLE IF NOT EXISTS claims (
		id TEXT PRIMARY KEY,
		lead_id TEXT NOT NULL REFERENCES leads(id),
		professional_id TEXT NOT NULL,
		credits_cost INTEGER NOT NULL CHECK (credits_cost > 0),
		debit_transaction_id TEXT,
		claimed_at TEXT NOT NULL,
		quote_submitted INTEGER NOT NULL DEFAULT 0
	);

	-- CRITICAL: one claim per (lead, professional)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_claims_unique_pair
		ON claims(lead_id, professional_id);

	CREATE INDEX IF NOT EXISTS idx_claims_professional
		ON claims(professional_id);

	-- Credit balances
	CREATE TABLE IF NOT EXISTS credit_accounts (
		professional_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	-- Credit transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS credit_transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		professional_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		delta INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		reason TEXT NOT NULL,
		lead_id TEXT,
		claim_id TEXT,
		note TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_transactions_professional
		ON credit_transactions(professional_id, seq);
	CREATE INDEX IF NOT EXISTS idx_credit_transactions_lead
		ON credit_transactions(lead_id) WHERE lead_id IS NOT NULL;

	-- Professionals (directory facts)
	CREATE TABLE IF NOT EXISTS professionals (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		verification_status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL STORE (marketplace.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx marketplace.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTxLocked(ctx, fn)
}

func (s *Store) withTxLocked(ctx context.Context, fn func(tx marketplace.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// ExpireDue moves due leads to expired in one statement.
func (s *Store) ExpireDue(ctx context.Context, now time.Time) ([]marketplace.LeadID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []marketplace.LeadID
	err := s.withTxLocked(ctx, func(tx marketplace.Tx) error {
		q := tx.(*txStore).tx
		cutoff := formatTime(now)

		rows, err := q.QueryContext(ctx, `
			SELECT id FROM leads
			WHERE expires_at <= ? AND status IN ('open', 'full', 'quoted')
			ORDER BY id
		`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to select due leads: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, marketplace.LeadID(id))
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		_, err = q.ExecContext(ctx, `
			UPDATE leads
			SET status = 'expired', updated_at = ?, version = version + 1
			WHERE expires_at <= ? AND status IN ('open', 'full', 'quoted')
		`, cutoff, cutoff)
		if err != nil {
			return fmt.Errorf("failed to expire leads: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetLead(ctx context.Context, id marketplace.LeadID) (marketplace.Lead, error) {
	return getLead(ctx, ts.tx, id)
}

func (ts *txStore) InsertLead(ctx context.Context, lead marketplace.Lead) error {
	return insertLead(ctx, ts.tx, lead)
}

func (ts *txStore) UpdateLead(ctx context.Context, lead marketplace.Lead) error {
	return updateLead(ctx, ts.tx, lead)
}

func (ts *txStore) ListLeads(ctx context.Context, filter marketplace.LeadFilter) ([]marketplace.Lead, error) {
	return listLeads(ctx, ts.tx, filter)
}

func (ts *txStore) ClaimByPair(ctx context.Context, leadID marketplace.LeadID, professionalID ledger.ProfessionalID) (*marketplace.Claim, error) {
	return claimByPair(ctx, ts.tx, leadID, professionalID)
}

func (ts *txStore) InsertClaim(ctx context.Context, claim marketplace.Claim) error {
	return insertClaim(ctx, ts.tx, claim)
}

func (ts *txStore) ClaimsByLead(ctx context.Context, leadID marketplace.LeadID) ([]marketplace.Claim, error) {
	return claimsByLead(ctx, ts.tx, leadID)
}

func (ts *txStore) SetQuoteSubmitted(ctx context.Context, leadID marketplace.LeadID, professionalID ledger.ProfessionalID, submitted bool) error {
	return setQuoteSubmitted(ctx, ts.tx, leadID, professionalID, submitted)
}

func (ts *txStore) Apply(ctx context.Context, t ledger.Transaction) (ledger.Account, error) {
	return applyTransaction(ctx, ts.tx, t)
}

func (ts *txStore) Account(ctx context.Context, professionalID ledger.ProfessionalID) (ledger.Account, error) {
	return account(ctx, ts.tx, professionalID)
}

func (ts *txStore) TransactionByKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	return transactionByKey(ctx, ts.tx, key)
}

func (ts *txStore) Transactions(ctx context.Context, professionalID ledger.ProfessionalID) ([]ledger.Transaction, error) {
	return transactions(ctx, ts.tx, professionalID)
}

// =============================================================================
// LEAD STORE
// =============================================================================

func (s *Store) GetLead(ctx context.Context, id marketplace.LeadID) (marketplace.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLead(ctx, s.db, id)
}

func (s *Store) InsertLead(ctx context.Context, lead marketplace.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertLead(ctx, s.db, lead)
}

func (s *Store) UpdateLead(ctx context.Context, lead marketplace.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateLead(ctx, s.db, lead)
}

func (s *Store) ListLeads(ctx context.Context, filter marketplace.LeadFilter) ([]marketplace.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLeads(ctx, s.db, filter)
}

const leadColumns = `id, owner_id, category, description, location, budget, urgency, timeline,
	preferences, status, claim_count, max_claims, created_at, updated_at, expires_at,
	cancel_reason, cancelled_at, accepted_professional_id, version`

func getLead(ctx context.Context, q querier, id marketplace.LeadID) (marketplace.Lead, error) {
	row := q.QueryRowContext(ctx, "SELECT "+leadColumns+" FROM leads WHERE id = ?", id)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return marketplace.Lead{}, marketplace.ErrNotFound
	}
	return lead, err
}

func insertLead(ctx context.Context, q querier, lead marketplace.Lead) error {
	query := `
		INSERT INTO leads (` + leadColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		lead.ID, lead.OwnerID,
		lead.Content.Category, lead.Content.Description, lead.Content.Location,
		lead.Content.Budget, lead.Content.Urgency, lead.Content.Timeline, lead.Content.Preferences,
		lead.Status, lead.ClaimCount, lead.MaxClaims,
		formatTime(lead.CreatedAt), formatTime(lead.UpdatedAt), formatTime(lead.ExpiresAt),
		nullString(lead.CancelReason), nullTime(lead.CancelledAt), nullString(string(lead.AcceptedProfessionalID)),
		lead.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lead: %w", err)
	}
	return nil
}

// updateLead writes the mutable lead fields if the stored version matches.
func updateLead(ctx context.Context, q querier, lead marketplace.Lead) error {
	res, err := q.ExecContext(ctx, `
		UPDATE leads SET
			status = ?, claim_count = ?, updated_at = ?,
			cancel_reason = ?, cancelled_at = ?, accepted_professional_id = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`,
		lead.Status, lead.ClaimCount, formatTime(lead.UpdatedAt),
		nullString(lead.CancelReason), nullTime(lead.CancelledAt), nullString(string(lead.AcceptedProfessionalID)),
		lead.ID, lead.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update lead: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	if _, err := getLead(ctx, q, lead.ID); err != nil {
		return err
	}
	return marketplace.ErrConcurrentModification
}

func listLeads(ctx context.Context, q querier, filter marketplace.LeadFilter) ([]marketplace.Lead, error) {
	var (
		where []string
		args  []any
	)
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := "SELECT " + leadColumns + " FROM leads"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []marketplace.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLead(row scanner) (marketplace.Lead, error) {
	var (
		lead                                      marketplace.Lead
		description, location, timeline, prefs    sql.NullString
		createdAt, updatedAt, expiresAt           string
		cancelReason, cancelledAt, acceptedProfID sql.NullString
	)

	err := row.Scan(
		&lead.ID, &lead.OwnerID, &lead.Content.Category, &description, &location,
		&lead.Content.Budget, &lead.Content.Urgency, &timeline, &prefs,
		&lead.Status, &lead.ClaimCount, &lead.MaxClaims,
		&createdAt, &updatedAt, &expiresAt,
		&cancelReason, &cancelledAt, &acceptedProfID, &lead.Version,
	)
	if err != nil {
		return lead, err
	}

	lead.Content.Description = description.String
	lead.Content.Location = location.String
	lead.Content.Timeline = timeline.String
	lead.Content.Preferences = prefs.String
	lead.CreatedAt = parseTime(createdAt)
	lead.UpdatedAt = parseTime(updatedAt)
	lead.ExpiresAt = parseTime(expiresAt)
	lead.CancelReason = cancelReason.String
	lead.AcceptedProfessionalID = ledger.ProfessionalID(acceptedProfID.String)
	if cancelledAt.Valid {
		t := parseTime(cancelledAt.String)
		lead.CancelledAt = &t
	}
	return lead, nil
}

// =============================================================================
// CLAIM STORE
// =============================================================================

func (s *Store) ClaimByPair(ctx context.Context, leadID marketplace.LeadID, professionalID ledger.ProfessionalID) (*marketplace.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return claimByPair(ctx, s.db, leadID, professionalID)
}

func (s *Store) InsertClaim(ctx context.Context, claim marketplace.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertClaim(ctx, s.db, claim)
}

func (s *Store) ClaimsByLead(ctx context.Context, leadID marketplace.LeadID) ([]marketplace.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return claimsByLead(ctx, s.db, leadID)
}

func (s *Store) SetQuoteSubmitted(ctx context.Context, leadID marketplace.LeadID, professionalID ledger.ProfessionalID, submitted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setQuoteSubmitted(ctx, s.db, leadID, professionalID, submitted)
}

const claimColumns = `id, lead_id, professional_id, credits_cost, debit_transaction_id, claimed_at, quote_submitted`

func claimByPair(ctx context.Context, q querier, leadID marketplace.LeadID, professionalID ledger.ProfessionalID) (*marketplace.Claim, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE lead_id = ? AND professional_id = ?",
		leadID, professionalID,
	)
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func insertClaim(ctx context.Context, q querier, c marketplace.Claim) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO claims (`+claimColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.LeadID, c.ProfessionalID, int64(c.CreditsCost),
		nullString(string(c.DebitTransactionID)), formatTime(c.ClaimedAt), c.QuoteSubmitted,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return marketplace.ErrAlreadyClaimed
		}
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

func claimsByLead(ctx context.Context, q querier, leadID marketplace.LeadID) ([]marketplace.Claim, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE lead_id = ? ORDER BY claimed_at ASC, rowid ASC",
		leadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var claims []marketplace.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func setQuoteSubmitted(ctx context.Context, q querier, leadID marketplace.LeadID, professionalID ledger.ProfessionalID, submitted bool) error {
	res, err := q.ExecContext(ctx,
		"UPDATE claims SET quote_submitted = ? WHERE lead_id = ? AND professional_id = ?",
		submitted, leadID, professionalID,
	)
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return marketplace.ErrNotFound
	}
	return nil
}

func scanClaim(row scanner) (marketplace.Claim, error) {
	var (
		c         marketplace.Claim
		cost      int64
		debitTxID sql.NullString
		claimedAt string
	)
	err := row.Scan(&c.ID, &c.LeadID, &c.ProfessionalID, &cost, &debitTxID, &claimedAt, &c.QuoteSubmitted)
	if err != nil {
		return c, err
	}
	c.CreditsCost = ledger.Credits(cost)
	c.DebitTransactionID = ledger.TransactionID(debitTxID.String)
	c.ClaimedAt = parseTime(claimedAt)
	return c, nil
}

// =============================================================================
// CREDIT LEDGER (ledger.Store interface)
// =============================================================================

// Apply runs as its own transaction when called outside WithTx.
func (s *Store) Apply(ctx context.Context, t ledger.Transaction) (ledger.Account, error) {
	var acct ledger.Account
	err := s.WithTx(ctx, func(tx marketplace.Tx) error {
		var err error
		acct, err = tx.Apply(ctx, t)
		return err
	})
	return acct, err
}

func (s *Store) Account(ctx context.Context, professionalID ledger.ProfessionalID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return account(ctx, s.db, professionalID)
}

func (s *Store) TransactionByKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionByKey(ctx, s.db, key)
}

func (s *Store) Transactions(ctx context.Context, professionalID ledger.ProfessionalID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactions(ctx, s.db, professionalID)
}

// AccountIDs lists every professional holding a credit account.
func (s *Store) AccountIDs(ctx context.Context) ([]ledger.ProfessionalID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT professional_id FROM credit_accounts ORDER BY professional_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var ids []ledger.ProfessionalID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, ledger.ProfessionalID(id))
	}
	return ids, rows.Err()
}

// applyTransaction moves the balance and appends the transaction. It must
// run inside a SQL transaction: a failed append leaves the balance change
// to the rollback.
func applyTransaction(ctx context.Context, q querier, t ledger.Transaction) (ledger.Account, error) {
	now := formatTime(t.CreatedAt)

	if t.Delta >= 0 {
		_, err := q.ExecContext(ctx, `
			INSERT INTO credit_accounts (professional_id, balance, version, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(professional_id) DO UPDATE SET
				balance = balance + excluded.balance,
				version = version + 1,
				updated_at = excluded.updated_at
		`, t.ProfessionalID, int64(t.Delta), now)
		if err != nil {
			return ledger.Account{}, fmt.Errorf("failed to credit account: %w", err)
		}
	} else {
		// Check and debit in one statement.
		res, err := q.ExecContext(ctx, `
			UPDATE credit_accounts
			SET balance = balance + ?, version = version + 1, updated_at = ?
			WHERE professional_id = ? AND balance + ? >= 0
		`, int64(t.Delta), now, t.ProfessionalID, int64(t.Delta))
		if err != nil {
			return ledger.Account{}, fmt.Errorf("failed to debit account: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return ledger.Account{}, err
		}
		if n == 0 {
			acct, err := account(ctx, q, t.ProfessionalID)
			if err != nil {
				return ledger.Account{}, err
			}
			return ledger.Account{}, &ledger.InsufficientBalanceError{
				ProfessionalID: t.ProfessionalID,
				Available:      acct.Balance,
				Requested:      -t.Delta,
			}
		}
	}

	acct, err := account(ctx, q, t.ProfessionalID)
	if err != nil {
		return ledger.Account{}, err
	}
	t.BalanceAfter = acct.Balance

	_, err = q.ExecContext(ctx, `
		INSERT INTO credit_transactions
			(id, professional_id, tx_type, delta, balance_after, reason,
			 lead_id, claim_id, note, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.ProfessionalID, t.Type, int64(t.Delta), int64(t.BalanceAfter), t.Reason,
		nullString(t.Metadata.LeadID), nullString(t.Metadata.ClaimID), nullString(t.Metadata.Note),
		nullString(t.IdempotencyKey), now,
	)
	if err != nil {
		if isIdempotencyKeyError(err) {
			return ledger.Account{}, ledger.ErrDuplicateIdempotencyKey
		}
		return ledger.Account{}, fmt.Errorf("failed to append transaction: %w", err)
	}
	return acct, nil
}

func account(ctx context.Context, q querier, professionalID ledger.ProfessionalID) (ledger.Account, error) {
	var (
		acct      = ledger.Account{ProfessionalID: professionalID}
		balance   int64
		updatedAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT balance, version, updated_at FROM credit_accounts WHERE professional_id = ?",
		professionalID,
	).Scan(&balance, &acct.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return acct, nil
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to read account: %w", err)
	}
	acct.Balance = ledger.Credits(balance)
	acct.UpdatedAt = parseTime(updatedAt)
	return acct, nil
}

const transactionColumns = `id, professional_id, tx_type, delta, balance_after, reason,
	lead_id, claim_id, note, idempotency_key, created_at`

func transactionByKey(ctx context.Context, q querier, key string) (*ledger.Transaction, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM credit_transactions WHERE idempotency_key = ?", key)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func transactions(ctx context.Context, q querier, professionalID ledger.ProfessionalID) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM credit_transactions WHERE professional_id = ? ORDER BY seq ASC",
		professionalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		t                     ledger.Transaction
		delta, balanceAfter   int64
		leadID, claimID, note sql.NullString
		idempotencyKey        sql.NullString
		createdAt             string
	)
	err := row.Scan(&t.ID, &t.ProfessionalID, &t.Type, &delta, &balanceAfter, &t.Reason,
		&leadID, &claimID, &note, &idempotencyKey, &createdAt)
	if err != nil {
		return t, err
	}
	t.Delta = ledger.Credits(delta)
	t.BalanceAfter = ledger.Credits(balanceAfter)
	t.Metadata = ledger.Metadata{LeadID: leadID.String, ClaimID: claimID.String, Note: note.String}
	t.IdempotencyKey = idempotencyKey.String
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

// =============================================================================
// DIRECTORY (marketplace.Directory interface)
// =============================================================================

// SaveProfessional inserts or replaces a directory entry.
func (s *Store) SaveProfessional(ctx context.Context, p marketplace.Professional) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO professionals (id, name, role, verification_status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			verification_status = excluded.verification_status
	`, p.ID, p.Name, p.Role, p.VerificationStatus, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save professional: %w", err)
	}
	return nil
}

func (s *Store) Professional(ctx context.Context, id ledger.ProfessionalID) (marketplace.Professional, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p marketplace.Professional
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, role, verification_status FROM professionals WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Role, &p.VerificationStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return marketplace.Professional{}, marketplace.ErrNotFound
	}
	if err != nil {
		return marketplace.Professional{}, fmt.Errorf("failed to read professional: %w", err)
	}
	return p, nil
}

func (s *Store) ListProfessionals(ctx context.Context) ([]marketplace.Professional, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, role, verification_status FROM professionals ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query professionals: %w", err)
	}
	defer rows.Close()

	var pros []marketplace.Professional
	for rows.Next() {
		var p marketplace.Professional
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.VerificationStatus); err != nil {
			return nil, err
		}
		pros = append(pros, p)
	}
	return pros, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isIdempotencyKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "credit_transactions.idempotency_key")
}
