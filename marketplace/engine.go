package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/lead-engine/ledger"
	"github.com/warp/lead-engine/metrics"
)

// =============================================================================
// CONFIG
// =============================================================================

// Config is platform configuration, read-only to the engine.
type Config struct {
	MaxClaims    int
	ExpiryWindow time.Duration
	Pricing      *PriceTable

	// MaxAttempts bounds reruns of an atomic unit after ErrConcurrentModification.
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		MaxClaims:    5,
		ExpiryWindow: 7 * 24 * time.Hour,
		Pricing:      DefaultPriceTable(),
		MaxAttempts:  3,
	}
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the stateless service behind Claim, Cancel, ListClaims and
// SweepExpired. All state lives in the injected store.
type Engine struct {
	store     TxStore
	directory Directory
	cfg       Config
	now       func() time.Time
}

type Option func(*Engine)

// WithClock replaces time.Now (tests drive expiry with it).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store TxStore, directory Directory, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil || directory == nil {
		return nil, errors.New("engine requires a store and a directory")
	}
	if cfg.MaxClaims < 1 {
		return nil, fmt.Errorf("%w: max claims must be at least 1", ErrInvalidInput)
	}
	if cfg.ExpiryWindow <= 0 {
		return nil, fmt.Errorf("%w: expiry window must be positive", ErrInvalidInput)
	}
	if cfg.Pricing == nil {
		cfg.Pricing = DefaultPriceTable()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	e := &Engine{store: store, directory: directory, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Ledger returns a ledger over the engine's store (outside any lead unit).
func (e *Engine) Ledger() *ledger.Ledger {
	return ledger.New(e.store, ledger.WithClock(e.now))
}

// =============================================================================
// LEAD CREATION & READS
// =============================================================================

// CreateLead posts a new open lead owned by ownerID.
func (e *Engine) CreateLead(ctx context.Context, ownerID UserID, content Content) (Lead, error) {
	if strings.TrimSpace(string(ownerID)) == "" {
		return Lead{}, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(content.Category) == "" {
		return Lead{}, fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if !e.cfg.Pricing.HasBracket(content.Budget) {
		return Lead{}, fmt.Errorf("%w: unknown budget bracket %q", ErrInvalidInput, content.Budget)
	}
	if content.Urgency == "" {
		content.Urgency = UrgencyStandard
	}
	if !ValidUrgency(content.Urgency) {
		return Lead{}, fmt.Errorf("%w: unknown urgency %q", ErrInvalidInput, content.Urgency)
	}

	now := e.now().UTC()
	lead := Lead{
		ID:         LeadID(uuid.NewString()),
		OwnerID:    ownerID,
		Content:    content,
		Status:     StatusOpen,
		ClaimCount: 0,
		MaxClaims:  e.cfg.MaxClaims,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(e.cfg.ExpiryWindow),
		Version:    1,
	}
	if err := e.store.InsertLead(ctx, lead); err != nil {
		return Lead{}, &TransientError{Operation: "create lead", Err: err}
	}
	return lead, nil
}

func (e *Engine) GetLead(ctx context.Context, id LeadID) (Lead, error) {
	lead, err := e.store.GetLead(ctx, id)
	if err != nil {
		return Lead{}, classify("get lead", err)
	}
	return lead, nil
}

func (e *Engine) ListLeads(ctx context.Context, filter LeadFilter) ([]Lead, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	leads, err := e.store.ListLeads(ctx, filter)
	if err != nil {
		return nil, classify("list leads", err)
	}
	return leads, nil
}

// ListClaims returns the lead's claims. Only the lead's owner may list them.
func (e *Engine) ListClaims(ctx context.Context, leadID LeadID, requesterID UserID) ([]Claim, error) {
	lead, err := e.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, classify("list claims", err)
	}
	if lead.OwnerID != requesterID {
		return nil, fmt.Errorf("%w: only the lead owner may list claims", ErrForbidden)
	}
	claims, err := e.store.ClaimsByLead(ctx, leadID)
	if err != nil {
		return nil, classify("list claims", err)
	}
	return claims, nil
}

// =============================================================================
// ATOMIC UNITS
// =============================================================================

// atomically runs fn in one store transaction, rerunning it when a
// version-checked write lost a race. Domain errors pass through untouched;
// anything else is reported as transient.
func (e *Engine) atomically(ctx context.Context, op string, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		err = e.store.WithTx(ctx, fn)
		if !IsRetryable(err) {
			break
		}
		metrics.TxRetries.WithLabelValues(op).Inc()
		log.Printf("[Engine] %s: version conflict, attempt %d/%d", op, attempt, e.cfg.MaxAttempts)
	}
	return classify(op, err)
}

func classify(op string, err error) error {
	if err == nil || IsDomainError(err) || IsTransient(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TransientError{Operation: op, Err: err}
}
