package marketplace

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/lead-engine/ledger"
)

// =============================================================================
// PRICE TABLE - Budget bracket → credit cost, urgency multipliers
// =============================================================================

// BracketCost maps one budget bracket to its base credit cost.
type BracketCost struct {
	Bracket BudgetBracket
	Credits ledger.Credits
}

// PriceTable is injected configuration. Brackets keep their given order.
// Urgencies without a multiplier cost the base price.
type PriceTable struct {
	brackets    []BracketCost
	index       map[BudgetBracket]ledger.Credits
	multipliers map[Urgency]decimal.Decimal
}

// NewPriceTable validates and builds a price table.
func NewPriceTable(brackets []BracketCost, multipliers map[Urgency]decimal.Decimal) (*PriceTable, error) {
	if len(brackets) == 0 {
		return nil, fmt.Errorf("%w: price table needs at least one bracket", ErrInvalidInput)
	}

	pt := &PriceTable{
		brackets:    make([]BracketCost, 0, len(brackets)),
		index:       make(map[BudgetBracket]ledger.Credits, len(brackets)),
		multipliers: make(map[Urgency]decimal.Decimal, len(multipliers)),
	}
	for _, b := range brackets {
		if b.Bracket == "" {
			return nil, fmt.Errorf("%w: empty bracket name", ErrInvalidInput)
		}
		if _, dup := pt.index[b.Bracket]; dup {
			return nil, fmt.Errorf("%w: duplicate bracket %q", ErrInvalidInput, b.Bracket)
		}
		if b.Credits <= 0 {
			return nil, fmt.Errorf("%w: bracket %q must cost at least 1 credit", ErrInvalidInput, b.Bracket)
		}
		pt.brackets = append(pt.brackets, b)
		pt.index[b.Bracket] = b.Credits
	}
	for u, m := range multipliers {
		if m.LessThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: multiplier for %q below 1", ErrInvalidInput, u)
		}
		pt.multipliers[u] = m
	}
	return pt, nil
}

// DefaultPriceTable is the platform's standard pricing.
func DefaultPriceTable() *PriceTable {
	pt, err := NewPriceTable(
		[]BracketCost{
			{Bracket: BudgetUnder1K, Credits: 5},
			{Bracket: Budget1KTo5K, Credits: 10},
			{Bracket: Budget5KTo15K, Credits: 15},
			{Bracket: Budget15KTo50K, Credits: 20},
			{Bracket: BudgetOver50K, Credits: 25},
		},
		map[Urgency]decimal.Decimal{
			UrgencyEmergency: decimal.RequireFromString("1.5"),
		},
	)
	if err != nil {
		panic(err)
	}
	return pt
}

// Cost returns the credits charged to claim a lead with the given content.
// Multiplied costs are rounded up to the next whole credit.
func (pt *PriceTable) Cost(bracket BudgetBracket, urgency Urgency) (ledger.Credits, error) {
	base, ok := pt.index[bracket]
	if !ok {
		return 0, fmt.Errorf("%w: unknown budget bracket %q", ErrInvalidInput, bracket)
	}

	m, ok := pt.multipliers[urgency]
	if !ok {
		return base, nil
	}
	cost := decimal.NewFromInt(int64(base)).Mul(m).Ceil()
	return ledger.Credits(cost.IntPart()), nil
}

// Brackets returns the ordered bracket table.
func (pt *PriceTable) Brackets() []BracketCost {
	out := make([]BracketCost, len(pt.brackets))
	copy(out, pt.brackets)
	return out
}

// HasBracket reports whether b is part of the enumeration.
func (pt *PriceTable) HasBracket(b BudgetBracket) bool {
	_, ok := pt.index[b]
	return ok
}

// Multiplier returns the factor applied for urgency (1 when none is set).
func (pt *PriceTable) Multiplier(u Urgency) decimal.Decimal {
	if m, ok := pt.multipliers[u]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

// ValidUrgency reports whether u is one of the fixed urgency levels.
func ValidUrgency(u Urgency) bool {
	switch u {
	case UrgencyFlexible, UrgencyStandard, UrgencyUrgent, UrgencyEmergency:
		return true
	}
	return false
}
