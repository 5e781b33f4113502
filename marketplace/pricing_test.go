package marketplace

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lead-engine/ledger"
)

func TestDefaultPriceTable_Cost(t *testing.T) {
	pt := DefaultPriceTable()

	tests := []struct {
		bracket BudgetBracket
		urgency Urgency
		want    ledger.Credits
	}{
		{BudgetUnder1K, UrgencyFlexible, 5},
		{Budget1KTo5K, UrgencyStandard, 10},
		{Budget5KTo15K, UrgencyUrgent, 15},
		{Budget15KTo50K, UrgencyStandard, 20},
		{BudgetOver50K, UrgencyFlexible, 25},
		{BudgetUnder1K, UrgencyEmergency, 8},
		{Budget1KTo5K, UrgencyEmergency, 15},
		{Budget5KTo15K, UrgencyEmergency, 23},
		{Budget15KTo50K, UrgencyEmergency, 30},
		{BudgetOver50K, UrgencyEmergency, 38},
	}
	for _, tt := range tests {
		t.Run(string(tt.bracket)+"/"+string(tt.urgency), func(t *testing.T) {
			got, err := pt.Cost(tt.bracket, tt.urgency)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := pt.Cost("priceless", UrgencyStandard)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPriceTable_KeepsOrderAndMultipliers(t *testing.T) {
	pt := DefaultPriceTable()

	brackets := pt.Brackets()
	require.Len(t, brackets, 5)
	assert.Equal(t, BudgetUnder1K, brackets[0].Bracket)
	assert.Equal(t, BudgetOver50K, brackets[4].Bracket)

	brackets[0].Credits = 999
	cost, _ := pt.Cost(BudgetUnder1K, UrgencyStandard)
	assert.EqualValues(t, 5, cost, "Brackets returns a copy")

	assert.True(t, pt.Multiplier(UrgencyEmergency).Equal(decimal.RequireFromString("1.5")))
	assert.True(t, pt.Multiplier(UrgencyUrgent).Equal(decimal.NewFromInt(1)))
	assert.True(t, pt.HasBracket(Budget5KTo15K))
	assert.False(t, pt.HasBracket("5k-15k"))
}

func TestNewPriceTable_Rejects(t *testing.T) {
	one := decimal.NewFromInt(1)
	tests := []struct {
		name        string
		brackets    []BracketCost
		multipliers map[Urgency]decimal.Decimal
	}{
		{"no brackets", nil, nil},
		{"empty name", []BracketCost{{Bracket: "", Credits: 1}}, nil},
		{"duplicate", []BracketCost{{Bracket: "a", Credits: 1}, {Bracket: "a", Credits: 2}}, nil},
		{"free bracket", []BracketCost{{Bracket: "a", Credits: 0}}, nil},
		{"discount multiplier", []BracketCost{{Bracket: "a", Credits: 1}},
			map[Urgency]decimal.Decimal{UrgencyFlexible: one.Div(decimal.NewFromInt(2))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPriceTable(tt.brackets, tt.multipliers)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestValidUrgency(t *testing.T) {
	for _, u := range []Urgency{UrgencyFlexible, UrgencyStandard, UrgencyUrgent, UrgencyEmergency} {
		assert.True(t, ValidUrgency(u), u)
	}
	assert.False(t, ValidUrgency("asap"))
	assert.False(t, ValidUrgency(""))
}
