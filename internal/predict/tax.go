package predict

import (
	"github.com/shopspring/decimal"

	"github.com/mtlprog/taxledger/internal/domain"
)

// Bracket taxes the part of a gain up to UpTo at Rate. A zero UpTo marks the open top bracket.
type Bracket struct {
	UpTo decimal.Decimal
	Rate decimal.Decimal
}

// SavingsBrackets are the Spanish savings-base rates applied to capital gains.
var SavingsBrackets = []Bracket{
	{UpTo: decimal.NewFromInt(6000), Rate: decimal.RequireFromString("0.19")},
	{UpTo: decimal.NewFromInt(50000), Rate: decimal.RequireFromString("0.21")},
	{UpTo: decimal.NewFromInt(200000), Rate: decimal.RequireFromString("0.23")},
	{UpTo: decimal.NewFromInt(300000), Rate: decimal.RequireFromString("0.27")},
	{Rate: decimal.RequireFromString("0.28")},
}

// TaxOnGain applies brackets progressively. Losses and zero gains owe nothing.
func TaxOnGain(gain decimal.Decimal, brackets []Bracket) decimal.Decimal {
	if !gain.IsPositive() {
		return decimal.Zero
	}
	tax := decimal.Zero
	lower := decimal.Zero
	for _, b := range brackets {
		upper := b.UpTo
		if upper.IsZero() || gain.LessThan(upper) {
			upper = gain
		}
		if upper.GreaterThan(lower) {
			tax = tax.Add(upper.Sub(lower).Mul(b.Rate))
		}
		if upper.Equal(gain) {
			break
		}
		lower = upper
	}
	return domain.RoundEUR(tax)
}
