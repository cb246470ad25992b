package withdrawal

import "github.com/shopspring/decimal"

// FeePolicy is a fixed amount plus a percentage of the requested amount.
// The zero value charges nothing.
type FeePolicy struct {
	Fixed   decimal.Decimal
	Percent decimal.Decimal
}

func (p FeePolicy) FeeFor(amount decimal.Decimal) decimal.Decimal {
	fee := p.Fixed
	if !p.Percent.IsZero() {
		fee = fee.Add(amount.Mul(p.Percent).Div(decimal.NewFromInt(100)))
	}
	if fee.IsNegative() {
		return decimal.Zero
	}
	return fee.Round(2)
}
