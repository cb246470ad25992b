package withdrawal

import (
	"github.com/shopspring/decimal"
	"github.com/sol1corejz/affiliate-ledger/internal/apperrors"
)

const (
	// maxIntegerDigits matches the DECIMAL(12, 2) money columns.
	maxIntegerDigits = 10
	// maxScale bounds trailing zeros such as "60.000" before rounding.
	maxScale = 12
)

// ValidateAmount checks a requested amount using only its coefficient and
// exponent, so values like 1e100000000 are refused before any rescaling
// arithmetic runs on them.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.Invalid("Amount must be positive")
	}

	exp := int(amount.Exponent())
	if exp < -maxScale {
		return apperrors.Invalid("Amount must have at most two decimal places")
	}
	if amount.NumDigits()+exp > maxIntegerDigits {
		return apperrors.Invalid("Amount exceeds the maximum withdrawal")
	}
	if exp < -2 && !amount.Equal(amount.Round(2)) {
		return apperrors.Invalid("Amount must have at most two decimal places")
	}
	return nil
}
