package withdrawal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sol1corejz/affiliate-ledger/internal/apperrors"
	"github.com/stretchr/testify/assert"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{name: "whole", amount: "60"},
		{name: "cents", amount: "60.25"},
		{name: "trailing zeros", amount: "60.000"},
		{name: "largest column value", amount: "9999999999.99"},
		{name: "zero", amount: "0", wantErr: true},
		{name: "negative", amount: "-5", wantErr: true},
		{name: "three decimals", amount: "60.123", wantErr: true},
		{name: "eleven integer digits", amount: "10000000000", wantErr: true},
		{name: "huge exponent", amount: "1e100000000", wantErr: true},
		{name: "tiny exponent", amount: "1e-100000000", wantErr: true},
		{name: "tiny scaled back up", amount: "1000000000000000e-13", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			err := ValidateAmount(decimal.RequireFromString(tt.amount))
			assert.Less(t, time.Since(start), time.Second)

			if tt.wantErr {
				assert.Equal(t, apperrors.Validation, apperrors.KindOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}
