package tracker

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignificantChange is emitted when a token's price moves by at least the
// configured threshold over the lookback window.
type SignificantChange struct {
	TokenID       int64
	TokenAddress  string
	Chain         string
	OldPrice      decimal.Decimal
	NewPrice      decimal.Decimal
	PercentChange decimal.Decimal
	ObservedAt    time.Time
}

// PercentChange computes (new-old)/old*100. The second return is false when
// the old price is zero; callers must skip the comparison rather than emit
// NaN or infinity.
func PercentChange(oldPrice, newPrice decimal.Decimal) (decimal.Decimal, bool) {
	if oldPrice.IsZero() {
		return decimal.Decimal{}, false
	}
	return newPrice.Sub(oldPrice).Div(oldPrice).Mul(decimal.NewFromInt(100)), true
}
