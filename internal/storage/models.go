package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertCondition is the direction a user alert fires in.
type AlertCondition string

const (
	// ConditionAbove fires once the price reaches or exceeds the target.
	ConditionAbove AlertCondition = "above"
	// ConditionBelow fires once the price reaches or falls below the target.
	ConditionBelow AlertCondition = "below"
)

// Valid reports whether the condition is a known value.
func (c AlertCondition) Valid() bool {
	return c == ConditionAbove || c == ConditionBelow
}

// Token is a tracked asset, unique per (address, chain). Symbol, name and
// decimals stay at their placeholder values until metadata resolves.
type Token struct {
	ID        int64
	Address   string
	Chain     string
	Symbol    string
	Name      string
	Decimals  *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PriceObservation is one append-only USD price sample for a token.
type PriceObservation struct {
	ID               int64
	TokenID          int64
	USDPrice         decimal.Decimal
	Timestamp        time.Time
	PercentChange1h  *decimal.Decimal
	PercentChange24h *decimal.Decimal
	CreatedAt        time.Time
}

// PricePage is one page of observations with the total count for the window.
type PricePage struct {
	Observations []PriceObservation
	Total        int64
	Page         int
	Limit        int
}

// UserPriceAlert is a standing target-price request. It references its token
// by (address, chain) value since it may predate the Token row.
type UserPriceAlert struct {
	ID           int64
	TokenAddress string
	Chain        string
	TargetPrice  decimal.Decimal
	Condition    AlertCondition
	UserEmail    string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SignificantAlertConfig holds one chain's significant-change policy.
type SignificantAlertConfig struct {
	ID               int64
	Chain            string
	ThresholdPct     decimal.Decimal
	TimeFrameMinutes int
	RecipientEmail   string
	LastCheckedAt    time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SignificantAlertDefaults seed a chain's config on first access.
type SignificantAlertDefaults struct {
	ThresholdPct     decimal.Decimal
	TimeFrameMinutes int
	RecipientEmail   string
}
