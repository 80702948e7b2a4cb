package provider

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is one USD price sample reported by the provider. QuotedAt is
// the provider's quote time, not the ingestion time.
type PriceQuote struct {
	TokenAddress     string
	USDPrice         decimal.Decimal
	QuotedAt         time.Time
	PercentChange1h  *decimal.Decimal
	PercentChange24h *decimal.Decimal
}

// Metadata describes a token as known to the provider.
type Metadata struct {
	Address  string
	Symbol   string
	Name     string
	Decimals *int
}

// BatchResult is the per-address outcome of a batched price lookup. A batch
// never fails as a whole because of one address; each entry carries either a
// quote or its own error.
type BatchResult struct {
	Address string
	Quote   *PriceQuote
	Err     error
}
