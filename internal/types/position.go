package types

import "time"

// Position is the single open long position of an engine run.
// Quantity is always > 0 while the position exists; a missing position is
// represented by optional.None at the ledger level, never by a zero value.
type Position struct {
	EntryPrice float64   `json:"entry_price" yaml:"entry_price"`
	Quantity   float64   `json:"quantity" yaml:"quantity"`
	OpenedAt   time.Time `json:"opened_at" yaml:"opened_at"`
}

// Balance is the account state split into free quote currency and held base
// currency. For the simulated backend this is a virtual wallet; for the live
// backend it mirrors the exchange account and is read-only.
type Balance struct {
	QuoteFree float64 `json:"quote_free" yaml:"quote_free"`
	BaseHeld  float64 `json:"base_held" yaml:"base_held"`
}

// TotalAsset values the account at the given price.
func (b Balance) TotalAsset(currentPrice float64) float64 {
	return b.QuoteFree + b.BaseHeld*currentPrice
}

// Fill is the result of an executed market order. Both backends return the
// same shape so the engine never needs to know which one produced it.
type Fill struct {
	// OrderID is the exchange-assigned (or synthetic) identifier of the order.
	OrderID string `json:"order_id" yaml:"order_id"`
	// Price is the effective fill price.
	Price float64 `json:"price" yaml:"price"`
	// Quantity is the base-currency quantity bought or sold.
	Quantity float64 `json:"quantity" yaml:"quantity"`
	// Proceeds is the quote-currency amount moved: spent on buys, received on sells.
	Proceeds float64 `json:"proceeds" yaml:"proceeds"`
	// Time is when the fill was recorded.
	Time time.Time `json:"time" yaml:"time"`
}
