// Package marketdata fetches current and recent prices for one instrument.
// Sources are stateless and read-only; they never mutate trading state.
package marketdata

import (
	"context"

	"github.com/antigravity-lab/antigravity/internal/types"
)

// Source provides the price data one engine tick needs. Implementations must
// not block indefinitely: every call carries a bounded timeout and surfaces
// ErrCodeTransientFetch instead of failing the whole process.
type Source interface {
	// CurrentPrice returns the latest trade price for the instrument.
	CurrentPrice(ctx context.Context, instrument string) (float64, error)
	// RecentPrices returns up to n closing prices for the instrument as an
	// ordered sequence, oldest first.
	RecentPrices(ctx context.Context, instrument string, n int) ([]types.PriceSample, error)
}
