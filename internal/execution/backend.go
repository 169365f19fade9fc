// Package execution places market orders for one instrument. Two backends
// share one contract: a live backend that talks to Binance spot and a
// simulated backend that fills against a virtual wallet. The engine picks a
// backend at construction time and contains no mode branches after that.
package execution

import (
	"context"

	"github.com/antigravity-lab/antigravity/internal/marketdata"
	"github.com/antigravity-lab/antigravity/internal/types"
	"github.com/antigravity-lab/antigravity/pkg/errors"
)

// Backend executes market orders and reports account balance. Both variants
// return byte-identical response shapes.
//
// Error contract: ErrCodeOrderRejected wraps any exchange-reported rejection,
// ErrCodeInsufficientBalance reports an order larger than the available
// funds, and ErrCodeTransientFetch marks retryable transport failures.
type Backend interface {
	// Buy places a market buy spending quoteAmount of quote currency.
	Buy(ctx context.Context, instrument string, quoteAmount float64) (types.Fill, error)
	// Sell places a market sell of baseQuantity base currency.
	Sell(ctx context.Context, instrument string, baseQuantity float64) (types.Fill, error)
	// Balance returns the current account balance for the configured asset pair.
	Balance(ctx context.Context) (types.Balance, error)
}

// NewBackend creates the execution backend for the given mode. The simulated
// backend fills at the source's current price; the live backend needs a
// validated Binance configuration.
func NewBackend(mode types.EngineMode, cfg BinanceConfig, source marketdata.Source, seedQuote float64) (Backend, error) {
	switch mode {
	case types.EngineModeSimulated:
		return NewSimulatedBackend(source, seedQuote), nil

	case types.EngineModeLive:
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		return NewBinanceBackend(cfg)

	default:
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "unsupported engine mode: %s", mode)
	}
}
