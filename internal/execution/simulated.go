package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/antigravity-lab/antigravity/internal/marketdata"
	"github.com/antigravity-lab/antigravity/internal/types"
	"github.com/antigravity-lab/antigravity/pkg/errors"
)

// DefaultSeedQuote is the virtual wallet's starting quote balance.
const DefaultSeedQuote = 10_000_000

// SimulatedBackend fills orders instantly at the market data source's
// current price, with no slippage model, against an in-process virtual
// wallet. It rejects nothing except orders exceeding the virtual balance, so
// a simulated run exercises exactly the decision paths of a live one.
//
// Wallet arithmetic uses decimals so long simulated sessions don't
// accumulate binary floating point drift.
type SimulatedBackend struct {
	mu     sync.Mutex
	source marketdata.Source
	quote  decimal.Decimal
	base   decimal.Decimal
}

// NewSimulatedBackend creates a simulated backend seeded with seedQuote
// units of quote currency. Non-positive seeds fall back to DefaultSeedQuote.
func NewSimulatedBackend(source marketdata.Source, seedQuote float64) *SimulatedBackend {
	if seedQuote <= 0 {
		seedQuote = DefaultSeedQuote
	}

	return &SimulatedBackend{
		source: source,
		quote:  decimal.NewFromFloat(seedQuote),
		base:   decimal.Zero,
	}
}

// Buy implements Backend. It fills at the current market price.
func (s *SimulatedBackend) Buy(ctx context.Context, instrument string, quoteAmount float64) (types.Fill, error) {
	if quoteAmount <= 0 {
		return types.Fill{}, errors.Newf(errors.ErrCodeInvalidParameter, "buy amount must be positive, got %f", quoteAmount)
	}

	price, err := s.source.CurrentPrice(ctx, instrument)
	if err != nil {
		return types.Fill{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	amount := decimal.NewFromFloat(quoteAmount)
	if amount.GreaterThan(s.quote) {
		return types.Fill{}, errors.Newf(errors.ErrCodeInsufficientBalance,
			"buy of %s exceeds virtual quote balance %s", amount, s.quote)
	}

	quantity := amount.Div(decimal.NewFromFloat(price))
	s.quote = s.quote.Sub(amount)
	s.base = s.base.Add(quantity)

	return types.Fill{
		OrderID:  uuid.NewString(),
		Price:    price,
		Quantity: quantity.InexactFloat64(),
		Proceeds: quoteAmount,
		Time:     time.Now(),
	}, nil
}

// Sell implements Backend. It fills at the current market price.
func (s *SimulatedBackend) Sell(ctx context.Context, instrument string, baseQuantity float64) (types.Fill, error) {
	if baseQuantity <= 0 {
		return types.Fill{}, errors.Newf(errors.ErrCodeInvalidParameter, "sell quantity must be positive, got %f", baseQuantity)
	}

	price, err := s.source.CurrentPrice(ctx, instrument)
	if err != nil {
		return types.Fill{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	quantity := decimal.NewFromFloat(baseQuantity)
	if quantity.GreaterThan(s.base) {
		return types.Fill{}, errors.Newf(errors.ErrCodeInsufficientBalance,
			"sell of %s exceeds virtual base balance %s", quantity, s.base)
	}

	proceeds := quantity.Mul(decimal.NewFromFloat(price))
	s.base = s.base.Sub(quantity)
	s.quote = s.quote.Add(proceeds)

	return types.Fill{
		OrderID:  uuid.NewString(),
		Price:    price,
		Quantity: baseQuantity,
		Proceeds: proceeds.InexactFloat64(),
		Time:     time.Now(),
	}, nil
}

// Balance implements Backend. It reports the virtual wallet.
func (s *SimulatedBackend) Balance(_ context.Context) (types.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return types.Balance{
		QuoteFree: s.quote.InexactFloat64(),
		BaseHeld:  s.base.InexactFloat64(),
	}, nil
}

// Ensure SimulatedBackend implements Backend.
var _ Backend = (*SimulatedBackend)(nil)
