package marketdata

import (
	"context"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"github.com/antigravity-lab/antigravity/internal/types"
	"github.com/antigravity-lab/antigravity/pkg/errors"
)

const (
	// DefaultCallTimeout bounds every exchange call so a slow endpoint can
	// never stall the decision loop for more than a few seconds.
	DefaultCallTimeout = 5 * time.Second

	// DefaultKlineInterval matches the 1-minute candles the strategy samples.
	DefaultKlineInterval = "1m"
)

// Service interfaces for mocking the Binance API

// ListPricesService interface for fetching the latest ticker price.
type ListPricesService interface {
	Symbol(symbol string) ListPricesService
	Do(ctx context.Context) ([]*binance.SymbolPrice, error)
}

// KlinesService interface for fetching candlestick history.
type KlinesService interface {
	Symbol(symbol string) KlinesService
	Interval(interval string) KlinesService
	Limit(limit int) KlinesService
	Do(ctx context.Context) ([]*binance.Kline, error)
}

// MarketClient interface abstracts the Binance client for testing.
type MarketClient interface {
	NewListPricesService() ListPricesService
	NewKlinesService() KlinesService
}

// realMarketClient wraps the actual binance.Client.
type realMarketClient struct {
	client *binance.Client
}

func (r *realMarketClient) NewListPricesService() ListPricesService {
	return &realListPricesService{service: r.client.NewListPricesService()}
}

func (r *realMarketClient) NewKlinesService() KlinesService {
	return &realKlinesService{service: r.client.NewKlinesService()}
}

type realListPricesService struct {
	service *binance.ListPricesService
}

func (s *realListPricesService) Symbol(symbol string) ListPricesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListPricesService) Do(ctx context.Context) ([]*binance.SymbolPrice, error) {
	return s.service.Do(ctx)
}

type realKlinesService struct {
	service *binance.KlinesService
}

func (s *realKlinesService) Symbol(symbol string) KlinesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realKlinesService) Interval(interval string) KlinesService {
	s.service = s.service.Interval(interval)

	return s
}

func (s *realKlinesService) Limit(limit int) KlinesService {
	s.service = s.service.Limit(limit)

	return s
}

func (s *realKlinesService) Do(ctx context.Context) ([]*binance.Kline, error) {
	return s.service.Do(ctx)
}

// BinanceSource fetches prices from the Binance spot API. It is stateless:
// every call goes straight to the exchange with a bounded timeout and a
// single retry before the error is surfaced as a transient fetch failure.
type BinanceSource struct {
	client      MarketClient
	callTimeout time.Duration
	interval    string
}

// NewBinanceSource creates a market data source backed by the public Binance
// endpoints. Market data needs no credentials. baseURL overrides the
// endpoint when non-empty (testnet, mock server).
func NewBinanceSource(baseURL string, callTimeout time.Duration) *BinanceSource {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}

	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}

	return &BinanceSource{
		client:      &realMarketClient{client: client},
		callTimeout: callTimeout,
		interval:    DefaultKlineInterval,
	}
}

// newBinanceSourceWithClient creates a source with a custom client.
// This is used for testing with mock clients.
func newBinanceSourceWithClient(client MarketClient, callTimeout time.Duration) *BinanceSource {
	return &BinanceSource{
		client:      client,
		callTimeout: callTimeout,
		interval:    DefaultKlineInterval,
	}
}

// CurrentPrice implements Source.
func (b *BinanceSource) CurrentPrice(ctx context.Context, instrument string) (float64, error) {
	var lastErr error

	// One bounded attempt plus one retry, then give up for this tick.
	for attempt := 0; attempt < 2; attempt++ {
		price, err := b.fetchPrice(ctx, instrument)
		if err == nil {
			return price, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return 0, errors.Wrapf(errors.ErrCodeTransientFetch, lastErr, "failed to fetch current price for %s", instrument)
}

func (b *BinanceSource) fetchPrice(ctx context.Context, instrument string) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	prices, err := b.client.NewListPricesService().Symbol(instrument).Do(callCtx)
	if err != nil {
		return 0, err
	}

	if len(prices) == 0 {
		return 0, errors.Newf(errors.ErrCodeDataNotFound, "no ticker price returned for %s", instrument)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeMarketDataParseFailed, err, "unparseable ticker price %q", prices[0].Price)
	}

	return price, nil
}

// RecentPrices implements Source. It returns the close of the most recent n
// candles, oldest first.
func (b *BinanceSource) RecentPrices(ctx context.Context, instrument string, n int) ([]types.PriceSample, error) {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		samples, err := b.fetchKlines(ctx, instrument, n)
		if err == nil {
			return samples, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return nil, errors.Wrapf(errors.ErrCodeTransientFetch, lastErr, "failed to fetch %d candles for %s", n, instrument)
}

func (b *BinanceSource) fetchKlines(ctx context.Context, instrument string, n int) ([]types.PriceSample, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	klines, err := b.client.NewKlinesService().
		Symbol(instrument).
		Interval(b.interval).
		Limit(n).
		Do(callCtx)
	if err != nil {
		return nil, err
	}

	samples := make([]types.PriceSample, 0, len(klines))

	for _, k := range klines {
		closePrice, parseErr := strconv.ParseFloat(k.Close, 64)
		if parseErr != nil {
			return nil, errors.Wrapf(errors.ErrCodeMarketDataParseFailed, parseErr, "unparseable close price %q", k.Close)
		}

		samples = append(samples, types.PriceSample{
			Time:  time.UnixMilli(k.OpenTime),
			Price: closePrice,
		})
	}

	return samples, nil
}

// Ensure BinanceSource implements Source.
var _ Source = (*BinanceSource)(nil)
