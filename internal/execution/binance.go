package execution

import (
	"context"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"github.com/antigravity-lab/antigravity/internal/types"
	"github.com/antigravity-lab/antigravity/pkg/errors"
)

const (
	// binanceDecimalPrecision is the quantity precision used when formatting
	// order amounts. 8 decimals allows satoshi-level precision for BTC-like
	// assets; symbol-specific LOT_SIZE filters would refine this.
	binanceDecimalPrecision = 8

	// binanceInsufficientBalanceCode is the exchange error code returned when
	// the account cannot cover the requested order.
	binanceInsufficientBalanceCode = -2010

	defaultCallTimeout = 5 * time.Second
)

// Service interfaces for mocking the Binance API

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	QuoteOrderQty(quoteOrderQty string) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// GetAccountService interface for getting account info.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// BinanceClient interface abstracts the Binance client for testing.
type BinanceClient interface {
	NewCreateOrderService() CreateOrderService
	NewGetAccountService() GetAccountService
}

// realBinanceClient wraps the actual binance.Client.
type realBinanceClient struct {
	client *binance.Client
}

func (r *realBinanceClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realBinanceClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: r.client.NewGetAccountService()}
}

// Real service wrappers

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) QuoteOrderQty(quoteOrderQty string) CreateOrderService {
	s.service = s.service.QuoteOrderQty(quoteOrderQty)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

// BinanceBackend implements Backend against the Binance spot API. It is
// stateless: balances are always fetched from the exchange and treated as
// the read-only source of truth.
type BinanceBackend struct {
	client      BinanceClient
	baseAsset   string
	quoteAsset  string
	callTimeout time.Duration
}

// NewBinanceBackend creates a live execution backend. If cfg.UseTestnet is
// set, orders go to the Binance testnet; cfg.BaseURL takes precedence when
// non-empty.
func NewBinanceBackend(cfg BinanceConfig) (*BinanceBackend, error) {
	if cfg.UseTestnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(cfg.ApiKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	return &BinanceBackend{
		client:      &realBinanceClient{client: client},
		baseAsset:   cfg.BaseAsset,
		quoteAsset:  cfg.QuoteAsset,
		callTimeout: callTimeout,
	}, nil
}

// newBinanceBackendWithClient creates a backend with a custom client.
// This is used for testing with mock clients.
func newBinanceBackendWithClient(client BinanceClient, baseAsset, quoteAsset string) *BinanceBackend {
	return &BinanceBackend{
		client:      client,
		baseAsset:   baseAsset,
		quoteAsset:  quoteAsset,
		callTimeout: defaultCallTimeout,
	}
}

// Buy implements Backend. It places a market buy sized in quote currency and
// reports the effective fill price and quantity.
func (b *BinanceBackend) Buy(ctx context.Context, instrument string, quoteAmount float64) (types.Fill, error) {
	if quoteAmount <= 0 {
		return types.Fill{}, errors.Newf(errors.ErrCodeInvalidParameter, "buy amount must be positive, got %f", quoteAmount)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	resp, err := b.client.NewCreateOrderService().
		Symbol(instrument).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(strconv.FormatFloat(quoteAmount, 'f', binanceDecimalPrecision, 64)).
		Do(callCtx)
	if err != nil {
		return types.Fill{}, mapBinanceOrderError(err, "market buy failed")
	}

	return fillFromOrderResponse(resp)
}

// Sell implements Backend. It places a market sell of the given base
// quantity and reports the proceeds in quote currency.
func (b *BinanceBackend) Sell(ctx context.Context, instrument string, baseQuantity float64) (types.Fill, error) {
	if baseQuantity <= 0 {
		return types.Fill{}, errors.Newf(errors.ErrCodeInvalidParameter, "sell quantity must be positive, got %f", baseQuantity)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	resp, err := b.client.NewCreateOrderService().
		Symbol(instrument).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(baseQuantity, 'f', binanceDecimalPrecision, 64)).
		Do(callCtx)
	if err != nil {
		return types.Fill{}, mapBinanceOrderError(err, "market sell failed")
	}

	return fillFromOrderResponse(resp)
}

// Balance implements Backend. It fetches the configured asset pair from the
// exchange account.
func (b *BinanceBackend) Balance(ctx context.Context) (types.Balance, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	account, err := b.client.NewGetAccountService().Do(callCtx)
	if err != nil {
		return types.Balance{}, errors.Wrap(errors.ErrCodeTransientFetch, "failed to get account info from Binance", err)
	}

	var balance types.Balance

	for _, asset := range account.Balances {
		free, _ := strconv.ParseFloat(asset.Free, 64)

		switch asset.Asset {
		case b.quoteAsset:
			balance.QuoteFree = free
		case b.baseAsset:
			locked, _ := strconv.ParseFloat(asset.Locked, 64)
			balance.BaseHeld = free + locked
		}
	}

	return balance, nil
}

// mapBinanceOrderError translates exchange errors into the backend contract:
// exchange-reported rejections become order errors, everything else is a
// retryable transport failure.
func mapBinanceOrderError(err error, message string) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == binanceInsufficientBalanceCode {
			return errors.Wrap(errors.ErrCodeInsufficientBalance, message, err)
		}

		return errors.Wrap(errors.ErrCodeOrderRejected, message, err)
	}

	return errors.Wrap(errors.ErrCodeTransientFetch, message, err)
}

// fillFromOrderResponse converts an exchange response into the shared Fill
// shape. The effective price is the volume-weighted average of the fills.
func fillFromOrderResponse(resp *binance.CreateOrderResponse) (types.Fill, error) {
	executedQty, err := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	if err != nil {
		return types.Fill{}, errors.Wrapf(errors.ErrCodeMarketDataParseFailed, err, "unparseable executed quantity %q", resp.ExecutedQuantity)
	}

	cumQuote, err := strconv.ParseFloat(resp.CummulativeQuoteQuantity, 64)
	if err != nil {
		return types.Fill{}, errors.Wrapf(errors.ErrCodeMarketDataParseFailed, err, "unparseable quote quantity %q", resp.CummulativeQuoteQuantity)
	}

	if executedQty <= 0 {
		return types.Fill{}, errors.Newf(errors.ErrCodeOrderRejected, "order %d not filled", resp.OrderID)
	}

	return types.Fill{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		Price:    cumQuote / executedQty,
		Quantity: executedQty,
		Proceeds: cumQuote,
		Time:     time.UnixMilli(resp.TransactTime),
	}, nil
}

// Ensure BinanceBackend implements Backend.
var _ Backend = (*BinanceBackend)(nil)
