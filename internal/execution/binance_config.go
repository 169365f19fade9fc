package execution

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/antigravity-lab/antigravity/pkg/errors"
)

// BinanceConfig contains the credentials and asset pair for live trading.
type BinanceConfig struct {
	ApiKey    string `json:"apiKey" yaml:"api_key" jsonschema:"title=API Key,description=Binance API key" validate:"required"`
	SecretKey string `json:"secretKey" yaml:"api_secret" jsonschema:"title=Secret Key,description=Binance API secret key" validate:"required"`
	// BaseURL overrides the exchange endpoint (testnet, mock server). Takes
	// precedence over UseTestnet when set.
	BaseURL    string `json:"baseUrl" yaml:"base_url" jsonschema:"title=Base URL,description=Override exchange endpoint"`
	UseTestnet bool   `json:"useTestnet" yaml:"use_testnet" jsonschema:"title=Use Testnet,description=Trade against the Binance testnet"`
	// BaseAsset and QuoteAsset split the instrument for balance lookups,
	// e.g. BTC / USDT for the BTCUSDT pair.
	BaseAsset  string `json:"baseAsset" yaml:"base_asset" validate:"required"`
	QuoteAsset string `json:"quoteAsset" yaml:"quote_asset" validate:"required"`
	// CallTimeout bounds each exchange call. Defaults to 5s when zero.
	CallTimeout time.Duration `json:"callTimeout" yaml:"call_timeout"`
}

// Validate validates the BinanceConfig struct.
func (c *BinanceConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid binance backend config", err)
	}

	return nil
}
