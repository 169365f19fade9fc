// Package config loads, validates, and persists the bot configuration.
// Persistence is owned by the control surface; the engine only ever sees
// immutable snapshots of the Strategy section.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/antigravity-lab/antigravity/pkg/errors"
)

// Duration wraps time.Duration so the persisted YAML carries the human form
// ("1s", "500ms") instead of raw nanosecond integers. Bare integers are
// still accepted as nanoseconds for files written by earlier versions.
type Duration time.Duration

// Std returns the wrapped standard-library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ns int64
	if err := value.Decode(&ns); err == nil {
		*d = Duration(ns)

		return nil
	}

	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(text)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid duration %q", text)
	}

	*d = Duration(parsed)

	return nil
}

// JSONSchema reports the duration as its string form.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Description: "Duration string, e.g. 1s or 500ms",
	}
}

// Strategy holds the live-editable trading parameters. The engine reads one
// snapshot per tick, never individual fields mid-decision, so the control
// surface can swap the whole value at any time.
type Strategy struct {
	// RSIEntryThreshold triggers a buy when the oscillator drops to or below
	// it. Values above 30 enter on barely-oversold markets.
	RSIEntryThreshold float64 `json:"rsi_entry_threshold" yaml:"rsi_entry_threshold" jsonschema:"description=RSI value at or below which the engine buys" validate:"gte=0,lte=100"`
	// TakeProfitPct closes the position once unrealized pnl reaches it.
	TakeProfitPct float64 `json:"take_profit_pct" yaml:"take_profit_pct" jsonschema:"description=Profit percentage that closes the position" validate:"gt=0"`
	// StopLossPct closes the position once unrealized pnl reaches its negative.
	StopLossPct float64 `json:"stop_loss_pct" yaml:"stop_loss_pct" jsonschema:"description=Loss percentage (positive number) that closes the position" validate:"gt=0"`
	// OrderAmountQuote is the quote-currency size of each entry order.
	OrderAmountQuote float64 `json:"order_amount_quote" yaml:"order_amount_quote" jsonschema:"description=Quote currency spent per entry" validate:"gt=0"`
	// RSIPeriod is the oscillator lookback in candles.
	RSIPeriod int `json:"rsi_period" yaml:"rsi_period" jsonschema:"description=RSI lookback period,default=14" validate:"gt=0"`
	// MaxLossStreak suspends entries after this many consecutive stop-loss
	// exits. Zero disables the cooldown.
	MaxLossStreak int `json:"max_loss_streak" yaml:"max_loss_streak" jsonschema:"description=Consecutive stop-losses before a trading cooldown (0 disables)" validate:"gte=0"`
	// CooldownMinutes is how long entries stay suspended after the streak.
	CooldownMinutes int `json:"cooldown_minutes" yaml:"cooldown_minutes" jsonschema:"description=Cooldown length in minutes" validate:"gte=0"`
}

// Config is the full persisted configuration document.
type Config struct {
	// Credentials are forwarded only to the exchange endpoint and never
	// written to logs or events.
	ApiKey    string `json:"api_key" yaml:"api_key"`
	ApiSecret string `json:"api_secret" yaml:"api_secret"`

	// TargetInstrument is the market pair traded, e.g. BTCUSDT. Fixed per
	// engine run; changing it requires a restart.
	TargetInstrument string `json:"target_instrument" yaml:"target_instrument" validate:"required"`
	BaseAsset        string `json:"base_asset" yaml:"base_asset" validate:"required"`
	QuoteAsset       string `json:"quote_asset" yaml:"quote_asset" validate:"required"`

	// Simulate selects the virtual-wallet backend. Fixed per engine run.
	Simulate bool `json:"simulate" yaml:"simulate"`
	// UseTestnet points live trading at the Binance testnet.
	UseTestnet bool `json:"use_testnet" yaml:"use_testnet"`
	// SimSeedQuote is the simulated wallet's starting quote balance.
	SimSeedQuote float64 `json:"sim_seed_quote" yaml:"sim_seed_quote" validate:"gte=0"`

	// MinHoldingNotional is the smallest base holding, valued in quote
	// currency, that counts as an open position when reconciling the
	// account at startup. Dust below it is ignored.
	MinHoldingNotional float64 `json:"min_holding_notional" yaml:"min_holding_notional" validate:"gte=0"`

	// TickInterval is the poll cadence of the decision loop.
	TickInterval Duration `json:"tick_interval" yaml:"tick_interval" validate:"gt=0"`
	// CallTimeout bounds each exchange call.
	CallTimeout Duration `json:"call_timeout" yaml:"call_timeout" validate:"gt=0"`

	Strategy Strategy `json:"strategy" yaml:"strategy"`
}

// Default returns the built-in configuration used when no file exists.
func Default() Config {
	return Config{
		ApiKey:             "",
		ApiSecret:          "",
		TargetInstrument:   "BTCUSDT",
		BaseAsset:          "BTC",
		QuoteAsset:         "USDT",
		Simulate:           true,
		UseTestnet:         false,
		SimSeedQuote:       10_000_000,
		MinHoldingNotional: 5_000,
		TickInterval:       Duration(time.Second),
		CallTimeout:        Duration(5 * time.Second),
		Strategy: Strategy{
			RSIEntryThreshold: 25,
			TakeProfitPct:     0.5,
			StopLossPct:       3,
			OrderAmountQuote:  100_000,
			RSIPeriod:         14,
			MaxLossStreak:     3,
			CooldownMinutes:   30,
		},
	}
}

// Load reads the configuration from path. An absent file yields the
// built-in defaults; a present but invalid file is an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}

		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to parse config file %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Save persists the configuration to path, overwriting any previous content.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to marshal config", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to write config file %s", path)
	}

	return nil
}

// Validate checks the document against its struct tags.
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	return nil
}

// Schema returns the JSON schema of the configuration document so external
// control surfaces can render settings forms without hardcoding fields.
func Schema() (string, error) {
	schema := jsonschema.Reflect(&Config{})

	jsonSchemaBytes, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}

	return string(jsonSchemaBytes), nil
}
