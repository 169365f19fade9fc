package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/antigravity-lab/antigravity/pkg/errors"
)

type ConfigTestSuite struct {
	suite.Suite
	dir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
}

func (suite *ConfigTestSuite) TestDefaults() {
	cfg := Default()

	suite.Equal("BTCUSDT", cfg.TargetInstrument)
	suite.Equal("BTC", cfg.BaseAsset)
	suite.Equal("USDT", cfg.QuoteAsset)
	suite.True(cfg.Simulate)
	suite.Equal(10_000_000.0, cfg.SimSeedQuote)
	suite.Equal(5_000.0, cfg.MinHoldingNotional)
	suite.Equal(Duration(time.Second), cfg.TickInterval)

	suite.Equal(25.0, cfg.Strategy.RSIEntryThreshold)
	suite.Equal(0.5, cfg.Strategy.TakeProfitPct)
	suite.Equal(3.0, cfg.Strategy.StopLossPct)
	suite.Equal(100_000.0, cfg.Strategy.OrderAmountQuote)
	suite.Equal(14, cfg.Strategy.RSIPeriod)

	suite.NoError(cfg.Validate())
}

func (suite *ConfigTestSuite) TestLoadAbsentFileYieldsDefaults() {
	cfg, err := Load(filepath.Join(suite.dir, "does-not-exist.yaml"))
	suite.Require().NoError(err)
	suite.Equal(Default(), cfg)
}

func (suite *ConfigTestSuite) TestSaveLoadRoundTrip() {
	path := filepath.Join(suite.dir, "antigravity.yaml")

	cfg := Default()
	cfg.TargetInstrument = "ETHUSDT"
	cfg.BaseAsset = "ETH"
	cfg.Simulate = false
	cfg.ApiKey = "key"
	cfg.ApiSecret = "secret"
	cfg.Strategy.RSIEntryThreshold = 30
	cfg.Strategy.TakeProfitPct = 1.25

	suite.Require().NoError(cfg.Save(path))

	loaded, err := Load(path)
	suite.Require().NoError(err)
	suite.Equal(cfg, loaded)
}

func (suite *ConfigTestSuite) TestSaveWritesHumanReadableDurations() {
	path := filepath.Join(suite.dir, "antigravity.yaml")

	cfg := Default()
	cfg.TickInterval = Duration(1500 * time.Millisecond)
	suite.Require().NoError(cfg.Save(path))

	data, err := os.ReadFile(path)
	suite.Require().NoError(err)
	suite.Contains(string(data), "tick_interval: 1.5s")
	suite.Contains(string(data), "call_timeout: 5s")
}

func (suite *ConfigTestSuite) TestLoadParsesDurations() {
	tests := []struct {
		name     string
		value    string
		expected Duration
	}{
		{name: "duration string", value: "2s", expected: Duration(2 * time.Second)},
		{name: "sub-second string", value: "250ms", expected: Duration(250 * time.Millisecond)},
		{name: "bare nanoseconds", value: "1000000000", expected: Duration(time.Second)},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			path := filepath.Join(suite.dir, "durations.yaml")
			content := "tick_interval: " + tt.value + "\n"
			suite.Require().NoError(os.WriteFile(path, []byte(content), 0o600))

			cfg, err := Load(path)
			suite.Require().NoError(err)
			suite.Equal(tt.expected, cfg.TickInterval)
		})
	}
}

func (suite *ConfigTestSuite) TestLoadRejectsBadDuration() {
	path := filepath.Join(suite.dir, "durations.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte("tick_interval: soon\n"), 0o600))

	_, err := Load(path)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestSaveRestrictsPermissions() {
	path := filepath.Join(suite.dir, "antigravity.yaml")
	suite.Require().NoError(Default().Save(path))

	info, err := os.Stat(path)
	suite.Require().NoError(err)
	suite.Equal(os.FileMode(0o600), info.Mode().Perm())
}

func (suite *ConfigTestSuite) TestLoadPartialFileKeepsDefaults() {
	path := filepath.Join(suite.dir, "partial.yaml")
	content := "target_instrument: SOLUSDT\nbase_asset: SOL\nstrategy:\n  rsi_entry_threshold: 20\n"
	suite.Require().NoError(os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	suite.Require().NoError(err)

	suite.Equal("SOLUSDT", cfg.TargetInstrument)
	suite.Equal(20.0, cfg.Strategy.RSIEntryThreshold)
	// Untouched fields keep their defaults.
	suite.Equal("USDT", cfg.QuoteAsset)
	suite.Equal(0.5, cfg.Strategy.TakeProfitPct)
}

func (suite *ConfigTestSuite) TestLoadMalformedFile() {
	path := filepath.Join(suite.dir, "broken.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte("strategy: [not a map"), 0o600))

	_, err := Load(path)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestValidateRejectsBadValues() {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "threshold above 100", mutate: func(c *Config) { c.Strategy.RSIEntryThreshold = 101 }},
		{name: "negative threshold", mutate: func(c *Config) { c.Strategy.RSIEntryThreshold = -1 }},
		{name: "zero take profit", mutate: func(c *Config) { c.Strategy.TakeProfitPct = 0 }},
		{name: "negative stop loss", mutate: func(c *Config) { c.Strategy.StopLossPct = -2 }},
		{name: "zero order amount", mutate: func(c *Config) { c.Strategy.OrderAmountQuote = 0 }},
		{name: "zero rsi period", mutate: func(c *Config) { c.Strategy.RSIPeriod = 0 }},
		{name: "missing instrument", mutate: func(c *Config) { c.TargetInstrument = "" }},
		{name: "zero tick interval", mutate: func(c *Config) { c.TickInterval = 0 }},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			suite.Require().Error(err)
			suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
		})
	}
}

func (suite *ConfigTestSuite) TestSchemaContainsStrategyFields() {
	schema, err := Schema()
	suite.Require().NoError(err)

	suite.Contains(schema, "rsi_entry_threshold")
	suite.Contains(schema, "take_profit_pct")
	suite.Contains(schema, "stop_loss_pct")
	suite.Contains(schema, "order_amount_quote")
}
