package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/antigravity-lab/antigravity/internal/config"
	"github.com/antigravity-lab/antigravity/internal/engine"
	"github.com/antigravity-lab/antigravity/internal/execution"
	"github.com/antigravity-lab/antigravity/internal/marketdata"
	"github.com/antigravity-lab/antigravity/internal/testhelper"
	"github.com/antigravity-lab/antigravity/internal/types"
)

// LiveEngineTestSuite runs the engine in LIVE mode against the in-process
// mock exchange: the same decision trajectory as the simulated tests, but
// every price and order travels over HTTP.
type LiveEngineTestSuite struct {
	suite.Suite

	exchange *testhelper.MockExchange
	engine   *engine.Engine

	cancel context.CancelFunc
	runErr chan error
}

func TestLiveEngineSuite(t *testing.T) {
	suite.Run(t, new(LiveEngineTestSuite))
}

func (suite *LiveEngineTestSuite) SetupTest() {
	suite.exchange = testhelper.NewMockExchange()
	suite.exchange.SetBalance("USDT", 1_000_000)

	source := marketdata.NewBinanceSource(suite.exchange.URL(), 2*time.Second)

	backend, err := execution.NewBinanceBackend(execution.BinanceConfig{
		ApiKey:      "test-key",
		SecretKey:   "test-secret",
		BaseURL:     suite.exchange.URL(),
		BaseAsset:   "BTC",
		QuoteAsset:  "USDT",
		CallTimeout: 2 * time.Second,
	})
	suite.Require().NoError(err)

	eng, err := engine.New(engine.Options{
		Instrument: "BTCUSDT",
		Mode:       types.EngineModeLive,
		Source:     source,
		Backend:    backend,
		Strategy: config.Strategy{
			RSIEntryThreshold: 30,
			TakeProfitPct:     2,
			StopLossPct:       3,
			OrderAmountQuote:  100_000,
			RSIPeriod:         2,
		},
		TickInterval: 5 * time.Millisecond,
	})
	suite.Require().NoError(err)
	suite.engine = eng

	ctx, cancel := context.WithCancel(context.Background())
	suite.cancel = cancel
	suite.runErr = make(chan error, 1)

	go func() {
		suite.runErr <- eng.Run(ctx)
	}()
}

func (suite *LiveEngineTestSuite) TearDownTest() {
	suite.cancel()
	<-suite.runErr
	suite.exchange.Close()
}

func (suite *LiveEngineTestSuite) waitForEvent(match func(types.Event) bool) types.Event {
	deadline := time.After(5 * time.Second)

	for {
		select {
		case ev, ok := <-suite.engine.Events():
			suite.Require().True(ok, "event channel closed while waiting")

			if match(ev) {
				return ev
			}
		case <-deadline:
			suite.Require().FailNow("timed out waiting for event")
		}
	}
}

func (suite *LiveEngineTestSuite) TestFullTradeOverHTTP() {
	// Oversold market: falling closes push the RSI to zero.
	suite.exchange.SetPrice(100)
	suite.exchange.SetKlines([]float64{103, 102, 101, 100})

	entryEv := suite.waitForEvent(func(ev types.Event) bool {
		_, isEntry := ev.(types.EntryEvent)

		return isEntry
	})

	entry := entryEv.(types.EntryEvent)
	suite.False(entry.Simulated)
	suite.InDelta(100.0, entry.Price, 1e-3)
	suite.InDelta(1000.0, entry.Quantity, 1e-3)
	suite.Equal(types.EngineStateHolding, suite.engine.State())

	// The mock wallet moved: quote spent, base credited.
	suite.InDelta(900_000.0, suite.exchange.GetBalance("USDT"), 1e-3)
	suite.InDelta(1000.0, suite.exchange.GetBalance("BTC"), 1e-3)

	// Price recovers past take-profit. The history flips first so the idle
	// engine sees no fresh entry signal after the exit.
	suite.exchange.SetKlines([]float64{100, 101, 102, 102.5})
	suite.exchange.SetPrice(102.5)

	exitEv := suite.waitForEvent(func(ev types.Event) bool {
		_, isExit := ev.(types.ExitEvent)

		return isExit
	})

	exit := exitEv.(types.ExitEvent)
	suite.False(exit.Simulated)
	suite.Equal(types.ExitReasonTakeProfit, exit.Reason)
	suite.InDelta(2.5, exit.PnLPct, 1e-3)
	suite.Equal(types.EngineStateIdle, suite.engine.State())

	// Round trip banked the 2.5% move.
	suite.InDelta(1_002_500.0, suite.exchange.GetBalance("USDT"), 1e-3)
	suite.InDelta(0.0, suite.exchange.GetBalance("BTC"), 1e-3)
}
