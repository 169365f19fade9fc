package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/antigravity-lab/antigravity/internal/config"
	"github.com/antigravity-lab/antigravity/internal/execution"
	"github.com/antigravity-lab/antigravity/internal/marketdata"
	"github.com/antigravity-lab/antigravity/internal/types"
	"github.com/antigravity-lab/antigravity/pkg/errors"
)

const (
	testTickInterval = 2 * time.Millisecond
	eventWait        = 2 * time.Second
)

// fakeSource is a mutable price feed under test control. The window is
// returned as-is regardless of the requested length, so tests pick window
// shapes that force the oscillator to a known value.
type fakeSource struct {
	mu        sync.Mutex
	price     float64
	priceErr  error
	window    []float64
	windowErr error
}

func (f *fakeSource) CurrentPrice(_ context.Context, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.priceErr != nil {
		return 0, f.priceErr
	}

	return f.price, nil
}

func (f *fakeSource) RecentPrices(_ context.Context, _ string, _ int) ([]types.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.windowErr != nil {
		return nil, f.windowErr
	}

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	samples := make([]types.PriceSample, len(f.window))
	for i, p := range f.window {
		samples[i] = types.PriceSample{Time: start.Add(time.Duration(i) * time.Minute), Price: p}
	}

	return samples, nil
}

func (f *fakeSource) set(price float64, window []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
	f.window = window
	f.priceErr = nil
	f.windowErr = nil
}

func (f *fakeSource) setPriceErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceErr = err
}

// Window shapes for a period-2 RSI.
var (
	fallingWindow = []float64{103, 102, 101, 100} // RSI 0, below any entry threshold
	risingWindow  = []float64{100, 101, 102, 103} // RSI 100, never a signal
)

func testStrategy() config.Strategy {
	return config.Strategy{
		RSIEntryThreshold: 30,
		TakeProfitPct:     2,
		StopLossPct:       3,
		OrderAmountQuote:  100_000,
		RSIPeriod:         2,
		MaxLossStreak:     0,
		CooldownMinutes:   0,
	}
}

type EngineTestSuite struct {
	suite.Suite

	source  *fakeSource
	backend execution.Backend
	engine  *Engine

	cancel  context.CancelFunc
	runErr  chan error
	started bool
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (suite *EngineTestSuite) SetupTest() {
	suite.source = &fakeSource{}
	suite.started = false
}

func (suite *EngineTestSuite) TearDownTest() {
	if suite.started {
		suite.cancel()
		<-suite.runErr
	}
}

// startEngine builds and runs a simulated-mode engine around suite.source.
func (suite *EngineTestSuite) startEngine(strat config.Strategy) {
	suite.backend = execution.NewSimulatedBackend(suite.source, execution.DefaultSeedQuote)

	eng, err := New(Options{
		Instrument:   "BTCUSDT",
		Mode:         types.EngineModeSimulated,
		Source:       suite.source,
		Backend:      suite.backend,
		Strategy:     strat,
		TickInterval: testTickInterval,
	})
	suite.Require().NoError(err)
	suite.engine = eng

	ctx, cancel := context.WithCancel(context.Background())
	suite.cancel = cancel
	suite.runErr = make(chan error, 1)
	suite.started = true

	go func() {
		suite.runErr <- eng.Run(ctx)
	}()
}

// waitForEntry drains events until an EntryEvent arrives.
func (suite *EngineTestSuite) waitForEntry() types.EntryEvent {
	deadline := time.After(eventWait)

	for {
		select {
		case ev, ok := <-suite.engine.Events():
			suite.Require().True(ok, "event channel closed while waiting for entry")

			if entry, isEntry := ev.(types.EntryEvent); isEntry {
				return entry
			}
		case <-deadline:
			suite.Require().FailNow("timed out waiting for entry event")
		}
	}
}

func (suite *EngineTestSuite) waitForExit() types.ExitEvent {
	deadline := time.After(eventWait)

	for {
		select {
		case ev, ok := <-suite.engine.Events():
			suite.Require().True(ok, "event channel closed while waiting for exit")

			if exit, isExit := ev.(types.ExitEvent); isExit {
				return exit
			}
		case <-deadline:
			suite.Require().FailNow("timed out waiting for exit event")
		}
	}
}

func (suite *EngineTestSuite) waitForError() types.ErrorEvent {
	deadline := time.After(eventWait)

	for {
		select {
		case ev, ok := <-suite.engine.Events():
			suite.Require().True(ok, "event channel closed while waiting for error")

			if errEv, isErr := ev.(types.ErrorEvent); isErr {
				return errEv
			}
		case <-deadline:
			suite.Require().FailNow("timed out waiting for error event")
		}
	}
}

func (suite *EngineTestSuite) waitForStatus(message string) types.StatusEvent {
	deadline := time.After(eventWait)

	for {
		select {
		case ev, ok := <-suite.engine.Events():
			suite.Require().True(ok, "event channel closed while waiting for status")

			if status, isStatus := ev.(types.StatusEvent); isStatus && status.Message == message {
				return status
			}
		case <-deadline:
			suite.Require().FailNowf("timed out waiting for status event", "message %q", message)
		}
	}
}

// waitForStatusPrefix matches status events whose message starts with the
// given prefix, for messages that embed a live countdown.
func (suite *EngineTestSuite) waitForStatusPrefix(prefix string) types.StatusEvent {
	deadline := time.After(eventWait)

	for {
		select {
		case ev, ok := <-suite.engine.Events():
			suite.Require().True(ok, "event channel closed while waiting for status")

			if status, isStatus := ev.(types.StatusEvent); isStatus && strings.HasPrefix(status.Message, prefix) {
				return status
			}
		case <-deadline:
			suite.Require().FailNowf("timed out waiting for status event", "prefix %q", prefix)
		}
	}
}

// drainExpectNoExit asserts that no exit event shows up for the given
// duration.
func (suite *EngineTestSuite) drainExpectNoExit(d time.Duration) {
	deadline := time.After(d)

	for {
		select {
		case ev, ok := <-suite.engine.Events():
			if !ok {
				return
			}

			_, isExit := ev.(types.ExitEvent)
			suite.Require().False(isExit, "unexpected exit event")
		case <-deadline:
			return
		}
	}
}

func (suite *EngineTestSuite) TestOversoldSignalOpensPosition() {
	suite.source.set(100, fallingWindow)
	suite.startEngine(testStrategy())

	entry := suite.waitForEntry()
	suite.Equal(100.0, entry.Price)
	suite.InDelta(1000.0, entry.Quantity, 1e-9)
	suite.True(entry.Simulated)
	suite.NotEmpty(entry.ID)

	suite.Equal(types.EngineStateHolding, suite.engine.State())

	pos, err := suite.engine.Ledger().Current().Take()
	suite.Require().NoError(err)
	suite.Equal(100.0, pos.EntryPrice)
}

func (suite *EngineTestSuite) TestHighRSIKeepsWatching() {
	suite.source.set(100, risingWindow)
	suite.startEngine(testStrategy())

	status := suite.waitForStatus("watching for entry")
	suite.Equal(types.EngineStateIdle, status.State)
	suite.Equal(100.0, status.Price)
	suite.Equal(100.0, status.Indicator)
	suite.True(status.PnLPct.IsNone())
	suite.Equal(types.EngineStateIdle, suite.engine.State())
}

func (suite *EngineTestSuite) TestTakeProfitExit() {
	suite.source.set(100, fallingWindow)
	suite.startEngine(testStrategy())

	suite.waitForEntry()

	// Price rises past the 2% take-profit threshold.
	suite.source.set(102.5, risingWindow)

	exit := suite.waitForExit()
	suite.Equal(types.ExitReasonTakeProfit, exit.Reason)
	suite.Equal(102.5, exit.Price)
	suite.InDelta(2.5, exit.PnLPct, 1e-9)
	suite.Equal(types.EngineStateIdle, suite.engine.State())
	suite.True(suite.engine.Ledger().Current().IsNone())
}

func (suite *EngineTestSuite) TestStopLossExit() {
	suite.source.set(100, fallingWindow)
	suite.startEngine(testStrategy())

	suite.waitForEntry()

	// Price falls past the 3% stop-loss threshold.
	suite.source.set(96, risingWindow)

	exit := suite.waitForExit()
	suite.Equal(types.ExitReasonStopLoss, exit.Reason)
	suite.Equal(96.0, exit.Price)
	suite.InDelta(-4.0, exit.PnLPct, 1e-9)
	suite.Equal(types.EngineStateIdle, suite.engine.State())
}

func (suite *EngineTestSuite) TestHoldingBetweenThresholds() {
	suite.source.set(100, fallingWindow)
	suite.startEngine(testStrategy())

	suite.waitForEntry()

	// +1% is between take-profit (+2%) and stop-loss (-3%).
	suite.source.set(101, risingWindow)

	status := suite.waitForStatus("holding")
	suite.Equal(types.EngineStateHolding, status.State)

	pnl, err := status.PnLPct.Take()
	suite.Require().NoError(err)
	suite.InDelta(1.0, pnl, 1e-9)
}

func (suite *EngineTestSuite) TestFetchFailuresSkipTicksAndKeepState() {
	suite.source.set(100, risingWindow)
	suite.startEngine(testStrategy())

	suite.waitForStatus("watching for entry")

	suite.source.setPriceErr(errors.New(errors.ErrCodeTransientFetch, "feed down"))

	// Two consecutive failed ticks surface two error events.
	first := suite.waitForError()
	suite.Equal(errors.ErrCodeTransientFetch, first.Code)

	second := suite.waitForError()
	suite.Equal(errors.ErrCodeTransientFetch, second.Code)

	suite.Equal(types.EngineStateIdle, suite.engine.State())

	// Recovery: the next successful tick decides normally again.
	suite.source.set(100, risingWindow)
	suite.waitForStatus("watching for entry")
}

func (suite *EngineTestSuite) TestRejectedBuyLeavesIdle() {
	strat := testStrategy()
	strat.OrderAmountQuote = execution.DefaultSeedQuote + 1

	suite.source.set(100, fallingWindow)
	suite.startEngine(strat)

	errEv := suite.waitForError()
	suite.Equal(errors.ErrCodeInsufficientBalance, errEv.Code)
	suite.Equal(types.EngineStateIdle, suite.engine.State())
	suite.True(suite.engine.Ledger().Current().IsNone())
}

func (suite *EngineTestSuite) TestStopCommand() {
	suite.source.set(100, risingWindow)
	suite.startEngine(testStrategy())

	suite.waitForStatus("watching for entry")

	suite.Require().NoError(suite.engine.Stop())

	suite.NoError(<-suite.runErr)
	suite.started = false
	suite.Equal(types.EngineStateStopped, suite.engine.State())

	// The event channel closes and later commands fail fast.
	for range suite.engine.Events() {
	}

	err := suite.engine.BuyNow()
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeEngineStopped))
}

func (suite *EngineTestSuite) TestPanicSellWhileIdleIsNoOp() {
	suite.source.set(100, risingWindow)
	suite.startEngine(testStrategy())

	suite.waitForStatus("watching for entry")

	suite.Require().NoError(suite.engine.PanicSell())

	suite.Equal(types.EngineStateIdle, suite.engine.State())
	suite.drainExpectNoExit(20 * time.Millisecond)
}

func (suite *EngineTestSuite) TestPanicSellLiquidatesPosition() {
	suite.source.set(100, fallingWindow)
	suite.startEngine(testStrategy())

	suite.waitForEntry()

	// Hold steady so neither threshold would fire on its own.
	suite.source.set(100.5, risingWindow)
	suite.waitForStatus("holding")

	suite.Require().NoError(suite.engine.PanicSell())

	exit := suite.waitForExit()
	suite.Equal(types.ExitReasonPanic, exit.Reason)
	suite.Equal(100.5, exit.Price)
	suite.InDelta(0.5, exit.PnLPct, 1e-9)
	suite.Equal(types.EngineStateIdle, suite.engine.State())
	suite.True(suite.engine.Ledger().Current().IsNone())
}

func (suite *EngineTestSuite) TestBuyNow() {
	suite.source.set(100, risingWindow)
	suite.startEngine(testStrategy())

	suite.waitForStatus("watching for entry")

	suite.Require().NoError(suite.engine.BuyNow())

	entry := suite.waitForEntry()
	suite.Equal(100.0, entry.Price)
	suite.Equal(types.EngineStateHolding, suite.engine.State())

	// A second manual buy is rejected while the position is open.
	err := suite.engine.BuyNow()
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidState))
}

func (suite *EngineTestSuite) TestStopLossCheckCommand() {
	suite.source.set(100, fallingWindow)
	suite.startEngine(testStrategy())

	suite.waitForEntry()

	// Breach the threshold and check immediately, outside the tick cadence.
	suite.source.set(90, risingWindow)

	suite.Require().NoError(suite.engine.StopLossCheck())

	exit := suite.waitForExit()
	suite.Equal(types.ExitReasonStopLoss, exit.Reason)
	suite.InDelta(-10.0, exit.PnLPct, 1e-9)
}

func (suite *EngineTestSuite) TestShortPriceWindowSkipsTick() {
	// Two samples against a period of two is one short of the minimum.
	suite.source.set(100, []float64{100, 101})
	suite.startEngine(testStrategy())

	errEv := suite.waitForError()
	suite.Equal(errors.ErrCodeInsufficientData, errEv.Code)
	suite.Equal(types.EngineStateIdle, suite.engine.State())

	// A full window on a later tick recovers without a restart.
	suite.source.set(100, fallingWindow)
	suite.waitForEntry()
}

func (suite *EngineTestSuite) TestBrokenLedgerInvariantHaltsRun() {
	suite.source.set(100, risingWindow)
	suite.backend = execution.NewSimulatedBackend(suite.source, execution.DefaultSeedQuote)

	// A one-hour tick interval keeps the decision loop command-only.
	eng, err := New(Options{
		Instrument:   "BTCUSDT",
		Mode:         types.EngineModeSimulated,
		Source:       suite.source,
		Backend:      suite.backend,
		Strategy:     testStrategy(),
		TickInterval: time.Hour,
	})
	suite.Require().NoError(err)
	suite.engine = eng

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)

	go func() {
		runErr <- eng.Run(ctx)
	}()

	// HOLDING with an empty ledger is a broken invariant; the next command
	// that touches the position must halt the whole instance.
	eng.setState(types.EngineStateHolding)

	err = eng.StopLossCheck()
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidState))

	select {
	case err := <-runErr:
		suite.Require().Error(err)
		suite.True(errors.HasCode(err, errors.ErrCodeInvalidState))
	case <-time.After(eventWait):
		suite.Require().FailNow("run did not exit after the halt")
	}

	suite.Equal(types.EngineStateStopped, eng.State())

	// The event channel closes with the run, so drains terminate.
	for range eng.Events() {
	}
}

func (suite *EngineTestSuite) TestSafetyControllerDelegates() {
	suite.source.set(100, fallingWindow)
	suite.startEngine(testStrategy())

	suite.waitForEntry()

	suite.source.set(100.5, risingWindow)
	suite.waitForStatus("holding")

	safety := NewSafetyController(suite.engine)

	suite.Require().NoError(safety.PanicSell())

	exit := suite.waitForExit()
	suite.Equal(types.ExitReasonPanic, exit.Reason)
	suite.Equal(types.EngineStateIdle, suite.engine.State())

	// The forced check is a no-op without a position.
	suite.Require().NoError(safety.StopLossCheck())
	suite.Equal(types.EngineStateIdle, suite.engine.State())
}

func (suite *EngineTestSuite) TestLossStreakTriggersCooldown() {
	strat := testStrategy()
	strat.MaxLossStreak = 1
	strat.CooldownMinutes = 60

	suite.source.set(100, fallingWindow)
	suite.startEngine(strat)

	suite.waitForEntry()

	suite.source.set(96, fallingWindow)

	exit := suite.waitForExit()
	suite.Equal(types.ExitReasonStopLoss, exit.Reason)

	// The window still signals entry, but the cooldown suppresses it.
	status := suite.waitForStatusPrefix("cooldown active for")
	suite.Equal(types.EngineStateIdle, status.State)
	suite.Equal(types.EngineStateIdle, suite.engine.State())
	suite.True(suite.engine.Ledger().Current().IsNone())
}

func (suite *EngineTestSuite) TestUpdateStrategyTakesEffectNextTick() {
	strat := testStrategy()

	suite.source.set(100, risingWindow)
	suite.startEngine(strat)

	suite.waitForStatus("watching for entry")

	// Raising the threshold to 100 turns the flat RSI 100 into a signal.
	strat.RSIEntryThreshold = 100
	suite.Require().NoError(suite.engine.UpdateStrategy(strat))

	entry := suite.waitForEntry()
	suite.Equal(100.0, entry.Price)
}

func (suite *EngineTestSuite) TestUpdateStrategyRejectsInvalid() {
	suite.source.set(100, risingWindow)
	suite.startEngine(testStrategy())

	bad := testStrategy()
	bad.RSIEntryThreshold = 150

	err := suite.engine.UpdateStrategy(bad)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *EngineTestSuite) TestRunTwiceFails() {
	suite.source.set(100, risingWindow)
	suite.startEngine(testStrategy())

	// Ensure the background Run has actually started before calling again;
	// without this the second call can win the race and become the first Run.
	suite.waitForStatus("watching for entry")

	err := suite.engine.Run(context.Background())
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidState))
}

func (suite *EngineTestSuite) TestEventsAreOrderedAndTagged() {
	suite.source.set(100, fallingWindow)
	suite.startEngine(testStrategy())

	entry := suite.waitForEntry()

	suite.source.set(102.5, risingWindow)
	exit := suite.waitForExit()

	// Entry precedes exit and both carry the simulated tag and unique ids.
	suite.True(entry.Simulated)
	suite.True(exit.Simulated)
	suite.NotEqual(entry.ID, exit.ID)
	suite.False(exit.Time.Before(entry.Time))
}

func (suite *EngineTestSuite) TestNewValidatesOptions() {
	source := &fakeSource{}
	backend := execution.NewSimulatedBackend(source, 0)

	tests := []struct {
		name string
		opts Options
	}{
		{name: "missing instrument", opts: Options{Mode: types.EngineModeSimulated, Source: source, Backend: backend}},
		{name: "missing source", opts: Options{Instrument: "BTCUSDT", Mode: types.EngineModeSimulated, Backend: backend}},
		{name: "missing backend", opts: Options{Instrument: "BTCUSDT", Mode: types.EngineModeSimulated, Source: source}},
		{name: "bad mode", opts: Options{Instrument: "BTCUSDT", Mode: "PAPER", Source: source, Backend: backend}},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := New(tt.opts)
			suite.Require().Error(err)
			suite.True(errors.HasCode(err, errors.ErrCodeEngineInitFailed))
		})
	}
}

// seededBackend is a pass-through around the simulated backend that reports
// a fixed starting balance, standing in for an exchange account that already
// holds the base asset.
type seededBackend struct {
	*execution.SimulatedBackend
	seed types.Balance
}

func (s *seededBackend) Balance(_ context.Context) (types.Balance, error) {
	return s.seed, nil
}

func (suite *EngineTestSuite) startEngineWithBalance(strat config.Strategy, seed types.Balance, minNotional float64) {
	backend := &seededBackend{
		SimulatedBackend: execution.NewSimulatedBackend(suite.source, execution.DefaultSeedQuote),
		seed:             seed,
	}
	suite.backend = backend

	eng, err := New(Options{
		Instrument:         "BTCUSDT",
		Mode:               types.EngineModeSimulated,
		Source:             suite.source,
		Backend:            backend,
		Strategy:           strat,
		TickInterval:       testTickInterval,
		MinHoldingNotional: minNotional,
	})
	suite.Require().NoError(err)
	suite.engine = eng

	ctx, cancel := context.WithCancel(context.Background())
	suite.cancel = cancel
	suite.runErr = make(chan error, 1)
	suite.started = true

	go func() {
		suite.runErr <- eng.Run(ctx)
	}()
}

func (suite *EngineTestSuite) TestStartupAdoptsExistingHolding() {
	suite.source.set(100, risingWindow)

	// 100 base units at price 100 is a 10,000 notional, above the minimum.
	suite.startEngineWithBalance(testStrategy(), types.Balance{QuoteFree: 1000, BaseHeld: 100}, 5000)

	status := suite.waitForStatus("holding")
	suite.Equal(types.EngineStateHolding, status.State)

	pos, err := suite.engine.Ledger().Current().Take()
	suite.Require().NoError(err)
	suite.Equal(100.0, pos.EntryPrice)
	suite.Equal(100.0, pos.Quantity)
}

func (suite *EngineTestSuite) TestStartupIgnoresDustHolding() {
	suite.source.set(100, risingWindow)

	// 1 base unit at price 100 is below the minimum notional.
	suite.startEngineWithBalance(testStrategy(), types.Balance{QuoteFree: 1000, BaseHeld: 1}, 5000)

	status := suite.waitForStatus("watching for entry")
	suite.Equal(types.EngineStateIdle, status.State)
	suite.True(suite.engine.Ledger().Current().IsNone())
}

// Ensure the fake satisfies the real contract.
var _ marketdata.Source = (*fakeSource)(nil)
