// Package engine runs the poll→decide→act cycle of the RSI scalping
// strategy. One engine instance trades one instrument in one mode; exactly
// one tick or one externally-triggered command executes at a time, so the
// ledger is only ever mutated by the single decision goroutine.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/antigravity-lab/antigravity/internal/config"
	"github.com/antigravity-lab/antigravity/internal/execution"
	"github.com/antigravity-lab/antigravity/internal/indicator"
	"github.com/antigravity-lab/antigravity/internal/ledger"
	"github.com/antigravity-lab/antigravity/internal/logger"
	"github.com/antigravity-lab/antigravity/internal/marketdata"
	"github.com/antigravity-lab/antigravity/internal/metrics"
	"github.com/antigravity-lab/antigravity/internal/types"
	"github.com/antigravity-lab/antigravity/pkg/errors"
)

const (
	// DefaultTickInterval matches the original bot's 1-second poll cadence.
	DefaultTickInterval = time.Second

	// DefaultEventBuffer is the event channel capacity. The control surface
	// is expected to drain events; the buffer only smooths bursts.
	DefaultEventBuffer = 256

	// priceWindowSlack is fetched on top of the indicator period so Wilder
	// smoothing has warm-up deltas beyond the strict period+1 minimum.
	priceWindowSlack = 20
)

// Options configures a new engine instance. Instrument and Mode are fixed
// for the lifetime of the run; changing either requires a fresh engine.
type Options struct {
	Instrument   string
	Mode         types.EngineMode
	Source       marketdata.Source
	Backend      execution.Backend
	Strategy     config.Strategy
	TickInterval time.Duration
	EventBuffer  int
	Logger       *logger.Logger

	// MinHoldingNotional is the smallest base holding, valued in quote
	// currency, adopted as an open position at startup. Dust below it is
	// left alone. Zero adopts any positive holding.
	MinHoldingNotional float64
}

// Engine is the trading decision engine and its state machine.
type Engine struct {
	instrument   string
	mode         types.EngineMode
	source       marketdata.Source
	backend      execution.Backend
	ledger       *ledger.Ledger
	log          *logger.Logger
	tickInterval time.Duration

	// strategy is swapped atomically by UpdateStrategy and read exactly once
	// at the start of each tick.
	strategy atomic.Pointer[config.Strategy]

	stateMu sync.RWMutex
	state   types.EngineState

	events   chan types.Event
	commands chan command
	// done is closed when Run exits so command senders never block on a
	// stopped engine.
	done chan struct{}

	started atomic.Bool

	// Consecutive stop-loss tracking for the entry cooldown.
	lossStreak    int
	cooldownUntil time.Time

	minHoldingNotional float64
}

// New creates an engine in the IDLE state. Run must be called exactly once.
func New(opts Options) (*Engine, error) {
	if opts.Instrument == "" {
		return nil, errors.New(errors.ErrCodeEngineInitFailed, "no instrument configured")
	}

	if opts.Source == nil {
		return nil, errors.New(errors.ErrCodeEngineInitFailed, "market data source not set")
	}

	if opts.Backend == nil {
		return nil, errors.New(errors.ErrCodeEngineInitFailed, "execution backend not set")
	}

	if opts.Mode != types.EngineModeLive && opts.Mode != types.EngineModeSimulated {
		return nil, errors.Newf(errors.ErrCodeEngineInitFailed, "unsupported engine mode: %s", opts.Mode)
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}

	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}

	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}

	e := &Engine{
		instrument:         opts.Instrument,
		mode:               opts.Mode,
		source:             opts.Source,
		backend:            opts.Backend,
		ledger:             ledger.New(types.Balance{}),
		log:                opts.Logger,
		tickInterval:       opts.TickInterval,
		state:              types.EngineStateIdle,
		events:             make(chan types.Event, opts.EventBuffer),
		commands:           make(chan command),
		done:               make(chan struct{}),
		minHoldingNotional: opts.MinHoldingNotional,
	}

	strat := opts.Strategy
	e.strategy.Store(&strat)

	return e, nil
}

// Events returns the outbound notification channel. Events are delivered in
// decision order and the channel is closed when the engine stops.
func (e *Engine) Events() <-chan types.Event {
	return e.events
}

// State returns the current state machine state.
func (e *Engine) State() types.EngineState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	return e.state
}

// Ledger exposes read-only trading state snapshots for display.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Mode returns the fixed execution mode of this run.
func (e *Engine) Mode() types.EngineMode {
	return e.mode
}

// UpdateStrategy replaces the strategy snapshot. The new value takes effect
// at the next tick boundary; an in-progress decision keeps its snapshot.
func (e *Engine) UpdateStrategy(strat config.Strategy) error {
	probe := config.Default()
	probe.Strategy = strat

	if err := probe.Validate(); err != nil {
		return err
	}

	e.strategy.Store(&strat)
	e.log.Info("Strategy updated",
		zap.Float64("rsi_entry_threshold", strat.RSIEntryThreshold),
		zap.Float64("take_profit_pct", strat.TakeProfitPct),
		zap.Float64("stop_loss_pct", strat.StopLossPct),
		zap.Float64("order_amount_quote", strat.OrderAmountQuote),
	)

	return nil
}

// Run executes the decision loop until the context is cancelled, Stop is
// called, or a ledger invariant violation forces a halt. It blocks; the
// caller owns the goroutine. Run is terminal: a stopped engine cannot be
// restarted.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New(errors.ErrCodeInvalidState, "engine already started")
	}

	defer func() {
		e.setState(types.EngineStateStopped)
		close(e.done)
		close(e.events)
	}()

	// Seed the balance snapshot before the first decision.
	if balance, err := e.backend.Balance(ctx); err == nil {
		e.ledger.SetBalance(balance)
		e.reconcileHoldings(ctx, balance)
	} else {
		e.log.Warn("Initial balance fetch failed", zap.Error(err))
	}

	e.log.Info("Engine started",
		zap.String("instrument", e.instrument),
		zap.String("mode", string(e.mode)),
		zap.Duration("tick_interval", e.tickInterval),
	)

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Engine stopping: context cancelled")

			return ctx.Err()

		case cmd := <-e.commands:
			stop, err := e.handleCommand(ctx, cmd)
			if err != nil {
				return err
			}

			if stop {
				return nil
			}

		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				// Only ledger invariant violations propagate here; they are
				// unrecoverable for this engine instance.
				e.log.Error("Engine halted", zap.Error(err))

				return err
			}
		}
	}
}

// reconcileHoldings adopts a pre-existing base holding as the open position
// at startup, so a restart while invested resumes managing the position
// instead of buying on top of it. Holdings worth less than the minimum
// notional are treated as dust and ignored.
func (e *Engine) reconcileHoldings(ctx context.Context, balance types.Balance) {
	if balance.BaseHeld <= 0 {
		return
	}

	price, err := e.source.CurrentPrice(ctx, e.instrument)
	if err != nil {
		e.log.Warn("Holdings reconciliation skipped: price unavailable", zap.Error(err))

		return
	}

	notional := balance.BaseHeld * price
	if notional < e.minHoldingNotional {
		e.log.Info("Ignoring dust holding",
			zap.Float64("quantity", balance.BaseHeld),
			zap.Float64("notional", notional),
		)

		return
	}

	// The original entry price is unknown after a restart; the current
	// price becomes the pnl baseline.
	if err := e.ledger.Open(price, balance.BaseHeld, time.Now()); err != nil {
		e.log.Error("Holdings reconciliation failed", zap.Error(err))

		return
	}

	e.setState(types.EngineStateHolding)
	metrics.PositionOpen.Set(1)

	e.log.Info("Adopted existing holding as open position",
		zap.Float64("quantity", balance.BaseHeld),
		zap.Float64("price", price),
		zap.Float64("notional", notional),
	)
}

// setState transitions the state machine. STOPPED is terminal.
func (e *Engine) setState(state types.EngineState) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.state == types.EngineStateStopped {
		return
	}

	e.state = state
}

// tick runs one poll→decide→act cycle. Recoverable errors are absorbed here
// and surfaced as events; only fatal invariant violations return an error.
func (e *Engine) tick(ctx context.Context) error {
	strat := *e.strategy.Load()
	now := time.Now()

	metrics.TicksProcessed.WithLabelValues(string(e.mode)).Inc()

	price, err := e.source.CurrentPrice(ctx, e.instrument)
	if err != nil {
		e.skipTick("price_fetch", err)

		return nil
	}

	window, err := e.source.RecentPrices(ctx, e.instrument, strat.RSIPeriod+1+priceWindowSlack)
	if err != nil {
		e.skipTick("history_fetch", err)

		return nil
	}

	rsi, err := indicator.RSI(types.Prices(window), strat.RSIPeriod)
	if err != nil {
		e.skipTick("indicator", err)

		return nil
	}

	metrics.EquityGauge.Set(e.ledger.Balance().TotalAsset(price))

	switch e.State() {
	case types.EngineStateIdle:
		return e.decideEntry(ctx, strat, price, rsi, now)
	case types.EngineStateHolding:
		return e.decideExit(ctx, strat, price, rsi, now)
	case types.EngineStateStopped:
		return nil
	}

	return nil
}

// decideEntry scans for an oversold entry while no position is open.
func (e *Engine) decideEntry(ctx context.Context, strat config.Strategy, price, rsi float64, now time.Time) error {
	if remaining, cooling := e.cooldownRemaining(now); cooling {
		e.emit(types.StatusEvent{
			EventMeta:  e.meta(now),
			State:      types.EngineStateIdle,
			Price:      price,
			Indicator:  rsi,
			PnLPct:     optional.None[float64](),
			TotalAsset: e.ledger.Balance().TotalAsset(price),
			Message:    "cooldown active for " + remaining.Round(time.Second).String(),
		})

		return nil
	}

	if rsi > strat.RSIEntryThreshold {
		e.emit(types.StatusEvent{
			EventMeta:  e.meta(now),
			State:      types.EngineStateIdle,
			Price:      price,
			Indicator:  rsi,
			PnLPct:     optional.None[float64](),
			TotalAsset: e.ledger.Balance().TotalAsset(price),
			Message:    "watching for entry",
		})

		return nil
	}

	e.log.Info("Entry signal",
		zap.String("instrument", e.instrument),
		zap.Float64("rsi", rsi),
		zap.Float64("threshold", strat.RSIEntryThreshold),
		zap.Float64("price", price),
	)

	return e.openPosition(ctx, strat, now)
}

// decideExit checks take-profit first, then stop-loss, at distinct
// thresholds; otherwise reports the held position.
func (e *Engine) decideExit(ctx context.Context, strat config.Strategy, price, rsi float64, now time.Time) error {
	pnl, err := e.ledger.PnLPct(price)
	if err != nil {
		// HOLDING with an empty ledger is a broken invariant.
		return e.halt(err, now)
	}

	switch {
	case pnl >= strat.TakeProfitPct:
		return e.closePosition(ctx, types.ExitReasonTakeProfit, price, pnl, now)

	case pnl <= -strat.StopLossPct:
		return e.closePositionAfterLoss(ctx, strat, price, pnl, now)

	default:
		e.emit(types.StatusEvent{
			EventMeta:  e.meta(now),
			State:      types.EngineStateHolding,
			Price:      price,
			Indicator:  rsi,
			PnLPct:     optional.Some(pnl),
			TotalAsset: e.ledger.Balance().TotalAsset(price),
			Message:    "holding",
		})

		return nil
	}
}

// openPosition buys order_amount_quote at market and transitions to HOLDING.
func (e *Engine) openPosition(ctx context.Context, strat config.Strategy, now time.Time) error {
	metrics.OrdersSubmitted.WithLabelValues("buy", string(e.mode)).Inc()

	fill, err := e.backend.Buy(ctx, e.instrument, strat.OrderAmountQuote)
	if err != nil {
		// Rejections and transient failures leave the state machine in IDLE.
		e.emitError(err, now)

		return nil
	}

	if err := e.ledger.Open(fill.Price, fill.Quantity, fill.Time); err != nil {
		return e.halt(err, now)
	}

	e.setState(types.EngineStateHolding)
	e.refreshBalance(ctx)
	metrics.PositionOpen.Set(1)

	e.log.Info("Position opened",
		zap.String("instrument", e.instrument),
		zap.Float64("price", fill.Price),
		zap.Float64("quantity", fill.Quantity),
	)

	e.emit(types.EntryEvent{
		EventMeta: e.meta(now),
		Price:     fill.Price,
		Quantity:  fill.Quantity,
	})

	return nil
}

// closePosition sells the full quantity and transitions back to IDLE. pnl is
// the decision-time profit percentage carried into the exit event.
func (e *Engine) closePosition(ctx context.Context, reason types.ExitReason, price, pnl float64, now time.Time) error {
	pos, err := e.ledger.Current().Take()
	if err != nil {
		return e.halt(errors.New(errors.ErrCodeInvalidState, "closing with no open position"), now)
	}

	metrics.OrdersSubmitted.WithLabelValues("sell", string(e.mode)).Inc()

	fill, err := e.backend.Sell(ctx, e.instrument, pos.Quantity)
	if err != nil {
		// The position stays open; the next tick re-evaluates the exit.
		e.emitError(err, now)

		return nil
	}

	if _, err := e.ledger.Close(); err != nil {
		return e.halt(err, now)
	}

	e.setState(types.EngineStateIdle)
	e.refreshBalance(ctx)
	metrics.PositionOpen.Set(0)

	if reason == types.ExitReasonTakeProfit && e.lossStreak > 0 {
		e.log.Info("Take profit resets loss streak", zap.Int("previous_streak", e.lossStreak))
		e.lossStreak = 0
		metrics.LossStreak.Set(0)
	}

	e.log.Info("Position closed",
		zap.String("instrument", e.instrument),
		zap.String("reason", string(reason)),
		zap.Float64("price", fill.Price),
		zap.Float64("pnl_pct", pnl),
	)

	e.emit(types.ExitEvent{
		EventMeta: e.meta(now),
		Reason:    reason,
		Price:     price,
		PnLPct:    pnl,
	})

	return nil
}

// closePositionAfterLoss is the stop-loss exit plus streak bookkeeping.
func (e *Engine) closePositionAfterLoss(ctx context.Context, strat config.Strategy, price, pnl float64, now time.Time) error {
	if err := e.closePosition(ctx, types.ExitReasonStopLoss, price, pnl, now); err != nil {
		return err
	}

	// A failed sell keeps the position open; only count completed exits.
	if e.State() != types.EngineStateIdle {
		return nil
	}

	e.lossStreak++
	metrics.LossStreak.Set(float64(e.lossStreak))

	if strat.MaxLossStreak > 0 && e.lossStreak >= strat.MaxLossStreak {
		e.cooldownUntil = now.Add(time.Duration(strat.CooldownMinutes) * time.Minute)
		e.log.Warn("Loss streak limit reached, entries suspended",
			zap.Int("streak", e.lossStreak),
			zap.Time("until", e.cooldownUntil),
		)
	}

	return nil
}

// cooldownRemaining reports whether the entry cooldown is active. An expired
// cooldown clears the loss streak.
func (e *Engine) cooldownRemaining(now time.Time) (time.Duration, bool) {
	if e.cooldownUntil.IsZero() {
		return 0, false
	}

	if now.Before(e.cooldownUntil) {
		return e.cooldownUntil.Sub(now), true
	}

	e.cooldownUntil = time.Time{}
	e.lossStreak = 0
	metrics.LossStreak.Set(0)
	e.log.Info("Cooldown expired, trading resumed")

	return 0, false
}

// halt transitions to STOPPED on an unrecoverable invariant violation. The
// returned error always carries the invalid-state code so the command path
// in handleCommand recognizes it as fatal and Run exits instead of ticking
// on in STOPPED. The last known position and balance stay in the ledger for
// inspection.
func (e *Engine) halt(err error, now time.Time) error {
	if !errors.HasCode(err, errors.ErrCodeInvalidState) {
		err = errors.Wrap(errors.ErrCodeInvalidState, "engine halted", err)
	}

	e.emitError(err, now)
	e.setState(types.EngineStateStopped)

	return err
}

// refreshBalance updates the ledger's balance snapshot after an order.
// Failures are transient; the stale snapshot stands until the next fill.
func (e *Engine) refreshBalance(ctx context.Context) {
	balance, err := e.backend.Balance(ctx)
	if err != nil {
		e.log.Warn("Balance refresh failed", zap.Error(err))

		return
	}

	e.ledger.SetBalance(balance)
}

// skipTick records a tick absorbed without a decision and surfaces the cause.
func (e *Engine) skipTick(cause string, err error) {
	metrics.TicksSkipped.WithLabelValues(cause).Inc()
	e.log.Warn("Tick skipped",
		zap.String("cause", cause),
		zap.Error(err),
	)
	e.emitError(err, time.Now())
}

func (e *Engine) meta(now time.Time) types.EventMeta {
	return types.EventMeta{
		ID:        uuid.NewString(),
		Time:      now,
		Simulated: e.mode == types.EngineModeSimulated,
	}
}

func (e *Engine) emit(event types.Event) {
	e.events <- event
}

func (e *Engine) emitError(err error, now time.Time) {
	e.emit(types.ErrorEvent{
		EventMeta: e.meta(now),
		Code:      errors.GetCode(err),
		Message:   err.Error(),
	})
}
