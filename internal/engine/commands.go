package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/antigravity-lab/antigravity/internal/metrics"
	"github.com/antigravity-lab/antigravity/internal/types"
	"github.com/antigravity-lab/antigravity/pkg/errors"
)

// commandKind enumerates the inbound control-surface commands. Commands are
// queued and applied between ticks, never interrupting one in progress.
type commandKind int

const (
	commandStop commandKind = iota
	commandPanicSell
	commandBuyNow
	commandStopLossCheck
)

type command struct {
	kind  commandKind
	reply chan error
}

// send queues a command and waits for the decision loop to execute it. It
// fails fast when the engine has already stopped.
func (e *Engine) send(kind commandKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}

	select {
	case e.commands <- cmd:
	case <-e.done:
		return errors.New(errors.ErrCodeEngineStopped, "engine is not running")
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-e.done:
		return errors.New(errors.ErrCodeEngineStopped, "engine stopped before command completed")
	}
}

// Stop halts the engine at the next tick boundary. In-flight order calls are
// never cancelled mid-flight; the running tick (if any) completes first.
// Stop is terminal for this engine instance.
func (e *Engine) Stop() error {
	return e.send(commandStop)
}

// PanicSell liquidates the full position at market immediately, bypassing
// take-profit and stop-loss thresholds. A panic sell while IDLE is a no-op.
func (e *Engine) PanicSell() error {
	return e.send(commandPanicSell)
}

// BuyNow places a manual market buy of order_amount_quote while IDLE. It
// fails when a position is already open.
func (e *Engine) BuyNow() error {
	return e.send(commandBuyNow)
}

// StopLossCheck evaluates the stop-loss branch outside the tick cadence,
// selling if the position has breached the threshold.
func (e *Engine) StopLossCheck() error {
	return e.send(commandStopLossCheck)
}

// handleCommand executes one queued command under the same mutual exclusion
// as a tick. It returns stop=true when the loop must exit cleanly.
func (e *Engine) handleCommand(ctx context.Context, cmd command) (stop bool, fatal error) {
	switch cmd.kind {
	case commandStop:
		e.log.Info("Engine stopping: operator command")
		cmd.reply <- nil

		return true, nil

	case commandPanicSell:
		err := e.panicSell(ctx)
		cmd.reply <- err

		return false, e.fatalIfHalted(err)

	case commandBuyNow:
		err := e.buyNow(ctx)
		cmd.reply <- err

		return false, e.fatalIfHalted(err)

	case commandStopLossCheck:
		err := e.stopLossCheck(ctx)
		cmd.reply <- err

		return false, e.fatalIfHalted(err)
	}

	cmd.reply <- errors.Newf(errors.ErrCodeInvalidParameter, "unknown command kind %d", cmd.kind)

	return false, nil
}

// fatalIfHalted promotes a command error to a loop-terminating one when the
// command tripped an invariant and halted the engine. Routine rejections
// leave the state machine running and stay local to the caller.
func (e *Engine) fatalIfHalted(err error) error {
	if err != nil && e.State() == types.EngineStateStopped {
		return err
	}

	return nil
}

// panicSell implements the operator-triggered full liquidation. When IDLE it
// does nothing: no event, no state change.
func (e *Engine) panicSell(ctx context.Context) error {
	if e.State() != types.EngineStateHolding {
		e.log.Info("Panic sell ignored: no open position")

		return nil
	}

	now := time.Now()

	pos, err := e.ledger.Current().Take()
	if err != nil {
		return e.halt(errors.New(errors.ErrCodeInvalidState, "holding state with empty ledger"), now)
	}

	e.log.Warn("Panic sell: liquidating position",
		zap.String("instrument", e.instrument),
		zap.Float64("quantity", pos.Quantity),
	)

	metrics.OrdersSubmitted.WithLabelValues("sell", string(e.mode)).Inc()

	// Price the exit at the fill rather than skipping the sell when the
	// ticker is unavailable: a panic liquidation must always be attempted.
	fill, err := e.backend.Sell(ctx, e.instrument, pos.Quantity)
	if err != nil {
		e.emitError(err, now)

		return err
	}

	if _, err := e.ledger.Close(); err != nil {
		return e.halt(err, now)
	}

	e.setState(types.EngineStateIdle)
	e.refreshBalance(ctx)
	metrics.PositionOpen.Set(0)

	pnl := (fill.Price - pos.EntryPrice) / pos.EntryPrice * 100

	e.emit(types.ExitEvent{
		EventMeta: e.meta(now),
		Reason:    types.ExitReasonPanic,
		Price:     fill.Price,
		PnLPct:    pnl,
	})

	return nil
}

// buyNow implements the manual market entry.
func (e *Engine) buyNow(ctx context.Context) error {
	if e.State() != types.EngineStateIdle {
		return errors.New(errors.ErrCodeInvalidState, "cannot buy: a position is already open")
	}

	strat := *e.strategy.Load()

	e.log.Info("Manual buy requested",
		zap.String("instrument", e.instrument),
		zap.Float64("order_amount_quote", strat.OrderAmountQuote),
	)

	return e.openPosition(ctx, strat, time.Now())
}

// stopLossCheck evaluates only the stop-loss exit branch, outside the
// normal cadence.
func (e *Engine) stopLossCheck(ctx context.Context) error {
	if e.State() != types.EngineStateHolding {
		return nil
	}

	strat := *e.strategy.Load()
	now := time.Now()

	price, err := e.source.CurrentPrice(ctx, e.instrument)
	if err != nil {
		e.emitError(err, now)

		return err
	}

	pnl, err := e.ledger.PnLPct(price)
	if err != nil {
		return e.halt(err, now)
	}

	if pnl > -strat.StopLossPct {
		return nil
	}

	return e.closePositionAfterLoss(ctx, strat, price, pnl, now)
}
