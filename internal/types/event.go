package types

import (
	"time"

	"github.com/antigravity-lab/antigravity/pkg/errors"
	"github.com/moznion/go-optional"
)

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitReasonTakeProfit ExitReason = "TAKE_PROFIT"
	ExitReasonStopLoss   ExitReason = "STOP_LOSS"
	ExitReasonPanic      ExitReason = "PANIC"
)

// Event is an engine-to-control-surface notification. Events are delivered
// in decision order, never reordered or coalesced. Simulated-mode events are
// tagged so display and log separation needs no other mode knowledge.
type Event interface {
	// EventTime is the time the decision was made.
	EventTime() time.Time
	// IsSimulated reports whether the event came from a simulated run.
	IsSimulated() bool
}

// EventMeta carries the fields shared by every event.
type EventMeta struct {
	ID        string    `json:"id" yaml:"id"`
	Time      time.Time `json:"time" yaml:"time"`
	Simulated bool      `json:"simulated" yaml:"simulated"`
}

func (m EventMeta) EventTime() time.Time { return m.Time }

func (m EventMeta) IsSimulated() bool { return m.Simulated }

// EntryEvent is emitted after a successful buy opened a position.
type EntryEvent struct {
	EventMeta `yaml:",inline"`

	Price    float64 `json:"price" yaml:"price"`
	Quantity float64 `json:"quantity" yaml:"quantity"`
}

// ExitEvent is emitted after the position was fully sold.
type ExitEvent struct {
	EventMeta `yaml:",inline"`

	Reason ExitReason `json:"reason" yaml:"reason"`
	Price  float64    `json:"price" yaml:"price"`
	PnLPct float64    `json:"pnl_pct" yaml:"pnl_pct"`
}

// StatusEvent is emitted on ticks that change nothing, to keep the control
// surface display current. PnLPct is present only while a position is open.
type StatusEvent struct {
	EventMeta `yaml:",inline"`

	State      EngineState              `json:"state" yaml:"state"`
	Price      float64                  `json:"price" yaml:"price"`
	Indicator  float64                  `json:"indicator" yaml:"indicator"`
	PnLPct     optional.Option[float64] `json:"pnl_pct" yaml:"pnl_pct"`
	TotalAsset float64                  `json:"total_asset" yaml:"total_asset"`
	Message    string                   `json:"message" yaml:"message"`
}

// ErrorEvent surfaces a recoverable error with enough context for the
// operator to decide whether to restart.
type ErrorEvent struct {
	EventMeta `yaml:",inline"`

	Code    errors.ErrorCode `json:"code" yaml:"code"`
	Message string           `json:"message" yaml:"message"`
}
