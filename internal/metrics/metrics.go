package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antigravity_ticks_total",
			Help: "Total number of decision ticks processed (by mode).",
		},
		[]string{"mode"},
	)

	TicksSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antigravity_ticks_skipped_total",
			Help: "Total number of ticks skipped without a decision (by cause).",
		},
		[]string{"cause"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antigravity_orders_submitted_total",
			Help: "Total number of market orders submitted (by side and mode).",
		},
		[]string{"side", "mode"},
	)

	PositionOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "antigravity_position_open",
			Help: "1 while a position is open, 0 otherwise.",
		},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "antigravity_equity",
			Help: "Total account value at the last observed price.",
		},
	)

	LossStreak = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "antigravity_loss_streak",
			Help: "Current number of consecutive stop-loss exits.",
		},
	)
)

func init() {
	prometheus.MustRegister(TicksProcessed, TicksSkipped, OrdersSubmitted, PositionOpen, EquityGauge, LossStreak)
}
