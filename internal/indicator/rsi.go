// Package indicator implements the technical indicators used by the trading
// engine. All calculations are pure functions over a price window so that a
// simulated run and a live run fed the same prices produce the same signals.
package indicator

import (
	"github.com/antigravity-lab/antigravity/pkg/errors"
)

// DefaultRSIPeriod is the classic Wilder lookback.
const DefaultRSIPeriod = 14

// RSI computes the Wilder-style Relative Strength Index over the given price
// window (oldest first). It requires at least period+1 prices to form period
// deltas and returns a value in [0, 100].
//
// Edge cases: a window with no losses returns 100, no gains returns 0, and a
// flat window (no gains and no losses) returns a neutral 50.
func RSI(window []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidPeriod, "period must be a positive integer, got %d", period)
	}

	if len(window) < period+1 {
		return 0, errors.NewInsufficientDataErrorf(period+1, len(window), "",
			"RSI requires %d prices, got %d", period+1, len(window))
	}

	// Calculate price changes
	gains := make([]float64, 0, len(window)-1)
	losses := make([]float64, 0, len(window)-1)

	for i := 1; i < len(window); i++ {
		change := window[i] - window[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	// First average over the initial period
	avgGain := 0.0
	avgLoss := 0.0

	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}

	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Subsequent averages using Wilder's smoothing method
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	switch {
	case avgGain == 0 && avgLoss == 0:
		// Flat market: neither side dominates.
		return 50, nil
	case avgLoss == 0:
		return 100, nil
	case avgGain == 0:
		return 0, nil
	}

	rs := avgGain / avgLoss

	return 100 - (100 / (1 + rs)), nil
}
