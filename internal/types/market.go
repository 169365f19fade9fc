package types

import "time"

// PriceSample is a single observed price for an instrument.
// Samples are kept in a bounded sliding window, oldest first.
type PriceSample struct {
	Time  time.Time `json:"time" yaml:"time"`
	Price float64   `json:"price" yaml:"price"`
}

// Prices extracts the raw price series from a sample window, oldest first.
func Prices(samples []PriceSample) []float64 {
	prices := make([]float64, len(samples))
	for i, s := range samples {
		prices[i] = s.Price
	}

	return prices
}
