package marketdata

import (
	"context"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/antigravity-lab/antigravity/internal/types"
	"github.com/antigravity-lab/antigravity/pkg/errors"
)

// ScriptedSource replays a fixed price series with the same shape as a live
// source. Each CurrentPrice call advances to the next scripted price (the
// last price repeats once the script runs out), and RecentPrices returns the
// window ending at the current script position. It backs offline runs and
// deterministic tests.
type ScriptedSource struct {
	mu     sync.Mutex
	prices []float64
	start  time.Time
	step   time.Duration
	cursor int
}

// NewScriptedSource creates a source that replays prices in order, one per
// CurrentPrice call, with synthetic timestamps step apart starting at start.
func NewScriptedSource(prices []float64, start time.Time, step time.Duration) *ScriptedSource {
	script := make([]float64, len(prices))
	copy(script, prices)

	return &ScriptedSource{
		prices: script,
		start:  start,
		step:   step,
		cursor: -1,
	}
}

// CurrentPrice implements Source.
func (s *ScriptedSource) CurrentPrice(_ context.Context, _ string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.prices) == 0 {
		return 0, errors.New(errors.ErrCodeTransientFetch, "scripted source has no prices")
	}

	if s.cursor < len(s.prices)-1 {
		s.cursor++
	}

	return s.prices[s.cursor], nil
}

// RecentPrices implements Source. It returns up to n samples ending at the
// current script position, oldest first.
func (s *ScriptedSource) RecentPrices(_ context.Context, _ string, n int) ([]types.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor < 0 {
		return nil, nil
	}

	end := s.cursor + 1

	from := 0
	if end > n {
		from = end - n
	}

	samples := make([]types.PriceSample, 0, end-from)
	for i := from; i < end; i++ {
		samples = append(samples, types.PriceSample{
			Time:  s.start.Add(time.Duration(i) * s.step),
			Price: s.prices[i],
		})
	}

	return samples, nil
}

// Ensure ScriptedSource implements Source.
var _ Source = (*ScriptedSource)(nil)

// LoadScript reads a YAML price list from path for replaying through a
// ScriptedSource, e.g. "[100, 101.5, 99.8]" or one price per list item.
func LoadScript(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDataNotFound, err, "failed to read replay script %s", path)
	}

	var prices []float64
	if err := yaml.Unmarshal(data, &prices); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeMarketDataParseFailed, err, "failed to parse replay script %s", path)
	}

	if len(prices) == 0 {
		return nil, errors.Newf(errors.ErrCodeDataNotFound, "replay script %s has no prices", path)
	}

	return prices, nil
}
