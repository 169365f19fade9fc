package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"
)

type EventTestSuite struct {
	suite.Suite
}

func TestEventSuite(t *testing.T) {
	suite.Run(t, new(EventTestSuite))
}

func (suite *EventTestSuite) TestEventMetaImplementsEvent() {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var events = []Event{
		EntryEvent{EventMeta: EventMeta{ID: "1", Time: now, Simulated: true}},
		ExitEvent{EventMeta: EventMeta{ID: "2", Time: now, Simulated: true}},
		StatusEvent{EventMeta: EventMeta{ID: "3", Time: now, Simulated: false}},
		ErrorEvent{EventMeta: EventMeta{ID: "4", Time: now, Simulated: false}},
	}

	for _, ev := range events {
		suite.Equal(now, ev.EventTime())
	}

	suite.True(events[0].IsSimulated())
	suite.False(events[2].IsSimulated())
}

func (suite *EventTestSuite) TestStatusEventPnLSerialization() {
	withPosition := StatusEvent{
		State:  EngineStateHolding,
		PnLPct: optional.Some(2.5),
	}

	data, err := json.Marshal(withPosition)
	suite.Require().NoError(err)
	suite.Contains(string(data), `"pnl_pct":2.5`)

	withoutPosition := StatusEvent{
		State:  EngineStateIdle,
		PnLPct: optional.None[float64](),
	}

	data, err = json.Marshal(withoutPosition)
	suite.Require().NoError(err)
	suite.Contains(string(data), `"pnl_pct":null`)
}

func (suite *EventTestSuite) TestPricesExtraction() {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	samples := []PriceSample{
		{Time: start, Price: 100},
		{Time: start.Add(time.Minute), Price: 101},
	}

	suite.Equal([]float64{100, 101}, Prices(samples))
	suite.Empty(Prices(nil))
}

func (suite *EventTestSuite) TestTotalAsset() {
	balance := Balance{QuoteFree: 1000, BaseHeld: 2}

	suite.InDelta(1200.0, balance.TotalAsset(100), 1e-9)
	suite.InDelta(1000.0, Balance{QuoteFree: 1000}.TotalAsset(50), 1e-9)
}
