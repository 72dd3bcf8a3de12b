// Package kline implements the candle aggregator: an FNV-hash-sharded set
// of single-goroutine rollup chains that fold ticker last-price samples into
// OHLCV bars at several interval widths, feeding the REST candles endpoint.
//
// Adapted from the teacher's internal/quotes/kline/shard.go sharded
// aggregator (one inbox + accumulator chain per shard, FNV-1a routing by
// symbol) and agg.go's TradeAgg/RollupAgg bucket-and-carry-forward logic,
// re-targeted from trade prints and a fixed-point int64 scale to ticker
// samples and shopspring/decimal, matching the rest of the canonical model.
package kline

import "marketgate.dev/internal/model"

// Local aliases keep the rollup/shard files free of repeated model.
// qualifiers, matching how the rest of this package reads.
type (
	Decimal    = model.Decimal
	MarketType = model.MarketType
	Symbol     = model.Symbol
)

// Interval is one candle bucket width in the supported vocabulary.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

// ParseInterval validates an interval suffix from the candles query string.
func ParseInterval(s string) (Interval, bool) {
	switch Interval(s) {
	case Interval1m, Interval5m, Interval15m, Interval1h, Interval4h, Interval1d, Interval1w, Interval1M:
		return Interval(s), true
	default:
		return "", false
	}
}

// Bar is one closed OHLCV candle.
type Bar struct {
	Venue       string           `json:"exchange"`
	MarketType  model.MarketType `json:"market_type"`
	Symbol      model.Symbol     `json:"symbol"`
	Interval    string           `json:"interval"`
	OpenTimeMs  int64            `json:"open_time_ms"`
	CloseTimeMs int64            `json:"close_time_ms"`
	Open        model.Decimal    `json:"open"`
	High        model.Decimal    `json:"high"`
	Low         model.Decimal    `json:"low"`
	Close       model.Decimal    `json:"close"`
	Volume      model.Decimal    `json:"volume"`
	Samples     int64            `json:"samples"`
}
