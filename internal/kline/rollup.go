package kline

import "time"

// chainDurations is the rollup ladder, grounded on the teacher's shard.go
// 1s->1m->1h->1d chain but re-targeted to the candle endpoint's interval
// vocabulary. 1M is approximated as a fixed 30-day window: true
// calendar-month bucketing would need per-symbol timezone state nothing
// else in the gateway carries, so it is intentionally out of scope here.
var chainDurations = []struct {
	interval Interval
	duration time.Duration
}{
	{Interval1m, time.Minute},
	{Interval5m, 5 * time.Minute},
	{Interval15m, 15 * time.Minute},
	{Interval1h, time.Hour},
	{Interval4h, 4 * time.Hour},
	{Interval1d, 24 * time.Hour},
	{Interval1w, 7 * 24 * time.Hour},
	{Interval1M, 30 * 24 * time.Hour},
}

type reading struct {
	tsMs                           int64
	open, high, low, close, volume Decimal
}

func barReading(b Bar) reading {
	return reading{tsMs: b.OpenTimeMs, open: b.Open, high: b.High, low: b.Low, close: b.Close, volume: b.Volume}
}

// rollup maintains the single in-progress bar for one (symbol, interval).
// It is only ever touched from its owning shard goroutine, so it needs no
// lock of its own, mirroring the teacher's per-shard TradeAgg/RollupAgg.
type rollup struct {
	venue      string
	marketType MarketType
	symbol     Symbol
	interval   Interval
	intervalMs int64
	cur        *Bar
	emit       func(Bar)
}

func newRollup(venue string, marketType MarketType, symbol Symbol, interval Interval, dur time.Duration, emit func(Bar)) *rollup {
	return &rollup{
		venue:      venue,
		marketType: marketType,
		symbol:     symbol,
		interval:   interval,
		intervalMs: dur.Milliseconds(),
		emit:       emit,
	}
}

func (r *rollup) newBar(bucketStart, bucketEnd int64, rd reading) *Bar {
	return &Bar{
		Venue: r.venue, MarketType: r.marketType, Symbol: r.symbol, Interval: string(r.interval),
		OpenTimeMs: bucketStart, CloseTimeMs: bucketEnd,
		Open: rd.open, High: rd.high, Low: rd.low, Close: rd.close, Volume: rd.volume, Samples: 1,
	}
}

// offer folds one reading into the bucket it falls into. A reading older
// than the in-progress bucket is dropped (v0 carries no reorder window, as
// the ticker stream it consumes is already delivered in arrival order).
func (r *rollup) offer(rd reading) {
	bs := (rd.tsMs / r.intervalMs) * r.intervalMs
	be := bs + r.intervalMs

	if r.cur == nil {
		r.cur = r.newBar(bs, be, rd)
		return
	}
	if bs > r.cur.OpenTimeMs {
		r.emit(*r.cur)
		r.cur = r.newBar(bs, be, rd)
		return
	}
	if bs < r.cur.OpenTimeMs {
		return
	}

	if rd.high.GreaterThan(r.cur.High) {
		r.cur.High = rd.high
	}
	if rd.low.LessThan(r.cur.Low) {
		r.cur.Low = rd.low
	}
	r.cur.Close = rd.close
	r.cur.Volume = r.cur.Volume.Add(rd.volume)
	r.cur.Samples++
}

// flush emits and clears the in-progress bar, if any, used on shutdown to
// avoid losing the tail bar of each interval.
func (r *rollup) flush() {
	if r.cur != nil && r.cur.Samples > 0 {
		r.emit(*r.cur)
		r.cur = nil
	}
}
