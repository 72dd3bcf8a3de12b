package kline

import (
	"context"
	"hash/fnv"

	"marketgate.dev/internal/hub"
	"marketgate.dev/internal/model"
	"marketgate.dev/pkg/safe"
)

const (
	shardCount = 16
	inboxSize  = 4096
)

type sample struct {
	key     model.ChannelKey
	tsMs    int64
	last    model.Decimal
	bidSize model.Decimal
	askSize model.Decimal
}

// symChain is the full rollup ladder for one symbol: one accumulator per
// interval, each emit cascading its closed bar into the next level up,
// mirroring the teacher's sAgg->mAgg->hAgg->dAgg wiring in shard.go.
type symChain struct {
	levels      []*rollup
	prevBidSize model.Decimal
	prevAskSize model.Decimal
	hasPrev     bool
}

func newSymChain(venue string, marketType model.MarketType, symbol model.Symbol, store *Store, out chan<- Bar) *symChain {
	sc := &symChain{levels: make([]*rollup, len(chainDurations))}
	for i := len(chainDurations) - 1; i >= 0; i-- {
		idx := i
		emit := func(b Bar) {
			store.append(b)
			select {
			case out <- b:
			default: // REST reads from the store; a full fan-out channel just drops the live event
			}
			if idx+1 < len(sc.levels) {
				sc.levels[idx+1].offer(barReading(b))
			}
		}
		sc.levels[idx] = newRollup(venue, marketType, symbol, chainDurations[idx].interval, chainDurations[idx].duration, emit)
	}
	return sc
}

// offerTicker folds one ticker sample into the base (1m) level. Volume has
// no dedicated trade-tape signal to draw from, so it is approximated as the
// absolute bid/ask size delta since the previous sample, zero on the first.
func (sc *symChain) offerTicker(tsMs int64, last, bidSize, askSize model.Decimal) {
	volume := model.DecimalZero
	if sc.hasPrev {
		volume = absDiff(bidSize, sc.prevBidSize).Add(absDiff(askSize, sc.prevAskSize))
	}
	sc.prevBidSize, sc.prevAskSize, sc.hasPrev = bidSize, askSize, true
	sc.levels[0].offer(reading{tsMs: tsMs, open: last, high: last, low: last, close: last, volume: volume})
}

func (sc *symChain) flushAll() {
	for _, lvl := range sc.levels {
		lvl.flush()
	}
}

func absDiff(a, b model.Decimal) model.Decimal {
	d := a.Sub(b)
	if d.IsNegative() {
		return d.Neg()
	}
	return d
}

type aggShard struct {
	inbox  chan sample
	chains map[model.ChannelKey]*symChain
}

// Aggregator is the candle aggregator (C8): an FNV-sharded set of per-symbol
// rollup chains, fed by ticker frames from the hub like any other downstream
// subscriber, never touching the hub's cache or adapter layer directly.
type Aggregator struct {
	hub   *hub.Hub
	store *Store
	out   chan Bar

	shards []*aggShard
	subID  string
	sub    *hub.Subscriber
}

func NewAggregator(h *hub.Hub) *Aggregator {
	a := &Aggregator{
		hub:    h,
		store:  NewStore(),
		out:    make(chan Bar, 4096),
		shards: make([]*aggShard, shardCount),
		subID:  "kline-aggregator",
	}
	for i := range a.shards {
		a.shards[i] = &aggShard{
			inbox:  make(chan sample, inboxSize),
			chains: make(map[model.ChannelKey]*symChain, 64),
		}
	}
	a.sub = h.RegisterSubscriber(a.subID, hub.DefaultQueueCapacity)
	return a
}

// Store exposes the queryable bar history backing the REST candles endpoint.
func (a *Aggregator) Store() *Store { return a.store }

// Out streams newly closed bars at any interval, for an optional
// downstream bridge; a bar closed while the channel is full is not sent
// here (it is still in the Store). The REST endpoint should prefer Store.Query.
func (a *Aggregator) Out() <-chan Bar { return a.out }

// Track registers the aggregator's interest in a symbol's ticker stream with
// the hub, as an ordinary subscriber attach. The candles REST handler calls
// it on every request; the hub no-ops a repeat attach for a key the
// aggregator is already attached to.
func (a *Aggregator) Track(ctx context.Context, key model.ChannelKey) error {
	key = key.Normalize()
	key.Kind = model.ChannelTicker
	key.Depth = 0
	return a.hub.Attach(ctx, a.subID, key)
}

// Run drains the aggregator's hub subscriber and its shard workers until ctx
// is canceled, flushing every shard's in-progress bars on exit.
func (a *Aggregator) Run(ctx context.Context) {
	for _, sh := range a.shards {
		sh := sh
		safe.GoCtx(ctx, func(ctx context.Context) { a.runShard(ctx, sh) })
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.sub.Notify():
			for _, frame := range a.sub.Drain(256) {
				a.route(frame.Msg)
			}
		}
	}
}

func (a *Aggregator) route(msg model.StreamMessage) {
	if msg.Type != model.StreamTicker {
		return
	}
	t, ok := msg.Payload.(model.Ticker)
	if !ok {
		return
	}
	key := t.ChannelKey()
	sh := a.shards[shardIndex(key.String(), len(a.shards))]
	select {
	case sh.inbox <- sample{key: key, tsMs: t.TsUTCMs, last: t.Last, bidSize: t.BidSize, askSize: t.AskSize}:
	default: // shard backlogged; drop rather than block the hub's fan-out loop
	}
}

func (a *Aggregator) runShard(ctx context.Context, sh *aggShard) {
	for {
		select {
		case <-ctx.Done():
			for _, c := range sh.chains {
				c.flushAll()
			}
			return
		case sm := <-sh.inbox:
			chain, ok := sh.chains[sm.key]
			if !ok {
				chain = newSymChain(sm.key.Venue, sm.key.MarketType, sm.key.Symbol, a.store, a.out)
				sh.chains[sm.key] = chain
			}
			chain.offerTicker(sm.tsMs, sm.last, sm.bidSize, sm.askSize)
		}
	}
}

func shardIndex(s string, n int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(n))
}
