// Package bybit translates Bybit v5 public-channel frames into the
// canonical model. Grounded on original_source/crypto-dash-backend's
// crates/exchanges/bybit (types.rs tag shape, adapter.rs topic naming and
// per-market-type websocket routing), carried over into this gateway's
// upstream.Session/adapter.Adapter idiom the same way binance.Adapter is.
package bybit

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"marketgate.dev/internal/adapter"
	"marketgate.dev/internal/adapter/mock"
	"marketgate.dev/internal/model"
	"marketgate.dev/internal/upstream"
	"marketgate.dev/pkg/logger"
	"marketgate.dev/pkg/metrics"
	"marketgate.dev/pkg/ratelimit"
	"marketgate.dev/pkg/safe"
	"marketgate.dev/pkg/xerr"
)

const venue = "bybit"

const (
	spotURL   = "wss://stream.bybit.com/v5/public/spot"
	linearURL = "wss://stream.bybit.com/v5/public/linear"
)

var quoteAssets = []string{"USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "USD"}

// SplitSymbol maps a Bybit native symbol (e.g. "BTCUSDT") to base/quote, by
// longest-suffix match against the known quote-asset list, same approach as
// binance.SplitSymbol.
func SplitSymbol(sym string) (base, quote string, ok bool) {
	s := strings.ToUpper(sym)
	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q, true
		}
	}
	return "", "", false
}

func urlFor(marketType model.MarketType) string {
	if marketType == model.MarketPerpetual {
		return linearURL
	}
	return spotURL
}

// envelope is the shared shape of every Bybit v5 public-channel push: the
// topic carries the channel name, Type distinguishes ticker pushes from
// order-book snapshot/delta pushes, and the subscription ack has neither.
type envelope struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	TsMs    int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Success *bool           `json:"success,omitempty"`
	RetMsg  string          `json:"ret_msg,omitempty"`
}

type tickerData struct {
	Symbol  string `json:"symbol"`
	LastPx  string `json:"lastPrice"`
	BidPx   string `json:"bid1Price"`
	AskPx   string `json:"ask1Price"`
	BidSize string `json:"bid1Size"`
	AskSize string `json:"ask1Size"`
}

type bookData struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Seq    int64      `json:"seq"`
}

// ParseTicker turns one "tickers.*" push into a canonical Ticker. Bybit's
// lightweight ticker push omits unchanged fields between ticks; a missing
// bid/ask falls back to last (bid1Price → lastPrice, ask1Price → lastPrice).
func ParseTicker(env envelope, marketType model.MarketType) (model.Ticker, error) {
	var d tickerData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return model.Ticker{}, xerr.Wrap(xerr.ProtocolViolation, "malformed bybit ticker payload", err)
	}
	base, quote, ok := SplitSymbol(d.Symbol)
	if !ok {
		return model.Ticker{}, xerr.New(xerr.ProtocolViolation, "cannot split bybit symbol: "+d.Symbol)
	}
	last, err := model.ParseDecimal(orDefault(d.LastPx, "0"))
	if err != nil {
		return model.Ticker{}, xerr.Wrap(xerr.ProtocolViolation, "bad last price", err)
	}
	bid, err := model.ParseDecimal(orDefault(d.BidPx, d.LastPx))
	if err != nil {
		return model.Ticker{}, xerr.Wrap(xerr.ProtocolViolation, "bad bid price", err)
	}
	ask, err := model.ParseDecimal(orDefault(d.AskPx, d.LastPx))
	if err != nil {
		return model.Ticker{}, xerr.Wrap(xerr.ProtocolViolation, "bad ask price", err)
	}
	bidSize, _ := model.ParseDecimal(orDefault(d.BidSize, "0"))
	askSize, _ := model.ParseDecimal(orDefault(d.AskSize, "0"))

	return model.NewTicker(env.TsMs, venue, marketType, model.NewSymbol(base, quote), bid, ask, last, bidSize, askSize)
}

// ParseBook turns one "orderbook.*" push into either a BookSnapshot or
// BookDelta, discriminated by env.Type.
func ParseBook(env envelope, marketType model.MarketType, depth int) (snapshot *model.BookSnapshot, delta *model.BookDelta, err error) {
	var d bookData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return nil, nil, xerr.Wrap(xerr.ProtocolViolation, "malformed bybit orderbook payload", err)
	}
	base, quote, ok := SplitSymbol(d.Symbol)
	if !ok {
		return nil, nil, xerr.New(xerr.ProtocolViolation, "cannot split bybit symbol: "+d.Symbol)
	}
	sym := model.NewSymbol(base, quote)
	bids, err := levels(d.Bids)
	if err != nil {
		return nil, nil, xerr.Wrap(xerr.ProtocolViolation, "bad bid level", err)
	}
	asks, err := levels(d.Asks)
	if err != nil {
		return nil, nil, xerr.Wrap(xerr.ProtocolViolation, "bad ask level", err)
	}

	switch env.Type {
	case "snapshot":
		s, err := model.NewBookSnapshot(env.TsMs, venue, marketType, sym, bids, asks, nil)
		if err != nil {
			return nil, nil, err
		}
		return &s, nil, nil
	case "delta":
		seq := d.Seq
		return nil, &model.BookDelta{
			TsUTCMs: env.TsMs, Venue: venue, MarketType: marketType, Symbol: sym,
			UpsertsBid: bids, UpsertsAsk: asks, Seq: &seq,
		}, nil
	default:
		return nil, nil, xerr.New(xerr.ProtocolViolation, "unknown bybit orderbook push type: "+env.Type)
	}
}

func levels(raw [][]string) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) != 2 {
			continue
		}
		price, err := model.ParseDecimal(lvl[0])
		if err != nil {
			return nil, err
		}
		size, err := model.ParseDecimal(lvl[1])
		if err != nil {
			return nil, err
		}
		out = append(out, model.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func topicFor(key model.ChannelKey) string {
	native := strings.ToUpper(key.Symbol.String())
	switch key.Kind {
	case model.ChannelTicker:
		return "tickers." + native
	case model.ChannelBookSnapshot, model.ChannelBookDelta:
		depth := key.Depth
		if depth <= 0 {
			depth = 1
		}
		return "orderbook." + strconv.Itoa(depth) + "." + native
	default:
		return ""
	}
}

type subscribeCmd struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// marketSession bundles one upstream.Session per Bybit market type (spot,
// perpetual), since Bybit routes those to distinct websocket endpoints.
type marketSession struct {
	session *upstream.Session
}

type channelState struct {
	refcount  int
	degraded  bool
	cancel    context.CancelFunc
	lastFrame time.Time
}

// Adapter implements adapter.Adapter for Bybit spot and perpetual tickers
// plus top-of-book snapshots/deltas.
type Adapter struct {
	degradationAfter time.Duration
	breaker          *ratelimit.BreakerManager
	limiter          *ratelimit.Store

	mu       sync.Mutex
	sessions map[model.MarketType]*marketSession
	states   map[model.ChannelKey]*channelState
	pub      adapter.Publisher
	cache    adapter.CacheWriter
}

func New(breaker *ratelimit.BreakerManager, limiter *ratelimit.Store) *Adapter {
	return &Adapter{
		degradationAfter: 10 * time.Second,
		breaker:          breaker,
		limiter:          limiter,
		sessions:         make(map[model.MarketType]*marketSession, 2),
		states:           make(map[model.ChannelKey]*channelState, 32),
	}
}

// SetDegradationAfter overrides how long a channel must go without
// successful upstream traffic before the adapter falls back to the mock
// generator, normally the degradation_ms bootstrap setting.
func (a *Adapter) SetDegradationAfter(d time.Duration) {
	if d > 0 {
		a.degradationAfter = d
	}
}

func (a *Adapter) ID() string { return venue }

func (a *Adapter) Start(ctx context.Context, pub adapter.Publisher, cache adapter.CacheWriter, meta adapter.MetadataPort) error {
	a.mu.Lock()
	a.pub = pub
	a.cache = cache
	for _, mt := range []model.MarketType{model.MarketSpot, model.MarketPerpetual} {
		sess := upstream.NewSession(upstream.Config{
			Venue:     venue,
			URL:       urlFor(mt),
			Breaker:   a.breaker,
			RateLimit: a.limiter,
		})
		a.sessions[mt] = &marketSession{session: sess}
	}
	sessions := make(map[model.MarketType]*upstream.Session, len(a.sessions))
	for mt, ms := range a.sessions {
		sessions[mt] = ms.session
	}
	a.mu.Unlock()

	for mt, sess := range sessions {
		mt, sess := mt, sess
		safe.GoCtx(ctx, func(ctx context.Context) { sess.Start(ctx) })
		safe.GoCtx(ctx, func(ctx context.Context) { a.pump(ctx, mt, sess) })
	}
	<-ctx.Done()
	return nil
}

func (a *Adapter) pump(ctx context.Context, marketType model.MarketType, sess *upstream.Session) {
	for item := range sess.Events() {
		if item.Frame != nil {
			a.onFrame(marketType, *item.Frame)
			continue
		}
		if item.Event != nil {
			logger.Debug(ctx, "bybit session event", zap.String("market_type", string(marketType)), zap.String("kind", string(item.Event.Kind)))
		}
	}
}

func (a *Adapter) onFrame(marketType model.MarketType, f upstream.NativeFrame) {
	var env envelope
	if err := json.Unmarshal(f.Data, &env); err != nil || env.Topic == "" {
		return // subscription ack or unparseable frame, nothing to publish
	}

	switch {
	case strings.HasPrefix(env.Topic, "tickers."):
		tk, err := ParseTicker(env, marketType)
		if err != nil {
			return
		}
		key := tk.ChannelKey()
		a.noteResync(key)
		a.cache.Put(key, model.TickerMessage(tk))
		a.pub.Publish(key, model.TickerMessage(tk))

	case strings.HasPrefix(env.Topic, "orderbook."):
		depth := depthFromTopic(env.Topic)
		snap, delta, err := ParseBook(env, marketType, depth)
		if err != nil {
			return
		}
		if snap != nil {
			key := snap.ChannelKey(depth)
			a.noteResync(key)
			a.cache.Put(key, model.BookSnapshotMessage(*snap))
			a.pub.Publish(key, model.BookSnapshotMessage(*snap))
		}
		if delta != nil {
			key := delta.ChannelKey(depth)
			a.noteResync(key)
			a.cache.Put(key, model.BookDeltaMessage(*delta))
			a.pub.Publish(key, model.BookDeltaMessage(*delta))
		}
	}
}

func depthFromTopic(topic string) int {
	parts := strings.Split(topic, ".")
	if len(parts) < 2 {
		return 1
	}
	d, err := strconv.Atoi(parts[1])
	if err != nil || d <= 0 {
		return 1
	}
	return d
}

// noteResync records this key's successful traffic time, and cancels any
// running mock fallback once real traffic resumes, emitting a resynced info
// frame, mirroring binance.Adapter.onFrame.
func (a *Adapter) noteResync(key model.ChannelKey) {
	key = key.Normalize()
	a.mu.Lock()
	st := a.states[key]
	var cancel context.CancelFunc
	if st != nil {
		st.lastFrame = time.Now()
		if st.cancel != nil {
			cancel = st.cancel
			st.cancel = nil
			st.degraded = false
		}
	}
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	a.pub.Publish(key, model.InfoMessage("resynced"))
}

func (a *Adapter) Attach(ctx context.Context, key model.ChannelKey) error {
	key = key.Normalize()
	a.mu.Lock()
	st, ok := a.states[key]
	if !ok {
		st = &channelState{lastFrame: time.Now()}
		a.states[key] = st
	}
	st.refcount++
	first := st.refcount == 1
	ms := a.sessions[key.MarketType]
	a.mu.Unlock()

	if first && ms != nil {
		topic := topicFor(key)
		if topic == "" {
			return xerr.New(xerr.ValidationFailure, "bybit adapter does not support this channel kind")
		}
		payload := mustJSON(subscribeCmd{Op: "subscribe", Args: []string{topic}})
		ms.session.SendSubscribe(ctx, topic, payload)
		a.watchDegradation(ctx, key)
	}
	return nil
}

func (a *Adapter) Detach(ctx context.Context, key model.ChannelKey) error {
	key = key.Normalize()
	a.mu.Lock()
	st := a.states[key]
	ms := a.sessions[key.MarketType]
	last := false
	if st != nil {
		st.refcount--
		last = st.refcount <= 0
		if last {
			if st.cancel != nil {
				st.cancel()
			}
			delete(a.states, key)
		}
	}
	a.mu.Unlock()

	if last && ms != nil {
		topic := topicFor(key)
		if topic != "" {
			ms.session.SendUnsubscribe(topic)
		}
	}
	return nil
}

func (a *Adapter) Status(key model.ChannelKey) adapter.Status {
	key = key.Normalize()
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.states[key]; ok && st.degraded {
		return adapter.StatusDegraded
	}
	return adapter.StatusHealthy
}

// Overall satisfies adapter.HealthReporter, aggregating every tracked
// channel's degraded flag into one venue-level reading.
func (a *Adapter) Overall() adapter.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.states) == 0 {
		return adapter.StatusStarting
	}
	for _, st := range a.states {
		if st.degraded {
			return adapter.StatusDegraded
		}
	}
	return adapter.StatusHealthy
}

// watchDegradation falls back to the mock generator (tickers only) once this
// key has gone degradationAfter with zero successful frames, re-checking the
// wait against the latest lastFrame each time it elapses rather than firing
// unconditionally at a fixed delay from attach.
func (a *Adapter) watchDegradation(ctx context.Context, key model.ChannelKey) {
	safe.GoCtx(ctx, func(ctx context.Context) {
		for {
			a.mu.Lock()
			st, ok := a.states[key]
			if !ok {
				a.mu.Unlock()
				return
			}
			wait := a.degradationAfter - time.Since(st.lastFrame)
			a.mu.Unlock()
			if wait <= 0 {
				break
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		a.mu.Lock()
		st, ok := a.states[key]
		if !ok || st.degraded {
			a.mu.Unlock()
			return
		}
		mockCtx, cancel := context.WithCancel(ctx)
		st.degraded = true
		st.cancel = cancel
		a.mu.Unlock()

		metrics.AdapterDegradedTotal.WithLabelValues(venue).Inc()
		a.pub.Publish(key, model.InfoMessage("degraded"))

		if key.Kind != model.ChannelTicker {
			// the mock generator only ever produces tickers, per its contract;
			// a degraded book channel just goes quiet until real traffic resumes.
			return
		}
		gen := mock.NewGenerator(key)
		out := make(chan model.Ticker, 8)
		safe.GoCtx(mockCtx, func(ctx context.Context) { gen.Run(ctx, out) })
		for {
			select {
			case <-mockCtx.Done():
				return
			case tk := <-out:
				a.cache.Put(key, model.TickerMessage(tk))
				a.pub.Publish(key, model.TickerMessage(tk))
			}
		}
	})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

var _ adapter.Adapter = (*Adapter)(nil)
