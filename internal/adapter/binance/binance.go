// Package binance translates Binance's combined-stream bookTicker frames
// into the canonical ticker model. Grounded on the teacher's
// internal/quotes/datasource/Binance/{source.go,parse.go}: same
// segmentio/encoding/json unmarshal shape and quote-asset symbol splitting,
// retargeted from the teacher's aggTrade/kline.Trade pipeline onto this
// gateway's ticker channel and canonical model.
package binance

import (
	"context"
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

const venue = "binance"

var quoteAssets = []string{
	"FDUSD", "USDT", "USDC", "BUSD", "TUSD",
	"BTC", "ETH", "BNB",
	"EUR", "GBP", "TRY", "JPY", "AUD", "BRL", "RUB",
}

// SplitSymbol maps a Binance native symbol (e.g. "BTCUSDT") to base/quote,
// by longest-suffix match against the known quote-asset list.
func SplitSymbol(sym string) (base, quote string, ok bool) {
	s := strings.ToUpper(sym)
	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q, true
		}
	}
	return "", "", false
}

type bookTickerFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type bookTickerData struct {
	Symbol  string `json:"s"`
	BidPx   string `json:"b"`
	BidQty  string `json:"B"`
	AskPx   string `json:"a"`
	AskQty  string `json:"A"`
}

// ParseBookTicker turns one combined-stream frame into a canonical Ticker.
func ParseBookTicker(raw []byte, marketType model.MarketType) (model.Ticker, error) {
	var wrap bookTickerFrame
	if err := json.Unmarshal(raw, &wrap); err != nil {
		return model.Ticker{}, xerr.Wrap(xerr.ProtocolViolation, "malformed binance frame", err)
	}
	var d bookTickerData
	if err := json.Unmarshal(wrap.Data, &d); err != nil {
		return model.Ticker{}, xerr.Wrap(xerr.ProtocolViolation, "malformed binance bookTicker payload", err)
	}
	base, quote, ok := SplitSymbol(d.Symbol)
	if !ok {
		return model.Ticker{}, xerr.New(xerr.ProtocolViolation, "cannot split binance symbol: "+d.Symbol)
	}
	bid, err := model.ParseDecimal(d.BidPx)
	if err != nil {
		return model.Ticker{}, xerr.Wrap(xerr.ProtocolViolation, "bad bid price", err)
	}
	ask, err := model.ParseDecimal(d.AskPx)
	if err != nil {
		return model.Ticker{}, xerr.Wrap(xerr.ProtocolViolation, "bad ask price", err)
	}
	bidSize, _ := model.ParseDecimal(d.BidQty)
	askSize, _ := model.ParseDecimal(d.AskQty)
	last := bid.Add(ask).Div(model.MustDecimal("2"))

	return model.NewTicker(time.Now().UnixMilli(), venue, marketType, model.NewSymbol(base, quote),
		bid, ask, last, bidSize, askSize)
}

type subscribeCmd struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Adapter implements adapter.Adapter for Binance spot tickers.
type Adapter struct {
	baseURL          string
	degradationAfter time.Duration

	mu       sync.Mutex
	session  *upstream.Session
	refcount map[model.ChannelKey]int
	statuses map[model.ChannelKey]*adapterStatus
	pub      adapter.Publisher
	cache    adapter.CacheWriter
	breaker  *ratelimit.BreakerManager
	limiter  *ratelimit.Store
}

type adapterStatus struct {
	degraded  bool
	cancel    context.CancelFunc
	lastFrame time.Time
}

func New(breaker *ratelimit.BreakerManager, limiter *ratelimit.Store) *Adapter {
	return &Adapter{
		baseURL:          "wss://stream.binance.com:9443/stream?streams=btcusdt@bookTicker",
		degradationAfter: 10 * time.Second,
		refcount:         make(map[model.ChannelKey]int, 16),
		statuses:         make(map[model.ChannelKey]*adapterStatus, 16),
		breaker:          breaker,
		limiter:          limiter,
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
	a.session = upstream.NewSession(upstream.Config{
		Venue:     venue,
		URL:       a.baseURL,
		Breaker:   a.breaker,
		RateLimit: a.limiter,
	})
	session := a.session
	a.mu.Unlock()

	safe.GoCtx(ctx, func(ctx context.Context) { session.Start(ctx) })

	for item := range session.Events() {
		if item.Frame != nil {
			a.onFrame(*item.Frame)
			continue
		}
		if item.Event != nil {
			logger.Debug(ctx, "binance session event", zap.String("kind", string(item.Event.Kind)))
		}
	}
	return nil
}

func (a *Adapter) onFrame(f upstream.NativeFrame) {
	tk, err := ParseBookTicker(f.Data, model.MarketSpot)
	if err != nil {
		return
	}
	key := tk.ChannelKey()
	a.mu.Lock()
	st := a.statuses[key]
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
	if cancel != nil {
		cancel() // real traffic resumed: stop the mock generator for this key
		a.pub.Publish(key, model.InfoMessage("resynced"))
	}

	a.cache.Put(key, model.TickerMessage(tk))
	a.pub.Publish(key, model.TickerMessage(tk))
}

func (a *Adapter) Attach(ctx context.Context, key model.ChannelKey) error {
	if key.Kind != model.ChannelTicker {
		return xerr.New(xerr.ValidationFailure, "binance adapter only supports ticker channels")
	}
	a.mu.Lock()
	a.refcount[key]++
	first := a.refcount[key] == 1
	if _, ok := a.statuses[key]; !ok {
		a.statuses[key] = &adapterStatus{lastFrame: time.Now()}
	}
	session := a.session
	a.mu.Unlock()

	if first && session != nil {
		stream := strings.ToLower(key.Symbol.String()) + "@bookTicker"
		payload := mustJSON(subscribeCmd{Method: "SUBSCRIBE", Params: []string{stream}, ID: time.Now().UnixNano()})
		session.SendSubscribe(ctx, stream, payload)
		a.watchDegradation(ctx, key)
	}
	return nil
}

func (a *Adapter) Detach(ctx context.Context, key model.ChannelKey) error {
	a.mu.Lock()
	a.refcount[key]--
	last := a.refcount[key] <= 0
	session := a.session
	if last {
		delete(a.refcount, key)
		if st := a.statuses[key]; st != nil && st.cancel != nil {
			st.cancel()
		}
		delete(a.statuses, key)
	}
	a.mu.Unlock()

	if last && session != nil {
		stream := strings.ToLower(key.Symbol.String()) + "@bookTicker"
		session.SendUnsubscribe(stream)
	}
	return nil
}

func (a *Adapter) Status(key model.ChannelKey) adapter.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.statuses[key]; ok && st.degraded {
		return adapter.StatusDegraded
	}
	return adapter.StatusHealthy
}

// Overall satisfies adapter.HealthReporter: any channel degraded pulls the
// whole venue reading down to Degraded, no attached channels yet reads as
// Starting, otherwise Healthy.
func (a *Adapter) Overall() adapter.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.statuses) == 0 {
		return adapter.StatusStarting
	}
	for _, st := range a.statuses {
		if st.degraded {
			return adapter.StatusDegraded
		}
	}
	return adapter.StatusHealthy
}

// watchDegradation falls back to the deterministic mock generator once this
// key has gone degradationAfter with zero successful frames. A real frame
// pushes st.lastFrame forward (see onFrame), so the wait is re-checked
// against the latest lastFrame each time it elapses rather than firing
// unconditionally at a fixed delay from attach.
func (a *Adapter) watchDegradation(ctx context.Context, key model.ChannelKey) {
	safe.GoCtx(ctx, func(ctx context.Context) {
		for {
			a.mu.Lock()
			st, ok := a.statuses[key]
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
		st, ok := a.statuses[key]
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
