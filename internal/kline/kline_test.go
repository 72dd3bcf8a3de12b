package kline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"marketgate.dev/internal/adapter"
	"marketgate.dev/internal/cache"
	"marketgate.dev/internal/hub"
	"marketgate.dev/internal/model"
)

type noopAdapter struct{}

func (noopAdapter) ID() string { return "binance" }
func (noopAdapter) Start(context.Context, adapter.Publisher, adapter.CacheWriter, adapter.MetadataPort) error {
	return nil
}
func (noopAdapter) Attach(context.Context, model.ChannelKey) error { return nil }
func (noopAdapter) Detach(context.Context, model.ChannelKey) error { return nil }
func (noopAdapter) Status(model.ChannelKey) adapter.Status         { return adapter.StatusHealthy }

type noopLocator struct{}

func (noopLocator) Find(string) adapter.Adapter { return noopAdapter{} }

func testKey() model.ChannelKey {
	return model.ChannelKey{Venue: "binance", MarketType: model.MarketSpot, Kind: model.ChannelTicker, Symbol: model.NewSymbol("BTC", "USDT")}
}

func ticker(tsMs int64, last string) model.Ticker {
	t, err := model.NewTicker(tsMs, "binance", model.MarketSpot, model.NewSymbol("BTC", "USDT"),
		model.DecimalZero, model.DecimalZero, model.MustDecimal(last), model.DecimalZero, model.DecimalZero)
	if err != nil {
		panic(err)
	}
	return t
}

// TestKline_S7_1mBucketingAndRollover exercises S7: samples at 0s/30s/59s
// land in the same [0,60s) bucket, and a sample at 61s closes it.
func TestKline_S7_1mBucketingAndRollover(t *testing.T) {
	c := cache.New()
	h := hub.New(c, noopLocator{})
	agg := NewAggregator(h)
	key := testKey()
	require.NoError(t, agg.Track(context.Background(), key))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agg.Run(ctx)

	h.Publish(key, model.TickerMessage(ticker(0, "100")))
	h.Publish(key, model.TickerMessage(ticker(30_000, "110")))
	h.Publish(key, model.TickerMessage(ticker(59_000, "90")))
	h.Publish(key, model.TickerMessage(ticker(61_000, "95")))

	require.Eventually(t, func() bool {
		return len(agg.Store().Query("binance", model.MarketSpot, key.Symbol, Interval1m, 10)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	bars := agg.Store().Query("binance", model.MarketSpot, key.Symbol, Interval1m, 10)
	require.Len(t, bars, 1)
	b := bars[0]
	assert.True(t, b.Open.Equal(model.MustDecimal("100")))
	assert.True(t, b.High.Equal(model.MustDecimal("110")))
	assert.True(t, b.Low.Equal(model.MustDecimal("90")))
	assert.True(t, b.Close.Equal(model.MustDecimal("90")))
	assert.Equal(t, int64(3), b.Samples)
}

func TestKline_StoreQueryClampsLimit(t *testing.T) {
	s := NewStore()
	for i := 0; i < 1200; i++ {
		s.append(Bar{Venue: "binance", MarketType: model.MarketSpot, Symbol: model.NewSymbol("BTC", "USDT"), Interval: string(Interval1m), OpenTimeMs: int64(i) * 60_000})
	}
	assert.Len(t, s.Query("binance", model.MarketSpot, model.NewSymbol("BTC", "USDT"), Interval1m, 5000), 1000)
	assert.Len(t, s.Query("binance", model.MarketSpot, model.NewSymbol("BTC", "USDT"), Interval1m, 0), 200)
}

func TestKline_RollupCascadesIntoParentLevel(t *testing.T) {
	store := NewStore()
	out := make(chan Bar, 64)
	sc := newSymChain("binance", model.MarketSpot, model.NewSymbol("BTC", "USDT"), store, out)

	// six 1m samples, one per minute, forces the 1m level to close five bars
	// and the parent 5m level to receive them; the 5m bucket itself only
	// closes once a sample lands outside [0,5m).
	for i := int64(0); i < 6; i++ {
		sc.offerTicker(i*60_000, model.MustDecimal("100"), model.DecimalZero, model.DecimalZero)
	}

	closed1m := store.Query("binance", model.MarketSpot, model.NewSymbol("BTC", "USDT"), Interval1m, 10)
	assert.Len(t, closed1m, 5)

	parent := sc.levels[1].cur
	require.NotNil(t, parent)
	assert.Equal(t, int64(5), parent.Samples, "the 5m level must have folded all five closed 1m bars")
}

func TestKline_ParseInterval(t *testing.T) {
	for _, s := range []string{"1m", "5m", "15m", "1h", "4h", "1d", "1w", "1M"} {
		_, ok := ParseInterval(s)
		assert.True(t, ok, s)
	}
	_, ok := ParseInterval("2m")
	assert.False(t, ok)
}
