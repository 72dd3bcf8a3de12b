package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"marketgate.dev/internal/model"
)

func tickerKey() model.ChannelKey {
	return model.ChannelKey{Venue: "binance", MarketType: model.MarketSpot, Kind: model.ChannelTicker, Symbol: model.NewSymbol("BTC", "USDT")}
}

func bookKeys(depth int) (snap, delta model.ChannelKey) {
	sym := model.NewSymbol("BTC", "USDT")
	snap = model.ChannelKey{Venue: "bybit", MarketType: model.MarketSpot, Kind: model.ChannelBookSnapshot, Symbol: sym, Depth: depth}
	delta = model.ChannelKey{Venue: "bybit", MarketType: model.MarketSpot, Kind: model.ChannelBookDelta, Symbol: sym, Depth: depth}
	return
}

func TestCache_TickerOverwritesSingleSlot(t *testing.T) {
	c := New()
	key := tickerKey()
	_, ok := c.GetLast(key)
	require.False(t, ok)

	t1, _ := model.NewTicker(1000, "binance", model.MarketSpot, key.Symbol, model.MustDecimal("100"), model.MustDecimal("101"), model.MustDecimal("100.5"), model.DecimalZero, model.DecimalZero)
	c.Put(key, model.TickerMessage(t1))
	t2, _ := model.NewTicker(2000, "binance", model.MarketSpot, key.Symbol, model.MustDecimal("102"), model.MustDecimal("103"), model.MustDecimal("102.5"), model.DecimalZero, model.DecimalZero)
	c.Put(key, model.TickerMessage(t2))

	last, ok := c.GetLast(key)
	require.True(t, ok)
	assert.Equal(t, model.StreamTicker, last.Type)
	got := last.Payload.(model.Ticker)
	assert.Equal(t, int64(2000), got.TsUTCMs)

	snap := c.Snapshot(key)
	require.Len(t, snap, 1)
}

func TestCache_BookSnapshotThenDeltaTail(t *testing.T) {
	c := New()
	snapKey, deltaKey := bookKeys(50)
	sym := model.NewSymbol("BTC", "USDT")

	snap, err := model.NewBookSnapshot(1000, "bybit", model.MarketSpot, sym,
		[]model.PriceLevel{{Price: model.MustDecimal("100"), Size: model.MustDecimal("1")}},
		[]model.PriceLevel{{Price: model.MustDecimal("101"), Size: model.MustDecimal("1")}}, nil)
	require.NoError(t, err)
	c.Put(snapKey, model.BookSnapshotMessage(snap))

	seq1 := int64(1)
	d1 := model.BookDelta{TsUTCMs: 1001, Venue: "bybit", MarketType: model.MarketSpot, Symbol: sym, Seq: &seq1}
	c.Put(deltaKey, model.BookDeltaMessage(d1))

	replay := c.Snapshot(snapKey)
	require.Len(t, replay, 2)
	assert.Equal(t, model.StreamBookSnapshot, replay[0].Type)
	assert.Equal(t, model.StreamBookDelta, replay[1].Type)
}

func TestCache_NewSnapshotClearsStaleDeltaTail(t *testing.T) {
	c := New()
	snapKey, deltaKey := bookKeys(10)
	sym := model.NewSymbol("ETH", "USDT")

	seq1 := int64(1)
	c.Put(deltaKey, model.BookDeltaMessage(model.BookDelta{TsUTCMs: 500, Venue: "bybit", MarketType: model.MarketSpot, Symbol: sym, Seq: &seq1}))

	snap, err := model.NewBookSnapshot(1000, "bybit", model.MarketSpot, sym, nil, nil, nil)
	require.NoError(t, err)
	c.Put(snapKey, model.BookSnapshotMessage(snap))

	replay := c.Snapshot(snapKey)
	require.Len(t, replay, 1, "a fresh snapshot must discard any delta tail that preceded it")
	assert.Equal(t, model.StreamBookSnapshot, replay[0].Type)
}

func TestCache_DifferentDepthsAreIndependentBooks(t *testing.T) {
	c := New()
	snap10, _ := bookKeys(10)
	snap50, _ := bookKeys(50)
	sym := model.NewSymbol("BTC", "USDT")

	snap, err := model.NewBookSnapshot(1000, "bybit", model.MarketSpot, sym, nil, nil, nil)
	require.NoError(t, err)
	c.Put(snap10, model.BookSnapshotMessage(snap))

	_, ok := c.GetLast(snap50)
	assert.False(t, ok, "a book at a different depth is a distinct cache entry")
}
