package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTicker_RejectsCrossedBook(t *testing.T) {
	sym := NewSymbol("btc", "usdt")
	_, err := NewTicker(1000, "binance", MarketSpot, sym,
		MustDecimal("101"), MustDecimal("100"), MustDecimal("100.5"), DecimalZero, DecimalZero)
	require.Error(t, err)
}

func TestNewTicker_AllowsZeroSides(t *testing.T) {
	sym := NewSymbol("btc", "usdt")
	tk, err := NewTicker(1000, "binance", MarketSpot, sym,
		DecimalZero, DecimalZero, MustDecimal("100.5"), DecimalZero, DecimalZero)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tk.Symbol.String())
}

func TestChannelKey_NormalizeIgnoresDepthForNonBook(t *testing.T) {
	a := ChannelKey{Venue: "binance", Kind: ChannelTicker, Symbol: NewSymbol("btc", "usdt"), Depth: 50}
	b := ChannelKey{Venue: "binance", Kind: ChannelTicker, Symbol: NewSymbol("btc", "usdt"), Depth: 0}
	assert.Equal(t, a.Normalize(), b.Normalize())
	assert.Equal(t, a.Normalize().String(), b.Normalize().String())
}

func TestNewBookSnapshot_RejectsUnorderedBids(t *testing.T) {
	sym := NewSymbol("btc", "usdt")
	_, err := NewBookSnapshot(1000, "binance", MarketSpot, sym, []PriceLevel{
		{Price: MustDecimal("100"), Size: MustDecimal("1")},
		{Price: MustDecimal("101"), Size: MustDecimal("1")},
	}, nil, nil)
	require.Error(t, err)
}

func TestParseClientMessage_RoundTrip(t *testing.T) {
	raw := []byte(`{"op":"subscribe","channels":[{"channel_type":"ticker","exchange":"binance","market_type":"spot","symbol":{"base":"BTC","quote":"USDT"}}]}`)
	msg, err := ParseClientMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, OpSubscribe, msg.Op)
	require.Len(t, msg.Channels, 1)
	assert.Equal(t, "BTC", msg.Channels[0].Symbol.Base)

	encoded, err := json.Marshal(msg)
	require.NoError(t, err)
	again, err := ParseClientMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, msg, again)
}

func TestParseClientMessage_UnknownOpIsProtocolViolation(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"op":"frobnicate"}`))
	require.Error(t, err)
}

func TestStreamMessage_EncodeTicker(t *testing.T) {
	tk, err := NewTicker(1000, "binance", MarketSpot, NewSymbol("btc", "usdt"),
		MustDecimal("100"), MustDecimal("101"), MustDecimal("100.5"), DecimalZero, DecimalZero)
	require.NoError(t, err)

	raw, err := TickerMessage(tk).Encode()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"ticker"`)
}
