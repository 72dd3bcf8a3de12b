package gatewaysession

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"marketgate.dev/internal/adapter"
	"marketgate.dev/internal/cache"
	"marketgate.dev/internal/hub"
	"marketgate.dev/internal/metadata"
	"marketgate.dev/internal/model"
)

type fakeAdapter struct{}

func (fakeAdapter) ID() string { return "binance" }
func (fakeAdapter) Start(context.Context, adapter.Publisher, adapter.CacheWriter, adapter.MetadataPort) error {
	return nil
}
func (fakeAdapter) Attach(context.Context, model.ChannelKey) error { return nil }
func (fakeAdapter) Detach(context.Context, model.ChannelKey) error { return nil }
func (fakeAdapter) Status(model.ChannelKey) adapter.Status         { return adapter.StatusHealthy }

type fakeLocator struct{ a adapter.Adapter }

func (l fakeLocator) Find(string) adapter.Adapter { return l.a }

func testServer(t *testing.T) (*httptest.Server, *hub.Hub, *cache.Cache) {
	t.Helper()
	c := cache.New()
	h := hub.New(c, fakeLocator{a: fakeAdapter{}})
	catalog := metadata.New(
		map[string][]model.MarketType{"binance": {model.MarketSpot}},
		map[model.MarketType][]string{model.MarketSpot: {"USDT"}},
		func(venue string, marketType model.MarketType, symbolText string) (model.Symbol, bool) {
			return model.Symbol{}, false
		},
	)
	srv := NewServer(h, catalog)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.ServeWS(w, r)
	}))
	return ts, h, c
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestSession_SubscribeValidChannelReplaysCache(t *testing.T) {
	ts, _, c := testServer(t)
	defer ts.Close()

	key := model.ChannelKey{Venue: "binance", MarketType: model.MarketSpot, Kind: model.ChannelTicker, Symbol: model.NewSymbol("BTC", "USDT")}
	ticker, err := model.NewTicker(1000, "binance", model.MarketSpot, key.Symbol, model.MustDecimal("100"), model.MustDecimal("101"), model.MustDecimal("100.5"), model.DecimalZero, model.DecimalZero)
	require.NoError(t, err)
	c.Put(key, model.TickerMessage(ticker))

	conn := dial(t, ts)
	defer conn.Close()

	req := model.ClientMessage{Op: model.OpSubscribe, Channels: []model.ChannelKey{key}}
	b, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"ticker"`)
}

func TestSession_SubscribeUnresolvableChannelYieldsError(t *testing.T) {
	ts, _, _ := testServer(t)
	defer ts.Close()

	conn := dial(t, ts)
	defer conn.Close()

	key := model.ChannelKey{Venue: "coinbase", MarketType: model.MarketSpot, Kind: model.ChannelTicker, Symbol: model.NewSymbol("BTC", "USDT")}
	req := model.ClientMessage{Op: model.OpSubscribe, Channels: []model.ChannelKey{key}}
	b, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"error"`)
	assert.Contains(t, string(msg), "unresolvable_channel")
}

func TestSession_PingEchoesTimestamp(t *testing.T) {
	ts, _, _ := testServer(t)
	defer ts.Close()

	conn := dial(t, ts)
	defer conn.Close()

	req := model.ClientMessage{Op: model.OpPing, TsUTCMs: 424242}
	b, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var sm model.StreamMessage
	require.NoError(t, json.Unmarshal(msg, &sm))
	assert.Equal(t, model.StreamInfo, sm.Type)
	assert.Equal(t, "pong", sm.Message)
	assert.Equal(t, int64(424242), sm.TsUTCMs)
}

func TestSession_UnknownOpDoesNotCloseConnection(t *testing.T) {
	ts, _, _ := testServer(t)
	defer ts.Close()

	conn := dial(t, ts)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"bogus"}`)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "unknown_op")

	// session must still be alive: a valid ping now should get a pong.
	req := model.ClientMessage{Op: model.OpPing}
	b, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
	_, msg2, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg2), "pong")
}
