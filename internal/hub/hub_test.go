package hub

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"marketgate.dev/internal/adapter"
	"marketgate.dev/internal/cache"
	"marketgate.dev/internal/model"
)

type fakeAdapter struct {
	mu          sync.Mutex
	attachCalls int
	detachCalls int
}

func (f *fakeAdapter) ID() string { return "fake" }
func (f *fakeAdapter) Start(context.Context, adapter.Publisher, adapter.CacheWriter, adapter.MetadataPort) error {
	return nil
}
func (f *fakeAdapter) Attach(context.Context, model.ChannelKey) error {
	f.mu.Lock()
	f.attachCalls++
	f.mu.Unlock()
	return nil
}
func (f *fakeAdapter) Detach(context.Context, model.ChannelKey) error {
	f.mu.Lock()
	f.detachCalls++
	f.mu.Unlock()
	return nil
}
func (f *fakeAdapter) Status(model.ChannelKey) adapter.Status { return adapter.StatusHealthy }

type fakeLocator struct{ a *fakeAdapter }

func (l *fakeLocator) Find(venue string) adapter.Adapter { return l.a }

func testKey() model.ChannelKey {
	return model.ChannelKey{Venue: "fake", MarketType: model.MarketSpot, Kind: model.ChannelTicker, Symbol: model.NewSymbol("BTC", "USDT")}
}

func TestHub_S1_CachedReplayBeforeLiveFrame(t *testing.T) {
	c := cache.New()
	fa := &fakeAdapter{}
	h := New(c, &fakeLocator{a: fa})
	key := testKey()

	t1, _ := model.NewTicker(1000, "fake", model.MarketSpot, key.Symbol, model.MustDecimal("100"), model.MustDecimal("101"), model.MustDecimal("100.5"), model.DecimalZero, model.DecimalZero)
	c.Put(key, model.TickerMessage(t1))

	sub := h.RegisterSubscriber("sub-a", 0)
	require.NoError(t, h.Attach(context.Background(), "sub-a", key))

	frames := sub.Drain(10)
	require.Len(t, frames, 1)
	got := frames[0].Msg.Payload.(model.Ticker)
	assert.Equal(t, int64(1000), got.TsUTCMs)
}

func TestHub_AtMostOneUpstreamSubscribePerTopic(t *testing.T) {
	c := cache.New()
	fa := &fakeAdapter{}
	h := New(c, &fakeLocator{a: fa})
	key := testKey()

	sub1 := h.RegisterSubscriber("sub-1", 0)
	sub2 := h.RegisterSubscriber("sub-2", 0)
	_ = sub1
	_ = sub2
	require.NoError(t, h.Attach(context.Background(), "sub-1", key))
	require.NoError(t, h.Attach(context.Background(), "sub-2", key))

	fa.mu.Lock()
	calls := fa.attachCalls
	fa.mu.Unlock()
	assert.Equal(t, 1, calls, "a second subscriber on the same topic must not re-trigger an upstream attach")
}

func TestHub_FanOutToAllSubscribers(t *testing.T) {
	c := cache.New()
	fa := &fakeAdapter{}
	h := New(c, &fakeLocator{a: fa})
	key := testKey()

	subA := h.RegisterSubscriber("a", 0)
	subB := h.RegisterSubscriber("b", 0)
	require.NoError(t, h.Attach(context.Background(), "a", key))
	require.NoError(t, h.Attach(context.Background(), "b", key))

	tk, _ := model.NewTicker(2000, "fake", model.MarketSpot, key.Symbol, model.MustDecimal("1"), model.MustDecimal("2"), model.MustDecimal("1.5"), model.DecimalZero, model.DecimalZero)
	h.Publish(key, model.TickerMessage(tk))

	assert.Len(t, subA.Drain(10), 1)
	assert.Len(t, subB.Drain(10), 1)
}

func TestHub_QueueFullButCoalescableStaysOpen(t *testing.T) {
	c := cache.New()
	fa := &fakeAdapter{}
	h := New(c, &fakeLocator{a: fa})
	key := testKey()

	sub := h.RegisterSubscriber("coalescer", 1) // capacity 1: immediately at capacity after one frame
	require.NoError(t, h.Attach(context.Background(), "coalescer", key))

	tk1, _ := model.NewTicker(1, "fake", model.MarketSpot, key.Symbol, model.MustDecimal("1"), model.MustDecimal("2"), model.MustDecimal("1.5"), model.DecimalZero, model.DecimalZero)
	tk2, _ := model.NewTicker(2, "fake", model.MarketSpot, key.Symbol, model.MustDecimal("3"), model.MustDecimal("4"), model.MustDecimal("3.5"), model.DecimalZero, model.DecimalZero)
	h.Publish(key, model.TickerMessage(tk1))
	h.Publish(key, model.TickerMessage(tk2)) // same key: coalesces into the one queued slot instead of overflowing

	assert.False(t, sub.Closed())
	frames := sub.Drain(10)
	require.Len(t, frames, 1)
	assert.Equal(t, int64(2), frames[0].Msg.Payload.(model.Ticker).TsUTCMs, "coalescing must keep the latest value")
}

func TestHub_SlowConsumerIsClosedAndDetached(t *testing.T) {
	c := cache.New()
	fa := &fakeAdapter{}
	h := New(c, &fakeLocator{a: fa})
	key := testKey()
	otherSym := model.NewSymbol("ETH", "USDT")
	other := model.ChannelKey{Venue: "fake", MarketType: model.MarketSpot, Kind: model.ChannelTicker, Symbol: otherSym}

	sub := h.RegisterSubscriber("slow", 1) // capacity 1, subscribed to two distinct keys
	require.NoError(t, h.Attach(context.Background(), "slow", key))
	require.NoError(t, h.Attach(context.Background(), "slow", other))

	tk1, _ := model.NewTicker(1, "fake", model.MarketSpot, key.Symbol, model.MustDecimal("1"), model.MustDecimal("2"), model.MustDecimal("1.5"), model.DecimalZero, model.DecimalZero)
	h.Publish(key, model.TickerMessage(tk1)) // fills the one slot with a `key` frame

	tk2, _ := model.NewTicker(1, "fake", model.MarketSpot, otherSym, model.MustDecimal("1"), model.MustDecimal("2"), model.MustDecimal("1.5"), model.DecimalZero, model.DecimalZero)
	h.Publish(other, model.TickerMessage(tk2)) // distinct key, queue full, nothing to coalesce into: slow consumer

	assert.True(t, sub.Closed(), "a subscriber that cannot absorb or coalesce a frame must be terminated")

	// re-attaching under the same id should behave as a fresh subscriber, not resurrect the closed one
	fa.mu.Lock()
	attachesBefore := fa.attachCalls
	fa.mu.Unlock()
	h.RegisterSubscriber("slow", 0)
	require.NoError(t, h.Attach(context.Background(), "slow", key))
	fa.mu.Lock()
	defer fa.mu.Unlock()
	assert.Equal(t, attachesBefore, fa.attachCalls, "the topic was never fully drained so no new upstream attach is expected")
}

func TestHub_CrossTopicIsolation(t *testing.T) {
	c := cache.New()
	fa := &fakeAdapter{}
	h := New(c, &fakeLocator{a: fa})

	keyA := testKey()
	keyB := model.ChannelKey{Venue: "fake", MarketType: model.MarketSpot, Kind: model.ChannelTicker, Symbol: model.NewSymbol("ETH", "USDT")}

	subA := h.RegisterSubscriber("a", 0)
	subB := h.RegisterSubscriber("b", 0)
	require.NoError(t, h.Attach(context.Background(), "a", keyA))
	require.NoError(t, h.Attach(context.Background(), "b", keyB))

	tk, _ := model.NewTicker(1, "fake", model.MarketSpot, keyA.Symbol, model.MustDecimal("1"), model.MustDecimal("2"), model.MustDecimal("1.5"), model.DecimalZero, model.DecimalZero)
	h.Publish(keyA, model.TickerMessage(tk))

	assert.Len(t, subA.Drain(10), 1)
	assert.Len(t, subB.Drain(10), 0, "a publish on keyA must never reach a subscriber only attached to keyB")
}
