// Package cache implements the gateway's "last known value" store: the
// collaborator a newly attached subscriber is replayed from before any live
// frame reaches it. Grounded on the teacher's internal/quotes/ws/hub.go
// Hub.last map (single last-payload-per-topic, refreshed under the same lock
// a Publish takes), generalized here to a bounded ring per channel kind and
// split out of the hub so the hub only owns topic/subscriber state.
package cache

import (
	"sync"

	"marketgate.dev/internal/model"
)

const bookDeltaRingSize = 64

// bookGroupKey identifies one order book regardless of whether the frame in
// hand is the snapshot or a delta against it — a snapshot and its deltas
// share one consistency domain even though they're two distinct ChannelKeys
// on the wire.
type bookGroupKey struct {
	venue      string
	marketType model.MarketType
	symbol     model.Symbol
	depth      int
}

func bookGroupFor(key model.ChannelKey) bookGroupKey {
	return bookGroupKey{venue: key.Venue, marketType: key.MarketType, symbol: key.Symbol, depth: key.Depth}
}

type bookGroup struct {
	mu       sync.Mutex
	snapshot *model.StreamMessage
	deltas   *ring[model.StreamMessage]
}

// Cache is the concurrent keyed last-value store. Tickers are a single
// overwritten slot; book channels are a snapshot slot plus a bounded delta
// tail, serialized per book so a reader never observes a delta that
// predates the snapshot it's paired with.
type Cache struct {
	mu      sync.RWMutex
	tickers map[model.ChannelKey]*ring[model.StreamMessage]
	books   map[bookGroupKey]*bookGroup
}

func New() *Cache {
	return &Cache{
		tickers: make(map[model.ChannelKey]*ring[model.StreamMessage], 1024),
		books:   make(map[bookGroupKey]*bookGroup, 256),
	}
}

// Put writes the latest frame for key. Safe for concurrent use by the single
// adapter that owns key, per the cache's single-writer-per-key contract.
func (c *Cache) Put(key model.ChannelKey, msg model.StreamMessage) {
	key = key.Normalize()
	switch key.Kind {
	case model.ChannelBookSnapshot:
		g := c.bookGroup(key)
		g.mu.Lock()
		m := msg
		g.snapshot = &m
		g.deltas = newRing[model.StreamMessage](bookDeltaRingSize) // a fresh snapshot invalidates any prior delta tail
		g.mu.Unlock()
	case model.ChannelBookDelta:
		g := c.bookGroup(key)
		g.mu.Lock()
		g.deltas.push(msg)
		g.mu.Unlock()
	default:
		c.mu.Lock()
		r, ok := c.tickers[key]
		if !ok {
			r = newRing[model.StreamMessage](1)
			c.tickers[key] = r
		}
		c.mu.Unlock()
		r.push(msg)
	}
}

func (c *Cache) bookGroup(key model.ChannelKey) *bookGroup {
	gk := bookGroupFor(key)
	c.mu.RLock()
	g, ok := c.books[gk]
	c.mu.RUnlock()
	if ok {
		return g
	}
	c.mu.Lock()
	g, ok = c.books[gk]
	if !ok {
		g = &bookGroup{deltas: newRing[model.StreamMessage](bookDeltaRingSize)}
		c.books[gk] = g
	}
	c.mu.Unlock()
	return g
}

// GetLast returns the single most recent frame for key (the last ticker
// tick, or the most recent snapshot/delta for book kinds), if any.
func (c *Cache) GetLast(key model.ChannelKey) (model.StreamMessage, bool) {
	key = key.Normalize()
	if key.Kind == model.ChannelBookSnapshot || key.Kind == model.ChannelBookDelta {
		g := c.bookGroup(key)
		g.mu.Lock()
		defer g.mu.Unlock()
		if last, ok := g.deltas.latest(); ok {
			return last, true
		}
		if g.snapshot != nil {
			return *g.snapshot, true
		}
		return model.StreamMessage{}, false
	}
	c.mu.RLock()
	r, ok := c.tickers[key]
	c.mu.RUnlock()
	if !ok {
		return model.StreamMessage{}, false
	}
	return r.latest()
}

// Snapshot returns the replay sequence a newly attached subscriber on key
// should receive before any live frame: for a ticker, zero or one frame; for
// a book kind, the current snapshot (if any) followed by its delta tail —
// a prefix-consistent view per the cache's per-book serialization.
func (c *Cache) Snapshot(key model.ChannelKey) []model.StreamMessage {
	key = key.Normalize()
	if key.Kind == model.ChannelBookSnapshot || key.Kind == model.ChannelBookDelta {
		g := c.bookGroup(key)
		g.mu.Lock()
		defer g.mu.Unlock()
		out := make([]model.StreamMessage, 0, 1+bookDeltaRingSize)
		if g.snapshot != nil {
			out = append(out, *g.snapshot)
		}
		out = append(out, g.deltas.snapshot()...)
		return out
	}
	if last, ok := c.GetLast(key); ok {
		return []model.StreamMessage{last}
	}
	return nil
}
