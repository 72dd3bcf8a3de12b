// Package hub implements the gateway's topic-based fan-out: one logical
// topic per ChannelKey, at most one upstream subscription per topic
// regardless of downstream subscriber count, cache replay before any live
// frame, and grace-period draining so a topic survives a brief
// subscribe/unsubscribe flap without re-subscribing upstream.
//
// Grounded on the teacher's internal/quotes/ws/hub.go (subs map, last-value
// replay taken under the same lock as the subscriber set, non-blocking
// per-conn fanout), split from the cache and generalized with an explicit
// TopicState machine and upstream attach/detach refcounting.
package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"marketgate.dev/internal/adapter"
	"marketgate.dev/internal/cache"
	"marketgate.dev/internal/model"
	"marketgate.dev/pkg/logger"
	"marketgate.dev/pkg/metrics"
)

// TopicState tracks a topic's lifecycle relative to its upstream
// subscription: Creating for a registry entry no subscriber has been added
// to yet, Live while it has subscribers, Draining during the grace window
// after the last one leaves, Dying once the grace window has expired empty
// and the topic is removed from the registry ahead of the adapter Detach.
// The first subscriber moves a topic to Live before the adapter's Attach is
// called, so Creating does not cover the adapter Attach call itself.
type TopicState string

const (
	TopicCreating TopicState = "creating"
	TopicLive     TopicState = "live"
	TopicDraining TopicState = "draining"
	TopicDying    TopicState = "dying"
)

// DefaultDrainGrace is how long an empty topic waits before the hub issues
// the adapter Detach call and removes it from the registry.
const DefaultDrainGrace = 5 * time.Second

// AdapterLocator resolves the adapter that owns a venue, the narrow slice of
// adapter.Supervisor the hub needs.
type AdapterLocator interface {
	Find(venue string) adapter.Adapter
}

type topicEntry struct {
	mu    sync.RWMutex
	key   model.ChannelKey
	state TopicState
	subs  map[string]*Subscriber
	timer *time.Timer
}

type subscriberRecord struct {
	sub    *Subscriber
	mu     sync.Mutex
	topics map[model.ChannelKey]struct{}
}

// Hub owns topic registry state and per-subscriber queues. It never touches
// a venue session directly — it asks an AdapterLocator to attach/detach on
// its behalf, keeping the adapter/hub relationship unidirectional.
type Hub struct {
	registryMu sync.Mutex
	topics     map[model.ChannelKey]*topicEntry

	subsMu sync.Mutex
	subs   map[string]*subscriberRecord

	cache      *cache.Cache
	adapters   AdapterLocator
	drainGrace time.Duration
}

func New(c *cache.Cache, adapters AdapterLocator) *Hub {
	return &Hub{
		topics:     make(map[model.ChannelKey]*topicEntry, 1024),
		subs:       make(map[string]*subscriberRecord, 1024),
		cache:      c,
		adapters:   adapters,
		drainGrace: DefaultDrainGrace,
	}
}

// SetDrainGrace overrides the grace period a topic waits after its last
// subscriber detaches before the adapter's Detach is actually called,
// normally the topic_grace_ms bootstrap setting.
func (h *Hub) SetDrainGrace(d time.Duration) {
	if d > 0 {
		h.drainGrace = d
	}
}

// RegisterSubscriber creates and tracks a new outbound queue for a gateway
// session, returned so the session can drain it for delivery.
func (h *Hub) RegisterSubscriber(id string, capacity int) *Subscriber {
	sub := NewSubscriber(id, capacity)
	h.subsMu.Lock()
	h.subs[id] = &subscriberRecord{sub: sub, topics: make(map[model.ChannelKey]struct{}, 16)}
	h.subsMu.Unlock()
	return sub
}

func (h *Hub) topicFor(key model.ChannelKey) *topicEntry {
	h.registryMu.Lock()
	defer h.registryMu.Unlock()
	t, ok := h.topics[key]
	if ok {
		return t
	}
	t = &topicEntry{key: key, state: TopicCreating, subs: make(map[string]*Subscriber, 4)}
	h.topics[key] = t
	return t
}

// Attach subscribes id to key: it replays the cache's current value(s) for
// key into the subscriber's queue under the topic lock, so the caller never
// races a live frame against the replay, and then, on first attach for this
// topic, asks the adapter to subscribe upstream. A repeat attach by a
// subscriber already on the topic changes nothing and replays nothing.
func (h *Hub) Attach(ctx context.Context, id string, key model.ChannelKey) error {
	key = key.Normalize()

	h.subsMu.Lock()
	rec, ok := h.subs[id]
	h.subsMu.Unlock()
	if !ok {
		return nil // subscriber already torn down; nothing to attach
	}

	t := h.topicFor(key)
	t.mu.Lock()
	// only a brand-new topic needs an upstream attach: Draining means the
	// adapter subscription is still live and just waiting out the grace
	// window, so resuming it here must not re-trigger Attach.
	first := t.state == TopicCreating
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	_, already := t.subs[id]
	t.subs[id] = rec.sub
	t.state = TopicLive
	// Snapshot+enqueue the cache replay while still holding t.mu, the same
	// lock Publish takes (RLock) to snapshot its fan-out targets: this is
	// what guarantees the subscriber's first delivered frame is the replay,
	// not a live frame racing in between subs[id]=... and the replay.
	if !already {
		for _, msg := range h.cache.Snapshot(key) {
			_ = rec.sub.Enqueue(key, msg) // best-effort: a subscriber already overwhelmed at attach time just waits for the next live frame
		}
	}
	t.mu.Unlock()

	if first {
		if a := h.adapters.Find(key.Venue); a != nil {
			if err := a.Attach(ctx, key); err != nil {
				logger.Warn(ctx, "adapter attach failed", zap.String("venue", key.Venue), zap.String("topic", key.String()), zap.Error(err))
			}
		}
		metrics.SetHubTopics(float64(h.topicCount()))
	}

	rec.mu.Lock()
	rec.topics[key] = struct{}{}
	rec.mu.Unlock()

	return nil
}

// Detach unsubscribes id from key. If that was the last subscriber, the
// topic enters Draining and the adapter Detach call is deferred by
// drainGrace in case another attach arrives first.
func (h *Hub) Detach(ctx context.Context, id string, key model.ChannelKey) {
	key = key.Normalize()

	h.subsMu.Lock()
	rec, ok := h.subs[id]
	h.subsMu.Unlock()
	if ok {
		rec.mu.Lock()
		delete(rec.topics, key)
		rec.mu.Unlock()
	}

	h.registryMu.Lock()
	t, ok := h.topics[key]
	h.registryMu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	delete(t.subs, id)
	empty := len(t.subs) == 0
	if empty {
		t.state = TopicDraining
		t.timer = time.AfterFunc(h.drainGrace, func() { h.drain(ctx, key, t) })
	}
	t.mu.Unlock()
}

func (h *Hub) drain(ctx context.Context, key model.ChannelKey, t *topicEntry) {
	t.mu.Lock()
	if len(t.subs) != 0 {
		t.state = TopicLive
		t.mu.Unlock()
		return
	}
	t.state = TopicDying
	t.timer = nil
	t.mu.Unlock()

	h.registryMu.Lock()
	if h.topics[key] == t {
		delete(h.topics, key)
	}
	h.registryMu.Unlock()
	metrics.SetHubTopics(float64(h.topicCount()))

	if a := h.adapters.Find(key.Venue); a != nil {
		if err := a.Detach(ctx, key); err != nil {
			logger.Warn(ctx, "adapter detach failed", zap.String("venue", key.Venue), zap.String("topic", key.String()), zap.Error(err))
		}
	}
}

// Publish fans a frame out to every subscriber currently attached to key. A
// subscriber whose queue is full and uncoalescable is closed and removed
// rather than allowed to stall delivery to everyone else.
func (h *Hub) Publish(key model.ChannelKey, msg model.StreamMessage) {
	key = key.Normalize()

	h.registryMu.Lock()
	t, ok := h.topics[key]
	h.registryMu.Unlock()
	if !ok {
		return
	}

	t.mu.RLock()
	targets := make(map[string]*Subscriber, len(t.subs))
	for id, s := range t.subs {
		targets[id] = s
	}
	t.mu.RUnlock()

	metrics.HubPublishTotal.WithLabelValues(string(key.Kind)).Inc()
	for id, s := range targets {
		if err := s.Enqueue(key, msg); err != nil {
			metrics.OnHubSlowConsumer()
			h.CloseSubscriber(id)
		}
	}
}

// CloseSubscriber detaches id from every topic it was attached to and marks
// its queue closed, for use on gateway session teardown or SlowConsumer
// termination.
func (h *Hub) CloseSubscriber(id string) {
	h.subsMu.Lock()
	rec, ok := h.subs[id]
	delete(h.subs, id)
	h.subsMu.Unlock()
	if !ok {
		return
	}
	rec.sub.Close()

	rec.mu.Lock()
	keys := make([]model.ChannelKey, 0, len(rec.topics))
	for k := range rec.topics {
		keys = append(keys, k)
	}
	rec.mu.Unlock()

	for _, k := range keys {
		h.Detach(context.Background(), id, k)
	}
}

func (h *Hub) topicCount() int {
	h.registryMu.Lock()
	defer h.registryMu.Unlock()
	return len(h.topics)
}

// TopicStateOf reports the current lifecycle state of key, for tests and
// diagnostics; returns ("", false) if the topic does not currently exist.
func (h *Hub) TopicStateOf(key model.ChannelKey) (TopicState, bool) {
	key = key.Normalize()
	h.registryMu.Lock()
	t, ok := h.topics[key]
	h.registryMu.Unlock()
	if !ok {
		return "", false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state, true
}
