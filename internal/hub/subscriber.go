package hub

import (
	"sync"
	"sync/atomic"

	"marketgate.dev/internal/model"
	"marketgate.dev/pkg/xerr"
)

// DefaultQueueCapacity is the bounded per-subscriber queue depth. Grounded on
// the teacher's Server.SendBuf (ws/conn.go), generalized from "latest value
// per topic" to a bounded FIFO that only collapses once full. A package var
// rather than a const so the bootstrap routine can apply the
// subscriber_queue_capacity setting before any subscriber is registered.
var DefaultQueueCapacity = 1024

type queuedFrame struct {
	key model.ChannelKey
	msg model.StreamMessage
}

// Subscriber is one gateway session's outbound queue. Enqueue never blocks:
// once the queue is at capacity it tries to coalesce the new frame with an
// already-queued frame for the same channel (the common case — a fast
// producer, slow consumer just needs the latest ticker/book state, not every
// intermediate tick); if no same-channel frame is queued to collapse into,
// the subscriber is reported to the caller as a slow consumer.
type Subscriber struct {
	id      string
	cap     int
	mu      sync.Mutex
	queue   []queuedFrame
	notify  chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
}

func NewSubscriber(id string, capacity int) *Subscriber {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Subscriber{
		id:     id,
		cap:    capacity,
		queue:  make([]queuedFrame, 0, capacity),
		notify: make(chan struct{}, 1),
	}
}

func (s *Subscriber) ID() string { return s.id }

// Enqueue appends a frame, or coalesces it into an already-queued frame for
// the same key if the queue is full. Returns xerr.SlowConsumer if the queue
// is full and no coalescable frame exists.
func (s *Subscriber) Enqueue(key model.ChannelKey, msg model.StreamMessage) error {
	if s.closed.Load() {
		return xerr.New(xerr.ShutdownRequested, "subscriber closed")
	}
	key = key.Normalize()

	s.mu.Lock()
	if len(s.queue) < s.cap {
		s.queue = append(s.queue, queuedFrame{key: key, msg: msg})
		s.mu.Unlock()
		s.ping()
		return nil
	}
	for i := len(s.queue) - 1; i >= 0; i-- {
		if s.queue[i].key == key {
			s.queue[i].msg = msg
			s.mu.Unlock()
			s.dropped.Add(1) // coalesced: the stale same-key frame it replaced never reaches the client
			s.ping()
			return nil
		}
	}
	s.mu.Unlock()
	return xerr.New(xerr.SlowConsumer, "subscriber queue full")
}

// DroppedCount reports how many frames have been coalesced away (SubscriberState.dropped_count).
func (s *Subscriber) DroppedCount() int64 { return s.dropped.Load() }

// Frame is one drained queue entry: the channel it was published to plus the
// frame itself. Exposing the key lets a consumer that fans frames back out
// to something keyed differently (a NATS subject, say) do so without having
// to reverse-engineer the channel from the payload.
type Frame struct {
	Key model.ChannelKey
	Msg model.StreamMessage
}

// Drain removes and returns up to max queued frames, FIFO order.
func (s *Subscriber) Drain(max int) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if n > max {
		n = max
	}
	out := make([]Frame, n)
	for i := 0; i < n; i++ {
		out[i] = Frame{Key: s.queue[i].key, Msg: s.queue[i].msg}
	}
	s.queue = s.queue[n:]
	return out
}

// Notify signals when a Drain is worth attempting; buffered at 1, so bursts
// of Enqueue calls collapse into a single wakeup.
func (s *Subscriber) Notify() <-chan struct{} { return s.notify }

func (s *Subscriber) ping() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close marks the subscriber dead; further Enqueue calls fail.
func (s *Subscriber) Close() { s.closed.Store(true) }

func (s *Subscriber) Closed() bool { return s.closed.Load() }
