// Package upstream implements a resilient single-venue websocket session:
// reconnect with backoff, heartbeat liveness tracking, rate-limited outbound
// sends, and reconnect resync (re-issuing active subscriptions before any
// new frame reaches consumers). Grounded on the teacher's
// mdsource.Runner/runOne reconnect loop and ws/conn.go ping/pong handling,
// rebuilt on a context-native websocket client so every suspension point is
// cancellation-aware.
package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"marketgate.dev/pkg/logger"
	"marketgate.dev/pkg/metrics"
	"marketgate.dev/pkg/ratelimit"
	"marketgate.dev/pkg/safe"
	"marketgate.dev/pkg/xerr"
)

// Config parameterizes one venue session.
type Config struct {
	Venue             string
	URL               string
	ConnectTimeout    time.Duration
	IdleTimeout       time.Duration
	SubscribeDebounce time.Duration
	RateLimit         *ratelimit.Store
	Breaker           *ratelimit.BreakerManager
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.SubscribeDebounce <= 0 {
		c.SubscribeDebounce = 50 * time.Millisecond
	}
}

// Session is a supervised websocket connection to one venue.
type Session struct {
	cfg     Config
	backoff Backoff
	out     chan Item

	mu     sync.Mutex
	conn   *websocket.Conn
	active map[string]string // topic -> venue-native subscribe payload, for resync replay

	pendingMu  sync.Mutex
	pending    []string // subscribe payloads queued during the debounce window
	flushTimer *time.Timer

	stable bool // set by runOnce after 60 s of clean traffic; Start resets its attempt count on it
}

func NewSession(cfg Config) *Session {
	cfg.setDefaults()
	return &Session{
		cfg:     cfg,
		backoff: NewBackoff(),
		out:     make(chan Item, 4096),
		active:  make(map[string]string, 64),
	}
}

func (s *Session) Events() <-chan Item { return s.out }

// Start begins the supervised connect loop; it returns once ctx is canceled.
func (s *Session) Start(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			close(s.out)
			return
		}
		err := s.runOnce(ctx)
		if err == nil || ctx.Err() != nil {
			close(s.out)
			return
		}
		if s.stable {
			attempt = 0
			s.stable = false
		}
		attempt++
		metrics.AdapterReconnectTotal.WithLabelValues(s.cfg.Venue).Inc()
		s.emit(Item{Event: &ConnectionEvent{Kind: EventFailed, Err: err}})

		delay := s.backoff.Next(attempt)
		logger.Warn(ctx, "upstream session reconnecting", zap.String("venue", s.cfg.Venue), zap.Error(err), zap.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			close(s.out)
			return
		case <-timer.C:
		}
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	var conn *websocket.Conn
	dial := func() (struct{}, error) {
		c, _, err := websocket.Dial(connectCtx, s.cfg.URL, nil)
		if err != nil {
			return struct{}{}, xerr.Wrap(xerr.TransientNetwork, "dial upstream", err)
		}
		conn = c
		return struct{}{}, nil
	}
	var err error
	if s.cfg.Breaker != nil {
		_, err = s.cfg.Breaker.Get(s.cfg.Venue).Execute(dial)
	} else {
		_, err = dial()
	}
	cancel()
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "session stopped")
	}()

	s.emit(Item{Event: &ConnectionEvent{Kind: EventConnected}})
	if err := s.resync(ctx); err != nil {
		return err
	}

	stableSince := time.Now()
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.cfg.IdleTimeout)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return xerr.Wrap(xerr.TransientNetwork, "read upstream", err)
		}
		if time.Since(stableSince) >= 60*time.Second {
			s.stable = true // reset policy after a clean observation window
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		s.emit(Item{Frame: &NativeFrame{Data: cp}})
	}
}

// resync re-issues every currently-active subscription after (re)connect,
// before any new frame is produced to consumers, per the reconnect policy.
func (s *Session) resync(ctx context.Context) error {
	s.mu.Lock()
	subs := make([]string, 0, len(s.active))
	for _, payload := range s.active {
		subs = append(subs, payload)
	}
	s.mu.Unlock()

	if len(subs) > 0 {
		if err := s.writeSubscribe(ctx, subs); err != nil {
			return err
		}
	}
	s.emit(Item{Event: &ConnectionEvent{Kind: EventResynced, Subscriptions: subs}})
	return nil
}

// SendSubscribe registers topic -> payload and queues the payload for
// delivery; payloads queued within one debounce window are written together
// as one batch, one venue frame per queued payload. Repeated subscribes in a
// window are not merged, and a SendUnsubscribe does not withdraw a payload
// already queued. topic identifies the
// subscription for later SendUnsubscribe/resync bookkeeping; it need not be
// the same string as payload (which is the literal bytes written to the
// venue and replayed verbatim on reconnect).
func (s *Session) SendSubscribe(ctx context.Context, topic, payload string) {
	s.mu.Lock()
	s.active[topic] = payload
	s.mu.Unlock()
	s.queueFlush(ctx, []string{payload})
}

// SendUnsubscribe drops topic from the resync set so a reconnect no longer
// replays its subscribe payload. It does not itself write to the venue;
// callers that need an on-wire unsubscribe command send it separately.
func (s *Session) SendUnsubscribe(topic string) {
	s.mu.Lock()
	delete(s.active, topic)
	s.mu.Unlock()
}

func (s *Session) queueFlush(ctx context.Context, payloads []string) {
	s.pendingMu.Lock()
	s.pending = append(s.pending, payloads...)
	if s.flushTimer == nil {
		s.flushTimer = time.AfterFunc(s.cfg.SubscribeDebounce, func() {
			s.pendingMu.Lock()
			batch := s.pending
			s.pending = nil
			s.flushTimer = nil
			s.pendingMu.Unlock()
			if len(batch) == 0 {
				return
			}
			safe.Go(func() {
				_ = s.writeSubscribe(ctx, batch)
			})
		})
	}
	s.pendingMu.Unlock()
}

func (s *Session) writeSubscribe(ctx context.Context, payloads []string) error {
	if s.cfg.RateLimit != nil {
		// token-bucket gate; blocking wait is acceptable on the outbound path
		_ = s.cfg.RateLimit.Wait(ctx, s.cfg.Venue)
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	for _, p := range payloads {
		if err := conn.Write(ctx, websocket.MessageText, []byte(p)); err != nil {
			return xerr.Wrap(xerr.TransientNetwork, "write subscribe", err)
		}
	}
	return nil
}

func (s *Session) emit(i Item) {
	select {
	case s.out <- i:
	default:
		// events() consumer (the adapter) must keep up; a full buffer here
		// means the adapter goroutine is stuck, not a normal backpressure
		// path, so the frame is dropped rather than blocking the reader.
	}
}
