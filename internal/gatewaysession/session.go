// Package gatewaysession implements the per-client WebSocket state machine:
// parse subscribe/unsubscribe/ping operations, validate channels against the
// metadata catalog, and drive delivery from the hub subscriber's bounded
// queue. Grounded on the teacher's internal/quotes/ws/conn.go Server
// (upgrade, ping/pong deadlines, read/write pumps over gorilla/websocket),
// with message parsing switched to segmentio/encoding/json and channel
// validation/flow-guarding added per this gateway's subscribe contract.
package gatewaysession

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"marketgate.dev/internal/hub"
	"marketgate.dev/internal/metadata"
	"marketgate.dev/internal/model"
	"marketgate.dev/pkg/flowguard"
	"marketgate.dev/pkg/logger"
	"marketgate.dev/pkg/metrics"
	"marketgate.dev/pkg/xerr"
)

// State is the session lifecycle position.
type State string

const (
	StateOpening State = "opening"
	StateOpen    State = "open"
	StateClosing State = "closing"
	StateClosed  State = "closed"
)

const (
	WriteTimeout = 15 * time.Second
	IdleTimeout  = 90 * time.Second
	readLimit    = 1 << 16
	maxFlush     = 256
)

// Server upgrades incoming HTTP requests to gateway sessions.
type Server struct {
	Hub     *hub.Hub
	Catalog *metadata.Catalog
	// BookDepthDefault fills in a subscribe request's depth for book channels
	// that didn't specify one, the book_depth_default bootstrap setting.
	BookDepthDefault int
	Upgrader         websocket.Upgrader
}

func NewServer(h *hub.Hub, catalog *metadata.Catalog) *Server {
	return &Server{
		Hub:              h,
		Catalog:          catalog,
		BookDepthDefault: 50,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess := newSession(s.Hub, s.Catalog, conn, s.BookDepthDefault)
	metrics.OnWSOpen()
	go sess.writePump()
	sess.readPump()
}

// Session is one client's gateway WebSocket connection.
type Session struct {
	id               string
	hub              *hub.Hub
	catalog          *metadata.Catalog
	conn             *websocket.Conn
	sub              *hub.Subscriber
	state            State
	bookDepthDefault int

	lastClientActivity atomic.Int64 // unix nanos, written by readPump, read by writePump
	closeOnce          sync.Once
}

func newSession(h *hub.Hub, catalog *metadata.Catalog, conn *websocket.Conn, bookDepthDefault int) *Session {
	id := uuid.NewString()
	s := &Session{
		id:               id,
		hub:              h,
		catalog:          catalog,
		conn:             conn,
		sub:              h.RegisterSubscriber(id, hub.DefaultQueueCapacity),
		state:            StateOpening,
		bookDepthDefault: bookDepthDefault,
	}
	s.touchActivity()
	return s
}

func (s *Session) touchActivity() { s.lastClientActivity.Store(time.Now().UnixNano()) }

func (s *Session) idleSince() time.Duration {
	return time.Since(time.Unix(0, s.lastClientActivity.Load()))
}

func (s *Session) readPump() {
	ctx := context.Background()
	defer s.close(ctx, "read_loop_ended")

	s.conn.SetReadLimit(readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(IdleTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.touchActivity()
		_ = s.conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		return nil
	})
	s.state = StateOpen

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.touchActivity()
		_ = s.conn.SetReadDeadline(time.Now().Add(IdleTimeout))

		msg, perr := model.ParseClientMessage(raw)
		if perr != nil {
			_ = s.sub.Enqueue(model.ChannelKey{}, model.ErrorMessage(protocolErrorReason(perr), nil))
			continue
		}
		s.handle(ctx, msg)
	}
}

// protocolErrorReason distinguishes a frame the codec couldn't even
// unmarshal from a well-formed frame carrying an op it doesn't recognize,
// per §7's ProtocolViolation classification.
func protocolErrorReason(err error) string {
	var xe *xerr.Error
	if e, ok := err.(*xerr.Error); ok {
		xe = e
	}
	if xe != nil && xe.Cause != nil {
		return "malformed_frame"
	}
	return "unknown_op"
}

func (s *Session) handle(ctx context.Context, msg model.ClientMessage) {
	switch msg.Op {
	case model.OpPing:
		ts := msg.TsUTCMs
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}
		_ = s.sub.Enqueue(model.ChannelKey{}, model.PongMessage(ts))

	case model.OpSubscribe:
		if err := flowguard.Allow("session.subscribe"); err != nil {
			_ = s.sub.Enqueue(model.ChannelKey{}, model.ErrorMessage("rate_limited", nil))
			return
		}
		for _, key := range msg.Channels {
			if (key.Kind == model.ChannelBookSnapshot || key.Kind == model.ChannelBookDelta) && key.Depth <= 0 {
				key.Depth = s.bookDepthDefault
			}
			key = key.Normalize()
			if !s.catalog.Validate(key) {
				_ = s.sub.Enqueue(key, model.ErrorMessage("unresolvable_channel", map[string]any{"channel": key.String()}))
				continue
			}
			if err := s.hub.Attach(ctx, s.id, key); err != nil {
				logger.Warn(ctx, "hub attach failed", zap.String("session", s.id), zap.Error(err))
			}
		}

	case model.OpUnsubscribe:
		if err := flowguard.Allow("session.unsubscribe"); err != nil {
			_ = s.sub.Enqueue(model.ChannelKey{}, model.ErrorMessage("rate_limited", nil))
			return
		}
		for _, key := range msg.Channels {
			s.hub.Detach(ctx, s.id, key.Normalize())
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.sub.Notify():
			if !s.flush() {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteTimeout)); err != nil {
				s.close(context.Background(), "write_timeout")
				return
			}
			if s.idleSince() > IdleTimeout {
				s.close(context.Background(), "idle")
				return
			}
		}
		if s.sub.Closed() {
			return
		}
	}
}

func (s *Session) flush() bool {
	frames := s.sub.Drain(maxFlush)
	if len(frames) == 0 {
		return true
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	w, err := s.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		s.close(context.Background(), "write_error")
		return false
	}
	for i, frame := range frames {
		if i > 0 {
			if _, err := w.Write([]byte("\n")); err != nil {
				_ = w.Close()
				s.close(context.Background(), "write_error")
				return false
			}
		}
		b, err := frame.Msg.Encode()
		if err != nil {
			continue
		}
		if _, err := w.Write(b); err != nil {
			_ = w.Close()
			s.close(context.Background(), "write_error")
			return false
		}
	}
	if err := w.Close(); err != nil {
		s.close(context.Background(), "write_error")
		return false
	}
	return true
}

func (s *Session) close(ctx context.Context, reason string) {
	s.closeOnce.Do(func() {
		s.state = StateClosing
		s.hub.CloseSubscriber(s.id)
		_ = s.conn.Close()
		s.state = StateClosed
		metrics.OnWSClose(reason)
	})
}
