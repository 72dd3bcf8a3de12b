// Package bridge implements the optional NATS fan-out tap: every frame the
// hub publishes on a channel the bridge tracks (see NatsBridge.Track) is
// mirrored onto a NATS subject derived from its channel key, purely for
// other processes to observe the same stream. It never
// feeds back into hub state, keeping the gateway itself single-node.
//
// Grounded on the teacher's internal/quotes/gateway/broker_nats.go
// NatsBroker (nats.Connect, ':'->'.' subject translation, at-most-once
// publish), re-targeted from the teacher's pub/sub Broker interface onto a
// direct hub subscriber, the same pattern the candle aggregator (C8) uses.
package bridge

import (
	"context"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"marketgate.dev/internal/hub"
	"marketgate.dev/internal/model"
	"marketgate.dev/pkg/logger"
)

// NatsBridge mirrors every hub frame it is tracking onto a NATS subject.
// Disabled by default: the gateway only constructs one when nats_url is
// configured.
type NatsBridge struct {
	nc    *nats.Conn
	hub   *hub.Hub
	subID string
	sub   *hub.Subscriber
}

// Dial connects to url and returns a bridge ready to Track channels and Run.
func Dial(url string, h *hub.Hub) (*NatsBridge, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	const subID = "nats-bridge"
	return &NatsBridge{
		nc:    nc,
		hub:   h,
		subID: subID,
		sub:   h.RegisterSubscriber(subID, hub.DefaultQueueCapacity),
	}, nil
}

// Track mirrors key's frames onto NATS, as an ordinary hub attach.
func (b *NatsBridge) Track(ctx context.Context, key model.ChannelKey) error {
	return b.hub.Attach(ctx, b.subID, key.Normalize())
}

// Run drains the bridge's hub subscriber until ctx is canceled, publishing
// each drained frame at-most-once: a NATS publish failure is logged and
// dropped rather than retried, so one flaky publish never backs up the
// subscriber's bounded queue.
func (b *NatsBridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.sub.Notify():
			for _, frame := range b.sub.Drain(256) {
				b.publish(ctx, frame)
			}
		}
	}
}

func (b *NatsBridge) publish(ctx context.Context, frame hub.Frame) {
	subject := topicToSubject(frame.Key.String())
	payload, err := frame.Msg.Encode()
	if err != nil {
		return
	}
	if err := b.nc.Publish(subject, payload); err != nil {
		logger.Warn(ctx, "nats bridge publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }

// Close drains and closes the NATS connection.
func (b *NatsBridge) Close() {
	if b.nc != nil {
		_ = b.nc.Drain()
		b.nc.Close()
	}
}
