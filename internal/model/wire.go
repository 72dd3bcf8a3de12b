// Package model implements the canonical entities and the wire codec
// described as a tagged union with an explicit discriminator: a sum type
// switched on in one place rather than dynamic dispatch, so an unknown tag
// deterministically yields ProtocolViolation.
package model

import (
	"github.com/segmentio/encoding/json"
	"marketgate.dev/pkg/xerr"
)

// ClientOp is the discriminator of an inbound ClientMessage.
type ClientOp string

const (
	OpSubscribe   ClientOp = "subscribe"
	OpUnsubscribe ClientOp = "unsubscribe"
	OpPing        ClientOp = "ping"
)

// ClientMessage is the inbound tagged union. TsUTCMs is only meaningful on
// op=ping: if present, the session echoes it back verbatim in the pong
// reply; otherwise the session stamps its own send time.
type ClientMessage struct {
	Op       ClientOp     `json:"op"`
	Channels []ChannelKey `json:"channels,omitempty"`
	TsUTCMs  int64        `json:"ts_utc_ms,omitempty"`
}

// ParseClientMessage decodes one inbound frame. An unparseable frame or an
// unrecognized op is a ProtocolViolation; the caller drops the frame and
// keeps the session open, per the gateway session's error-handling contract.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, xerr.Wrap(xerr.ProtocolViolation, "malformed client frame", err)
	}
	switch msg.Op {
	case OpSubscribe, OpUnsubscribe, OpPing:
	default:
		return ClientMessage{}, xerr.New(xerr.ProtocolViolation, "unknown_op")
	}
	return msg, nil
}

// StreamType is the discriminator of an outbound StreamMessage.
type StreamType string

const (
	StreamTicker       StreamType = "ticker"
	StreamBookSnapshot StreamType = "book_snapshot"
	StreamBookDelta    StreamType = "book_delta"
	StreamInfo         StreamType = "info"
	StreamError        StreamType = "error"
)

// StreamMessage is the outbound tagged union. Exactly one of Payload/Message
// is populated depending on Type.
type StreamMessage struct {
	Type    StreamType     `json:"type"`
	Payload any            `json:"payload,omitempty"`
	Message string         `json:"message,omitempty"`
	Context map[string]any `json:"context,omitempty"`
	TsUTCMs int64          `json:"ts_utc_ms,omitempty"`
}

func TickerMessage(t Ticker) StreamMessage {
	return StreamMessage{Type: StreamTicker, Payload: t}
}

func BookSnapshotMessage(s BookSnapshot) StreamMessage {
	return StreamMessage{Type: StreamBookSnapshot, Payload: s}
}

func BookDeltaMessage(d BookDelta) StreamMessage {
	return StreamMessage{Type: StreamBookDelta, Payload: d}
}

func InfoMessage(message string) StreamMessage {
	return StreamMessage{Type: StreamInfo, Message: message}
}

func PongMessage(tsUTCMs int64) StreamMessage {
	return StreamMessage{Type: StreamInfo, Message: "pong", TsUTCMs: tsUTCMs}
}

func ErrorMessage(reason string, ctx map[string]any) StreamMessage {
	return StreamMessage{Type: StreamError, Message: reason, Context: ctx}
}

func (m StreamMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}
