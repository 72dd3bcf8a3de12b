package model

import "fmt"

// ChannelKind is the kind of stream a ChannelKey identifies.
type ChannelKind string

const (
	ChannelTicker       ChannelKind = "ticker"
	ChannelBookSnapshot ChannelKind = "book_snapshot"
	ChannelBookDelta    ChannelKind = "book_delta"
)

// ChannelKey identifies one logical topic. Depth is only meaningful for book
// channels; two keys with different depth but identical everything else are
// equal for non-book kinds (depth is simply ignored in that case, per the
// comparison rule below — encoded structurally by zeroing it in Normalize).
type ChannelKey struct {
	Venue      string      `json:"exchange"`
	MarketType MarketType  `json:"market_type"`
	Kind       ChannelKind `json:"channel_type"`
	Symbol     Symbol      `json:"symbol"`
	Depth      int         `json:"depth,omitempty"`
}

// Normalize returns a copy with Depth zeroed for non-book kinds, so two keys
// that only differ by a meaningless depth field compare equal via ==.
func (k ChannelKey) Normalize() ChannelKey {
	if k.Kind != ChannelBookSnapshot && k.Kind != ChannelBookDelta {
		k.Depth = 0
	}
	return k
}

// String is a stable topic identifier, used as the hub's map key and the
// optional NATS bridge's subject after ':'→'.' translation.
func (k ChannelKey) String() string {
	k = k.Normalize()
	if k.Depth > 0 {
		return fmt.Sprintf("%s:%s:%s:%s:%d", k.Venue, k.MarketType, k.Kind, k.Symbol, k.Depth)
	}
	return fmt.Sprintf("%s:%s:%s:%s", k.Venue, k.MarketType, k.Kind, k.Symbol)
}
