package model

// Ticker is the canonical top-of-book quote event. Created by an adapter on
// each upstream tick; immutable once constructed.
type Ticker struct {
	TsUTCMs    int64      `json:"ts_utc_ms"`
	Venue      string     `json:"exchange"`
	MarketType MarketType `json:"market_type"`
	Symbol     Symbol     `json:"symbol"`
	Bid        Decimal    `json:"bid"`
	Ask        Decimal    `json:"ask"`
	Last       Decimal    `json:"last"`
	BidSize    Decimal    `json:"bid_size"`
	AskSize    Decimal    `json:"ask_size"`
}

// NewTicker enforces bid <= ask when both are nonzero. A venue that
// momentarily crosses its own book (or sends a malformed frame) produces an
// InvariantViolation here rather than propagating a corrupt quote downstream.
func NewTicker(tsUTCMs int64, venue string, marketType MarketType, symbol Symbol, bid, ask, last, bidSize, askSize Decimal) (Ticker, error) {
	if !bid.IsZero() && !ask.IsZero() && bid.GreaterThan(ask) {
		return Ticker{}, newInvariantError("bid greater than ask", map[string]any{
			"venue": venue, "symbol": symbol.String(), "bid": bid.String(), "ask": ask.String(),
		})
	}
	return Ticker{
		TsUTCMs:    tsUTCMs,
		Venue:      venue,
		MarketType: marketType,
		Symbol:     symbol,
		Bid:        bid,
		Ask:        ask,
		Last:       last,
		BidSize:    bidSize,
		AskSize:    askSize,
	}, nil
}

func (t Ticker) ChannelKey() ChannelKey {
	return ChannelKey{Venue: t.Venue, MarketType: t.MarketType, Kind: ChannelTicker, Symbol: t.Symbol}
}
