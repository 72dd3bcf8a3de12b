package model

// PriceLevel is one level of a book side.
type PriceLevel struct {
	Price Decimal `json:"price"`
	Size  Decimal `json:"size"`
}

// BookSnapshot is a full order-book view at a point in time. Bids descending
// by price, asks ascending, each side holding strictly unique price levels.
type BookSnapshot struct {
	TsUTCMs    int64        `json:"ts_utc_ms"`
	Venue      string       `json:"exchange"`
	MarketType MarketType   `json:"market_type"`
	Symbol     Symbol       `json:"symbol"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	Checksum   *int64       `json:"checksum,omitempty"`
}

// NewBookSnapshot enforces level ordering and uniqueness; the checksum is
// accepted and stored opaquely, never interpreted by the core.
func NewBookSnapshot(tsUTCMs int64, venue string, marketType MarketType, symbol Symbol, bids, asks []PriceLevel, checksum *int64) (BookSnapshot, error) {
	if err := validateSide(bids, true); err != nil {
		return BookSnapshot{}, newInvariantError("bid side not strictly descending/unique", map[string]any{"venue": venue, "symbol": symbol.String(), "cause": err.Error()})
	}
	if err := validateSide(asks, false); err != nil {
		return BookSnapshot{}, newInvariantError("ask side not strictly ascending/unique", map[string]any{"venue": venue, "symbol": symbol.String(), "cause": err.Error()})
	}
	return BookSnapshot{TsUTCMs: tsUTCMs, Venue: venue, MarketType: marketType, Symbol: symbol, Bids: bids, Asks: asks, Checksum: checksum}, nil
}

func validateSide(levels []PriceLevel, descending bool) error {
	for i := 1; i < len(levels); i++ {
		prev, cur := levels[i-1].Price, levels[i].Price
		ok := prev.GreaterThan(cur)
		if !descending {
			ok = cur.GreaterThan(prev)
		}
		if !ok {
			return errOrderViolation
		}
	}
	return nil
}

var errOrderViolation = bookOrderError{}

type bookOrderError struct{}

func (bookOrderError) Error() string { return "price levels not strictly ordered" }

// BookDelta is an incremental update against the last-known book state for a
// symbol: upserts replace/insert a level, deletes remove one by price.
type BookDelta struct {
	TsUTCMs    int64        `json:"ts_utc_ms"`
	Venue      string       `json:"exchange"`
	MarketType MarketType   `json:"market_type"`
	Symbol     Symbol       `json:"symbol"`
	UpsertsBid []PriceLevel `json:"upserts_bid,omitempty"`
	UpsertsAsk []PriceLevel `json:"upserts_ask,omitempty"`
	DeletesBid []Decimal    `json:"deletes_bid,omitempty"`
	DeletesAsk []Decimal    `json:"deletes_ask,omitempty"`
	Seq        *int64       `json:"seq,omitempty"`
}

// After reports whether d is strictly after prior in channel ordering: by
// Seq if both carry one, else by TsUTCMs.
func (d BookDelta) After(prior BookDelta) bool {
	if d.Seq != nil && prior.Seq != nil {
		return *d.Seq > *prior.Seq
	}
	return d.TsUTCMs > prior.TsUTCMs
}

func (s BookSnapshot) ChannelKey(depth int) ChannelKey {
	return ChannelKey{Venue: s.Venue, MarketType: s.MarketType, Kind: ChannelBookSnapshot, Symbol: s.Symbol, Depth: depth}
}

func (d BookDelta) ChannelKey(depth int) ChannelKey {
	return ChannelKey{Venue: d.Venue, MarketType: d.MarketType, Kind: ChannelBookDelta, Symbol: d.Symbol, Depth: depth}
}
