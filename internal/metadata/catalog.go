// Package metadata implements the read-only symbol catalog the core
// consumes to validate and resolve client subscribe requests. Grounded on
// the teacher's quote-spreading conventions in
// internal/quotes/datasource/Binance/parse.go (a static quote-asset list
// plus venue-native symbol splitting), generalized into a venue/market-type
// aware catalog with golang.org/x/sync/singleflight collapsing repeated
// first-resolve lookups for the same unseen symbol text.
package metadata

import (
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"marketgate.dev/internal/model"
)

// VenueDescriptor describes one supported venue.
type VenueDescriptor struct {
	Venue       string
	MarketTypes []model.MarketType
}

// SymbolInfo is the resolved form of a client-supplied symbol text.
type SymbolInfo struct {
	Venue      string
	MarketType model.MarketType
	Symbol     model.Symbol
}

// Catalog is a static in-memory symbol catalog seeded at startup. All
// lookups are read-only from the core's perspective; refreshing it (e.g.
// from a venue's exchange-info endpoint) is a separate collaborator's job,
// out of scope here.
type Catalog struct {
	mu      sync.RWMutex
	venues  map[string][]model.MarketType
	quotes  map[model.MarketType]map[string]struct{}
	group   singleflight.Group
	resolve func(venue string, marketType model.MarketType, symbolText string) (model.Symbol, bool)
}

// New builds a catalog for the given venues, each paired with the market
// types it supports, the allowed quote assets per market type, and a
// resolver function an adapter package supplies (its own SplitSymbol).
func New(venues map[string][]model.MarketType, quotesByMarket map[model.MarketType][]string, resolve func(venue string, marketType model.MarketType, symbolText string) (model.Symbol, bool)) *Catalog {
	quotes := make(map[model.MarketType]map[string]struct{}, len(quotesByMarket))
	for mt, qs := range quotesByMarket {
		set := make(map[string]struct{}, len(qs))
		for _, q := range qs {
			set[strings.ToUpper(q)] = struct{}{}
		}
		quotes[mt] = set
	}
	return &Catalog{venues: venues, quotes: quotes, resolve: resolve}
}

// ListVenues returns every configured venue and the market types it serves.
func (c *Catalog) ListVenues() []VenueDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]VenueDescriptor, 0, len(c.venues))
	for v, mts := range c.venues {
		out = append(out, VenueDescriptor{Venue: v, MarketTypes: mts})
	}
	return out
}

// AllowedQuotes returns the set of quote assets the gateway will accept for
// a given market type, satisfying adapter.MetadataPort.
func (c *Catalog) AllowedQuotes(marketType model.MarketType) map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quotes[marketType]
}

func (c *Catalog) supports(venue string, marketType model.MarketType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, mt := range c.venues[venue] {
		if mt == marketType {
			return true
		}
	}
	return false
}

// Validate reports whether key names a venue and market type the catalog
// serves and a symbol whose quote asset is allowed for that market type;
// the base asset is not checked and the resolver is not called. Used to
// validate an already-structured
// ChannelKey from a subscribe request, as opposed to Resolve which parses
// free-text venue-native symbol spellings (e.g. for the REST surface).
func (c *Catalog) Validate(key model.ChannelKey) bool {
	if !c.supports(key.Venue, key.MarketType) {
		return false
	}
	_, allowed := c.AllowedQuotes(key.MarketType)[key.Symbol.Quote]
	return allowed
}

// Resolve maps a client-supplied venue/market_type/symbol_text to a
// SymbolInfo, or reports it unresolvable. Concurrent calls for the same
// (venue, marketType, symbolText) collapse into a single resolver
// invocation, so a burst of subscribes for a brand-new symbol text does one
// resolution instead of N.
func (c *Catalog) Resolve(venue string, marketType model.MarketType, symbolText string) (SymbolInfo, bool) {
	if !c.supports(venue, marketType) {
		return SymbolInfo{}, false
	}
	key := venue + "|" + string(marketType) + "|" + strings.ToUpper(symbolText)
	v, _, _ := c.group.Do(key, func() (any, error) {
		sym, ok := c.resolve(venue, marketType, symbolText)
		if !ok {
			return SymbolInfo{}, nil
		}
		if _, allowed := c.AllowedQuotes(marketType)[sym.Quote]; !allowed {
			return SymbolInfo{}, nil
		}
		return SymbolInfo{Venue: venue, MarketType: marketType, Symbol: sym}, nil
	})
	info := v.(SymbolInfo)
	return info, !info.Symbol.IsZero()
}
