package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"marketgate.dev/internal/adapter"
	"marketgate.dev/internal/kline"
	"marketgate.dev/internal/metadata"
	"marketgate.dev/internal/model"
)

type handlers struct {
	catalog  *metadata.Catalog
	adapters AdapterSource
	candles  *kline.Aggregator
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) ready(c *gin.Context) {
	for _, a := range h.adapters.Adapters() {
		if s := overallStatus(a); s == adapter.StatusHealthy || s == adapter.StatusDegraded {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
}

type exchangeView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

func (h *handlers) exchanges(c *gin.Context) {
	adaptersByID := make(map[string]adapter.Adapter, len(h.adapters.Adapters()))
	for _, a := range h.adapters.Adapters() {
		adaptersByID[a.ID()] = a
	}

	out := make([]exchangeView, 0, len(h.catalog.ListVenues()))
	for _, v := range h.catalog.ListVenues() {
		status := adapter.StatusStarting
		if a, ok := adaptersByID[v.Venue]; ok {
			status = overallStatus(a)
		}
		out = append(out, exchangeView{ID: v.Venue, Name: v.Venue, Status: string(status)})
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": out})
}

func overallStatus(a adapter.Adapter) adapter.Status {
	if hr, ok := a.(adapter.HealthReporter); ok {
		return hr.Overall()
	}
	return adapter.StatusHealthy
}

func (h *handlers) symbols(c *gin.Context) {
	exchangeFilter := c.Query("exchange")

	type venueSymbols struct {
		Venue      string           `json:"exchange"`
		MarketType model.MarketType `json:"market_type"`
		Quotes     []string         `json:"allowed_quotes"`
	}

	out := make([]venueSymbols, 0)
	for _, v := range h.catalog.ListVenues() {
		if exchangeFilter != "" && exchangeFilter != v.Venue {
			continue
		}
		for _, mt := range v.MarketTypes {
			quotes := make([]string, 0, len(h.catalog.AllowedQuotes(mt)))
			for q := range h.catalog.AllowedQuotes(mt) {
				quotes = append(quotes, q)
			}
			out = append(out, venueSymbols{Venue: v.Venue, MarketType: mt, Quotes: quotes})
		}
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": out})
}

func (h *handlers) candlesHandler(c *gin.Context) {
	exchange := c.Query("exchange")
	symbolText := c.Query("symbol")
	intervalText := c.Query("interval")
	if exchange == "" || symbolText == "" || intervalText == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_required_param"})
		return
	}

	interval, ok := kline.ParseInterval(intervalText)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_interval"})
		return
	}

	marketType := model.MarketSpot
	if mtText := c.Query("market_type"); mtText != "" {
		mt, ok := model.ParseMarketType(mtText)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_market_type"})
			return
		}
		marketType = mt
	}

	limit := 200
	if limitText := c.Query("limit"); limitText != "" {
		if n, err := strconv.Atoi(limitText); err == nil {
			limit = n
		}
	}

	info, ok := h.catalog.Resolve(exchange, marketType, symbolText)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unresolvable_symbol"})
		return
	}

	// The aggregator only accumulates bars for symbols it has been asked to
	// track; a symbol's first /api/candles request starts that tracking, the
	// same lazy-attach shape a gateway session's subscribe uses on the hub.
	key := model.ChannelKey{Kind: model.ChannelTicker, Venue: exchange, MarketType: marketType, Symbol: info.Symbol}
	_ = h.candles.Track(c.Request.Context(), key)

	bars := h.candles.Store().Query(exchange, marketType, info.Symbol, interval, limit)
	c.JSON(http.StatusOK, gin.H{"candles": bars})
}
