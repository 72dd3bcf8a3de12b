// Package httpapi implements the gateway's REST surface (C9): health/ready
// probes and read-only endpoints over the metadata catalog and candle
// aggregator. Grounded on the teacher's internal/api-geteway/http/http.go
// router assembly (gin.New, gin-contrib/cors, zsais/go-gin-prometheus,
// request-id/recover/rate-limit middleware chain), re-targeted from the
// teacher's user/wallet routes onto this gateway's read-only market-data
// endpoints.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"marketgate.dev/internal/adapter"
	"marketgate.dev/internal/kline"
	"marketgate.dev/internal/metadata"
	"marketgate.dev/pkg/middleware"
	"marketgate.dev/pkg/ratelimit"
)

// AdapterSource is the narrow slice of adapter.Supervisor the router needs
// to report per-venue health.
type AdapterSource interface {
	Adapters() []adapter.Adapter
}

// NewRouter assembles the REST surface's gin engine and HTTP server.
func NewRouter(addr string, catalog *metadata.Catalog, adapters AdapterSource, candles *kline.Aggregator, limiterStore *ratelimit.Store) *http.Server {
	r := gin.New()

	p := ginprom.NewPrometheus("marketgate")
	p.Use(r)

	r.Use(
		middleware.ReqID(),
		cors.Default(),
		middleware.Recover(),
		middleware.RateLimit(limiterStore),
	)

	h := &handlers{catalog: catalog, adapters: adapters, candles: candles}
	r.GET("/health", h.health)
	r.GET("/ready", h.ready)

	api := r.Group("/api")
	api.GET("/exchanges", h.exchanges)
	api.GET("/symbols", h.symbols)
	api.GET("/candles", h.candlesHandler)

	return &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}
