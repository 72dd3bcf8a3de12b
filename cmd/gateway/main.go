// Command gateway is the market-data gateway's bootstrap entrypoint: load
// config, wire the cache/hub/adapters/aggregator/bridge, serve WebSocket and
// REST traffic, and tear everything down in order on signal.
//
// Grounded on the teacher's internal/quotes/main.go (hub, aggregator, broker,
// mux wiring, signal.NotifyContext) and cmd/api-gateway/main.go's shutdown
// shape, generalized to this gateway's own component set.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"marketgate.dev/internal/adapter"
	"marketgate.dev/internal/adapter/binance"
	"marketgate.dev/internal/adapter/bybit"
	"marketgate.dev/internal/bridge"
	"marketgate.dev/internal/cache"
	"marketgate.dev/internal/gatewaysession"
	"marketgate.dev/internal/httpapi"
	"marketgate.dev/internal/hub"
	"marketgate.dev/internal/kline"
	"marketgate.dev/internal/metadata"
	"marketgate.dev/internal/model"
	vipConfig "marketgate.dev/pkg/config"
	"marketgate.dev/pkg/flowguard"
	"marketgate.dev/pkg/logger"
	"marketgate.dev/pkg/ratelimit"
	"marketgate.dev/pkg/safe"
)

// gatewayConfig mirrors SPEC_FULL.md's §6 Configuration list, bound via
// viper with a MARKETGATE_ prefix and .->_ key replacement.
type gatewayConfig struct {
	BindAddr                string `mapstructure:"bind_addr"`
	Exchanges               string `mapstructure:"exchanges"`
	BookDepthDefault        int    `mapstructure:"book_depth_default"`
	LogLevel                string `mapstructure:"log_level"`
	SubscriberQueueCapacity int    `mapstructure:"subscriber_queue_capacity"`
	TopicGraceMs            int    `mapstructure:"topic_grace_ms"`
	DegradationMs           int    `mapstructure:"degradation_ms"`
	NatsURL                 string `mapstructure:"nats_url"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var cfg gatewayConfig
	if _, err := vipConfig.LoadAndWatch("marketgate", &cfg); err != nil {
		// logger isn't initialized yet; this is a configuration error, exit 1
		// per SPEC_FULL.md's exit-code contract.
		println("config load failed: " + err.Error())
		return 1
	}

	logger.Init("gateway", cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := flowguard.Init([]flowguard.Rule{
		{Resource: "session.subscribe", Threshold: 50},
		{Resource: "session.unsubscribe", Threshold: 50},
	}); err != nil {
		logger.Warn(ctx, "flow guard disabled", zap.Error(err))
	}

	if cfg.SubscriberQueueCapacity > 0 {
		hub.DefaultQueueCapacity = cfg.SubscriberQueueCapacity
	}

	c := cache.New()

	venues := strings.Split(cfg.Exchanges, ",")
	breaker := ratelimit.NewBreakerManager(ratelimit.Rule{}, nil)
	upstreamLimiter := ratelimit.NewStore(rate.Limit(20), 40, 10*time.Minute)

	catalog := metadata.New(
		venueMarketTypes(venues),
		map[model.MarketType][]string{
			model.MarketSpot:      {"USDT", "USDC", "BUSD", "FDUSD", "TUSD", "BTC", "ETH", "BNB", "EUR", "GBP", "TRY", "JPY", "AUD", "BRL", "RUB"},
			model.MarketPerpetual: {"USDT", "USD"},
		},
		resolveSymbol,
	)

	degradationAfter := time.Duration(cfg.DegradationMs) * time.Millisecond
	adapters := buildAdapters(venues, breaker, upstreamLimiter, degradationAfter)
	supervisor := adapter.NewSupervisor(nil, c, catalog, adapters...)
	h := hub.New(c, supervisor)
	supervisor.SetPublisher(h)
	h.SetDrainGrace(time.Duration(cfg.TopicGraceMs) * time.Millisecond)

	agg := kline.NewAggregator(h)
	safe.GoCtx(ctx, agg.Run)

	var natsBridge *bridge.NatsBridge
	if cfg.NatsURL != "" {
		nb, err := bridge.Dial(cfg.NatsURL, h)
		if err != nil {
			logger.Error(ctx, "nats bridge dial failed, continuing without fan-out", zap.Error(err))
		} else {
			natsBridge = nb
			safe.GoCtx(ctx, natsBridge.Run)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(gctx) })

	wsServer := gatewaysession.NewServer(h, catalog)
	if cfg.BookDepthDefault > 0 {
		wsServer.BookDepthDefault = cfg.BookDepthDefault
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.ServeWS)

	limiterStore := ratelimit.NewStore(rate.Limit(50), 100, 10*time.Minute)
	restSrv := httpapi.NewRouter(cfg.BindAddr, catalog, supervisor, agg, limiterStore)
	restSrv.Handler = composeMux(mux, restSrv.Handler)

	var serveErr error
	g.Go(func() error {
		logger.Info(ctx, "gateway listening", zap.String("addr", cfg.BindAddr))
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr = err
			return err
		}
		return nil
	})

	<-gctx.Done()
	logger.Info(context.Background(), "shutting down")

	// Teardown: the adapters and the candle aggregator are already stopping,
	// since their context is canceled; Shutdown then stops accepting new
	// HTTP/WebSocket connections (it does not close WebSocket sessions that
	// were already upgraded), the NATS bridge is closed, and the errgroup is
	// awaited.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := restSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown error", zap.Error(err))
	}
	if natsBridge != nil {
		natsBridge.Close()
	}
	if err := g.Wait(); err != nil {
		logger.Error(context.Background(), "component exited with error", zap.Error(err))
		if serveErr != nil {
			return 2 // bind failure
		}
		return 1
	}
	return 0
}

// composeMux routes /ws to the raw websocket mux and everything else to the
// gin REST router, since both need to share one listener/address.
func composeMux(wsMux *http.ServeMux, rest http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			wsMux.ServeHTTP(w, r)
			return
		}
		rest.ServeHTTP(w, r)
	})
}

func venueMarketTypes(venues []string) map[string][]model.MarketType {
	out := make(map[string][]model.MarketType, len(venues))
	for _, v := range venues {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		switch v {
		case "bybit":
			out[v] = []model.MarketType{model.MarketSpot, model.MarketPerpetual}
		default:
			out[v] = []model.MarketType{model.MarketSpot}
		}
	}
	return out
}

func resolveSymbol(venue string, marketType model.MarketType, symbolText string) (model.Symbol, bool) {
	var base, quote string
	var ok bool
	switch venue {
	case "binance":
		base, quote, ok = binance.SplitSymbol(symbolText)
	case "bybit":
		base, quote, ok = bybit.SplitSymbol(symbolText)
	default:
		return model.Symbol{}, false
	}
	if !ok {
		return model.Symbol{}, false
	}
	return model.NewSymbol(base, quote), true
}

func buildAdapters(venues []string, breaker *ratelimit.BreakerManager, limiter *ratelimit.Store, degradationAfter time.Duration) []adapter.Adapter {
	out := make([]adapter.Adapter, 0, len(venues))
	for _, v := range venues {
		switch strings.TrimSpace(v) {
		case "binance":
			a := binance.New(breaker, limiter)
			a.SetDegradationAfter(degradationAfter)
			out = append(out, a)
		case "bybit":
			a := bybit.New(breaker, limiter)
			a.SetDegradationAfter(degradationAfter)
			out = append(out, a)
		}
	}
	return out
}
