// Package metrics holds the gateway's process-wide Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WSConns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketgate",
		Name:      "ws_conns",
		Help:      "Active gateway websocket sessions.",
	})
	WSConnOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketgate",
		Name:      "ws_conn_open_total",
		Help:      "Total gateway websocket sessions opened.",
	})
	WSConnCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketgate",
		Name:      "ws_conn_close_total",
		Help:      "Total gateway websocket sessions closed, by reason.",
	}, []string{"reason"})

	HubTopicsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketgate",
		Name:      "hub_topics_active",
		Help:      "Topics currently Live or Draining in the stream hub.",
	})
	HubPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketgate",
		Name:      "hub_publish_total",
		Help:      "Total events published to the stream hub, by channel kind.",
	}, []string{"kind"})
	HubDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketgate",
		Name:      "hub_dropped_total",
		Help:      "Total frames dropped by the stream hub for a subscriber, by reason.",
	}, []string{"reason"})
	HubSlowConsumerTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketgate",
		Name:      "hub_slow_consumer_total",
		Help:      "Total subscribers closed for being a slow consumer.",
	})

	AdapterStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "marketgate",
		Name:      "adapter_status",
		Help:      "Adapter status (1 = current state), by venue and state.",
	}, []string{"venue", "state"})
	AdapterReconnectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketgate",
		Name:      "adapter_reconnect_total",
		Help:      "Total upstream reconnects, by venue.",
	}, []string{"venue"})
	AdapterDegradedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketgate",
		Name:      "adapter_degraded_total",
		Help:      "Total transitions into mock-degraded mode, by venue.",
	}, []string{"venue"})

	RateLimitBlockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketgate",
		Name:      "ratelimit_block_total",
		Help:      "Total requests blocked by a rate limiter, by scope.",
	}, []string{"scope"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "marketgate",
		Name:      "circuitbreaker_state",
		Help:      "Circuit breaker state (0=closed,1=half-open,2=open), by venue.",
	}, []string{"venue"})
)

func OnWSOpen() {
	WSConns.Inc()
	WSConnOpenTotal.Inc()
}

func OnWSClose(reason string) {
	WSConns.Dec()
	WSConnCloseTotal.WithLabelValues(reason).Inc()
}

func SetAdapterState(venue, state string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	AdapterStatus.WithLabelValues(venue, state).Set(v)
}

// SetHubTopics records the stream hub's current Live/Draining topic count.
func SetHubTopics(n float64) { HubTopicsActive.Set(n) }

// OnHubSlowConsumer records a subscriber closed for falling too far behind.
func OnHubSlowConsumer() { HubSlowConsumerTotal.Inc() }

