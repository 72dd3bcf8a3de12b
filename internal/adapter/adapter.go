// Package adapter defines the venue-translator contract: start a supervised
// set of upstream sessions, attach/detach channels on demand, and report a
// rolling health status that drives mock-generator fallback.
package adapter

import (
	"context"

	"marketgate.dev/internal/model"
)

// Publisher is the hub's publish-only facet, the one edge adapters are
// allowed to hold — breaking the hub/adapter/session reference cycle per the
// unidirectional message-passing design.
type Publisher interface {
	Publish(key model.ChannelKey, msg model.StreamMessage)
}

// CacheWriter is the cache's write-only facet.
type CacheWriter interface {
	Put(key model.ChannelKey, msg model.StreamMessage)
}

// MetadataPort is the read-only symbol catalog, injected so an adapter can
// validate/resolve venue-native symbol spellings if it needs to.
type MetadataPort interface {
	AllowedQuotes(marketType model.MarketType) map[string]struct{}
}

// Status is one adapter channel's health state.
type Status string

const (
	StatusStarting    Status = "starting"
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnreachable Status = "unreachable"
	StatusStopped     Status = "stopped"
)

// Adapter is the venue-specific translator capability set.
type Adapter interface {
	ID() string
	Start(ctx context.Context, pub Publisher, cache CacheWriter, meta MetadataPort) error
	Attach(ctx context.Context, key model.ChannelKey) error
	Detach(ctx context.Context, key model.ChannelKey) error
	Status(key model.ChannelKey) Status
}

// HealthReporter is an optional capability an Adapter can implement to
// summarize its per-channel statuses into one venue-level reading, for the
// REST surface's /ready and /api/exchanges handlers, which have no specific
// channel to ask about.
type HealthReporter interface {
	Overall() Status
}
