package adapter

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"marketgate.dev/pkg/logger"
)

// Supervisor runs a fixed set of adapters concurrently and tears them all
// down together on first failure or context cancellation, grounded on the
// teacher's internal/quotes/main.go wiring (which starts one goroutine per
// exchange) generalized with golang.org/x/sync/errgroup.
type Supervisor struct {
	adapters []Adapter
	pub      Publisher
	cache    CacheWriter
	meta     MetadataPort
}

func NewSupervisor(pub Publisher, cache CacheWriter, meta MetadataPort, adapters ...Adapter) *Supervisor {
	return &Supervisor{adapters: adapters, pub: pub, cache: cache, meta: meta}
}

// SetPublisher wires the publish-only hub handle after construction, for the
// common bootstrap ordering where the hub itself needs an AdapterLocator
// (this supervisor) before it exists to be handed back as a Publisher.
func (s *Supervisor) SetPublisher(pub Publisher) { s.pub = pub }

func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range s.adapters {
		a := a
		g.Go(func() error {
			logger.Info(gctx, "adapter starting", zap.String("venue", a.ID()))
			return a.Start(gctx, s.pub, s.cache, s.meta)
		})
	}
	return g.Wait()
}

func (s *Supervisor) Adapters() []Adapter { return s.adapters }

func (s *Supervisor) Find(venue string) Adapter {
	for _, a := range s.adapters {
		if a.ID() == venue {
			return a
		}
	}
	return nil
}
