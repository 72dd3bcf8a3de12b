// Package mock implements the deterministic fallback ticker generator an
// adapter switches a channel to once its venue has been unreachable for
// longer than the degradation threshold. Seeded from hash(ChannelKey) so the
// same key always produces the same sequence across restarts, grounded on
// the teacher's kline.shardIndex FNV-hash-sharding convention.
package mock

import (
	"context"
	"hash/fnv"
	"math/rand"
	"strconv"
	"time"

	"marketgate.dev/internal/model"
)

// Generator produces tickers at 1 Hz with a small random-walk spread. It
// never produces book frames, per the mock-generator contract.
type Generator struct {
	key  model.ChannelKey
	rng  *rand.Rand
	mid  float64
}

func NewGenerator(key model.ChannelKey) *Generator {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key.String()))
	seed := int64(h.Sum64())
	return &Generator{
		key: key,
		rng: rand.New(rand.NewSource(seed)),
		mid: 100 + float64(seed%10000)/100, // deterministic starting price, venue-shaped
	}
}

// Run emits one ticker per second on out until ctx is canceled.
func (g *Generator) Run(ctx context.Context, out chan<- model.Ticker) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case out <- g.next():
			case <-ctx.Done():
				return
			}
		}
	}
}

func (g *Generator) next() model.Ticker {
	step := (g.rng.Float64() - 0.5) * g.mid * 0.0005
	g.mid += step
	if g.mid < 0.01 {
		g.mid = 0.01
	}
	spread := g.mid * 0.0008
	bid := model.MustDecimal(formatFloat(g.mid - spread/2))
	ask := model.MustDecimal(formatFloat(g.mid + spread/2))
	last := model.MustDecimal(formatFloat(g.mid))
	tk, _ := model.NewTicker(time.Now().UnixMilli(), g.key.Venue, g.key.MarketType, g.key.Symbol,
		bid, ask, last, model.DecimalZero, model.DecimalZero)
	return tk
}

// formatFloat renders with 8 decimal digits, clamping negatives to zero.
func formatFloat(f float64) string {
	if f < 0 {
		f = 0
	}
	return strconv.FormatFloat(f, 'f', 8, 64)
}
