package metadata

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"marketgate.dev/internal/model"
)

func testCatalog(resolveCalls *int64) *Catalog {
	venues := map[string][]model.MarketType{
		"binance": {model.MarketSpot},
	}
	quotes := map[model.MarketType][]string{
		model.MarketSpot: {"USDT", "USDC"},
	}
	resolve := func(venue string, marketType model.MarketType, symbolText string) (model.Symbol, bool) {
		if resolveCalls != nil {
			atomic.AddInt64(resolveCalls, 1)
		}
		if symbolText == "BTCUSDT" {
			return model.NewSymbol("BTC", "USDT"), true
		}
		return model.Symbol{}, false
	}
	return New(venues, quotes, resolve)
}

func TestCatalog_ResolveKnownSymbol(t *testing.T) {
	c := testCatalog(nil)
	info, ok := c.Resolve("binance", model.MarketSpot, "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "BTC", info.Symbol.Base)
	assert.Equal(t, "USDT", info.Symbol.Quote)
}

func TestCatalog_RejectsUnsupportedVenue(t *testing.T) {
	c := testCatalog(nil)
	_, ok := c.Resolve("coinbase", model.MarketSpot, "BTCUSDT")
	assert.False(t, ok)
}

func TestCatalog_RejectsDisallowedQuote(t *testing.T) {
	venues := map[string][]model.MarketType{"binance": {model.MarketSpot}}
	quotes := map[model.MarketType][]string{model.MarketSpot: {"USDT"}}
	resolve := func(venue string, marketType model.MarketType, symbolText string) (model.Symbol, bool) {
		return model.NewSymbol("BTC", "EUR"), true
	}
	c := New(venues, quotes, resolve)
	_, ok := c.Resolve("binance", model.MarketSpot, "BTCEUR")
	assert.False(t, ok, "a resolvable symbol with a disallowed quote asset must still be rejected")
}

func TestCatalog_ConcurrentFirstResolveCollapses(t *testing.T) {
	var calls int64
	c := testCatalog(&calls)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Resolve("binance", model.MarketSpot, "BTCUSDT")
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&calls), int64(50))
	assert.GreaterOrEqual(t, atomic.LoadInt64(&calls), int64(1))
}
