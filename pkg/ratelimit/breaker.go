package ratelimit

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"marketgate.dev/pkg/xerr"
)

// Rule configures one circuit breaker instance.
type Rule struct {
	MaxRequests             uint32
	Interval                time.Duration
	Timeout                 time.Duration
	TripConsecutiveFailures uint32
	TripFailureRate         float64
	TripMinRequests         uint32
}

// BreakerManager hands out one circuit breaker per venue, lazily created
// from a default rule (or a per-venue override). An upstream session wraps
// each connect attempt in its breaker's Execute; while the breaker is open,
// connect attempts are rejected without dialing a venue that is already down.
type BreakerManager struct {
	mu          sync.RWMutex
	breakers    map[string]*gobreaker.CircuitBreaker[struct{}]
	defaultRule Rule
	rules       map[string]Rule
}

func NewBreakerManager(defaultRule Rule, perVenue map[string]Rule) *BreakerManager {
	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 3
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 30 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = 60 * time.Second
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 5
	}
	return &BreakerManager{
		breakers:    make(map[string]*gobreaker.CircuitBreaker[struct{}], 16),
		defaultRule: defaultRule,
		rules:       perVenue,
	}
}

func (m *BreakerManager) Get(venue string) *gobreaker.CircuitBreaker[struct{}] {
	m.mu.RLock()
	cb := m.breakers[venue]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb = m.breakers[venue]; cb != nil {
		return cb
	}

	rule, ok := m.rules[venue]
	if !ok {
		rule = m.defaultRule
	}
	cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        venue,
		MaxRequests: rule.MaxRequests,
		Interval:    rule.Interval,
		Timeout:     rule.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				return float64(c.TotalFailures)/float64(c.Requests) >= rule.TripFailureRate
			}
			return false
		},
		IsSuccessful: isSuccessful,
	})
	m.breakers[venue] = cb
	return cb
}

// isSuccessful decides which error kinds count against a venue's breaker.
// Only network-shaped failures count: a clean protocol mismatch is
// permanent and the adapter transitions to Failed on its own, it should not
// also blow the breaker open for other channels sharing the venue.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	return !xerr.Is(err, xerr.TransientNetwork)
}
