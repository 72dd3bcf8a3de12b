package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_NeverExceedsCap(t *testing.T) {
	b := Backoff{Base: 500 * time.Millisecond, Cap: 30 * time.Second}
	for attempt := 1; attempt <= 20; attempt++ {
		d := b.Next(attempt)
		assert.LessOrEqual(t, d, b.Cap)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestBackoff_ZeroAttemptIsZeroDelay(t *testing.T) {
	b := NewBackoff()
	assert.Equal(t, time.Duration(0), b.Next(0))
}

func TestBackoff_GrowsWithAttempt(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Cap: time.Hour}
	// upper bound of the jitter range should grow monotonically before capping
	var last time.Duration
	for attempt := 1; attempt <= 5; attempt++ {
		upper := time.Duration(float64(b.Base) * float64(int64(1)<<uint(attempt-1)))
		assert.LessOrEqual(t, last, upper)
		assert.LessOrEqual(t, b.Next(attempt), upper)
		last = upper
	}
}
