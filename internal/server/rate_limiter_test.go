package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterBurstAndRefill(t *testing.T) {
	rl := newRateLimiter(3, time.Second)
	start := rl.lastCheck

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allowAt(start), "burst frame %d", i)
	}
	assert.False(t, rl.allowAt(start))

	// Half an interval refills one and a half tokens.
	next := start.Add(time.Second / 2)
	assert.True(t, rl.allowAt(next))
	assert.False(t, rl.allowAt(next))

	// A long pause refills only up to capacity.
	later := next.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.allowAt(later))
	}
	assert.False(t, rl.allowAt(later))
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(0, 0)
	assert.Equal(t, float64(1), rl.capacity)
	assert.Equal(t, float64(1), rl.rate)
}
