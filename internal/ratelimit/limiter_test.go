package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := New(2, 10*time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
	assert.True(t, rl.Allow(2), "users are limited independently")

	now = now.Add(11 * time.Second)
	assert.True(t, rl.Allow(1))
}

func TestLimiterSweep(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := New(1, time.Second)
	rl.now = func() time.Time { return now }
	rl.Allow(5)

	now = now.Add(2 * time.Second)
	rl.Sweep()
	assert.Empty(t, rl.history)
}

func TestLimiterDisabled(t *testing.T) {
	rl := New(0, time.Second)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow(1))
	}
}
