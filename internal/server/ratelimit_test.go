package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingLimiter_EnforcesLimitPerKey(t *testing.T) {
	rl := NewSlidingLimiter(2, time.Minute)

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))

	// Keys are independent.
	assert.True(t, rl.Allow("u2"))
}

func TestSlidingLimiter_WindowSlides(t *testing.T) {
	rl := NewSlidingLimiter(2, 50*time.Millisecond)

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("u1"))
}

func TestSlidingLimiter_Forget(t *testing.T) {
	rl := NewSlidingLimiter(1, time.Minute)
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))

	rl.Forget("u1")
	assert.True(t, rl.Allow("u1"))
}
