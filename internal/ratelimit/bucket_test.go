package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlayerLimiterDescribeOncePer30s(t *testing.T) {
	pl := NewPlayerLimiter(DefaultRules)
	assert.True(t, pl.Allow("describe"))
	assert.False(t, pl.Allow("describe"))
}

func TestPlayerLimiterVoteOncePer10s(t *testing.T) {
	pl := NewPlayerLimiter(DefaultRules)
	assert.True(t, pl.Allow("vote"))
	assert.False(t, pl.Allow("vote"))
}

func TestPlayerLimiterDefaultBurst(t *testing.T) {
	pl := NewPlayerLimiter(DefaultRules)
	for i := 0; i < 10; i++ {
		assert.True(t, pl.Allow("chat"))
	}
	assert.False(t, pl.Allow("chat"))
}

func TestRoomLimiterIsolatesPlayers(t *testing.T) {
	rl := NewRoomLimiter(DefaultRules)
	assert.True(t, rl.Allow("p1", "vote"))
	assert.True(t, rl.Allow("p2", "vote"))
	assert.False(t, rl.Allow("p1", "vote"))
}

func TestRoomLimiterForget(t *testing.T) {
	rl := NewRoomLimiter(DefaultRules)
	assert.True(t, rl.Allow("p1", "vote"))
	rl.Forget("p1")
	assert.True(t, rl.Allow("p1", "vote"))
}
