package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsSnapshot(t *testing.T) {
	stats := &Stats{}
	pages, pushes, votes, avgFetch, avgEcho := stats.snapshot()
	assert.Zero(t, pages+pushes+votes)
	assert.Zero(t, avgFetch)
	assert.Zero(t, avgEcho)

	stats.recordFetch(2 * time.Millisecond)
	stats.recordFetch(4 * time.Millisecond)
	stats.pushesApplied.Add(5)
	stats.votesSent.Add(1)
	stats.recordEcho(10 * time.Millisecond)

	pages, pushes, votes, avgFetch, avgEcho = stats.snapshot()
	assert.Equal(t, int64(2), pages)
	assert.Equal(t, int64(5), pushes)
	assert.Equal(t, int64(1), votes)
	assert.InDelta(t, 3000, avgFetch, 0.001)
	assert.InDelta(t, 10000, avgEcho, 0.001)
}

func TestRandomDelay(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		d := randomDelay(rng, 10*time.Millisecond, 20*time.Millisecond)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}
	assert.Equal(t, 5*time.Millisecond, randomDelay(rng, 5*time.Millisecond, 5*time.Millisecond))
}
