package x402

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNonceCache_RejectsReplay(t *testing.T) {
	c := NewNonceCache(time.Minute, 100)

	assert.False(t, c.CheckAndMark(NetworkBaseSepolia, "0xnonce1"))
	assert.True(t, c.CheckAndMark(NetworkBaseSepolia, "0xnonce1"))
	assert.Equal(t, uint64(1), c.ReplayAttempts())
}

func TestNonceCache_ScopedPerNetwork(t *testing.T) {
	c := NewNonceCache(time.Minute, 100)

	assert.False(t, c.CheckAndMark(NetworkBaseSepolia, "0xnonce1"))
	assert.False(t, c.CheckAndMark(NetworkBaseMainnet, "0xnonce1"))
}

func TestNonceCache_Release(t *testing.T) {
	c := NewNonceCache(time.Minute, 100)

	assert.False(t, c.CheckAndMark(NetworkBaseSepolia, "0xnonce1"))
	c.Release(NetworkBaseSepolia, "0xnonce1")
	assert.False(t, c.CheckAndMark(NetworkBaseSepolia, "0xnonce1"))
}

func TestNonceCache_ExpiredEntriesAreNotReplays(t *testing.T) {
	c := NewNonceCache(time.Millisecond, 100)
	assert.False(t, c.CheckAndMark(NetworkBaseSepolia, "0xnonce1"))
	time.Sleep(5 * time.Millisecond)
	assert.False(t, c.CheckAndMark(NetworkBaseSepolia, "0xnonce1"))
}

func TestNonceCache_EvictsOldestHalfWhenOversize(t *testing.T) {
	c := NewNonceCache(time.Hour, 4)
	for i := 0; i < 6; i++ {
		c.CheckAndMark(NetworkBaseSepolia, string(rune('a'+i)))
	}
	assert.LessOrEqual(t, c.Size(), 4)
}
