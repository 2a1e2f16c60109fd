package x402

import (
	"context"
	"sync"
	"time"
)

// nonceKey identifies one (network, nonce) pair. EIP-3009 nonces are scoped
// to the signer and token contract on-chain; the facilitator additionally
// scopes them by network so the same nonce bytes on two chains don't collide
// in this process-local cache.
type nonceKey struct {
	network Network
	nonce   string
}

// NonceCache tracks which EIP-3009 nonces this facilitator has already
// accepted in a verify call, rejecting replays before a verify call ever reaches the chain
// adapter. It is the in-memory, bounded-size sibling of the teacher's
// settlement-result cache: same mutex-guarded map plus TTL eviction shape,
// but it records "seen" rather than "result", since replay detection needs
// only a boolean, not a cached response.
type NonceCache struct {
	mu      sync.Mutex
	expiry  map[nonceKey]time.Time
	ttl     time.Duration
	maxSize int
	replays uint64
}

// DefaultSweepInterval is how often StartSweeper removes expired nonces when
// no caller-supplied interval is given.
const DefaultSweepInterval = 60 * time.Second

// NewNonceCache creates a nonce cache that forgets entries after ttl and
// sheds its oldest half once it holds more than maxSize entries.
func NewNonceCache(ttl time.Duration, maxSize int) *NonceCache {
	return &NonceCache{
		expiry:  make(map[nonceKey]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// StartSweeper launches a background goroutine that proactively evicts
// expired nonces every interval, until ctx is done. CheckAndMark already
// evicts an individual expired entry lazily on next access; the sweeper
// keeps Size() (and the /metrics nonce_cache_size gauge it backs) accurate
// for nonces nobody ever looks up again.
func (c *NonceCache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *NonceCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, exp := range c.expiry {
		if now.After(exp) {
			delete(c.expiry, k)
		}
	}
}

// CheckAndMark records (network, nonce) as used and reports whether it was
// already present and unexpired. A true return means the caller must reject
// the payment as a replay; the nonce is NOT re-marked in that case so the
// original expiry stands.
func (c *NonceCache) CheckAndMark(network Network, nonce string) (alreadyUsed bool) {
	key := nonceKey{network: network, nonce: nonce}

	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if time.Now().Before(expiry) {
			c.replays++
			return true
		}
		delete(c.expiry, key)
	}

	c.expiry[key] = time.Now().Add(c.ttl)
	c.evictIfOversizeLocked()
	return false
}

// Release removes a nonce from the cache. Verification calls it when a check
// after CheckAndMark fails (an invalid signature), so a rejected
// authorization does not leave its nonce marked as used.
func (c *NonceCache) Release(network Network, nonce string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.expiry, nonceKey{network: network, nonce: nonce})
}

// ReplayAttempts returns the number of CheckAndMark calls that found an
// already-used, unexpired nonce, for the facilitator's /metrics exporter.
func (c *NonceCache) ReplayAttempts() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replays
}

// Size returns the number of nonces currently tracked.
func (c *NonceCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.expiry)
}

// evictIfOversizeLocked drops the oldest half of entries once the cache
// exceeds maxSize. Must be called with c.mu held. This bounds memory under
// sustained traffic without needing a precise LRU: nonces are single-use by
// design, so evicting early only risks letting a very late replay through,
// which the on-chain authorizationState check (left to the chain adapter)
// still catches.
func (c *NonceCache) evictIfOversizeLocked() {
	if c.maxSize <= 0 || len(c.expiry) <= c.maxSize {
		return
	}
	type entry struct {
		key    nonceKey
		expiry time.Time
	}
	entries := make([]entry, 0, len(c.expiry))
	for k, exp := range c.expiry {
		entries = append(entries, entry{k, exp})
	}
	// Oldest-expiring-first eviction of the oldest half.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].expiry.Before(entries[j-1].expiry); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	for _, e := range entries[:len(entries)/2] {
		delete(c.expiry, e.key)
	}
}
