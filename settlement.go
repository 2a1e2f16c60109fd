package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// SettlementCache deduplicates /settle calls so a client or gateway retry
// after a timeout never submits the same authorization twice. It is keyed by
// the SHA-256 of the payment payload, which already includes the signature
// and nonce, so two distinct payments never collide.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]*SettleResponse
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewSettlementCache creates a settlement cache that remembers results for ttl.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		results:  make(map[string]*SettleResponse),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// SettlementKey derives the cache key for a payment payload.
func SettlementKey(payload PaymentPayload) string {
	data, _ := json.Marshal(payload)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// SettlementStatus is the result of CheckAndMark.
type SettlementStatus int

const (
	SettlementNotFound SettlementStatus = iota
	SettlementCached
	SettlementInFlight
)

// CheckAndMark atomically checks the cache and, if nothing is cached or
// in-flight, marks key as in-flight so concurrent callers join this attempt
// instead of resubmitting.
func (c *SettlementCache) CheckAndMark(key string) (SettlementStatus, *SettleResponse, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return SettlementCached, result, nil
			}
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, exists := c.inFlight[key]; exists {
		return SettlementInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return SettlementNotFound, nil, done
}

// WaitForResult blocks until an in-flight settlement completes or ctx ends.
func (c *SettlementCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*SettleResponse, error) {
	select {
	case <-done:
		return c.Get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the cached response for key, or nil if absent or expired.
func (c *SettlementCache) Get(key string) *SettleResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, exists := c.expiry[key]
	if !exists || time.Now().After(expiry) {
		return nil
	}
	return c.results[key]
}

// Complete caches response, releases the in-flight marker, and wakes waiters.
func (c *SettlementCache) Complete(key string, response *SettleResponse, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = response
	c.expiry[key] = time.Now().Add(c.ttl)
	delete(c.inFlight, key)
	close(done)
	c.cleanupExpiredLocked()
}

// Fail releases the in-flight marker without caching, so the next caller retries.
func (c *SettlementCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
	close(done)
}

func (c *SettlementCache) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
