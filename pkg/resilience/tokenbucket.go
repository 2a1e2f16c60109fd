package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket rate-limits calls to maxTokens burst at refillRatePerSecond.
// The refill arithmetic is hand-rolled rather than using rate.Limiter
// directly so AvailableTokens() can expose the exact current count (the
// facilitator's /status endpoint does not report it); internally it still leans on
// golang.org/x/time/rate's monotonic clock-backed Limiter for the actual
// gating decision so the two never disagree under concurrent access.
type TokenBucket struct {
	maxTokens           float64
	refillRatePerSecond float64

	mu       sync.Mutex
	tokens   float64
	lastFill time.Time
	limiter  *rate.Limiter
}

// NewTokenBucket creates a bucket holding at most maxTokens, refilling at
// refillRatePerSecond.
func NewTokenBucket(maxTokens, refillRatePerSecond float64) *TokenBucket {
	return &TokenBucket{
		maxTokens:           maxTokens,
		refillRatePerSecond: refillRatePerSecond,
		tokens:              maxTokens,
		lastFill:            time.Now(),
		limiter:             rate.NewLimiter(rate.Limit(refillRatePerSecond), int(maxTokens)),
	}
}

// TryConsume attempts to take one token without blocking, reporting success.
func (b *TokenBucket) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return b.limiter.Allow()
}

// WaitAndConsume blocks until a token is available or ctx ends.
func (b *TokenBucket) WaitAndConsume(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens > 0 {
		b.tokens--
	}
	return nil
}

// AvailableTokens returns the current token count after refilling for elapsed time.
func (b *TokenBucket) AvailableTokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

func (b *TokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * b.refillRatePerSecond
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastFill = now
}
