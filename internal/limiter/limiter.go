// Package limiter provides the token bucket that guards calls to the
// embedding provider.
//
// The refill model is a full reset: once a complete interval has elapsed
// since the last refill, the bucket snaps back to capacity. This is not a
// continuous drip (which is why golang.org/x/time/rate is not used here):
// batch processing wants a burst of capacity per interval and a hard stop
// when it is spent.
package limiter

import (
	"sync"
	"time"
)

// TokenBucket is a mutex-guarded token bucket shared by concurrent callers
// within one process.
type TokenBucket struct {
	mu sync.Mutex

	tokens            int
	tokensPerInterval int
	interval          time.Duration
	lastRefill        time.Time

	// now is overridable in tests.
	now func() time.Time
}

// New creates a full bucket with the given capacity and refill interval.
func New(tokensPerInterval int, interval time.Duration) *TokenBucket {
	if tokensPerInterval < 1 {
		tokensPerInterval = 1
	}
	if interval <= 0 {
		interval = time.Minute
	}
	b := &TokenBucket{
		tokens:            tokensPerInterval,
		tokensPerInterval: tokensPerInterval,
		interval:          interval,
		now:               time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// CheckAndConsume takes one token if available. It never blocks; callers
// decide whether to wait or defer the work.
func (b *TokenBucket) CheckAndConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// AvailableTokens returns the current token count after applying any due refill.
func (b *TokenBucket) AvailableTokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	return b.tokens
}

// refillLocked resets the bucket to capacity when at least one full interval
// has elapsed since the last refill. Caller holds b.mu.
func (b *TokenBucket) refillLocked() {
	now := b.now()
	if now.Sub(b.lastRefill) >= b.interval {
		b.tokens = b.tokensPerInterval
		b.lastRefill = now
	}
}
