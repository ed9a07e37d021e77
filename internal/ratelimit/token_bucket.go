// Package ratelimit provides the deterministic token bucket used to cap
// per-connection inbound signaling message rates.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so tests can drive the bucket deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket refills at an integer rate (tokens/sec) against a provided
// Clock. Token fractions are tracked as nanoseconds-of-refill to avoid float
// rounding drift.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	fillRate int64 // tokens/sec

	available int64 // nano-tokens; 1 token == 1e9
	last      time.Time
}

const (
	nanoPerToken = int64(time.Second)
	maxInt64     = int64(^uint64(0) >> 1)
)

func NewTokenBucket(clock Clock, capacity, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		fillRate:  fillRate,
		available: mulTokenToNano(capacity),
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	cost := mulTokenToNano(tokens)
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; move the reference point without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last)
	b.last = now

	if elapsed <= 0 || b.fillRate <= 0 || b.capacity <= 0 {
		return
	}

	capacityNano := mulTokenToNano(b.capacity)
	need := capacityNano - b.available
	if need <= 0 {
		b.available = capacityNano
		return
	}

	// fillRate tokens/sec equals fillRate nano-tokens per nanosecond. Clamp to
	// capacity before multiplying so a long idle period cannot overflow.
	elapsedNanos := elapsed.Nanoseconds()
	if elapsedNanos >= need/b.fillRate+1 {
		b.available = capacityNano
		return
	}
	b.available += elapsedNanos * b.fillRate
	if b.available > capacityNano {
		b.available = capacityNano
	}
}

// mulTokenToNano converts tokens to nano-tokens, saturating instead of
// overflowing for absurd token counts.
func mulTokenToNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoPerToken {
		return maxInt64
	}
	return tokens * nanoPerToken
}
