package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_AllowAndRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 5, 5) // 5 tokens capacity, 5 tokens/sec.

	if !b.Allow(5) {
		t.Fatalf("expected initial burst to succeed")
	}
	if b.Allow(1) {
		t.Fatalf("expected bucket to be empty")
	}

	clk.Advance(200 * time.Millisecond) // 1 token refilled (5 tokens/sec).
	if !b.Allow(1) {
		t.Fatalf("expected refilled token to be available")
	}
	if b.Allow(1) {
		t.Fatalf("expected bucket to be empty again")
	}
}

func TestTokenBucket_RefillClampsToCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 2, 10)

	if !b.Allow(2) {
		t.Fatalf("expected initial burst to succeed")
	}

	// A long idle period refills at most to capacity.
	clk.Advance(time.Hour)
	if !b.Allow(2) {
		t.Fatalf("expected refill to capacity")
	}
	if b.Allow(1) {
		t.Fatalf("expected no tokens beyond capacity")
	}
}

func TestTokenBucket_ZeroRateNeverRefills(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 1, 0)

	if !b.Allow(1) {
		t.Fatalf("expected the single initial token")
	}
	clk.Advance(time.Hour)
	if b.Allow(1) {
		t.Fatalf("expected a zero fill rate to never refill")
	}
}

func TestTokenBucket_BackwardsClock(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clk, 3, 1)

	if !b.Allow(3) {
		t.Fatalf("expected initial burst to succeed")
	}

	clk.Advance(-time.Hour)
	if b.Allow(1) {
		t.Fatalf("expected no refill when the clock goes backwards")
	}

	// Forward progress from the new reference point refills normally.
	clk.Advance(time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill after the clock recovered")
	}
}

func TestTokenBucket_HugeCapacitySaturates(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	// A capacity whose nano-token form exceeds int64 must clamp, not wrap to
	// a negative balance that rejects everything.
	b := NewTokenBucket(clk, maxInt64/2, 1)

	if b.available < 0 {
		t.Fatalf("available=%d, want a saturated non-negative balance", b.available)
	}
	for i := 0; i < 10; i++ {
		if !b.Allow(1) {
			t.Fatalf("send %d rejected by a saturated bucket", i)
		}
	}
}

func TestTokenBucket_NonPositiveCostAlwaysAllowed(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 0, 0)

	if !b.Allow(0) {
		t.Fatalf("expected zero cost to be allowed")
	}
	if !b.Allow(-3) {
		t.Fatalf("expected negative cost to be allowed")
	}
	if b.Allow(1) {
		t.Fatalf("expected an empty bucket to reject a positive cost")
	}
}
