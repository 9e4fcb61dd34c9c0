// Package ratelimit limits how fast a single signaling connection may send
// messages.
package ratelimit

import (
	"sync"
	"time"
)

// One token is stored as 1e9 nano-tokens so a refill rate of N tokens/sec is
// exactly N nano-tokens per elapsed nanosecond.
const nanoPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket is a fixed-point token bucket. Each inbound signaling message
// costs one token; the bucket starts full so a client may burst up to its
// capacity right after connecting.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	nano int64
	last time.Time
}

// NewTokenBucket returns a full bucket. A nil clock means wall time.
func NewTokenBucket(clock Clock, capacity, ratePerSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity = max(capacity, 0)
	ratePerSecond = max(ratePerSecond, 0)

	return &TokenBucket{
		clock:    clock,
		capacity: capacity,
		rate:     ratePerSecond,
		nano:     toNano(capacity),
		last:     clock.Now(),
	}
}

// Allow takes n tokens if they are available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.nano < cost {
		return false
	}
	b.nano -= cost
	return true
}

// Available reports the whole tokens currently in the bucket.
func (b *TokenBucket) Available() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.nano / nanoPerToken
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if !now.After(b.last) {
		// Clock stood still or moved backwards; rebase without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now

	if b.rate == 0 || b.capacity == 0 {
		return
	}

	full := toNano(b.capacity)
	missing := full - b.nano
	if missing <= 0 {
		b.nano = full
		return
	}
	// elapsed*rate can overflow; if enough time passed to fill, clamp first.
	if elapsed >= missing/b.rate {
		b.nano = full
		return
	}
	b.nano = min(b.nano+elapsed*b.rate, full)
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoPerToken {
		return maxInt64
	}
	return tokens * nanoPerToken
}
