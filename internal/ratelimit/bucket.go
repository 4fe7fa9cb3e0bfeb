package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// Buckets is an in-memory token bucket per identifier. Each bucket starts
// full with capacity tokens and refills at capacity per interval.
type Buckets struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	rate     float64 // tokens per second
	now      func() time.Time
}

// NewBuckets creates token buckets. A nil clock means time.Now.
func NewBuckets(capacity int, interval time.Duration, now func() time.Time) *Buckets {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Buckets{
		buckets:  make(map[string]*bucket),
		capacity: float64(capacity),
		rate:     float64(capacity) / interval.Seconds(),
		now:      now,
	}
}

// Allow takes one token from identifier's bucket.
func (b *Buckets) Allow(_ context.Context, identifier string) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	bk, ok := b.buckets[identifier]
	if !ok {
		bk = &bucket{tokens: b.capacity, lastCheck: now}
		b.buckets[identifier] = bk
	}

	if elapsed := now.Sub(bk.lastCheck).Seconds(); elapsed > 0 {
		bk.tokens = math.Min(b.capacity, bk.tokens+elapsed*b.rate)
	}
	bk.lastCheck = now

	if bk.tokens < 1 {
		wait := (1 - bk.tokens) / b.rate
		return false, time.Duration(math.Ceil(wait*1000)) * time.Millisecond
	}
	bk.tokens--
	return true, 0
}

// Forget drops identifier's bucket, typically on disconnect.
func (b *Buckets) Forget(identifier string) {
	b.mu.Lock()
	delete(b.buckets, identifier)
	b.mu.Unlock()
}

// Len reports the number of tracked identifiers.
func (b *Buckets) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets)
}
