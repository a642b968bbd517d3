package ratelimit

import (
	"sync"

	"github.com/jonboulle/clockwork"
)

type bucket struct {
	tokens float64
	last   int64 // unix nanos of the last refill
}

// Limiter is a keyed token bucket. Every key shares the same capacity and
// refill rate.
type Limiter struct {
	clock        clockwork.Clock
	capacity     float64
	refillPerSec float64

	mu sync.Mutex
	m  map[string]*bucket
}

func New(clock clockwork.Clock, capacity, refillPerSec float64) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		clock:        clock,
		capacity:     capacity,
		refillPerSec: refillPerSec,
		m:            make(map[string]*bucket),
	}
}

// Allow returns true if one token can be consumed for key.
// A non-positive capacity disables limiting.
func (l *Limiter) Allow(key string) bool {
	if l.capacity <= 0 {
		return true
	}
	now := l.clock.Now().UnixNano()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
	}
	if elapsed := float64(now-b.last) / 1e9; elapsed > 0 {
		b.tokens += elapsed * l.refillPerSec
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Keys is the number of tracked buckets.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
