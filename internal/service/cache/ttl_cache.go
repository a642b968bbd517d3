package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type entry struct {
	v   any
	exp time.Time
}

// TTLCache is an in-process map whose entries expire on the injected clock.
type TTLCache struct {
	clock clockwork.Clock

	mu sync.RWMutex
	m  map[string]entry
}

func NewTTLCache(clock clockwork.Clock) *TTLCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TTLCache{clock: clock, m: make(map[string]entry)}
}

func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.expired(e) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.v, true
}

func (c *TTLCache) Set(key string, v any, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.clock.Now().Add(ttl)
	}
	c.mu.Lock()
	c.m[key] = entry{v: v, exp: exp}
	c.mu.Unlock()
}

// SetIfAbsent stores v unless a live entry exists. It reports whether v was stored.
func (c *TTLCache) SetIfAbsent(key string, v any, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[key]; ok && !c.expired(e) {
		return false
	}
	var exp time.Time
	if ttl > 0 {
		exp = c.clock.Now().Add(ttl)
	}
	c.m[key] = entry{v: v, exp: exp}
	return true
}

// Prune drops expired entries and returns how many were removed.
func (c *TTLCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.m {
		if c.expired(e) {
			delete(c.m, k)
			n++
		}
	}
	return n
}

func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func (c *TTLCache) expired(e entry) bool {
	return !e.exp.IsZero() && c.clock.Now().After(e.exp)
}
