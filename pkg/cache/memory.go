package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time
	access   time.Time
}

// MemoryCache implements Service in process, evicting the least recently
// used key when full. Expired keys are dropped lazily.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]*memoryItem
	maxSize    int
	defaultTTL time.Duration
	clock      clockwork.Clock
}

func NewMemoryCache(clock clockwork.Clock, opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{MaxSize: 1000, DefaultTTL: 24 * time.Hour}
	for _, opt := range opts {
		opt(cfg)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{
		items:      make(map[string]*memoryItem),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		clock:      clock,
	}
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if expiration <= 0 {
		expiration = mc.defaultTTL
	}
	now := mc.clock.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, ok := mc.items[key]; !ok && mc.maxSize > 0 && len(mc.items) >= mc.maxSize {
		mc.evictLocked(now)
	}
	mc.items[key] = &memoryItem{data: data, expireAt: now.Add(expiration), access: now}
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	now := mc.clock.Now()
	mc.mu.Lock()
	item, ok := mc.items[key]
	if ok && !now.Before(item.expireAt) {
		delete(mc.items, key)
		ok = false
	}
	if !ok {
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	item.access = now
	data := item.data
	mc.mu.Unlock()
	return decode(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.items, key)
	}
	return nil
}

func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.items)
}

func (mc *MemoryCache) Close() error { return nil }

// evictLocked drops expired keys, or the least recently used one if none expired.
func (mc *MemoryCache) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	expired := false
	for key, item := range mc.items {
		if !now.Before(item.expireAt) {
			delete(mc.items, key)
			expired = true
			continue
		}
		if oldestKey == "" || item.access.Before(oldest) {
			oldestKey, oldest = key, item.access
		}
	}
	if !expired && oldestKey != "" {
		delete(mc.items, oldestKey)
	}
}
