package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(clockwork.NewFakeClock())

	require.NoError(t, mc.Set(ctx, "p", payload{Name: "a", Count: 2}, time.Minute))
	var got payload
	require.NoError(t, mc.Get(ctx, "p", &got))
	assert.Equal(t, payload{Name: "a", Count: 2}, got)

	require.NoError(t, mc.Set(ctx, "s", "raw", time.Minute))
	var s string
	require.NoError(t, mc.Get(ctx, "s", &s))
	assert.Equal(t, "raw", s)

	require.NoError(t, mc.Delete(ctx, "p", "s"))
	assert.ErrorIs(t, mc.Get(ctx, "p", &got), ErrCacheMiss)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	mc := NewMemoryCache(clock, WithMemoryDefaultTTL(time.Hour))

	require.NoError(t, mc.Set(ctx, "short", 1, time.Second))
	require.NoError(t, mc.Set(ctx, "default", 2, 0))

	clock.Advance(time.Second)
	var v int
	assert.ErrorIs(t, mc.Get(ctx, "short", &v), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "default", &v))
	assert.Equal(t, 2, v)

	clock.Advance(time.Hour)
	assert.ErrorIs(t, mc.Get(ctx, "default", &v), ErrCacheMiss)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	mc := NewMemoryCache(clock, WithMemoryMaxSize(2))

	require.NoError(t, mc.Set(ctx, "a", 1, time.Hour))
	clock.Advance(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", 2, time.Hour))
	clock.Advance(time.Millisecond)

	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	clock.Advance(time.Millisecond)

	require.NoError(t, mc.Set(ctx, "c", 3, time.Hour))
	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &v))

	// overwriting an existing key never evicts
	require.NoError(t, mc.Set(ctx, "a", 10, time.Hour))
	assert.Equal(t, 2, mc.Len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "agent:a1", Key("agent", "a1"))
}
