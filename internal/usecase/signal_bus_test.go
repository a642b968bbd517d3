package usecase

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	got  []string
	sigs []models.Signal
}

func (r *recorder) handle(channel string, s models.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, channel)
	r.sigs = append(r.sigs, s)
	return nil
}

func (r *recorder) channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func newBus(opts ...BusOption) *SignalBus {
	return NewSignalBus(testLogger(), testMetrics(), opts...)
}

func TestSignalBusTargeting(t *testing.T) {
	bus := newBus()
	var a, b recorder
	ha := bus.Subscribe("A", models.SignalFilter{}, a.handle)
	hb := bus.Subscribe("B", models.SignalFilter{}, b.handle)
	t.Cleanup(ha.Unsubscribe)
	t.Cleanup(hb.Unsubscribe)

	bus.Publish(models.Signal{Type: "spread", TargetComponents: []string{"A"}})
	assert.Equal(t, []string{"signal", "signal:spread"}, a.channels())
	assert.Empty(t, b.channels())

	bus.Publish(models.Signal{Type: "spread", TargetComponents: []string{}})
	assert.Len(t, a.channels(), 4)
	assert.Equal(t, []string{"signal", "signal:spread"}, b.channels())
}

func TestSignalBusWildcardComponentReceivesTargeted(t *testing.T) {
	bus := newBus()
	var all recorder
	h := bus.Subscribe("", models.SignalFilter{}, all.handle)
	defer h.Unsubscribe()

	bus.Publish(models.Signal{Type: "x", TargetComponents: []string{"A"}})
	assert.Len(t, all.channels(), 2)
}

func TestSignalBusChannels(t *testing.T) {
	bus := newBus()
	var both, typed recorder
	h1 := bus.Subscribe("c1", models.SignalFilter{}, both.handle, ChannelSignal, TypeChannel("breakout"))
	h2 := bus.Subscribe("c2", models.SignalFilter{}, typed.handle, TypeChannel("breakout"))
	defer h1.Unsubscribe()
	defer h2.Unsubscribe()

	bus.Publish(models.Signal{Type: "breakout"})
	bus.Publish(models.Signal{Type: "spread"})

	assert.Equal(t, []string{"signal", "signal:breakout", "signal"}, both.channels())
	assert.Equal(t, []string{"signal:breakout"}, typed.channels())
}

func TestSignalBusDefaultSubscriptionListensOnEveryChannel(t *testing.T) {
	bus := newBus()
	var r recorder
	h := bus.Subscribe("ui", models.SignalFilter{}, r.handle)
	defer h.Unsubscribe()

	bus.Publish(models.Signal{Type: "breakout"})
	bus.Publish(models.Signal{Type: "spread"})

	assert.Equal(t, []string{"signal", "signal:breakout", "signal", "signal:spread"}, r.channels())
}

func TestSignalBusFilters(t *testing.T) {
	bus := newBus()
	var r recorder
	h := bus.Subscribe("trader", models.SignalFilter{Pairs: []string{"SOL/USDC"}, Sources: []string{"feed"}}, r.handle)
	defer h.Unsubscribe()

	bus.Publish(models.Signal{Pair: "SOL/USDC", Source: "feed"})
	bus.Publish(models.Signal{Pair: "ETH/USDC", Source: "feed"})
	bus.Publish(models.Signal{Pair: "SOL/USDC", Source: "other"})
	assert.Len(t, r.channels(), 2)
}

func TestSignalBusUnsubscribeIsIdempotent(t *testing.T) {
	bus := newBus()
	var r recorder
	h := bus.Subscribe("A", models.SignalFilter{}, r.handle)
	require.Equal(t, 1, bus.SubscriberCount())

	h.Unsubscribe()
	assert.NotPanics(t, h.Unsubscribe)
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Publish(models.Signal{Type: "x"})
	assert.Empty(t, r.channels())

	var nilHandle *SubscriptionHandle
	assert.NotPanics(t, nilHandle.Unsubscribe)
}

func TestSignalBusIsolatesFailingSubscribers(t *testing.T) {
	bus := newBus()
	var good recorder
	h1 := bus.Subscribe("panics", models.SignalFilter{}, func(string, models.Signal) error { panic("boom") })
	h2 := bus.Subscribe("errors", models.SignalFilter{}, func(string, models.Signal) error { return errors.New("nope") })
	h3 := bus.Subscribe("good", models.SignalFilter{}, good.handle)
	defer h1.Unsubscribe()
	defer h2.Unsubscribe()
	defer h3.Unsubscribe()

	assert.NotPanics(t, func() { bus.Publish(models.Signal{Type: "x"}) })
	assert.Len(t, good.channels(), 2)
}

func TestSignalBusBufferDropsOldest(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := newBus(WithBusBuffer(3), WithBusClock(clock))

	for i := 0; i < 5; i++ {
		bus.Publish(models.Signal{ID: fmt.Sprintf("s%d", i), Pair: "SOL/USDC"})
		clock.Advance(time.Second)
	}

	recent := bus.Recent(models.SignalFilter{}, time.Time{}, 0)
	require.Len(t, recent, 3)
	assert.Equal(t, "s2", recent[0].ID)
	assert.Equal(t, "s4", recent[2].ID)

	since := bus.Recent(models.SignalFilter{}, clock.Now().Add(-2*time.Second), 0)
	assert.Len(t, since, 2)
	assert.Len(t, bus.Recent(models.SignalFilter{}, time.Time{}, 1), 1)
}

func TestSignalBusFillsIdentity(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bus := newBus(WithBusClock(clock))
	s := bus.Publish(models.Signal{Type: "x"})
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, clock.Now(), s.Timestamp)
}

func TestSignalBusReentrantPublish(t *testing.T) {
	bus := newBus()
	var r recorder
	h1 := bus.Subscribe("echo", models.SignalFilter{SignalTypes: []string{"ping"}}, func(_ string, s models.Signal) error {
		bus.Publish(models.Signal{Type: "pong"})
		return nil
	}, ChannelSignal)
	h2 := bus.Subscribe("sink", models.SignalFilter{SignalTypes: []string{"pong"}}, r.handle)
	defer h1.Unsubscribe()
	defer h2.Unsubscribe()

	bus.Publish(models.Signal{Type: "ping"})
	assert.Equal(t, []string{"signal", "signal:pong"}, r.channels())
	assert.Equal(t, []string{"echo", "sink"}, bus.Components())
}

func TestSignalBusConcurrentPublish(t *testing.T) {
	bus := newBus(WithBusBuffer(50))
	var r recorder
	h := bus.Subscribe("A", models.SignalFilter{}, r.handle, ChannelSignal)
	defer h.Unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(models.Signal{Type: "x"})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, r.channels(), 800)
	assert.Len(t, bus.Recent(models.SignalFilter{}, time.Time{}, 0), 50)
}
