// Package scheduler drives periodic work from an injectable clock.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Ticker runs a function on a fixed interval. It can be paused without
// tearing down its goroutine, and a fake clock makes it fully deterministic.
type Ticker struct {
	clock    clockwork.Clock
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	paused  atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
}

func New(clock clockwork.Clock, interval time.Duration) *Ticker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ticker{clock: clock, interval: interval}
}

// Start launches the loop. It returns false when already running.
//
// fn receives a context that is not cancelled by Stop, so work already
// dispatched by a tick runs to completion.
func (t *Ticker) Start(ctx context.Context, fn func(context.Context)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	tk := t.clock.NewTicker(t.interval)

	go t.loop(loopCtx, context.WithoutCancel(ctx), tk, fn, t.done)
	return true
}

func (t *Ticker) loop(ctx, workCtx context.Context, tk clockwork.Ticker, fn func(context.Context), done chan struct{}) {
	defer close(done)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.Chan():
			if t.paused.Load() {
				t.skipped.Add(1)
				continue
			}
			fn(workCtx)
			t.runs.Add(1)
		}
	}
}

// Stop ends the loop and waits for an in-flight tick to return.
// It returns false when the ticker was not running.
func (t *Ticker) Stop() bool {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

func (t *Ticker) Pause()  { t.paused.Store(true) }
func (t *Ticker) Resume() { t.paused.Store(false) }

func (t *Ticker) Paused() bool { return t.paused.Load() }

func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *Ticker) Interval() time.Duration { return t.interval }

// Runs is the number of completed ticks.
func (t *Ticker) Runs() int64 { return t.runs.Load() }

// Skipped is the number of ticks dropped while paused.
func (t *Ticker) Skipped() int64 { return t.skipped.Load() }
