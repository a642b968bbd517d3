package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf).Named("bus")

	l.Info("delivered",
		String("pair", "SOL/USDC"),
		Int("subscribers", 3),
		Float64("confidence", 82.5),
		Bool("broadcast", true),
		Duration("elapsed", 1500*time.Millisecond),
		Strings("targets", []string{"a", "b"}),
	)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "delivered", line["message"])
	assert.Equal(t, "bus", line["component"])
	assert.Equal(t, "SOL/USDC", line["pair"])
	assert.EqualValues(t, 3, line["subscribers"])
	assert.EqualValues(t, 1500, line["elapsed"])
	assert.Equal(t, "a, b", line["targets"])
}

func TestNopLoggerIsSilent(t *testing.T) {
	l := Nop()
	assert.NotPanics(t, func() {
		l.Error("x", Error(errors.New("boom")))
		l.Named("c").Info("y")
	})
}

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) Publish(_ context.Context, topic string, _ []byte, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, value.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func TestCollectorAggregatesRepeatedErrors(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := &capturePublisher{}
	var buf bytes.Buffer
	l := NewWithWriter(&buf)
	l.AddCollector(&CollectionConfig{TimeInterval: time.Minute, CountThreshold: 10, Topic: "alerts", Publisher: pub, Clock: clock})

	for i := 0; i < 5; i++ {
		l.Error("submit failed", String("pair", "SOL/USDC"))
	}
	l.Warn("not collected")

	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "alerts", pub.topic)
	require.Len(t, pub.batches[0], 1)
	assert.Equal(t, 5, pub.batches[0][0].Count)
	assert.Equal(t, "submit failed", pub.batches[0][0].Message)
}
