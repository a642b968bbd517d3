package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/pkg/logger"
	"AgentFlow/pkg/metrics"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu   sync.Mutex
	sigs []models.Signal
}

func (c *capture) Publish(s models.Signal) models.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sigs = append(c.sigs, s)
	return s
}

func (c *capture) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sigs)
}

func newPipeline(opts ...PipelineOption) (*SignalPipeline, *capture) {
	c := &capture{}
	rec := metrics.NewWithRegistry(prometheus.NewRegistry())
	return NewSignalPipeline(c, rec, logger.Nop(), opts...), c
}

func spread(pair, source string) models.Signal {
	return models.Signal{Pair: pair, Type: "spread", Source: source, Strength: 1.2, Confidence: 70, Direction: models.DirectionBullish}
}

func TestValidateSignal(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*models.Signal)
		ok   bool
	}{
		{"valid", func(*models.Signal) {}, true},
		{"empty direction defaults", func(s *models.Signal) { s.Direction = "" }, true},
		{"no type", func(s *models.Signal) { s.Type = "" }, false},
		{"no pair", func(s *models.Signal) { s.Pair = "" }, false},
		{"no source", func(s *models.Signal) { s.Source = "" }, false},
		{"confidence high", func(s *models.Signal) { s.Confidence = 101 }, false},
		{"confidence negative", func(s *models.Signal) { s.Confidence = -1 }, false},
		{"negative strength", func(s *models.Signal) { s.Strength = -0.1 }, false},
		{"bad direction", func(s *models.Signal) { s.Direction = "sideways" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := spread("SOL/USDC", "feed")
			tt.mut(&s)
			err := ValidateSignal(&s)
			if tt.ok {
				require.NoError(t, err)
				assert.True(t, s.Direction.Valid())
			} else {
				assert.ErrorIs(t, err, ErrInvalidSignal)
			}
		})
	}
}

func TestPipelineDedupeWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p, c := newPipeline(WithPipelineClock(clock), WithDedupeWindow(30*time.Minute), WithSourceRate(0, 0))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, spread("SOL/USDC", "feed")))
	assert.ErrorIs(t, p.Process(ctx, spread("SOL/USDC", "feed")), ErrDuplicateSignal)
	require.NoError(t, p.Process(ctx, spread("ETH/USDC", "feed")))
	require.NoError(t, p.Process(ctx, spread("SOL/USDC", "other")))

	clock.Advance(31 * time.Minute)
	require.NoError(t, p.Process(ctx, spread("SOL/USDC", "feed")))
	assert.Equal(t, 4, c.len())
}

func TestPipelineRateLimitPerSource(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p, c := newPipeline(WithPipelineClock(clock), WithDedupeWindow(0), WithSourceRate(2, 1))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, spread("A", "feed")))
	require.NoError(t, p.Process(ctx, spread("B", "feed")))
	assert.ErrorIs(t, p.Process(ctx, spread("C", "feed")), ErrRateLimited)
	require.NoError(t, p.Process(ctx, spread("C", "quiet")))

	clock.Advance(time.Second)
	require.NoError(t, p.Process(ctx, spread("C", "feed")))
	assert.Equal(t, 4, c.len())
}

func TestPipelineRejectsInvalid(t *testing.T) {
	p, c := newPipeline()
	err := p.Process(context.Background(), models.Signal{Type: "spread"})
	assert.ErrorIs(t, err, ErrInvalidSignal)
	assert.Zero(t, c.len())
}
