package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/pkg/cache"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentStateCache(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := NewAgentStateCache(cache.NewMemoryCache(clock), time.Minute)

	_, err := c.GetAgent(ctx, "a1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	a := models.Agent{ID: "a1", Name: "arb", Status: models.StatusCooldown, Active: true, Wallets: []string{"w1"}}
	require.NoError(t, c.PutAgent(ctx, a))
	got, err := c.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCooldown, got.Status)
	assert.Equal(t, []string{"w1"}, got.Wallets)

	_, err = c.GetCoordinatorStats(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)
	require.NoError(t, c.PutCoordinatorStats(ctx, models.CoordinatorStats{Cycles: 4, Pending: 1}))
	stats, err := c.GetCoordinatorStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Cycles)

	clock.Advance(time.Minute)
	_, err = c.GetAgent(ctx, "a1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

type recordedWrite struct {
	topic string
	key   string
	value interface{}
}

type fakeWriter struct {
	writes []recordedWrite
	err    error
	closed bool
}

func (w *fakeWriter) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, recordedWrite{topic: topic, key: string(key), value: value})
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSignalPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaSignalPublisher(w, "")

	require.NoError(t, p.PublishSignal(context.Background(), models.Signal{ID: "s1", Pair: "SOL/USDC", Source: "agent"}))
	require.NoError(t, p.PublishSignal(context.Background(), models.Signal{ID: "s2", Source: "orchestrator"}))
	require.Len(t, w.writes, 2)
	assert.Equal(t, DefaultSignalTopic, w.writes[0].topic)
	assert.Equal(t, "SOL/USDC", w.writes[0].key)
	assert.Equal(t, "orchestrator", w.writes[1].key)

	w.err = errors.New("broker down")
	err := p.PublishSignal(context.Background(), models.Signal{ID: "s3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestExecutionArgs(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	args := executionArgs(models.ExecutionRecord{
		ID: "e1", AgentID: "a1", Success: true, Profit: 0.5, Timestamp: ts, ExecutionTimeMs: 12,
	})
	require.Len(t, args, 10)
	assert.Equal(t, uint8(1), args[4])
	assert.Equal(t, ts.UTC(), args[7])
}

func TestRecentQuery(t *testing.T) {
	q, args := recentQuery("", 0)
	assert.NotContains(t, q, "WHERE")
	assert.Equal(t, []interface{}{100}, args)

	q, args = recentQuery("a1", 5)
	assert.True(t, strings.Contains(q, "agent_id = ?"))
	assert.Equal(t, []interface{}{"a1", 5}, args)
}
