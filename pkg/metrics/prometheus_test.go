package metrics

import (
	"testing"

	"AgentFlow/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounters(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordExecution("a1", true, 0.4)
	r.RecordExecution("a1", false, -0.1)
	r.RecordExecution("a1", true, 0.1)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.executions.WithLabelValues("a1", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.executions.WithLabelValues("a1", "failure")))
	assert.InDelta(t, 0.5, testutil.ToFloat64(r.profit.WithLabelValues("a1")), 1e-9)
}

func TestRecorderAgentStatusIsOneHot(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordAgentStatus("a1", models.StatusScanning)
	r.RecordAgentStatus("a1", models.StatusCooldown)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.agentStatus.WithLabelValues("a1", "COOLDOWN")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.agentStatus.WithLabelValues("a1", "SCANNING")))
}

func TestRecorderRelayGauge(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())
	r.RecordRelayState(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.relayConnected))
	r.RecordRelayState(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.relayConnected))
}
