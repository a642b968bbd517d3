package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
environment: test
wallets:
  - id: w1
    public_key: 11111111111111111111111111111111
agents:
  - id: a1
    wallets: [w1]
    strategies:
      - id: s1
        active: true
`

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 10*time.Second, c.Orchestrator.TickInterval)
	assert.Equal(t, 5*time.Second, c.Orchestrator.Cooldown)
	assert.Equal(t, 1000, c.Orchestrator.HistoryLimit)
	assert.Equal(t, 3, c.Orchestrator.FailureThreshold)
	assert.Equal(t, 0.85, c.Coordinator.MinNetProfitPct)
	assert.Equal(t, 10*time.Minute, c.Coordinator.PendingCap)
	assert.Equal(t, 200, c.SignalBus.BufferSize)
	assert.Equal(t, 30*time.Minute, c.Pipeline.DedupeWindow)
	assert.Equal(t, time.Second, c.Relay.Reconnect.BaseDelay)
	assert.Equal(t, 1.5, c.Relay.Reconnect.GrowthFactor)
	assert.Equal(t, 30*time.Second, c.Relay.Reconnect.MaxDelay)
	assert.Equal(t, 10, c.Relay.Reconnect.MaxAttempts)
	assert.Equal(t, 500, c.Relay.Reconnect.OutboundQueue)
	assert.Equal(t, "paper", c.Execution.Mode)
	assert.Equal(t, "info", c.Logger.Level)

	require.Len(t, c.Agents, 1)
	assert.Equal(t, models.AgentTypeArbitrage, c.Agents[0].Type)
	require.Len(t, c.Agents[0].Strategies, 1)
	assert.Equal(t, models.RiskMedium, c.Agents[0].Strategies[0].RiskLevel)
	assert.Equal(t, 50, c.Agents[0].Strategies[0].SlippageBp)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown wallet": `
agents:
  - id: a1
    wallets: [ghost]
`,
		"http executor without url": `
execution:
  mode: http
`,
		"bad risk level": `
wallets:
  - id: w1
    public_key: x
agents:
  - id: a1
    wallets: [w1]
    strategies:
      - id: s1
        risk_level: reckless
`,
		"coordinator without pairs": `
coordinator:
  enabled: true
`,
		"duplicate agents": `
wallets:
  - id: w1
    public_key: x
agents:
  - id: a1
    wallets: [w1]
  - id: a1
    wallets: [w1]
`,
		"relay enabled without url": `
relay:
  enabled: true
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	env := map[string]string{
		"KAFKA_BROKERS": "k1:9092,k2:9092",
		"RELAY_URL":     "ws://peer/signals",
		"EXECUTOR_URL":  "http://exec",
	}
	c.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Kafka.Enabled)
	assert.True(t, c.Relay.Enabled)
	assert.Equal(t, "http", c.Execution.Mode)
	assert.NoError(t, c.Validate())
}

func TestLoad_RepositoryConfig(t *testing.T) {
	path := filepath.Join("..", "..", "config", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("config/config.yaml not present")
	}
	c, err := Load(path)
	require.NoError(t, err)
	assert.True(t, c.Coordinator.Enabled)
	assert.Len(t, c.Coordinator.Pairs, 1)
}
