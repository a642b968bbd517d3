package clickhouse

import (
	"context"
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOptions(t *testing.T) {
	cfg := defaultConfig()
	for _, opt := range []ClientOption{
		WithAddr("ch1:9000", "ch2:9000"),
		WithDatabase("agentflow"),
		WithCredentials("svc", "secret"),
		WithHTTP(true),
		WithAsyncInsert(true, true),
		WithMaxExecutionTime(30 * time.Second),
	} {
		opt(&cfg)
	}

	opts := buildOptions(cfg)
	assert.Equal(t, []string{"ch1:9000", "ch2:9000"}, opts.Addr)
	assert.Equal(t, "agentflow", opts.Auth.Database)
	assert.Equal(t, "svc", opts.Auth.Username)
	assert.Equal(t, ch.HTTP, opts.Protocol)
	assert.Equal(t, 30, opts.Settings["max_execution_time"])
	assert.Equal(t, 1, opts.Settings["async_insert"])
	assert.Equal(t, 1, opts.Settings["wait_for_async_insert"])
}

func TestBuildOptions_Defaults(t *testing.T) {
	opts := buildOptions(defaultConfig())
	assert.Equal(t, ch.Native, opts.Protocol)
	assert.Empty(t, opts.Settings)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)
}

func TestNewClient_RequiresAddr(t *testing.T) {
	_, err := NewClient(context.Background())
	require.Error(t, err)
}
