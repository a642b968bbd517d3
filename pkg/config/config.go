// Package config loads the YAML service configuration, fills defaults from
// struct tags and validates it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/service/relay"
	"AgentFlow/internal/service/wallet"
	"AgentFlow/pkg/logger"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment  string             `yaml:"environment" default:"development" validate:"required"`
	Server       ServerConfig       `yaml:"server"`
	Logger       logger.Config      `yaml:"logger"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Coordinator  CoordinatorConfig  `yaml:"coordinator"`
	SignalBus    SignalBusConfig    `yaml:"signal_bus"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Relay        RelayConfig        `yaml:"relay"`
	Execution    ExecutionConfig    `yaml:"execution"`
	Quotes       QuotesConfig       `yaml:"quotes"`
	Wallets      []wallet.Entry     `yaml:"wallets" validate:"dive"`
	Agents       []AgentConfig      `yaml:"agents" validate:"dive"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Redis        RedisConfig        `yaml:"redis"`
	ClickHouse   ClickHouseConfig   `yaml:"clickhouse"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"1s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type OrchestratorConfig struct {
	AutoStart        bool          `yaml:"auto_start" default:"true"`
	TickInterval     time.Duration `yaml:"tick_interval" default:"10s"`
	Cooldown         time.Duration `yaml:"cooldown" default:"5s"`
	HistoryLimit     int           `yaml:"history_limit" default:"1000" validate:"gte=1"`
	FailureThreshold int           `yaml:"failure_threshold" default:"3" validate:"gte=1"`
}

type CoordinatorConfig struct {
	Enabled         bool               `yaml:"enabled"`
	ScanInterval    time.Duration      `yaml:"scan_interval" default:"10s"`
	MinNetProfitPct float64            `yaml:"min_net_profit_pct" default:"0.85" validate:"gte=0"`
	PendingCap      time.Duration      `yaml:"pending_cap" default:"10m"`
	AmountIn        float64            `yaml:"amount_in" default:"1" validate:"gt=0"`
	SlippageBps     int                `yaml:"slippage_bps" default:"50" validate:"gte=0,lte=10000"`
	Wallet          string             `yaml:"wallet"`
	Pairs           []models.VenuePair `yaml:"pairs" validate:"dive"`
}

type SignalBusConfig struct {
	BufferSize int `yaml:"buffer_size" default:"200" validate:"gte=1"`
}

type PipelineConfig struct {
	DedupeWindow time.Duration `yaml:"dedupe_window" default:"30m"`
	SourceBurst  float64       `yaml:"source_burst" default:"20" validate:"gte=0"`
	SourceRate   float64       `yaml:"source_rate" default:"5" validate:"gte=0"`
}

type RelayConfig struct {
	Enabled          bool                `yaml:"enabled"`
	URL              string              `yaml:"url" validate:"required_if=Enabled true"`
	Reconnect        relay.Config        `yaml:"reconnect"`
	HandshakeTimeout time.Duration       `yaml:"handshake_timeout" default:"10s"`
	PingInterval     time.Duration       `yaml:"ping_interval" default:"30s"`
	WriteTimeout     time.Duration       `yaml:"write_timeout" default:"10s"`
	Subscribe        models.SignalFilter `yaml:"subscribe"`
	Muted            []string            `yaml:"muted"`
	Forward          models.SignalFilter `yaml:"forward"`
}

type ExecutionConfig struct {
	Mode    string        `yaml:"mode" default:"paper" validate:"oneof=http paper"`
	BaseURL string        `yaml:"base_url" validate:"required_if=Mode http"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout" default:"15s"`
}

type QuotesConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout" default:"5s"`
	QuoteTTL time.Duration `yaml:"quote_ttl" default:"5s"`
}

type AgentConfig struct {
	ID         string             `yaml:"id" validate:"required"`
	Name       string             `yaml:"name"`
	Type       models.AgentType   `yaml:"type" default:"arbitrage" validate:"oneof=arbitrage cross_venue momentum market_maker"`
	Wallets    []string           `yaml:"wallets" validate:"min=1"`
	Strategies []models.Strategy  `yaml:"strategies" validate:"dive"`
	Pairs      []models.VenuePair `yaml:"pairs" validate:"dive"`
	AmountIn   float64            `yaml:"amount_in" default:"1" validate:"gt=0"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" validate:"required_if=Enabled true"`
	SignalTopic  string   `yaml:"signal_topic" default:"agentflow.signals"`
	IngestTopic  string   `yaml:"ingest_topic" default:"agentflow.signals.ingest"`
	ErrorTopic   string   `yaml:"error_topic" default:"agentflow.errors"`
	RequiredAcks int      `yaml:"required_acks" default:"1"`
	Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"50ms"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"agentflow"`
		Workers    int           `yaml:"workers" default:"4" validate:"gte=1"`
		BufferSize int           `yaml:"buffer_size" default:"256"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic" default:"agentflow.signals.dlq"`
	} `yaml:"consumer"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" default:"localhost:6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix" default:"agentflow"`
	StateTTL time.Duration `yaml:"state_ttl" default:"24h"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Addr             []string      `yaml:"addr" validate:"required_if=Enabled true"`
	Database         string        `yaml:"database" default:"agentflow"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert" default:"true"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads path and then overrides selected fields from the environment.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := getenv("RELAY_URL"); v != "" {
		c.Relay.URL = v
		c.Relay.Enabled = true
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("EXECUTOR_URL"); v != "" {
		c.Execution.BaseURL = v
		c.Execution.Mode = "http"
	}
}

var validate = validator.New()

// Validate runs tag validation and the cross-field checks tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	var errs []error
	walletIDs := make(map[string]struct{}, len(c.Wallets))
	for _, w := range c.Wallets {
		if _, dup := walletIDs[w.ID]; dup {
			errs = append(errs, fmt.Errorf("wallets: duplicate id %q", w.ID))
		}
		walletIDs[w.ID] = struct{}{}
	}
	agentIDs := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if _, dup := agentIDs[a.ID]; dup {
			errs = append(errs, fmt.Errorf("agents: duplicate id %q", a.ID))
		}
		agentIDs[a.ID] = struct{}{}
		for _, w := range a.Wallets {
			if _, ok := walletIDs[w]; !ok {
				errs = append(errs, fmt.Errorf("agent %s: unknown wallet %q", a.ID, w))
			}
		}
	}
	if c.Coordinator.Enabled {
		if len(c.Coordinator.Pairs) == 0 {
			errs = append(errs, errors.New("coordinator: at least one pair is required when enabled"))
		}
		if c.Coordinator.Wallet != "" {
			if _, ok := walletIDs[c.Coordinator.Wallet]; !ok {
				errs = append(errs, fmt.Errorf("coordinator: unknown wallet %q", c.Coordinator.Wallet))
			}
		}
	}
	if c.Quotes.BaseURL == "" && (c.Coordinator.Enabled || c.hasAgentPairs()) {
		errs = append(errs, errors.New("quotes.base_url is required when pairs are configured"))
	}
	if c.Relay.Reconnect.MaxDelay > 0 && c.Relay.Reconnect.MaxDelay < c.Relay.Reconnect.BaseDelay {
		errs = append(errs, errors.New("relay.reconnect: max_delay must be >= base_delay"))
	}
	return errors.Join(errs...)
}

func (c *Config) hasAgentPairs() bool {
	for _, a := range c.Agents {
		if len(a.Pairs) > 0 {
			return true
		}
	}
	return false
}
