package di

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/domain/repository"
	"AgentFlow/internal/domain/service"
	"AgentFlow/internal/handler/api"
	mid "AgentFlow/internal/middleware"
	internalrepo "AgentFlow/internal/repository"
	"AgentFlow/internal/service/executor"
	"AgentFlow/internal/service/quotes"
	"AgentFlow/internal/service/relay"
	"AgentFlow/internal/service/wallet"
	"AgentFlow/internal/usecase"
	"AgentFlow/pkg/cache"
	pkgch "AgentFlow/pkg/clickhouse"
	"AgentFlow/pkg/config"
	xhttp "AgentFlow/pkg/http"
	pkgkafka "AgentFlow/pkg/kafka"
	"AgentFlow/pkg/logger"
	"AgentFlow/pkg/metrics"
	"AgentFlow/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ExecutionBackend submits routes and reports their settlement.
type ExecutionBackend interface {
	service.ExecutionService
	service.ChainStatus
}

// RelayLink pairs the peer connection with the bus bridge. Conn is nil when
// the relay is disabled; Bridge still forwards to Kafka.
type RelayLink struct {
	Conn   *relay.ConnectionManager
	Bridge *usecase.SignalRelay
}

// ProvideRegistry creates the Prometheus registry shared by every component.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(p.MaxAttempts),
		pkgkafka.WithBatch(p.BatchSize, p.BatchTimeout),
		pkgkafka.WithTimeouts(p.WriteTimeout, p.ReadTimeout),
		pkgkafka.WithAsync(p.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the root logger. With Kafka enabled, repeated error
// logs are folded into digests on the error topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil && cfg.Kafka.ErrorTopic != "" {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.ErrorTopic,
			Publisher:      producer,
		})
	}
	return l.With("env", cfg.Environment), nil
}

func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.NewWithRegistry(reg)
}

func ProvideSignalBus(cfg *config.Config, log *logger.Logger, m repository.Metrics) *usecase.SignalBus {
	return usecase.NewSignalBus(log, m, usecase.WithBusBuffer(cfg.SignalBus.BufferSize))
}

func ProvideSignalPipeline(cfg *config.Config, bus *usecase.SignalBus, m repository.Metrics, log *logger.Logger) *mid.SignalPipeline {
	return mid.NewSignalPipeline(bus, m, log,
		mid.WithDedupeWindow(cfg.Pipeline.DedupeWindow),
		mid.WithSourceRate(cfg.Pipeline.SourceBurst, cfg.Pipeline.SourceRate),
	)
}

// ProvideKeyring loads wallet secrets from the environment. A wallet whose
// secret is missing is logged and left out; agents using it fail on
// Initialize instead of the whole process.
func ProvideKeyring(cfg *config.Config, log *logger.Logger) *wallet.Keyring {
	kr := wallet.NewKeyring(log)
	if err := kr.Load(cfg.Wallets, os.LookupEnv); err != nil {
		log.Warn("some wallets could not be loaded", logger.Error(err))
	}
	log.Info("keyring ready", logger.Strings("wallets", kr.IDs()))
	return kr
}

// ProvideExecutor selects the paper or HTTP execution backend.
func ProvideExecutor(cfg *config.Config, log *logger.Logger) ExecutionBackend {
	if cfg.Execution.Mode != "http" {
		return executor.NewPaperExecutor(log)
	}
	opts := []xhttp.ClientOption{xhttp.WithTimeout(cfg.Execution.Timeout)}
	if cfg.Execution.APIKey != "" {
		opts = append(opts, xhttp.WithHeader("Authorization", "Bearer "+cfg.Execution.APIKey))
	}
	return executor.NewHTTPExecutor(xhttp.NewClient(cfg.Execution.BaseURL, opts...), log)
}

func ProvideQuoteSource(cfg *config.Config) quotes.Source {
	return quotes.NewHTTPSource(xhttp.NewClient(cfg.Quotes.BaseURL, xhttp.WithTimeout(cfg.Quotes.Timeout)))
}

// ProvideClickHouseClient connects and creates the execution table, or
// returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	c := cfg.ClickHouse
	if !c.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(c.Addr...),
		pkgch.WithDatabase(c.Database),
		pkgch.WithCredentials(c.User, c.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(c.UseHTTP),
		pkgch.WithAsyncInsert(c.AsyncInsert, c.WaitForAsync),
		pkgch.WithTimeouts(c.DialTimeout, c.ReadTimeout),
		pkgch.WithMaxExecutionTime(c.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.ExecutionSchema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

func ProvideExecutionStore(ch *pkgch.Client, log *logger.Logger) repository.ExecutionStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHExecutionStore(ch, log)
}

// ProvideCache uses Redis when enabled and an in-process LRU otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(nil,
			cache.WithMemoryMaxSize(1024),
			cache.WithMemoryDefaultTTL(cfg.Redis.StateTTL),
		), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

func ProvideStateCache(svc cache.Service, cfg *config.Config) repository.StateCache {
	return internalrepo.NewAgentStateCache(svc, cfg.Redis.StateTTL)
}

func ProvideSignalPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.SignalPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaSignalPublisher(producer, cfg.Kafka.SignalTopic)
}

// ProvideKafkaConsumer creates the ingest consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger, reg *prometheus.Registry) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerLogger(log),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideIngestHandler(cfg *config.Config, pipeline *mid.SignalPipeline, m repository.Metrics, log *logger.Logger) *usecase.SignalIngestHandler {
	return usecase.NewSignalIngestHandler(cfg.Kafka.IngestTopic, pipeline, m, log)
}

// ProvideRelay builds the bus bridge and, when enabled, the websocket peer
// connection feeding it.
func ProvideRelay(
	cfg *config.Config,
	bus *usecase.SignalBus,
	pipeline *mid.SignalPipeline,
	publisher repository.SignalPublisher,
	m repository.Metrics,
	log *logger.Logger,
) *RelayLink {
	opts := []usecase.RelayOption{usecase.WithRelayFilter(cfg.Relay.Forward)}
	if publisher != nil {
		opts = append(opts, usecase.WithRelayPublisher(publisher))
	}
	if !cfg.Relay.Enabled {
		return &RelayLink{Bridge: usecase.NewSignalRelay(bus, nil, pipeline, m, log, opts...)}
	}

	var bridge *usecase.SignalRelay
	dialer := &relay.WSDialer{
		URL:              cfg.Relay.URL,
		Header:           http.Header{},
		HandshakeTimeout: cfg.Relay.HandshakeTimeout,
		PingInterval:     cfg.Relay.PingInterval,
		WriteTimeout:     cfg.Relay.WriteTimeout,
	}
	conn := relay.NewConnectionManager(dialer, cfg.Relay.Reconnect, m, log,
		relay.WithMessageHandler(func(msg models.Message) { bridge.HandleMessage(msg) }),
		relay.WithEventHandler(func(ev relay.Event) { bridge.HandleEvent(ev) }),
	)
	bridge = usecase.NewSignalRelay(bus, conn, pipeline, m, log, opts...)

	if err := conn.SetFilter(cfg.Relay.Subscribe); err != nil {
		log.Warn("relay subscribe queued", logger.Error(err))
	}
	for _, ch := range cfg.Relay.Muted {
		if err := conn.Mute(ch); err != nil {
			log.Warn("relay mute queued", logger.String("channel", ch), logger.Error(err))
		}
	}
	return &RelayLink{Conn: conn, Bridge: bridge}
}

// ProvideOrchestrator registers one AgentCore per configured agent. Each
// agent scans its own pairs with its own trade size.
func ProvideOrchestrator(
	cfg *config.Config,
	bus *usecase.SignalBus,
	m repository.Metrics,
	log *logger.Logger,
	keyring *wallet.Keyring,
	exec ExecutionBackend,
	source quotes.Source,
	store repository.ExecutionStore,
	stateCache repository.StateCache,
) (*usecase.Orchestrator, error) {
	opts := []usecase.OrchestratorOption{
		usecase.WithTickInterval(cfg.Orchestrator.TickInterval),
		usecase.WithHistoryLimit(cfg.Orchestrator.HistoryLimit),
		usecase.WithStateCache(stateCache),
	}
	if store != nil {
		opts = append(opts, usecase.WithExecutionStore(store))
	}
	orch := usecase.NewOrchestrator(bus, m, log, opts...)

	for _, a := range cfg.Agents {
		d := quotes.NewDiscoverer(source, a.AmountIn, log, quotes.WithQuoteTTL(cfg.Quotes.QuoteTTL))
		scanner := quotes.NewScanner(d, map[string][]models.VenuePair{a.ID: a.Pairs}, log)
		core := usecase.NewAgentCore(
			usecase.AgentConfig{
				ID:         a.ID,
				Name:       a.Name,
				Type:       a.Type,
				Wallets:    a.Wallets,
				Strategies: a.Strategies,
			},
			scanner, exec, keyring, m, log,
			usecase.WithCooldown(cfg.Orchestrator.Cooldown),
			usecase.WithFailureThreshold(cfg.Orchestrator.FailureThreshold),
		)
		if err := orch.Register(core); err != nil {
			return nil, fmt.Errorf("register agent %s: %w", a.ID, err)
		}
	}
	return orch, nil
}

// ProvideCoordinator returns nil when the coordinator is disabled.
func ProvideCoordinator(
	cfg *config.Config,
	exec ExecutionBackend,
	source quotes.Source,
	keyring *wallet.Keyring,
	bus *usecase.SignalBus,
	m repository.Metrics,
	log *logger.Logger,
	stateCache repository.StateCache,
) *usecase.ExecutionCoordinator {
	c := cfg.Coordinator
	if !c.Enabled {
		return nil
	}
	d := quotes.NewDiscoverer(source, c.AmountIn, log, quotes.WithQuoteTTL(cfg.Quotes.QuoteTTL))
	opts := []usecase.CoordinatorOption{
		usecase.WithPairs(c.Pairs...),
		usecase.WithMinNetProfitPct(c.MinNetProfitPct),
		usecase.WithPendingCap(c.PendingCap),
		usecase.WithScanInterval(c.ScanInterval),
		usecase.WithCoordinatorSlippage(c.SlippageBps),
		usecase.WithCoordinatorCache(stateCache),
	}
	if c.Wallet != "" {
		opts = append(opts, usecase.WithCoordinatorWallet(keyring, c.Wallet))
	}
	return usecase.NewExecutionCoordinator(d, exec, exec, bus, m, log, opts...)
}

func ProvideAPIHandler(
	log *logger.Logger,
	orch *usecase.Orchestrator,
	bus *usecase.SignalBus,
	coord *usecase.ExecutionCoordinator,
	link *RelayLink,
) *api.AgentsHandler {
	var status api.RelayStatus
	if link.Conn != nil {
		status = link.Conn
	}
	return api.NewAgentsHandler(log, orch, bus, coord, status)
}

func ProvideHTTPServer(cfg *config.Config, log *logger.Logger, h *api.AgentsHandler, reg *prometheus.Registry) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithCORS(true),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg, reg))
	}
	return xhttp.NewServer(log, []xhttp.Handler{h}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	httpServer *xhttp.Server,
	orch *usecase.Orchestrator,
	coord *usecase.ExecutionCoordinator,
	link *RelayLink,
	consumer *pkgkafka.Consumer,
	ingest *usecase.SignalIngestHandler,
	producer *pkgkafka.Producer,
	store repository.ExecutionStore,
	chClient *pkgch.Client,
	cacheSvc cache.Service,
) *server.App {
	return server.New(cfg, log, server.Components{
		HTTP:         httpServer,
		Orchestrator: orch,
		Coordinator:  coord,
		RelayConn:    link.Conn,
		Relay:        link.Bridge,
		Consumer:     consumer,
		Ingest:       ingest,
		Producer:     producer,
		Store:        store,
		ClickHouse:   chClient,
		Cache:        cacheSvc,
	})
}
