//go:build wireinject
// +build wireinject

package di

import (
	"AgentFlow/pkg/config"
	"AgentFlow/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideRegistry,
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,

		// Signal plumbing
		ProvideSignalBus,
		ProvideSignalPipeline,
		ProvideSignalPublisher,
		ProvideKafkaConsumer,
		ProvideIngestHandler,
		ProvideRelay,

		// Infrastructure
		ProvideClickHouseClient,
		ProvideExecutionStore,
		ProvideCache,
		ProvideStateCache,

		// Trading
		ProvideKeyring,
		ProvideExecutor,
		ProvideQuoteSource,
		ProvideOrchestrator,
		ProvideCoordinator,

		// HTTP
		ProvideAPIHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return &server.App{}, nil
}
