package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"AgentFlow/internal/domain/repository"
	"AgentFlow/internal/service/relay"
	"AgentFlow/internal/usecase"
	"AgentFlow/pkg/cache"
	pkgch "AgentFlow/pkg/clickhouse"
	"AgentFlow/pkg/config"
	xhttp "AgentFlow/pkg/http"
	pkgkafka "AgentFlow/pkg/kafka"
	"AgentFlow/pkg/logger"
)

// Components are the long-lived parts the App starts and stops. Optional
// parts are nil when disabled in config.
type Components struct {
	HTTP         *xhttp.Server
	Orchestrator *usecase.Orchestrator
	Coordinator  *usecase.ExecutionCoordinator
	RelayConn    *relay.ConnectionManager
	Relay        *usecase.SignalRelay
	Consumer     *pkgkafka.Consumer
	Ingest       pkgkafka.MessageHandler
	Producer     *pkgkafka.Producer
	Store        repository.ExecutionStore
	ClickHouse   *pkgch.Client
	Cache        cache.Service
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	log *logger.Logger
	c   Components

	// runCtx outlives startup and is cancelled on shutdown.
	runCtx    context.Context
	cancelRun context.CancelFunc
}

func New(cfg *config.Config, log *logger.Logger, c Components) *App {
	return &App{cfg: cfg, log: log.Named("app"), c: c}
}

// Run starts every component and blocks until SIGINT/SIGTERM or a fatal
// HTTP server error.
func (a *App) Run() error {
	if err := a.start(); err != nil {
		a.log.Error("startup failed", logger.Error(err))
		_ = a.shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		a.log.Info("shutdown signal received", logger.String("signal", sig.String()))
	case err := <-a.c.HTTP.Errors():
		runErr = fmt.Errorf("http server: %w", err)
	}

	if err := a.shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) start() error {
	a.runCtx, a.cancelRun = context.WithCancel(context.Background())

	if a.c.Relay != nil {
		a.c.Relay.Start()
	}
	if a.c.RelayConn != nil {
		// a failed first dial is retried by the reconnect policy
		if err := a.c.RelayConn.Connect(a.runCtx); err != nil {
			a.log.Warn("relay not connected yet", logger.Error(err))
		}
	}

	if a.c.Consumer != nil && a.c.Ingest != nil {
		a.c.Consumer.RegisterHandler(a.c.Ingest)
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", logger.String("topic", a.c.Ingest.Topic()))
	}

	if a.cfg.Orchestrator.AutoStart {
		a.c.Orchestrator.Start(a.runCtx)
	}
	if a.c.Coordinator != nil {
		a.c.Coordinator.Start(a.runCtx)
	}

	if err := a.c.HTTP.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// shutdown stops components in reverse start order and closes the
// infrastructure clients. Every step runs even when an earlier one fails.
func (a *App) shutdown(ctx context.Context) error {
	a.log.Info("shutting down")
	var errs []error

	if a.c.HTTP != nil {
		if err := a.c.HTTP.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.c.Coordinator != nil {
		a.c.Coordinator.Stop()
	}
	if a.c.Orchestrator != nil {
		a.c.Orchestrator.Stop()
	}
	if a.cancelRun != nil {
		a.cancelRun()
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		}
	}
	if a.c.Relay != nil {
		a.c.Relay.Stop()
	}
	if a.c.RelayConn != nil {
		if err := a.c.RelayConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("relay: %w", err))
		}
	}

	if a.c.Store != nil {
		if err := a.c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("execution store: %w", err))
		}
	}
	if a.c.ClickHouse != nil {
		if err := a.c.ClickHouse.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
	}
	if a.c.Cache != nil {
		if err := a.c.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}

	// the producer also carries the error digests, so it goes last
	a.log.RemoveCollector()
	if a.c.Producer != nil {
		if err := a.c.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka producer: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		a.log.Warn("shutdown completed with errors", logger.Error(err))
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}
