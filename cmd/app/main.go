package main

import (
	"flag"
	"os"

	"AgentFlow/internal/di"
	"AgentFlow/pkg/config"

	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	// bootstrap logger until the configured one exists
	boot := zerolog.New(os.Stderr).With().Timestamp().Str("component", "main").Logger()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		boot.Error().Err(err).Str("path", *configPath).Msg("config load failed")
		os.Exit(1)
	}

	boot.Info().
		Str("env", cfg.Environment).
		Str("execution_mode", cfg.Execution.Mode).
		Int("agents", len(cfg.Agents)).
		Bool("coordinator", cfg.Coordinator.Enabled).
		Bool("relay", cfg.Relay.Enabled).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("config loaded")

	app, err := di.InitializeApp(cfg)
	if err != nil {
		boot.Error().Err(err).Msg("app initialization failed")
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		boot.Error().Err(err).Msg("app error")
		os.Exit(1)
	}
}
