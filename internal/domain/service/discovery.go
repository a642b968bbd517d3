package service

import (
	"context"

	"AgentFlow/internal/domain/models"
)

// Scanner produces a finite list of opportunities for one agent.
type Scanner interface {
	Scan(ctx context.Context, agent models.Agent) ([]models.Opportunity, error)
}

// ScannerFunc adapts a function to Scanner.
type ScannerFunc func(ctx context.Context, agent models.Agent) ([]models.Opportunity, error)

func (f ScannerFunc) Scan(ctx context.Context, agent models.Agent) ([]models.Opportunity, error) {
	return f(ctx, agent)
}

// Discoverer finds cross-venue opportunities for a monitored pair.
type Discoverer interface {
	Discover(ctx context.Context, pair models.VenuePair) ([]models.Opportunity, error)
}
