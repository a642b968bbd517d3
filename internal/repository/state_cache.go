package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AgentFlow/internal/domain/models"
	drepo "AgentFlow/internal/domain/repository"
	"AgentFlow/pkg/cache"
)

const (
	agentPrefix      = "agent"
	coordinatorStats = "coordinator:stats"
)

// AgentStateCache keeps the latest agent and coordinator snapshots in a cache.Service.
type AgentStateCache struct {
	svc cache.Service
	ttl time.Duration
}

var _ drepo.StateCache = (*AgentStateCache)(nil)

func NewAgentStateCache(svc cache.Service, ttl time.Duration) *AgentStateCache {
	return &AgentStateCache{svc: svc, ttl: ttl}
}

func (c *AgentStateCache) PutAgent(ctx context.Context, a models.Agent) error {
	if err := c.svc.Set(ctx, cache.Key(agentPrefix, a.ID), a, c.ttl); err != nil {
		return fmt.Errorf("cache agent %s: %w", a.ID, err)
	}
	return nil
}

func (c *AgentStateCache) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	var a models.Agent
	if err := c.svc.Get(ctx, cache.Key(agentPrefix, id), &a); err != nil {
		return models.Agent{}, missOr(err, "agent %s", id)
	}
	return a, nil
}

func (c *AgentStateCache) PutCoordinatorStats(ctx context.Context, s models.CoordinatorStats) error {
	if err := c.svc.Set(ctx, coordinatorStats, s, c.ttl); err != nil {
		return fmt.Errorf("cache coordinator stats: %w", err)
	}
	return nil
}

func (c *AgentStateCache) GetCoordinatorStats(ctx context.Context) (models.CoordinatorStats, error) {
	var s models.CoordinatorStats
	if err := c.svc.Get(ctx, coordinatorStats, &s); err != nil {
		return models.CoordinatorStats{}, missOr(err, "coordinator stats")
	}
	return s, nil
}

func missOr(err error, format string, a ...interface{}) error {
	if errors.Is(err, cache.ErrCacheMiss) {
		return models.NotFoundf(format, a...)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, a...), err)
}
