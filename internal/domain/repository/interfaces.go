package repository

import (
	"context"

	"AgentFlow/internal/domain/models"
)

// ExecutionStore persists execution history.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, rec models.ExecutionRecord) error
	RecentExecutions(ctx context.Context, agentID string, limit int) ([]models.ExecutionRecord, error)
	Close() error
}

// StateCache holds the latest snapshots served by the status API.
type StateCache interface {
	PutAgent(ctx context.Context, a models.Agent) error
	GetAgent(ctx context.Context, id string) (models.Agent, error)
	PutCoordinatorStats(ctx context.Context, s models.CoordinatorStats) error
	GetCoordinatorStats(ctx context.Context) (models.CoordinatorStats, error)
}

// SignalPublisher forwards signals to an external topic.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, s models.Signal) error
	Close() error
}

type Metrics interface {
	RecordExecution(agentID string, success bool, profit float64)
	RecordAgentStatus(agentID string, status models.AgentStatus)
	RecordCoordinatorCycle(found, qualified int)
	RecordSubmission(result string)
	RecordPending(n int)
	RecordPendingResolved(status models.TxStatus)
	RecordSignalPublished(signalType string)
	RecordSignalDelivered(component string)
	RecordSignalDropped(reason string)
	RecordSubscriberPanic(component string)
	RecordRelayState(connected bool)
	RecordRelayReconnect(result string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
