package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"AgentFlow/internal/domain/models"
	drepo "AgentFlow/internal/domain/repository"
	pkgch "AgentFlow/pkg/clickhouse"
	"AgentFlow/pkg/logger"
)

const executionsTable = "agentflow.executions"

// ExecutionSchema is the DDL applied on startup.
var ExecutionSchema = []string{
	`CREATE DATABASE IF NOT EXISTS agentflow`,
	`CREATE TABLE IF NOT EXISTS ` + executionsTable + ` (
        id String,
        agent_id LowCardinality(String),
        strategy_id LowCardinality(String),
        opportunity_id String,
        success UInt8,
        profit Float64,
        signature String,
        ts DateTime64(3, 'UTC'),
        execution_ms Int64,
        error String
    ) ENGINE = MergeTree
    ORDER BY (agent_id, ts)`,
}

// CHExecutionStore persists execution records in ClickHouse.
type CHExecutionStore struct {
	db *sql.DB
	l  *logger.Logger
}

var _ drepo.ExecutionStore = (*CHExecutionStore)(nil)

func NewCHExecutionStore(ch *pkgch.Client, l *logger.Logger) *CHExecutionStore {
	return &CHExecutionStore{db: ch.DB(), l: l.Named("execution_store")}
}

func (s *CHExecutionStore) SaveExecution(ctx context.Context, rec models.ExecutionRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s (id, agent_id, strategy_id, opportunity_id, success, profit, signature, ts, execution_ms, error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, executionsTable)
	if _, err := s.db.ExecContext(ctx, q, executionArgs(rec)...); err != nil {
		s.l.Error("clickhouse save_execution error",
			logger.String("execution_id", rec.ID),
			logger.String("agent_id", rec.AgentID),
			logger.Error(err))
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// RecentExecutions returns newest first. An empty agentID matches every agent.
func (s *CHExecutionStore) RecentExecutions(ctx context.Context, agentID string, limit int) ([]models.ExecutionRecord, error) {
	start := time.Now()
	q, args := recentQuery(agentID, limit)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse recent_executions query error",
			logger.String("agent_id", agentID),
			logger.Error(err))
		return nil, fmt.Errorf("recent executions: %w", err)
	}
	defer rows.Close()

	out := make([]models.ExecutionRecord, 0, limit)
	for rows.Next() {
		var (
			r       models.ExecutionRecord
			success uint8
		)
		if err := rows.Scan(&r.ID, &r.AgentID, &r.StrategyID, &r.OpportunityID, &success,
			&r.Profit, &r.Signature, &r.Timestamp, &r.ExecutionTimeMs, &r.Error); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		r.Success = success == 1
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse recent_executions ok",
		logger.String("agent_id", agentID),
		logger.Int("rows", len(out)),
		logger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

// Close is a no-op; the pool belongs to the ClickHouse client.
func (s *CHExecutionStore) Close() error { return nil }

func executionArgs(rec models.ExecutionRecord) []interface{} {
	var success uint8
	if rec.Success {
		success = 1
	}
	return []interface{}{
		rec.ID,
		rec.AgentID,
		rec.StrategyID,
		rec.OpportunityID,
		success,
		rec.Profit,
		rec.Signature,
		rec.Timestamp.UTC(),
		rec.ExecutionTimeMs,
		rec.Error,
	}
}

func recentQuery(agentID string, limit int) (string, []interface{}) {
	if limit <= 0 {
		limit = 100
	}
	cols := "id, agent_id, strategy_id, opportunity_id, success, profit, signature, ts, execution_ms, error"
	if agentID == "" {
		return fmt.Sprintf("SELECT %s FROM %s ORDER BY ts DESC LIMIT ?", cols, executionsTable), []interface{}{limit}
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE agent_id = ? ORDER BY ts DESC LIMIT ?", cols, executionsTable),
		[]interface{}{agentID, limit}
}
