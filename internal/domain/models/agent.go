package models

import (
	"fmt"
	"strings"
	"time"
)

type AgentType string

const (
	AgentTypeArbitrage   AgentType = "arbitrage"
	AgentTypeCrossVenue  AgentType = "cross_venue"
	AgentTypeMomentum    AgentType = "momentum"
	AgentTypeMarketMaker AgentType = "market_maker"
)

func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeArbitrage, AgentTypeCrossVenue, AgentTypeMomentum, AgentTypeMarketMaker:
		return true
	}
	return false
}

// AgentStatus is the position of an agent in its lifecycle.
type AgentStatus int

const (
	StatusInitializing AgentStatus = iota
	StatusIdle
	StatusScanning
	StatusExecuting
	StatusCooldown
	StatusError
)

var statusNames = [...]string{"INITIALIZING", "IDLE", "SCANNING", "EXECUTING", "COOLDOWN", "ERROR"}

func (s AgentStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("AgentStatus(%d)", int(s))
	}
	return statusNames[s]
}

func (s AgentStatus) Valid() bool { return s >= StatusInitializing && s <= StatusError }

func (s AgentStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid agent status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *AgentStatus) UnmarshalText(b []byte) error {
	v, err := ParseAgentStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseAgentStatus(v string) (AgentStatus, error) {
	for i, name := range statusNames {
		if strings.EqualFold(v, name) {
			return AgentStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown agent status %q", v)
}

// transitions lists the allowed moves out of each status, ERROR excluded
// since every status may fall into it.
var transitions = map[AgentStatus][]AgentStatus{
	StatusInitializing: {StatusIdle},
	StatusIdle:         {StatusScanning, StatusExecuting},
	StatusScanning:     {StatusIdle, StatusExecuting},
	StatusExecuting:    {StatusCooldown},
	StatusCooldown:     {StatusIdle},
	StatusError:        {StatusIdle},
}

// CanTransition reports whether s may move to next.
func (s AgentStatus) CanTransition(next AgentStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if next == StatusError {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Agent is the externally visible state of one trading agent.
// Wallets holds opaque wallet ids only.
type Agent struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      AgentType    `json:"type"`
	Status    AgentStatus  `json:"status"`
	Active    bool         `json:"active"`
	Wallets   []string     `json:"wallets"`
	Metrics   AgentMetrics `json:"metrics"`
	LastError string       `json:"lastError,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type AgentMetrics struct {
	TotalExecutions     int64      `json:"totalExecutions"`
	SuccessCount        int64      `json:"successCount"`
	FailureCount        int64      `json:"failureCount"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	SuccessRate         float64    `json:"successRate"` // percent
	TotalProfit         float64    `json:"totalProfit"`
	AvgExecutionMs      float64    `json:"avgExecutionMs"`
	LastExecution       *time.Time `json:"lastExecution,omitempty"`
}

// StrategyPerformance aggregates outcomes of a single strategy.
type StrategyPerformance struct {
	StrategyID  string  `json:"strategyId"`
	Executions  int64   `json:"executions"`
	Successes   int64   `json:"successes"`
	Failures    int64   `json:"failures"`
	TotalProfit float64 `json:"totalProfit"`
}
