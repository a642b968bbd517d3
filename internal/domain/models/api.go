package models

// Request parameters for the status API.

type ListExecutionsRequest struct {
	AgentID string `query:"agent_id" json:"agentId"`
	Limit   int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type ListSignalsRequest struct {
	Pair   string `query:"pair" json:"pair"`
	Type   string `query:"type" json:"type"`
	Source string `query:"source" json:"source"`
	Since  string `query:"since" json:"since"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=200"`
}

type AgentPathRequest struct {
	ID string `param:"id" json:"id" validate:"required"`
}

// AgentDetail is the status view of one agent.
type AgentDetail struct {
	Agent       Agent                 `json:"agent"`
	Strategies  []Strategy            `json:"strategies"`
	Performance []StrategyPerformance `json:"performance"`
	Candidates  int                   `json:"candidates"`
}

// CoordinatorView pairs coordinator counters with its pending transactions.
type CoordinatorView struct {
	Running bool                 `json:"running"`
	Stats   CoordinatorStats     `json:"stats"`
	Pending []PendingTransaction `json:"pending"`
}

type HealthView struct {
	Status         string   `json:"status"`
	Orchestrator   bool     `json:"orchestrator"`
	Coordinator    bool     `json:"coordinator"`
	RelayConnected bool     `json:"relayConnected"`
	Components     []string `json:"components"`
}
