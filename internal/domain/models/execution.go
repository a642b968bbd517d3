package models

import "time"

// ExecutionRecord is the immutable outcome of one execution attempt.
type ExecutionRecord struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agentId"`
	StrategyID      string    `json:"strategyId,omitempty"`
	OpportunityID   string    `json:"opportunityId"`
	Success         bool      `json:"success"`
	Profit          float64   `json:"profit"`
	Signature       string    `json:"signature,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	Error           string    `json:"error,omitempty"`
}

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFinalized TxStatus = "finalized"
	TxFailed    TxStatus = "failed"
	TxUnknown   TxStatus = "unknown"
)

func (s TxStatus) Succeeded() bool { return s == TxConfirmed || s == TxFinalized }

// PendingTransaction tracks a submitted execution until it resolves or ages out.
type PendingTransaction struct {
	TxID           string    `json:"txId"`
	OpportunityID  string    `json:"opportunityId"`
	Venue          string    `json:"venue"`
	ExpectedProfit float64   `json:"expectedProfit"`
	StartTime      time.Time `json:"startTime"`
	Status         TxStatus  `json:"status"`
}

// CoordinatorStats is a point-in-time view of coordinator counters.
type CoordinatorStats struct {
	Cycles                int64     `json:"cycles"`
	OpportunitiesFound    int64     `json:"opportunitiesFound"`
	OpportunitiesFiltered int64     `json:"opportunitiesFiltered"`
	Submitted             int64     `json:"submitted"`
	SubmitErrors          int64     `json:"submitErrors"`
	SkippedLocked         int64     `json:"skippedLocked"`
	SuccessfulExecutions  int64     `json:"successfulExecutions"`
	FailedExecutions      int64     `json:"failedExecutions"`
	TotalProfit           float64   `json:"totalProfit"`
	Pending               int       `json:"pending"`
	Executing             bool      `json:"executing"`
	LastCycle             time.Time `json:"lastCycle"`
	LastError             string    `json:"lastError,omitempty"`
	LastErrorKind         string    `json:"lastErrorKind,omitempty"`
}
