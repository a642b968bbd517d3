package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"AgentFlow/internal/domain/models"
	drepo "AgentFlow/internal/domain/repository"
	"AgentFlow/pkg/logger"
	"AgentFlow/pkg/scheduler"

	"github.com/jonboulle/clockwork"
)

const (
	// ComponentOrchestrator is the signal source used for orchestrator events.
	ComponentOrchestrator = "orchestrator"

	defaultTickInterval = 10 * time.Second
	defaultHistoryLimit = 1000
)

// Orchestrator owns the agent registry and drives agents on a fixed tick.
// It is constructed once and passed to every consumer that needs agents.
type Orchestrator struct {
	bus     *SignalBus
	store   drepo.ExecutionStore
	cache   drepo.StateCache
	metrics drepo.Metrics
	log     *logger.Logger
	clock   clockwork.Clock

	tickInterval time.Duration
	historyLimit int
	ticker       *scheduler.Ticker

	lifecycle sync.Mutex

	mu     sync.RWMutex
	agents map[string]*AgentCore
	order  []string

	histMu  sync.Mutex
	history []models.ExecutionRecord
}

type OrchestratorOption func(*Orchestrator)

func WithTickInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.tickInterval = d
		}
	}
}

// WithHistoryLimit bounds the in-memory execution history.
func WithHistoryLimit(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyLimit = n
		}
	}
}

func WithOrchestratorClock(c clockwork.Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = c }
}

// WithExecutionStore persists every execution record.
func WithExecutionStore(s drepo.ExecutionStore) OrchestratorOption {
	return func(o *Orchestrator) { o.store = s }
}

// WithStateCache mirrors agent snapshots into a shared cache.
func WithStateCache(c drepo.StateCache) OrchestratorOption {
	return func(o *Orchestrator) { o.cache = c }
}

func NewOrchestrator(bus *SignalBus, metrics drepo.Metrics, log *logger.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		bus:          bus,
		metrics:      metrics,
		log:          log.Named(ComponentOrchestrator),
		clock:        clockwork.NewRealClock(),
		tickInterval: defaultTickInterval,
		historyLimit: defaultHistoryLimit,
		agents:       make(map[string]*AgentCore),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.ticker = scheduler.New(o.clock, o.tickInterval)
	return o
}

// Register adds an agent to the registry and starts broadcasting its state.
func (o *Orchestrator) Register(core *AgentCore) error {
	o.mu.Lock()
	if _, ok := o.agents[core.ID()]; ok {
		o.mu.Unlock()
		return fmt.Errorf("agent %s: %w", core.ID(), models.ErrAlreadyRegistered)
	}
	o.agents[core.ID()] = core
	o.order = append(o.order, core.ID())
	o.mu.Unlock()

	core.OnChange(o.agentChanged)
	o.log.Info("agent registered", logger.String("agent_id", core.ID()))
	return nil
}

func (o *Orchestrator) Agent(id string) (*AgentCore, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	core, ok := o.agents[id]
	if !ok {
		return nil, models.NotFoundf("agent %s", id)
	}
	return core, nil
}

// Agents returns registered agents in registration order.
func (o *Orchestrator) Agents() []*AgentCore {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*AgentCore, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.agents[id])
	}
	return out
}

func (o *Orchestrator) Snapshots() []models.Agent {
	cores := o.Agents()
	out := make([]models.Agent, 0, len(cores))
	for _, c := range cores {
		out = append(out, c.Snapshot())
	}
	return out
}

func (o *Orchestrator) ActivateAgent(id string) error {
	core, err := o.Agent(id)
	if err != nil {
		return err
	}
	core.Activate()
	return nil
}

func (o *Orchestrator) DeactivateAgent(id string) error {
	core, err := o.Agent(id)
	if err != nil {
		return err
	}
	core.Deactivate()
	return nil
}

func (o *Orchestrator) ResetAgent(id string) error {
	core, err := o.Agent(id)
	if err != nil {
		return err
	}
	return core.Reset()
}

// Start initializes pending agents, activates every agent and begins
// ticking. Starting a running orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()
	if o.ticker.Running() {
		return
	}

	o.broadcastStatus("starting")
	for _, core := range o.Agents() {
		if core.Snapshot().Status == models.StatusInitializing {
			if err := core.Initialize(ctx); err != nil {
				o.log.Warn("agent failed to initialize", logger.String("agent_id", core.ID()), logger.Error(err))
			}
		}
		core.Activate()
	}
	o.ticker.Start(ctx, o.Tick)
	o.broadcastStatus("running")
	o.log.Info("orchestrator started", logger.Duration("tick_interval", o.tickInterval), logger.Int("agents", len(o.order)))
}

// Stop cancels the tick loop and deactivates every agent. Executions already
// submitted run to completion. Stopping a stopped orchestrator is a no-op.
func (o *Orchestrator) Stop() {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()
	if !o.ticker.Stop() {
		return
	}
	for _, core := range o.Agents() {
		core.Deactivate()
	}
	o.broadcastStatus("stopped")
	o.log.Info("orchestrator stopped")
}

func (o *Orchestrator) Running() bool { return o.ticker.Running() }

// Tick runs one scan-and-execute pass over every active, idle agent.
func (o *Orchestrator) Tick(ctx context.Context) {
	var wg sync.WaitGroup
	for _, core := range o.Agents() {
		snap := core.Snapshot()
		if !snap.Active || snap.Status != models.StatusIdle {
			continue
		}
		wg.Add(1)
		go func(core *AgentCore) {
			defer wg.Done()
			o.runAgent(ctx, core)
		}(core)
	}
	wg.Wait()
}

func (o *Orchestrator) runAgent(ctx context.Context, core *AgentCore) {
	opps, err := core.Scan(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrInvalidState) {
			o.metrics.RecordError("orchestrator_scan")
		}
		return
	}
	if len(opps) == 0 {
		return
	}
	for _, opp := range opps {
		o.bus.Publish(opportunitySignal(core.ID(), opp))
	}

	strategy, ok := core.FirstActiveStrategy()
	if !ok {
		o.log.Debug("agent has no active strategy", logger.String("agent_id", core.ID()))
		return
	}
	rec, err := core.ExecuteStrategy(ctx, strategy.ID)
	switch {
	case errors.Is(err, models.ErrNoOpportunity), errors.Is(err, models.ErrInvalidState):
		return
	case rec == nil && err != nil:
		o.log.Warn("execute strategy", logger.String("agent_id", core.ID()), logger.Error(err))
		return
	}
	o.recordExecution(ctx, *rec)
}

func (o *Orchestrator) recordExecution(ctx context.Context, rec models.ExecutionRecord) {
	o.histMu.Lock()
	o.history = append(o.history, rec)
	if over := len(o.history) - o.historyLimit; over > 0 {
		o.history = append(o.history[:0:0], o.history[over:]...)
	}
	o.histMu.Unlock()

	if o.store != nil {
		if err := o.store.SaveExecution(ctx, rec); err != nil {
			o.metrics.RecordError("execution_store")
			o.log.Error("save execution", logger.String("execution_id", rec.ID), logger.Error(err))
		}
	}
	o.bus.Publish(executionSignal(rec))
}

// RecentExecutions returns up to limit records, newest first.
func (o *Orchestrator) RecentExecutions(limit int) []models.ExecutionRecord {
	o.histMu.Lock()
	defer o.histMu.Unlock()
	if limit <= 0 || limit > len(o.history) {
		limit = len(o.history)
	}
	out := make([]models.ExecutionRecord, 0, limit)
	for i := len(o.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, o.history[i])
	}
	return out
}

func (o *Orchestrator) agentChanged(a models.Agent) {
	if o.cache != nil {
		if err := o.cache.PutAgent(context.Background(), a); err != nil {
			o.log.Warn("cache agent state", logger.String("agent_id", a.ID), logger.Error(err))
		}
	}
	o.bus.Publish(agentSignal(a))
}

func (o *Orchestrator) broadcastStatus(status string) {
	o.bus.Publish(models.Signal{
		Type:      models.SignalOrchestratorStatus,
		Direction: models.DirectionNeutral,
		Source:    ComponentOrchestrator,
		Metadata: map[string]interface{}{
			"status": status,
			"agents": len(o.Agents()),
		},
	})
}

func agentSignal(a models.Agent) models.Signal {
	meta := map[string]interface{}{
		"agentId":         a.ID,
		"name":            a.Name,
		"agentType":       string(a.Type),
		"status":          a.Status.String(),
		"active":          a.Active,
		"totalExecutions": a.Metrics.TotalExecutions,
		"successRate":     a.Metrics.SuccessRate,
		"totalProfit":     a.Metrics.TotalProfit,
	}
	if a.LastError != "" {
		meta["lastError"] = a.LastError
	}
	return models.Signal{
		Type:      models.SignalAgentStatus,
		Direction: models.DirectionNeutral,
		Source:    ComponentOrchestrator,
		Metadata:  meta,
	}
}

func executionSignal(rec models.ExecutionRecord) models.Signal {
	dir := models.DirectionNeutral
	if rec.Success && rec.Profit > 0 {
		dir = models.DirectionBullish
	} else if !rec.Success {
		dir = models.DirectionBearish
	}
	meta := map[string]interface{}{
		"executionId":     rec.ID,
		"agentId":         rec.AgentID,
		"strategyId":      rec.StrategyID,
		"opportunityId":   rec.OpportunityID,
		"success":         rec.Success,
		"profit":          rec.Profit,
		"executionTimeMs": rec.ExecutionTimeMs,
	}
	if rec.Signature != "" {
		meta["signature"] = rec.Signature
	}
	if rec.Error != "" {
		meta["error"] = rec.Error
	}
	return models.Signal{
		Type:      models.SignalExecution,
		Strength:  rec.Profit,
		Direction: dir,
		Source:    ComponentOrchestrator,
		Metadata:  meta,
	}
}

func opportunitySignal(agentID string, opp models.Opportunity) models.Signal {
	return models.Signal{
		Pair:       opp.Pair,
		Type:       models.SignalOpportunity,
		Strength:   opp.EstimatedProfit,
		Direction:  models.DirectionBullish,
		Confidence: opp.Confidence * 100,
		Source:     ComponentOrchestrator,
		Metadata: map[string]interface{}{
			"agentId":        agentID,
			"opportunityId":  opp.ID,
			"hops":           len(opp.Route),
			"expirationTime": opp.ExpirationTime.UTC().Format(time.RFC3339Nano),
		},
	}
}
