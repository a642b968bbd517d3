package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"AgentFlow/internal/domain/models"
	drepo "AgentFlow/internal/domain/repository"
	"AgentFlow/internal/domain/service"
	"AgentFlow/pkg/logger"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	defaultCooldown         = 5 * time.Second
	defaultFailureThreshold = 3
)

// AgentConfig is the static definition an AgentCore is built from.
type AgentConfig struct {
	ID         string
	Name       string
	Type       models.AgentType
	Wallets    []string
	Strategies []models.Strategy
}

// AgentCore owns one agent's state machine, its latest scan results and its
// execution metrics. All exported methods are safe for concurrent use.
type AgentCore struct {
	scanner  service.Scanner
	executor service.ExecutionService
	wallets  service.WalletProvider
	metrics  drepo.Metrics
	log      *logger.Logger
	clock    clockwork.Clock

	cooldown         time.Duration
	failureThreshold int

	mu         sync.Mutex
	agent      models.Agent
	strategies []models.Strategy
	perf       map[string]*models.StrategyPerformance
	candidates []models.Opportunity
	execMsSum  int64
	cooldownT  clockwork.Timer
	observers  []func(models.Agent)
}

type AgentOption func(*AgentCore)

// WithCooldown sets the dwell between an execution and the next scan.
func WithCooldown(d time.Duration) AgentOption {
	return func(c *AgentCore) {
		if d > 0 {
			c.cooldown = d
		}
	}
}

// WithFailureThreshold sets how many consecutive failures are tolerated
// before the agent moves to ERROR.
func WithFailureThreshold(n int) AgentOption {
	return func(c *AgentCore) {
		if n > 0 {
			c.failureThreshold = n
		}
	}
}

func WithAgentClock(clock clockwork.Clock) AgentOption {
	return func(c *AgentCore) { c.clock = clock }
}

func NewAgentCore(
	cfg AgentConfig,
	scanner service.Scanner,
	executor service.ExecutionService,
	wallets service.WalletProvider,
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...AgentOption,
) *AgentCore {
	c := &AgentCore{
		scanner:          scanner,
		executor:         executor,
		wallets:          wallets,
		metrics:          metrics,
		clock:            clockwork.NewRealClock(),
		cooldown:         defaultCooldown,
		failureThreshold: defaultFailureThreshold,
		strategies:       slices.Clone(cfg.Strategies),
		perf:             make(map[string]*models.StrategyPerformance, len(cfg.Strategies)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = log.Named("agent").With("agent_id", cfg.ID)
	for _, s := range cfg.Strategies {
		c.perf[s.ID] = &models.StrategyPerformance{StrategyID: s.ID}
	}
	c.agent = models.Agent{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Type:      cfg.Type,
		Status:    models.StatusInitializing,
		Wallets:   slices.Clone(cfg.Wallets),
		UpdatedAt: c.clock.Now(),
	}
	return c
}

func (c *AgentCore) ID() string { return c.agent.ID }

// OnChange registers fn to receive a snapshot after every state change.
func (c *AgentCore) OnChange(fn func(models.Agent)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Initialize resolves every wallet handle and leaves INITIALIZING for IDLE,
// or for ERROR when a wallet cannot be resolved.
func (c *AgentCore) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.agent.Status != models.StatusInitializing {
		err := c.stateErrLocked("initialize")
		c.mu.Unlock()
		return err
	}
	wallets := slices.Clone(c.agent.Wallets)
	c.mu.Unlock()

	var initErr error
	for _, id := range wallets {
		if err := ctx.Err(); err != nil {
			initErr = err
			break
		}
		if _, err := c.wallets.SigningHandle(id); err != nil {
			initErr = fmt.Errorf("wallet %s: %w", id, err)
			break
		}
	}

	c.mu.Lock()
	if initErr != nil {
		c.agent.LastError = initErr.Error()
		c.setStatusLocked(models.StatusError)
	} else {
		c.setStatusLocked(models.StatusIdle)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	if initErr != nil {
		c.log.Error("agent initialization failed", logger.Error(initErr))
		return initErr
	}
	c.log.Info("agent initialized", logger.Int("wallets", len(wallets)), logger.Int("strategies", len(c.strategies)))
	return nil
}

// Activate sets the active flag. A pending cooldown dwell interrupted by
// Deactivate is rescheduled.
func (c *AgentCore) Activate() {
	c.mu.Lock()
	if c.agent.Active {
		c.mu.Unlock()
		return
	}
	c.agent.Active = true
	if c.agent.Status == models.StatusCooldown && c.cooldownT == nil {
		c.scheduleCooldownLocked()
	}
	c.touchLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// Deactivate clears the active flag and holds a cooling agent in COOLDOWN.
func (c *AgentCore) Deactivate() {
	c.mu.Lock()
	if !c.agent.Active {
		c.mu.Unlock()
		return
	}
	c.agent.Active = false
	if c.cooldownT != nil {
		c.cooldownT.Stop()
		c.cooldownT = nil
	}
	c.touchLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// Scan asks the scanner for opportunities. It never executes anything; the
// results are kept as candidates for ExecuteStrategy.
func (c *AgentCore) Scan(ctx context.Context) (opps []models.Opportunity, err error) {
	c.mu.Lock()
	if !c.agent.Active || c.agent.Status != models.StatusIdle {
		err := c.stateErrLocked("scan")
		c.mu.Unlock()
		return nil, err
	}
	c.setStatusLocked(models.StatusScanning)
	agent := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(agent)

	start := c.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scanner panic: %v", r)
			c.Fail(err)
			opps = nil
		}
	}()

	found, scanErr := c.scanner.Scan(ctx, agent)
	c.metrics.RecordLatency("agent_scan", c.clock.Since(start).Seconds())

	c.mu.Lock()
	if scanErr != nil {
		c.agent.LastError = scanErr.Error()
		c.candidates = nil
	} else {
		c.candidates = slices.Clone(found)
	}
	if c.agent.Status == models.StatusScanning {
		c.setStatusLocked(models.StatusIdle)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	if scanErr != nil {
		c.metrics.RecordError("agent_scan")
		c.log.Warn("scan failed", logger.Error(scanErr))
		return nil, fmt.Errorf("scan: %w", scanErr)
	}
	return slices.Clone(found), nil
}

// ExecuteStrategy submits the best unexpired candidate qualifying for
// strategyID. It returns ErrNoOpportunity without touching state when none
// qualifies. A submission failure is returned wrapped in ErrExecution along
// with the record describing it.
func (c *AgentCore) ExecuteStrategy(ctx context.Context, strategyID string) (*models.ExecutionRecord, error) {
	c.mu.Lock()
	if !c.agent.Active || (c.agent.Status != models.StatusIdle && c.agent.Status != models.StatusScanning) {
		err := c.stateErrLocked("execute")
		c.mu.Unlock()
		return nil, err
	}
	strategy, ok := c.strategyLocked(strategyID)
	if !ok {
		c.mu.Unlock()
		return nil, models.NotFoundf("strategy %s", strategyID)
	}
	now := c.clock.Now()
	idx := c.selectLocked(strategy, now)
	if idx < 0 {
		c.mu.Unlock()
		return nil, models.ErrNoOpportunity
	}
	opp := c.candidates[idx]
	c.candidates = slices.Delete(c.candidates, idx, idx+1)
	c.setStatusLocked(models.StatusExecuting)
	wallets := c.agent.Wallets
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	res, submitErr, panicked := c.submit(ctx, strategy, opp, wallets)
	finished := c.clock.Now()

	rec := &models.ExecutionRecord{
		ID:              uuid.NewString(),
		AgentID:         snap.ID,
		StrategyID:      strategy.ID,
		OpportunityID:   opp.ID,
		Timestamp:       finished,
		ExecutionTimeMs: finished.Sub(now).Milliseconds(),
	}
	if res != nil {
		rec.Signature = res.Signature
		rec.Profit = res.Profit
		rec.Success = submitErr == nil && res.Success
	}
	if submitErr == nil && !rec.Success {
		submitErr = models.ExecutionFailed(errors.New("execution reported failure"))
	}
	if submitErr != nil {
		rec.Error = submitErr.Error()
	}

	c.mu.Lock()
	c.recordLocked(rec, strategy.ID)
	switch {
	case panicked:
		c.setStatusLocked(models.StatusError)
	case !rec.Success && c.agent.Metrics.ConsecutiveFailures > c.failureThreshold:
		c.agent.LastError = fmt.Sprintf("%d consecutive failures: %s", c.agent.Metrics.ConsecutiveFailures, rec.Error)
		c.setStatusLocked(models.StatusError)
	default:
		c.setStatusLocked(models.StatusCooldown)
		if c.agent.Active {
			c.scheduleCooldownLocked()
		}
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	c.metrics.RecordExecution(rec.AgentID, rec.Success, rec.Profit)
	c.metrics.RecordLatency("agent_execute", float64(rec.ExecutionTimeMs)/1000)
	if submitErr != nil {
		c.log.Warn("execution failed",
			logger.String("strategy", strategy.ID),
			logger.String("opportunity", opp.ID),
			logger.Int("consecutive_failures", snap.Metrics.ConsecutiveFailures),
			logger.Error(submitErr),
		)
		return rec, submitErr
	}
	c.log.Info("execution succeeded",
		logger.String("strategy", strategy.ID),
		logger.String("opportunity", opp.ID),
		logger.String("signature", rec.Signature),
		logger.Float64("profit", rec.Profit),
	)
	return rec, nil
}

func (c *AgentCore) submit(ctx context.Context, strategy models.Strategy, opp models.Opportunity, wallets []string) (res *service.SubmitResult, err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			err = models.ExecutionFailed(fmt.Errorf("panic: %v", r))
			res, panicked = nil, true
		}
	}()

	if len(wallets) == 0 {
		return nil, models.ExecutionFailed(errors.New("agent has no wallet")), false
	}
	signer, err := c.wallets.SigningHandle(wallets[0])
	if err != nil {
		return nil, models.ExecutionFailed(fmt.Errorf("signing handle: %w", err)), false
	}

	amount := opp.AmountIn
	if size := strategy.TradeSize(opp.Confidence); size > 0 {
		amount = size
	}
	expectedOut := opp.ExpectedOut
	if opp.AmountIn > 0 {
		expectedOut = opp.ExpectedOut * amount / opp.AmountIn
	}

	res, err = c.executor.Submit(ctx, service.SubmitRequest{
		OpportunityID:  opp.ID,
		Route:          opp.Route,
		AmountIn:       amount,
		MinAmountOut:   strategy.MinAmountOut(expectedOut),
		ExpectedProfit: opp.NetProfit(),
		Signer:         signer,
	})
	if err != nil {
		return res, models.ExecutionFailed(err), false
	}
	return res, nil, false
}

// selectLocked returns the index of the most profitable qualifying candidate.
func (c *AgentCore) selectLocked(s models.Strategy, now time.Time) int {
	best := -1
	for i, o := range c.candidates {
		if o.Expired(now) || !s.Qualifies(o) {
			continue
		}
		if best < 0 || o.EstimatedProfit > c.candidates[best].EstimatedProfit {
			best = i
		}
	}
	return best
}

func (c *AgentCore) recordLocked(rec *models.ExecutionRecord, strategyID string) {
	m := &c.agent.Metrics
	m.TotalExecutions++
	if rec.Success {
		m.SuccessCount++
		m.ConsecutiveFailures = 0
		c.agent.LastError = ""
	} else {
		m.FailureCount++
		m.ConsecutiveFailures++
		c.agent.LastError = rec.Error
	}
	m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalExecutions) * 100
	m.TotalProfit += rec.Profit
	c.execMsSum += rec.ExecutionTimeMs
	m.AvgExecutionMs = float64(c.execMsSum) / float64(m.TotalExecutions)
	ts := rec.Timestamp
	m.LastExecution = &ts

	p := c.perf[strategyID]
	p.Executions++
	if rec.Success {
		p.Successes++
	} else {
		p.Failures++
	}
	p.TotalProfit += rec.Profit
}

func (c *AgentCore) scheduleCooldownLocked() {
	if c.cooldownT != nil {
		c.cooldownT.Stop()
	}
	c.cooldownT = c.clock.AfterFunc(c.cooldown, c.finishCooldown)
}

func (c *AgentCore) finishCooldown() {
	c.mu.Lock()
	c.cooldownT = nil
	if c.agent.Status != models.StatusCooldown || !c.agent.Active {
		c.mu.Unlock()
		return
	}
	c.setStatusLocked(models.StatusIdle)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// Reset returns an ERROR agent to IDLE and clears its failure streak.
func (c *AgentCore) Reset() error {
	c.mu.Lock()
	if c.agent.Status != models.StatusError {
		err := c.stateErrLocked("reset")
		c.mu.Unlock()
		return err
	}
	c.agent.LastError = ""
	c.agent.Metrics.ConsecutiveFailures = 0
	c.candidates = nil
	c.setStatusLocked(models.StatusIdle)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	c.log.Info("agent reset")
	return nil
}

// Fail moves the agent to ERROR from any status.
func (c *AgentCore) Fail(cause error) {
	c.mu.Lock()
	if cause != nil {
		c.agent.LastError = cause.Error()
	}
	if c.cooldownT != nil {
		c.cooldownT.Stop()
		c.cooldownT = nil
	}
	c.setStatusLocked(models.StatusError)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	c.log.Error("agent failed", logger.Error(cause))
}

func (c *AgentCore) Snapshot() models.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// FirstActiveStrategy returns the first configured strategy marked active.
func (c *AgentCore) FirstActiveStrategy() (models.Strategy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.strategies {
		if s.Active {
			return s, true
		}
	}
	return models.Strategy{}, false
}

func (c *AgentCore) Strategies() []models.Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.strategies)
}

func (c *AgentCore) Performance() []models.StrategyPerformance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.StrategyPerformance, 0, len(c.perf))
	for _, p := range c.perf {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}

func (c *AgentCore) Candidates() []models.Opportunity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.candidates)
}

func (c *AgentCore) strategyLocked(id string) (models.Strategy, bool) {
	for _, s := range c.strategies {
		if s.ID == id && s.Active {
			return s, true
		}
	}
	return models.Strategy{}, false
}

// setStatusLocked applies a transition. Disallowed moves are a bug in the
// caller and park the agent in ERROR.
func (c *AgentCore) setStatusLocked(next models.AgentStatus) {
	if !c.agent.Status.CanTransition(next) {
		c.agent.LastError = fmt.Sprintf("illegal transition %s -> %s", c.agent.Status, next)
		next = models.StatusError
	}
	c.agent.Status = next
	c.touchLocked()
}

func (c *AgentCore) touchLocked() { c.agent.UpdatedAt = c.clock.Now() }

func (c *AgentCore) stateErrLocked(op string) error {
	return &models.StateError{AgentID: c.agent.ID, Op: op, Status: c.agent.Status, Active: c.agent.Active}
}

func (c *AgentCore) snapshotLocked() models.Agent {
	a := c.agent
	a.Wallets = slices.Clone(c.agent.Wallets)
	if c.agent.Metrics.LastExecution != nil {
		ts := *c.agent.Metrics.LastExecution
		a.Metrics.LastExecution = &ts
	}
	return a
}

func (c *AgentCore) notify(a models.Agent) {
	c.metrics.RecordAgentStatus(a.ID, a.Status)
	c.mu.Lock()
	observers := slices.Clone(c.observers)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(a)
	}
}
