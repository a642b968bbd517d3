package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"AgentFlow/internal/domain/models"
	drepo "AgentFlow/internal/domain/repository"
	"AgentFlow/internal/domain/service"
	"AgentFlow/pkg/logger"
	"AgentFlow/pkg/scheduler"

	"github.com/jonboulle/clockwork"
)

const (
	ComponentCoordinator = "coordinator"

	defaultScanInterval    = 10 * time.Second
	defaultMinNetProfitPct = 0.85
	defaultPendingCap      = 10 * time.Minute

	errKindDiscover  = "discover"
	errKindExecution = "execution"
	errKindTimeout   = "timeout"
)

// ExecutionCoordinator discovers opportunities across monitored pairs and
// submits at most one at a time. Submissions become pending transactions
// that are polled on later cycles until they resolve or age out.
type ExecutionCoordinator struct {
	discoverer service.Discoverer
	executor   service.ExecutionService
	chain      service.ChainStatus
	wallets    service.WalletProvider
	walletID   string

	pairs           []models.VenuePair
	minNetProfitPct float64
	pendingCap      time.Duration
	slippageBp      int
	interval        time.Duration

	bus     *SignalBus
	cache   drepo.StateCache
	metrics drepo.Metrics
	log     *logger.Logger
	clock   clockwork.Clock
	ticker  *scheduler.Ticker

	executing atomic.Bool

	mu      sync.Mutex
	pending map[string]*models.PendingTransaction
	stats   models.CoordinatorStats
}

type CoordinatorOption func(*ExecutionCoordinator)

func WithPairs(pairs ...models.VenuePair) CoordinatorOption {
	return func(c *ExecutionCoordinator) { c.pairs = append(c.pairs, pairs...) }
}

// WithMinNetProfitPct sets the net profit floor, in percent of the input amount.
func WithMinNetProfitPct(pct float64) CoordinatorOption {
	return func(c *ExecutionCoordinator) { c.minNetProfitPct = pct }
}

// WithPendingCap bounds how long a submitted transaction is polled.
func WithPendingCap(d time.Duration) CoordinatorOption {
	return func(c *ExecutionCoordinator) {
		if d > 0 {
			c.pendingCap = d
		}
	}
}

func WithScanInterval(d time.Duration) CoordinatorOption {
	return func(c *ExecutionCoordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithCoordinatorSlippage(bps int) CoordinatorOption {
	return func(c *ExecutionCoordinator) { c.slippageBp = bps }
}

// WithCoordinatorWallet signs submissions with walletID.
func WithCoordinatorWallet(wallets service.WalletProvider, walletID string) CoordinatorOption {
	return func(c *ExecutionCoordinator) {
		c.wallets = wallets
		c.walletID = walletID
	}
}

func WithCoordinatorClock(clock clockwork.Clock) CoordinatorOption {
	return func(c *ExecutionCoordinator) { c.clock = clock }
}

func WithCoordinatorCache(cache drepo.StateCache) CoordinatorOption {
	return func(c *ExecutionCoordinator) { c.cache = cache }
}

func NewExecutionCoordinator(
	discoverer service.Discoverer,
	executor service.ExecutionService,
	chain service.ChainStatus,
	bus *SignalBus,
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...CoordinatorOption,
) *ExecutionCoordinator {
	c := &ExecutionCoordinator{
		discoverer:      discoverer,
		executor:        executor,
		chain:           chain,
		bus:             bus,
		metrics:         metrics,
		log:             log.Named(ComponentCoordinator),
		clock:           clockwork.NewRealClock(),
		minNetProfitPct: defaultMinNetProfitPct,
		pendingCap:      defaultPendingCap,
		slippageBp:      50,
		interval:        defaultScanInterval,
		pending:         make(map[string]*models.PendingTransaction),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ticker = scheduler.New(c.clock, c.interval)
	return c
}

// Start begins the scan cycle. It is a no-op when already running.
func (c *ExecutionCoordinator) Start(ctx context.Context) {
	if c.ticker.Start(ctx, c.RunCycle) {
		c.log.Info("coordinator started",
			logger.Int("pairs", len(c.pairs)),
			logger.Float64("min_net_profit_pct", c.minNetProfitPct),
			logger.Duration("pending_cap", c.pendingCap),
		)
	}
}

// Stop halts new cycles. A submission in flight is not aborted.
func (c *ExecutionCoordinator) Stop() {
	if c.ticker.Stop() {
		c.log.Info("coordinator stopped")
	}
}

func (c *ExecutionCoordinator) Running() bool { return c.ticker.Running() }

// RunCycle polls pending transactions, then discovers and possibly submits
// the best opportunity.
func (c *ExecutionCoordinator) RunCycle(ctx context.Context) {
	c.pollPending(ctx)

	candidates := c.discover(ctx)
	best, ok := c.selectBest(candidates)

	c.mu.Lock()
	c.stats.Cycles++
	c.stats.LastCycle = c.clock.Now()
	c.mu.Unlock()

	if ok {
		c.bus.Publish(coordinatorOpportunitySignal(best))
		c.tryExecute(ctx, best)
	}
	c.publishStats(ctx)
}

func (c *ExecutionCoordinator) discover(ctx context.Context) []models.Opportunity {
	var found []models.Opportunity
	for _, pair := range c.pairs {
		opps, err := c.discoverer.Discover(ctx, pair)
		if err != nil {
			c.metrics.RecordError("coordinator_discover")
			c.noteError(errKindDiscover, err)
			c.log.Warn("discover failed", logger.String("pair", pair.Pair), logger.String("source", pair.SourceVenue), logger.String("dest", pair.DestVenue), logger.Error(err))
			continue
		}
		found = append(found, opps...)
	}
	return found
}

// selectBest drops expired and below-threshold candidates and returns the
// one with the highest net profit percentage.
func (c *ExecutionCoordinator) selectBest(opps []models.Opportunity) (models.Opportunity, bool) {
	now := c.clock.Now()
	var (
		best      models.Opportunity
		ok        bool
		qualified int
	)
	for _, o := range opps {
		if o.Expired(now) || o.NetProfitPct() < c.minNetProfitPct {
			continue
		}
		qualified++
		if !ok || o.NetProfitPct() > best.NetProfitPct() {
			best, ok = o, true
		}
	}

	c.mu.Lock()
	c.stats.OpportunitiesFound += int64(len(opps))
	c.stats.OpportunitiesFiltered += int64(len(opps) - qualified)
	c.mu.Unlock()
	c.metrics.RecordCoordinatorCycle(len(opps), qualified)
	return best, ok
}

func (c *ExecutionCoordinator) tryExecute(ctx context.Context, opp models.Opportunity) {
	if !c.executing.CompareAndSwap(false, true) {
		c.mu.Lock()
		c.stats.SkippedLocked++
		c.mu.Unlock()
		c.metrics.RecordSubmission("skipped_locked")
		c.log.Debug("execution in flight, skipping cycle", logger.String("opportunity", opp.ID))
		return
	}
	defer c.executing.Store(false)

	if opp.Expired(c.clock.Now()) {
		c.metrics.RecordSubmission("expired")
		return
	}

	err := c.submit(ctx, opp)
	if err != nil {
		c.mu.Lock()
		c.stats.SubmitErrors++
		c.mu.Unlock()
		c.noteError(errKindExecution, err)
		c.metrics.RecordSubmission("error")
		c.metrics.RecordError("coordinator_submit")
		c.log.Error("submission failed, dropping opportunity",
			logger.String("opportunity", opp.ID),
			logger.Float64("net_profit_pct", opp.NetProfitPct()),
			logger.Error(err),
		)
		return
	}
	c.metrics.RecordSubmission("submitted")
}

func (c *ExecutionCoordinator) submit(ctx context.Context, opp models.Opportunity) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = models.ExecutionFailed(fmt.Errorf("panic: %v", r))
		}
	}()

	var signer service.Signer
	if c.wallets != nil {
		if signer, err = c.wallets.SigningHandle(c.walletID); err != nil {
			return models.ExecutionFailed(fmt.Errorf("signing handle: %w", err))
		}
	}

	start := c.clock.Now()
	res, err := c.executor.Submit(ctx, service.SubmitRequest{
		OpportunityID:  opp.ID,
		Route:          opp.Route,
		AmountIn:       opp.AmountIn,
		MinAmountOut:   opp.ExpectedOut * (1 - float64(c.slippageBp)/10000),
		ExpectedProfit: opp.NetProfit(),
		Signer:         signer,
	})
	c.metrics.RecordLatency("coordinator_submit", c.clock.Since(start).Seconds())
	if err != nil {
		return models.ExecutionFailed(err)
	}
	if res == nil || res.Signature == "" {
		return models.ExecutionFailed(fmt.Errorf("no signature for %s", opp.ID))
	}
	if !res.Success {
		return models.ExecutionFailed(fmt.Errorf("submission %s rejected for %s", res.Signature, opp.ID))
	}

	venue := ""
	if len(opp.Route) > 0 {
		venue = opp.Route[0].Venue
	}
	c.mu.Lock()
	c.pending[res.Signature] = &models.PendingTransaction{
		TxID:           res.Signature,
		OpportunityID:  opp.ID,
		Venue:          venue,
		ExpectedProfit: opp.NetProfit(),
		StartTime:      c.clock.Now(),
		Status:         models.TxPending,
	}
	c.stats.Submitted++
	n := len(c.pending)
	c.mu.Unlock()
	c.metrics.RecordPending(n)

	c.log.Info("opportunity submitted",
		logger.String("opportunity", opp.ID),
		logger.String("signature", res.Signature),
		logger.Float64("net_profit_pct", opp.NetProfitPct()),
	)
	return nil
}

func (c *ExecutionCoordinator) pollPending(ctx context.Context) {
	c.mu.Lock()
	txs := make([]models.PendingTransaction, 0, len(c.pending))
	for _, p := range c.pending {
		txs = append(txs, *p)
	}
	c.mu.Unlock()

	now := c.clock.Now()
	for _, tx := range txs {
		if now.Sub(tx.StartTime) > c.pendingCap {
			err := fmt.Errorf("transaction %s unresolved after %s: %w", tx.TxID, c.pendingCap, models.ErrTimeout)
			if c.resolve(tx, models.TxFailed) {
				c.metrics.RecordError("pending_timeout")
				c.noteError(errKindTimeout, err)
				c.log.Warn("pending transaction timed out", logger.String("signature", tx.TxID), logger.Error(err))
			}
			continue
		}

		status, err := c.chain.TransactionStatus(ctx, tx.TxID)
		if err != nil {
			c.metrics.RecordError("pending_poll")
			c.log.Warn("poll transaction status", logger.String("signature", tx.TxID), logger.Error(err))
			continue
		}
		if status.Succeeded() || status == models.TxFailed {
			c.resolve(tx, status)
		}
	}
}

// resolve removes tx from the pending set and counts its outcome. It reports
// false when another cycle already resolved it.
func (c *ExecutionCoordinator) resolve(tx models.PendingTransaction, status models.TxStatus) bool {
	c.mu.Lock()
	if _, ok := c.pending[tx.TxID]; !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, tx.TxID)
	if status.Succeeded() {
		c.stats.SuccessfulExecutions++
		c.stats.TotalProfit += tx.ExpectedProfit
	} else {
		c.stats.FailedExecutions++
	}
	n := len(c.pending)
	c.mu.Unlock()

	c.metrics.RecordPendingResolved(status)
	c.metrics.RecordPending(n)
	c.log.Info("pending transaction resolved", logger.String("signature", tx.TxID), logger.String("status", string(status)))
	return true
}

// noteError keeps the most recent failure for the status signal.
func (c *ExecutionCoordinator) noteError(kind string, err error) {
	c.mu.Lock()
	c.stats.LastError = err.Error()
	c.stats.LastErrorKind = kind
	c.mu.Unlock()
}

func (c *ExecutionCoordinator) Stats() models.CoordinatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Pending = len(c.pending)
	s.Executing = c.executing.Load()
	return s
}

func (c *ExecutionCoordinator) Pending() []models.PendingTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.PendingTransaction, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, *p)
	}
	return out
}

func (c *ExecutionCoordinator) publishStats(ctx context.Context) {
	s := c.Stats()
	if c.cache != nil {
		if err := c.cache.PutCoordinatorStats(ctx, s); err != nil {
			c.log.Warn("cache coordinator stats", logger.Error(err))
		}
	}
	c.bus.Publish(models.Signal{
		Type:      models.SignalCoordinatorStatus,
		Direction: models.DirectionNeutral,
		Source:    ComponentCoordinator,
		Metadata: map[string]interface{}{
			"cycles":        s.Cycles,
			"submitted":     s.Submitted,
			"pending":       s.Pending,
			"successful":    s.SuccessfulExecutions,
			"failed":        s.FailedExecutions,
			"skipped":       s.SkippedLocked,
			"submitErrors":  s.SubmitErrors,
			"lastError":     s.LastError,
			"lastErrorKind": s.LastErrorKind,
		},
	})
}

func coordinatorOpportunitySignal(o models.Opportunity) models.Signal {
	return models.Signal{
		Pair:       o.Pair,
		Type:       models.SignalOpportunity,
		Strength:   o.NetProfitPct(),
		Direction:  models.DirectionBullish,
		Confidence: o.Confidence * 100,
		Source:     ComponentCoordinator,
		Metadata: map[string]interface{}{
			"opportunityId": o.ID,
			"netProfitPct":  o.NetProfitPct(),
			"hops":          len(o.Route),
		},
	}
}
