package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/domain/service"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDiscoverer struct {
	mu   sync.Mutex
	opps []models.Opportunity
	err  error
}

func (d *fakeDiscoverer) set(opps ...models.Opportunity) {
	d.mu.Lock()
	d.opps = opps
	d.mu.Unlock()
}

func (d *fakeDiscoverer) Discover(context.Context, models.VenuePair) ([]models.Opportunity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Opportunity(nil), d.opps...), d.err
}

type fakeChain struct {
	mu       sync.Mutex
	statuses map[string]models.TxStatus
	polls    int
}

func (c *fakeChain) set(sig string, st models.TxStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statuses == nil {
		c.statuses = map[string]models.TxStatus{}
	}
	c.statuses[sig] = st
}

func (c *fakeChain) TransactionStatus(_ context.Context, sig string) (models.TxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if st, ok := c.statuses[sig]; ok {
		return st, nil
	}
	return models.TxPending, nil
}

// blockingExecutor holds every submission until release is closed and
// records the highest number of concurrent submissions.
type blockingExecutor struct {
	entered  chan struct{}
	release  chan struct{}
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (b *blockingExecutor) Submit(_ context.Context, req service.SubmitRequest) (*service.SubmitResult, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		m := b.maxSeen.Load()
		if n <= m || b.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	b.calls.Add(1)
	b.entered <- struct{}{}
	<-b.release
	return &service.SubmitResult{Signature: "sig-" + req.OpportunityID, Success: true}, nil
}

// pct builds an opportunity with the given net profit percent on 100 units.
func pct(id string, netPct float64, expires time.Time) models.Opportunity {
	return models.Opportunity{
		ID:              id,
		Pair:            "SOL/USDC",
		Route:           []models.Hop{{Venue: "orca"}, {Venue: "raydium"}},
		AmountIn:        100,
		ExpectedOut:     100 + netPct,
		EstimatedProfit: netPct,
		Confidence:      0.9,
		ExpirationTime:  expires,
	}
}

type coordFixture struct {
	clock clockwork.FakeClock
	disc  *fakeDiscoverer
	chain *fakeChain
	exec  *fakeExecutor
	bus   *SignalBus
	coord *ExecutionCoordinator
}

func newCoordFixture(t *testing.T, exec service.ExecutionService, opts ...CoordinatorOption) *coordFixture {
	t.Helper()
	f := &coordFixture{
		clock: clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		disc:  &fakeDiscoverer{},
		chain: &fakeChain{},
	}
	if exec == nil {
		f.exec = &fakeExecutor{}
		exec = f.exec
	}
	f.bus = NewSignalBus(testLogger(), testMetrics())
	opts = append([]CoordinatorOption{
		WithCoordinatorClock(f.clock),
		WithPairs(models.VenuePair{Pair: "SOL/USDC", SourceVenue: "orca", DestVenue: "raydium"}),
		WithMinNetProfitPct(0.85),
		WithPendingCap(10 * time.Minute),
		WithCoordinatorWallet(fakeWallets{}, "hot"),
	}, opts...)
	f.coord = NewExecutionCoordinator(f.disc, exec, f.chain, f.bus, testMetrics(), testLogger(), opts...)
	t.Cleanup(f.coord.Stop)
	return f
}

func (f *coordFixture) future() time.Time { return f.clock.Now().Add(time.Minute) }

// lastStatus returns the metadata of the latest coordinator_status signal.
func lastStatus(t *testing.T, rec *recorder) map[string]interface{} {
	t.Helper()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i := len(rec.sigs) - 1; i >= 0; i-- {
		if rec.sigs[i].Type == models.SignalCoordinatorStatus {
			return rec.sigs[i].Metadata
		}
	}
	t.Fatal("no coordinator status published")
	return nil
}

func TestCoordinatorExecutesAboveThreshold(t *testing.T) {
	f := newCoordFixture(t, nil)
	f.disc.set(pct("ok", 0.9, f.future()))

	f.coord.RunCycle(context.Background())

	reqs := f.exec.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "ok", reqs[0].OpportunityID)
	assert.Equal(t, "hot", reqs[0].Signer.PublicKey())
	s := f.coord.Stats()
	assert.EqualValues(t, 1, s.Submitted)
	assert.Equal(t, 1, s.Pending)
	assert.False(t, s.Executing)
}

func TestCoordinatorSkipsBelowThreshold(t *testing.T) {
	f := newCoordFixture(t, nil)
	f.disc.set(pct("thin", 0.5, f.future()), pct("stale", 2.0, f.clock.Now()))

	f.coord.RunCycle(context.Background())

	assert.Empty(t, f.exec.requests())
	s := f.coord.Stats()
	assert.EqualValues(t, 2, s.OpportunitiesFound)
	assert.EqualValues(t, 2, s.OpportunitiesFiltered)
	assert.Zero(t, s.Submitted)
}

func TestCoordinatorPicksHighestNetPct(t *testing.T) {
	f := newCoordFixture(t, nil)
	f.disc.set(pct("a", 1.0, f.future()), pct("b", 1.7, f.future()), pct("c", 0.9, f.future()))

	f.coord.RunCycle(context.Background())

	reqs := f.exec.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "b", reqs[0].OpportunityID)
}

func TestCoordinatorSubmitErrorDropsOpportunity(t *testing.T) {
	f := newCoordFixture(t, nil)
	f.exec.queue(fakeOutcome{err: errors.New("blockhash expired")}, fakeOutcome{panic: true})
	f.disc.set(pct("ok", 0.9, f.future()))

	f.coord.RunCycle(context.Background())
	f.coord.RunCycle(context.Background())

	s := f.coord.Stats()
	assert.EqualValues(t, 2, s.SubmitErrors)
	assert.Zero(t, s.Pending)
	assert.False(t, s.Executing)

	f.coord.RunCycle(context.Background())
	assert.Equal(t, 1, f.coord.Stats().Pending)
}

func TestCoordinatorRejectedSubmissionDropped(t *testing.T) {
	f := newCoordFixture(t, nil)
	f.exec.queue(fakeOutcome{res: &service.SubmitResult{Signature: "sig-ok", Success: false}})
	f.disc.set(pct("ok", 0.9, f.future()))

	f.coord.RunCycle(context.Background())

	s := f.coord.Stats()
	assert.Zero(t, s.Submitted)
	assert.Zero(t, s.Pending)
	assert.EqualValues(t, 1, s.SubmitErrors)
	assert.Empty(t, f.coord.Pending())
	assert.Equal(t, "execution", s.LastErrorKind)
	assert.Contains(t, s.LastError, "sig-ok")
}

func TestCoordinatorStatusCarriesErrors(t *testing.T) {
	f := newCoordFixture(t, nil)
	var rec recorder
	f.bus.Subscribe("watcher", models.SignalFilter{}, rec.handle, ChannelSignal)

	f.exec.queue(fakeOutcome{err: errors.New("blockhash expired")})
	f.disc.set(pct("ok", 0.9, f.future()))
	f.coord.RunCycle(context.Background())

	meta := lastStatus(t, &rec)
	assert.EqualValues(t, 1, meta["submitErrors"])
	assert.Equal(t, "execution", meta["lastErrorKind"])
	assert.Contains(t, meta["lastError"], "blockhash expired")

	f.disc.err = errors.New("quote source down")
	f.coord.RunCycle(context.Background())
	meta = lastStatus(t, &rec)
	assert.Equal(t, "discover", meta["lastErrorKind"])
	assert.Contains(t, meta["lastError"], "quote source down")
}

func TestCoordinatorSingleExecutionInFlight(t *testing.T) {
	exec := &blockingExecutor{entered: make(chan struct{}, 16), release: make(chan struct{})}
	f := newCoordFixture(t, exec)
	f.disc.set(pct("ok", 0.9, f.future()))

	done := make(chan struct{})
	go func() {
		f.coord.RunCycle(context.Background())
		close(done)
	}()
	<-exec.entered
	assert.True(t, f.coord.Stats().Executing)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.coord.RunCycle(context.Background())
		}()
	}
	wg.Wait()

	close(exec.release)
	<-done

	assert.EqualValues(t, 1, exec.calls.Load())
	assert.EqualValues(t, 1, exec.maxSeen.Load())
	s := f.coord.Stats()
	assert.EqualValues(t, 8, s.SkippedLocked)
	assert.False(t, s.Executing)
}

func TestCoordinatorResolvesPending(t *testing.T) {
	f := newCoordFixture(t, nil)
	f.exec.queue(
		fakeOutcome{res: &service.SubmitResult{Signature: "good", Success: true}},
		fakeOutcome{res: &service.SubmitResult{Signature: "bad", Success: true}},
	)
	f.disc.set(pct("ok", 0.9, f.future()))
	f.coord.RunCycle(context.Background())
	f.coord.RunCycle(context.Background())
	require.Equal(t, 2, f.coord.Stats().Pending)

	f.disc.set()
	f.chain.set("good", models.TxFinalized)
	f.chain.set("bad", models.TxFailed)
	f.coord.RunCycle(context.Background())

	s := f.coord.Stats()
	assert.Zero(t, s.Pending)
	assert.EqualValues(t, 1, s.SuccessfulExecutions)
	assert.EqualValues(t, 1, s.FailedExecutions)
	assert.InDelta(t, 0.9, s.TotalProfit, 1e-9)
}

func TestCoordinatorPendingCap(t *testing.T) {
	f := newCoordFixture(t, nil)
	f.disc.set(pct("ok", 0.9, f.future()))
	f.coord.RunCycle(context.Background())
	require.Equal(t, 1, f.coord.Stats().Pending)
	f.disc.set()

	f.clock.Advance(9 * time.Minute)
	f.coord.RunCycle(context.Background())
	assert.Equal(t, 1, f.coord.Stats().Pending)

	f.clock.Advance(2 * time.Minute)
	f.coord.RunCycle(context.Background())
	f.coord.RunCycle(context.Background())

	s := f.coord.Stats()
	assert.Zero(t, s.Pending)
	assert.EqualValues(t, 1, s.FailedExecutions)
	assert.Zero(t, s.SuccessfulExecutions)
	assert.Equal(t, "timeout", s.LastErrorKind)
	assert.Contains(t, s.LastError, "sig-1")
}

func TestCoordinatorTicker(t *testing.T) {
	f := newCoordFixture(t, nil, WithScanInterval(time.Second))
	f.disc.set(pct("ok", 0.9, f.future()))

	f.coord.Start(context.Background())
	f.coord.Start(context.Background())
	f.clock.BlockUntil(1)
	f.clock.Advance(time.Second)

	assert.Eventually(t, func() bool { return f.coord.Stats().Cycles == 1 }, time.Second, 5*time.Millisecond)
	f.coord.Stop()
	assert.False(t, f.coord.Running())
}
