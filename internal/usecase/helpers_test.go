package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/domain/service"
	"AgentFlow/pkg/logger"
	"AgentFlow/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func testMetrics() *metrics.Recorder {
	return metrics.NewWithRegistry(prometheus.NewRegistry())
}

func testLogger() *logger.Logger { return logger.Nop() }

type fakeSigner struct{ key string }

func (s fakeSigner) PublicKey() string { return s.key }

func (s fakeSigner) Sign(msg []byte) ([]byte, error) {
	return append([]byte(s.key+":"), msg...), nil
}

type fakeWallets struct{ missing map[string]bool }

func (w fakeWallets) SigningHandle(id string) (service.Signer, error) {
	if w.missing[id] {
		return nil, models.NotFoundf("wallet %s", id)
	}
	return fakeSigner{key: id}, nil
}

type fakeOutcome struct {
	res   *service.SubmitResult
	err   error
	panic bool
}

// fakeExecutor replays queued outcomes, then succeeds with the expected profit.
type fakeExecutor struct {
	mu       sync.Mutex
	outcomes []fakeOutcome
	calls    []service.SubmitRequest
}

func (f *fakeExecutor) queue(o ...fakeOutcome) {
	f.mu.Lock()
	f.outcomes = append(f.outcomes, o...)
	f.mu.Unlock()
}

func (f *fakeExecutor) Submit(_ context.Context, req service.SubmitRequest) (*service.SubmitResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	var next *fakeOutcome
	if len(f.outcomes) > 0 {
		next = &f.outcomes[0]
		f.outcomes = f.outcomes[1:]
	}
	f.mu.Unlock()

	if next == nil {
		return &service.SubmitResult{Signature: fmt.Sprintf("sig-%d", n), Success: true, Profit: req.ExpectedProfit}, nil
	}
	if next.panic {
		panic("executor exploded")
	}
	return next.res, next.err
}

func (f *fakeExecutor) requests() []service.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]service.SubmitRequest(nil), f.calls...)
}

func opportunity(id string, profit, confidence float64, expires time.Time) models.Opportunity {
	return models.Opportunity{
		ID:              id,
		Pair:            "SOL/USDC",
		Route:           []models.Hop{{Venue: "orca", Pool: "p1"}, {Venue: "raydium", Pool: "p2"}},
		AmountIn:        10,
		ExpectedOut:     10 + profit,
		EstimatedProfit: profit,
		EstimatedFees:   0.001,
		Confidence:      confidence,
		ExpirationTime:  expires,
	}
}

// staticScanner returns a fresh copy of its current list on every scan.
type staticScanner struct {
	mu    sync.Mutex
	opps  []models.Opportunity
	err   error
	calls int
}

func (s *staticScanner) set(opps ...models.Opportunity) {
	s.mu.Lock()
	s.opps = opps
	s.mu.Unlock()
}

func (s *staticScanner) Scan(context.Context, models.Agent) ([]models.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.Opportunity(nil), s.opps...), nil
}
