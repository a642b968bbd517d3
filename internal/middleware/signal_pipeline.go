package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	"AgentFlow/internal/service/cache"
	"AgentFlow/internal/service/ratelimit"
	"AgentFlow/pkg/logger"

	"github.com/jonboulle/clockwork"
)

var (
	ErrInvalidSignal   = errors.New("invalid signal")
	ErrDuplicateSignal = errors.New("duplicate signal")
	ErrRateLimited     = errors.New("signal source rate limited")
)

const pruneEvery = 256

// Publisher is where accepted signals go; *usecase.SignalBus satisfies it.
type Publisher interface {
	Publish(s models.Signal) models.Signal
}

// SignalPipeline guards the bus against external input: it validates,
// drops repeats of the same pair/type/source inside the dedupe window and
// throttles each source before publishing.
type SignalPipeline struct {
	pub     Publisher
	metrics domrepo.Metrics
	log     *logger.Logger
	clock   clockwork.Clock

	dedupeWindow time.Duration
	burst        float64
	perSec       float64

	seen    *cache.TTLCache
	limiter *ratelimit.Limiter
	count   atomic.Int64
}

type PipelineOption func(*SignalPipeline)

// WithDedupeWindow sets how long a pair/type/source key suppresses repeats.
// Zero disables de-duplication.
func WithDedupeWindow(d time.Duration) PipelineOption {
	return func(p *SignalPipeline) { p.dedupeWindow = d }
}

// WithSourceRate sets the per-source token bucket. A zero burst disables it.
func WithSourceRate(burst, perSec float64) PipelineOption {
	return func(p *SignalPipeline) {
		p.burst = burst
		p.perSec = perSec
	}
}

func WithPipelineClock(c clockwork.Clock) PipelineOption {
	return func(p *SignalPipeline) { p.clock = c }
}

func NewSignalPipeline(pub Publisher, metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *SignalPipeline {
	p := &SignalPipeline{
		pub:          pub,
		metrics:      metrics,
		log:          log.Named("signal_pipeline"),
		clock:        clockwork.NewRealClock(),
		dedupeWindow: 30 * time.Minute,
		burst:        20,
		perSec:       5,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.seen = cache.NewTTLCache(p.clock)
	p.limiter = ratelimit.New(p.clock, p.burst, p.perSec)
	return p
}

// Process admits s onto the bus. Rejections are returned as ErrInvalidSignal,
// ErrDuplicateSignal or ErrRateLimited.
func (p *SignalPipeline) Process(_ context.Context, s models.Signal) error {
	start := p.clock.Now()
	if err := ValidateSignal(&s); err != nil {
		p.metrics.RecordSignalDropped("invalid")
		return err
	}
	if !p.limiter.Allow(s.Source) {
		p.metrics.RecordSignalDropped("rate_limited")
		return fmt.Errorf("%w: %s", ErrRateLimited, s.Source)
	}
	if p.dedupeWindow > 0 {
		if p.count.Add(1)%pruneEvery == 0 {
			p.seen.Prune()
		}
		if !p.seen.SetIfAbsent(dedupeKey(s), struct{}{}, p.dedupeWindow) {
			p.metrics.RecordSignalDropped("duplicate")
			return fmt.Errorf("%w: %s", ErrDuplicateSignal, dedupeKey(s))
		}
	}

	p.pub.Publish(s)
	p.metrics.RecordLatency("signal_pipeline", p.clock.Since(start).Seconds())
	return nil
}

func dedupeKey(s models.Signal) string {
	return s.Pair + "|" + s.Type + "|" + s.Source
}

// ValidateSignal checks an externally produced signal and fills the
// neutral direction when none is given.
func ValidateSignal(s *models.Signal) error {
	switch {
	case s.Type == "":
		return fmt.Errorf("%w: type empty", ErrInvalidSignal)
	case s.Pair == "":
		return fmt.Errorf("%w: pair empty", ErrInvalidSignal)
	case s.Source == "":
		return fmt.Errorf("%w: source empty", ErrInvalidSignal)
	case math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 100:
		return fmt.Errorf("%w: confidence %v outside 0..100", ErrInvalidSignal, s.Confidence)
	case math.IsNaN(s.Strength) || s.Strength < 0:
		return fmt.Errorf("%w: strength %v negative", ErrInvalidSignal, s.Strength)
	}
	if s.Direction == "" {
		s.Direction = models.DirectionNeutral
	}
	if !s.Direction.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidSignal, s.Direction)
	}
	return nil
}
