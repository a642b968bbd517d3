package quotes

import (
	"context"
	"fmt"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/pkg/logger"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type Option func(*Discoverer)

func WithQuoteTTL(d time.Duration) Option {
	return func(q *Discoverer) { q.ttl = d }
}

func WithClock(c clockwork.Clock) Option {
	return func(q *Discoverer) { q.clock = c }
}

// Discoverer prices a round trip base->quote on the source venue and
// quote->base on the destination venue.
type Discoverer struct {
	source   Source
	amountIn decimal.Decimal
	ttl      time.Duration
	clock    clockwork.Clock
	log      *logger.Logger
}

func NewDiscoverer(source Source, amountIn float64, log *logger.Logger, opts ...Option) *Discoverer {
	d := &Discoverer{
		source:   source,
		amountIn: decimal.NewFromFloat(amountIn),
		ttl:      5 * time.Second,
		clock:    clockwork.NewRealClock(),
		log:      log.Named("quote_discoverer"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover returns at most one opportunity; none when the round trip loses money.
func (d *Discoverer) Discover(ctx context.Context, pair models.VenuePair) ([]models.Opportunity, error) {
	opp, ok, err := d.roundTrip(ctx, pair)
	if err != nil || !ok {
		return nil, err
	}
	return []models.Opportunity{opp}, nil
}

func (d *Discoverer) roundTrip(ctx context.Context, pair models.VenuePair) (models.Opportunity, bool, error) {
	out, err := d.source.Quote(ctx, Request{
		Venue:      pair.SourceVenue,
		InputMint:  pair.BaseMint,
		OutputMint: pair.QuoteMint,
		Amount:     d.amountIn,
	})
	if err != nil {
		return models.Opportunity{}, false, fmt.Errorf("%s outbound leg: %w", pair.Pair, err)
	}
	back, err := d.source.Quote(ctx, Request{
		Venue:      pair.DestVenue,
		InputMint:  pair.QuoteMint,
		OutputMint: pair.BaseMint,
		Amount:     out.OutAmount,
	})
	if err != nil {
		return models.Opportunity{}, false, fmt.Errorf("%s return leg: %w", pair.Pair, err)
	}

	gross := back.OutAmount.Sub(d.amountIn)
	// return-leg fee is quoted in the quote token; convert at the outbound rate
	fees := out.Fee.Add(back.Fee.Mul(d.amountIn).Div(out.OutAmount))
	if !gross.IsPositive() {
		d.log.Debug("round trip unprofitable",
			logger.String("pair", pair.Pair),
			logger.String("gross", gross.String()))
		return models.Opportunity{}, false, nil
	}

	now := d.clock.Now()
	return models.Opportunity{
		ID:   uuid.NewString(),
		Pair: pair.Pair,
		Route: []models.Hop{
			{Venue: pair.SourceVenue, Pool: out.Pool, InputMint: pair.BaseMint, OutputMint: pair.QuoteMint},
			{Venue: pair.DestVenue, Pool: back.Pool, InputMint: pair.QuoteMint, OutputMint: pair.BaseMint},
		},
		AmountIn:        d.amountIn.InexactFloat64(),
		ExpectedOut:     back.OutAmount.InexactFloat64(),
		EstimatedProfit: gross.InexactFloat64(),
		EstimatedFees:   fees.InexactFloat64(),
		Confidence:      confidence(out.PriceImpactPct, back.PriceImpactPct),
		DiscoveredAt:    now,
		ExpirationTime:  now.Add(d.ttl),
	}, true, nil
}

// confidence falls linearly with the worse leg's price impact, reaching 0 at 10%.
func confidence(impacts ...decimal.Decimal) float64 {
	worst := decimal.Zero
	for _, i := range impacts {
		if i.Abs().GreaterThan(worst) {
			worst = i.Abs()
		}
	}
	c := decimal.NewFromInt(1).Sub(worst.Mul(decimal.NewFromInt(10)).Div(hundred))
	if c.IsNegative() {
		return 0
	}
	return c.InexactFloat64()
}
