package usecase

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"AgentFlow/internal/domain/models"
	drepo "AgentFlow/internal/domain/repository"
	"AgentFlow/pkg/logger"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	// ChannelSignal carries every signal.
	ChannelSignal = "signal"

	defaultBusBuffer = 200
)

// TypeChannel is the channel carrying signals of one type.
func TypeChannel(signalType string) string { return ChannelSignal + ":" + signalType }

// SignalHandler receives a signal delivered on channel. A returned error or
// panic is logged and never reaches the publisher.
type SignalHandler func(channel string, s models.Signal) error

// SignalBus is an in-memory pub/sub with component targeting and a bounded
// buffer of recent signals for late readers.
type SignalBus struct {
	log     *logger.Logger
	metrics drepo.Metrics
	clock   clockwork.Clock

	mu       sync.RWMutex
	capacity int
	recent   []models.Signal
	subs     []*subscriber
}

type subscriber struct {
	models.Subscription
	channels []string // empty: ChannelSignal and every type channel
	fn       SignalHandler
}

func (s *subscriber) listens(channel string) bool {
	return len(s.channels) == 0 || slices.Contains(s.channels, channel)
}

type BusOption func(*SignalBus)

// WithBusBuffer bounds the recent-signal buffer.
func WithBusBuffer(n int) BusOption {
	return func(b *SignalBus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

func WithBusClock(c clockwork.Clock) BusOption {
	return func(b *SignalBus) { b.clock = c }
}

func NewSignalBus(log *logger.Logger, metrics drepo.Metrics, opts ...BusOption) *SignalBus {
	b := &SignalBus{
		log:      log.Named("signal_bus"),
		metrics:  metrics,
		clock:    clockwork.NewRealClock(),
		capacity: defaultBusBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.recent = make([]models.Signal, 0, b.capacity)
	return b
}

// SubscriptionHandle detaches a subscriber. Unsubscribe may be called any
// number of times.
type SubscriptionHandle struct {
	id   string
	once sync.Once
	bus  *SignalBus
}

func (h *SubscriptionHandle) ID() string { return h.id }

func (h *SubscriptionHandle) Unsubscribe() {
	if h == nil {
		return
	}
	h.once.Do(func() { h.bus.remove(h.id) })
}

// Subscribe registers fn for component. With no channels given the
// subscriber listens on ChannelSignal and on the type channel of every
// signal, so fn runs twice per delivered signal.
func (b *SignalBus) Subscribe(component string, filter models.SignalFilter, fn SignalHandler, channels ...string) *SubscriptionHandle {
	s := &subscriber{
		Subscription: models.Subscription{ID: uuid.NewString(), Component: component, Filter: filter},
		channels:     channels,
		fn:           fn,
	}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	b.log.Debug("subscribed",
		logger.String("component", component),
		logger.String("subscription", s.ID),
		logger.Strings("channels", s.channelNames()),
	)
	return &SubscriptionHandle{id: s.ID, bus: b}
}

func (s *subscriber) channelNames() []string {
	if len(s.channels) == 0 {
		return []string{ChannelSignal, TypeChannel("*")}
	}
	return s.channels
}

func (b *SignalBus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s *subscriber) bool { return s.ID == id })
}

// Publish records s and delivers it on ChannelSignal and TypeChannel(s.Type)
// to every targeted subscriber. It returns the stored signal with id and
// timestamp filled in.
func (b *SignalBus) Publish(s models.Signal) models.Signal {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = b.clock.Now()
	}

	b.mu.Lock()
	if len(b.recent) >= b.capacity {
		copy(b.recent, b.recent[1:])
		b.recent = b.recent[:len(b.recent)-1]
	}
	b.recent = append(b.recent, s)
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if s.Targets(sub.Component) && sub.Filter.Match(s) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	b.metrics.RecordSignalPublished(s.Type)

	typed := TypeChannel(s.Type)
	for _, sub := range targets {
		for _, ch := range []string{ChannelSignal, typed} {
			if sub.listens(ch) {
				b.deliver(sub, ch, s)
			}
		}
	}
	return s
}

func (b *SignalBus) deliver(sub *subscriber, channel string, s models.Signal) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordSubscriberPanic(sub.Component)
			b.log.Error("subscriber panicked",
				logger.String("component", sub.Component),
				logger.String("channel", channel),
				logger.String("signal", s.ID),
				logger.Error(fmt.Errorf("panic: %v", r)),
			)
		}
	}()

	if err := sub.fn(channel, s); err != nil {
		b.metrics.RecordError("subscriber_callback")
		b.log.Warn("subscriber callback failed",
			logger.String("component", sub.Component),
			logger.String("channel", channel),
			logger.String("signal", s.ID),
			logger.Error(err),
		)
		return
	}
	b.metrics.RecordSignalDelivered(sub.Component)
}

// Recent returns up to limit buffered signals matching filter, oldest first.
// A zero since disables the time bound.
func (b *SignalBus) Recent(filter models.SignalFilter, since time.Time, limit int) []models.Signal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.Signal, 0, len(b.recent))
	for _, s := range b.recent {
		if !since.IsZero() && s.Timestamp.Before(since) {
			continue
		}
		if filter.Match(s) {
			out = append(out, s)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Components lists the distinct subscribed component names.
func (b *SignalBus) Components() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{}, len(b.subs))
	for _, s := range b.subs {
		seen[s.Component] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (b *SignalBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
