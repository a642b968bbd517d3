package usecase

import (
	"context"
	"errors"

	"AgentFlow/internal/domain/models"
	drepo "AgentFlow/internal/domain/repository"
	"AgentFlow/internal/service/relay"
	"AgentFlow/pkg/logger"
)

const (
	ComponentRelay = "relay"

	// MetaVia marks a signal that arrived from a relay peer.
	MetaVia = "via"
)

// SignalIngestor admits externally produced signals onto the bus.
type SignalIngestor interface {
	Process(ctx context.Context, s models.Signal) error
}

// MessageSender is the outbound side of the relay connection.
type MessageSender interface {
	Send(msg models.Message) error
}

// SignalRelay bridges the bus and the outside world: local signals go to
// the relay peer and the Kafka topic, inbound peer signals go through the
// ingest pipeline.
type SignalRelay struct {
	bus       *SignalBus
	conn      MessageSender
	ingest    SignalIngestor
	publisher drepo.SignalPublisher
	filter    models.SignalFilter
	metrics   drepo.Metrics
	log       *logger.Logger

	handle *SubscriptionHandle
}

type RelayOption func(*SignalRelay)

// WithRelayPublisher also forwards local signals to an external topic.
func WithRelayPublisher(p drepo.SignalPublisher) RelayOption {
	return func(r *SignalRelay) { r.publisher = p }
}

// WithRelayFilter limits which local signals are forwarded.
func WithRelayFilter(f models.SignalFilter) RelayOption {
	return func(r *SignalRelay) { r.filter = f }
}

func NewSignalRelay(bus *SignalBus, conn MessageSender, ingest SignalIngestor, metrics drepo.Metrics, log *logger.Logger, opts ...RelayOption) *SignalRelay {
	r := &SignalRelay{
		bus:     bus,
		conn:    conn,
		ingest:  ingest,
		metrics: metrics,
		log:     log.Named(ComponentRelay),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to the bus. Calling it twice is a no-op.
func (r *SignalRelay) Start() {
	if r.handle != nil {
		return
	}
	r.handle = r.bus.Subscribe(ComponentRelay, r.filter, r.forward, ChannelSignal)
}

func (r *SignalRelay) Stop() {
	r.handle.Unsubscribe()
	r.handle = nil
}

func (r *SignalRelay) forward(_ string, s models.Signal) error {
	if s.Source == ComponentRelay || s.Metadata[MetaVia] == ComponentRelay {
		return nil
	}
	var errs []error
	if r.conn != nil {
		if err := r.conn.Send(models.SignalMessage{Signal: s}); err != nil {
			errs = append(errs, err)
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishSignal(context.Background(), s); err != nil {
			r.metrics.RecordError("signal_publish")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleMessage dispatches one inbound relay frame.
func (r *SignalRelay) HandleMessage(msg models.Message) {
	switch m := msg.(type) {
	case models.SignalMessage:
		s := m.Signal
		if s.Metadata == nil {
			s.Metadata = map[string]interface{}{}
		}
		s.Metadata[MetaVia] = ComponentRelay
		if err := r.ingest.Process(context.Background(), s); err != nil {
			r.log.Debug("inbound signal rejected", logger.String("id", s.ID), logger.Error(err))
		}
	case models.AckMessage:
		r.log.Debug("relay ack", logger.String("ref", m.Ref))
	case models.ErrorMessage:
		r.metrics.RecordError("relay_peer")
	case models.SubscribeMessage, models.UnsubscribeMessage:
		r.log.Debug("ignoring peer control frame", logger.String("kind", string(m.Kind())))
	}
}

// HandleEvent publishes connection state changes as relay status signals.
func (r *SignalRelay) HandleEvent(ev relay.Event) {
	meta := map[string]interface{}{
		"state":   string(ev.Kind),
		"attempt": ev.Attempt,
	}
	if ev.Delay > 0 {
		meta["delayMs"] = ev.Delay.Milliseconds()
	}
	if ev.Err != nil {
		meta["error"] = ev.Err.Error()
	}
	dir := models.DirectionNeutral
	if ev.Kind == relay.EventDisconnectedPermanently {
		dir = models.DirectionBearish
	}
	r.bus.Publish(models.Signal{
		Type:      models.SignalRelayStatus,
		Direction: dir,
		Source:    ComponentRelay,
		Metadata:  meta,
	})
}
