package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"AgentFlow/internal/domain/models"
	drepo "AgentFlow/internal/domain/repository"
	"AgentFlow/pkg/logger"

	"github.com/jonboulle/clockwork"
)

type EventKind string

const (
	EventConnected               EventKind = "connected"
	EventDisconnected            EventKind = "disconnected"
	EventReconnecting            EventKind = "reconnecting"
	EventDisconnectedPermanently EventKind = "disconnected-permanently"
)

// Event reports a connection state change.
type Event struct {
	Kind    EventKind
	Attempt int
	Delay   time.Duration
	Err     error
}

var errClosed = errors.New("connection manager closed")

// ConnectionManager owns one Channel at a time. It reconnects with
// exponential backoff, queues outbound frames while offline and replays
// subscription state after every successful connect.
type ConnectionManager struct {
	dialer  Dialer
	cfg     Config
	clock   clockwork.Clock
	log     *logger.Logger
	metrics drepo.Metrics

	onMessage func(models.Message)
	onEvent   func(Event)

	runCtx context.Context
	cancel context.CancelFunc

	// lock order: connectMu, writeMu, mu
	connectMu sync.Mutex
	writeMu   sync.Mutex
	mu        sync.Mutex

	ch        Channel
	attempts  int
	permanent bool
	closed    bool
	timer     clockwork.Timer
	queue     [][]byte
	dropped   int64
	filter    models.SignalFilter
	muted     map[string]struct{}
}

type Option func(*ConnectionManager)

func WithClock(c clockwork.Clock) Option {
	return func(m *ConnectionManager) { m.clock = c }
}

// WithMessageHandler receives every well-formed inbound message.
func WithMessageHandler(fn func(models.Message)) Option {
	return func(m *ConnectionManager) { m.onMessage = fn }
}

func WithEventHandler(fn func(Event)) Option {
	return func(m *ConnectionManager) { m.onEvent = fn }
}

func NewConnectionManager(dialer Dialer, cfg Config, metrics drepo.Metrics, log *logger.Logger, opts ...Option) *ConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &ConnectionManager{
		dialer:  dialer,
		cfg:     cfg.withDefaults(),
		clock:   clockwork.NewRealClock(),
		log:     log.Named("relay"),
		metrics: metrics,
		runCtx:  ctx,
		cancel:  cancel,
		muted:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the channel if it is not already open. A failed dial
// returns an ErrConnection and hands over to the reconnect policy. Connect
// also re-arms a manager that gave up permanently.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", models.ErrConnection, errClosed)
	}
	if m.ch != nil {
		m.mu.Unlock()
		return nil
	}
	if m.permanent {
		m.permanent = false
		m.attempts = 0
	}
	m.stopTimerLocked()
	m.mu.Unlock()

	if err := m.dial(ctx); err != nil {
		m.log.Warn("relay connect failed", logger.Error(err))
		m.scheduleReconnect(err)
		return fmt.Errorf("%w: %v", models.ErrConnection, err)
	}
	return nil
}

func (m *ConnectionManager) dial(ctx context.Context) error {
	ch, err := m.dialer.Dial(ctx)
	if err != nil {
		m.metrics.RecordRelayReconnect("failure")
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = ch.Close()
		return errClosed
	}
	m.ch = ch
	m.attempts = 0
	m.mu.Unlock()

	m.metrics.RecordRelayReconnect("success")
	m.metrics.RecordRelayState(true)
	m.log.Info("relay connected")
	m.emit(Event{Kind: EventConnected})

	go m.readLoop(ch)
	m.flush(ch)
	return nil
}

// flush replays subscription state, then drains the offline queue in order.
func (m *ConnectionManager) flush(ch Channel) {
	if err := m.flushLocked(ch); err != nil {
		m.drop(ch, err)
	}
}

func (m *ConnectionManager) flushLocked(ch Channel) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if m.ch != ch {
		m.mu.Unlock()
		return nil
	}
	control := m.controlFramesLocked()
	queued := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, f := range control {
		if err := ch.Send(m.runCtx, f); err != nil {
			m.requeue(queued)
			return err
		}
	}
	for i, f := range queued {
		if err := ch.Send(m.runCtx, f); err != nil {
			m.requeue(queued[i:])
			return err
		}
	}
	if len(queued) > 0 {
		m.log.Info("relay flushed outbound queue", logger.Int("frames", len(queued)))
	}
	return nil
}

// controlFramesLocked opens every session with a subscribe frame, empty
// when no filter is set, followed by the muted channels.
func (m *ConnectionManager) controlFramesLocked() [][]byte {
	var frames [][]byte
	if b, err := models.EncodeMessage(models.SubscribeFromFilter(m.filter)); err == nil {
		frames = append(frames, b)
	}
	channels := make([]string, 0, len(m.muted))
	for c := range m.muted {
		channels = append(channels, c)
	}
	sort.Strings(channels)
	for _, c := range channels {
		if b, err := models.EncodeMessage(models.UnsubscribeMessage{Channel: c}); err == nil {
			frames = append(frames, b)
		}
	}
	return frames
}

// requeue puts frames back ahead of anything queued since.
func (m *ConnectionManager) requeue(frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	m.mu.Lock()
	m.queue = append(append([][]byte(nil), frames...), m.queue...)
	m.trimLocked()
	m.mu.Unlock()
}

func (m *ConnectionManager) enqueueLocked(frame []byte) {
	m.queue = append(m.queue, frame)
	m.trimLocked()
}

func (m *ConnectionManager) trimLocked() {
	if over := len(m.queue) - m.cfg.OutboundQueue; over > 0 {
		m.queue = append([][]byte(nil), m.queue[over:]...)
		m.dropped += int64(over)
		for i := 0; i < over; i++ {
			m.metrics.RecordSignalDropped("relay_queue_full")
		}
	}
}

// Send writes msg now, or queues it while disconnected. Control messages
// are not queued; use SetFilter and Mute, which are replayed on connect.
func (m *ConnectionManager) Send(msg models.Message) error {
	b, err := models.EncodeMessage(msg)
	if err != nil {
		return err
	}
	ch, err := m.write(b, true)
	if err != nil && ch != nil {
		m.drop(ch, err)
		return nil
	}
	return err
}

// write sends b on the current channel. With queue set, b is kept for the
// next connect when offline or when the write fails. A non-nil channel with
// a non-nil error means the channel must be dropped by the caller.
func (m *ConnectionManager) write(b []byte, queue bool) (Channel, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", models.ErrConnection, errClosed)
	}
	ch := m.ch
	if ch == nil {
		if queue {
			m.enqueueLocked(b)
		}
		m.mu.Unlock()
		return nil, nil
	}
	m.mu.Unlock()

	if err := ch.Send(m.runCtx, b); err != nil {
		if queue {
			m.mu.Lock()
			m.enqueueLocked(b)
			m.mu.Unlock()
		}
		return ch, err
	}
	return nil, nil
}

// SetFilter replaces the remote subscription.
func (m *ConnectionManager) SetFilter(f models.SignalFilter) error {
	m.mu.Lock()
	m.filter = f
	m.mu.Unlock()
	return m.sendControl(models.SubscribeFromFilter(f))
}

// Mute unsubscribes from a remote channel until Unmute.
func (m *ConnectionManager) Mute(channel string) error {
	m.mu.Lock()
	m.muted[channel] = struct{}{}
	m.mu.Unlock()
	return m.sendControl(models.UnsubscribeMessage{Channel: channel})
}

// Unmute forgets a muted channel and re-sends the current subscription.
func (m *ConnectionManager) Unmute(channel string) error {
	m.mu.Lock()
	delete(m.muted, channel)
	f := m.filter
	m.mu.Unlock()
	return m.sendControl(models.SubscribeFromFilter(f))
}

func (m *ConnectionManager) sendControl(msg models.Message) error {
	b, err := models.EncodeMessage(msg)
	if err != nil {
		return err
	}
	ch, err := m.write(b, false)
	if err != nil && ch != nil {
		m.drop(ch, err)
		return nil
	}
	return err
}

func (m *ConnectionManager) readLoop(ch Channel) {
	for {
		frame, err := ch.Receive(m.runCtx)
		if err != nil {
			m.drop(ch, err)
			return
		}
		m.handleFrame(frame)
	}
}

func (m *ConnectionManager) handleFrame(frame []byte) {
	msg, err := models.DecodeMessage(frame)
	if err != nil {
		m.metrics.RecordError("relay_malformed")
		m.log.Warn("dropping inbound frame", logger.Int("bytes", len(frame)), logger.Error(err))
		return
	}
	if em, ok := msg.(models.ErrorMessage); ok {
		m.log.Warn("relay peer error", logger.String("code", em.Code), logger.String("message", em.Message))
	}
	if m.onMessage == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.metrics.RecordError("relay_handler_panic")
			m.log.Error("inbound handler panic", logger.Any("panic", r), logger.String("kind", string(msg.Kind())))
		}
	}()
	m.onMessage(msg)
}

// drop retires ch after a failure. Stale channels are ignored.
func (m *ConnectionManager) drop(ch Channel, cause error) {
	m.mu.Lock()
	if m.ch != ch {
		m.mu.Unlock()
		return
	}
	m.ch = nil
	closed := m.closed
	m.mu.Unlock()

	_ = ch.Close()
	m.metrics.RecordRelayState(false)
	if closed {
		return
	}
	m.log.Warn("relay disconnected", logger.Error(cause))
	m.emit(Event{Kind: EventDisconnected, Err: cause})
	m.scheduleReconnect(cause)
}

func (m *ConnectionManager) scheduleReconnect(cause error) {
	m.mu.Lock()
	if m.closed || m.ch != nil || m.timer != nil || m.permanent {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxAttempts {
		m.permanent = true
		attempts := m.attempts
		m.mu.Unlock()
		m.metrics.RecordRelayReconnect("gave_up")
		m.log.Error("relay giving up", logger.Int("attempts", attempts), logger.Error(cause))
		m.emit(Event{Kind: EventDisconnectedPermanently, Attempt: attempts, Err: cause})
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := m.cfg.Backoff(attempt)
	m.timer = m.clock.AfterFunc(delay, m.reconnect)
	m.mu.Unlock()

	m.log.Info("relay reconnect scheduled", logger.Int("attempt", attempt), logger.Duration("delay", delay))
	m.emit(Event{Kind: EventReconnecting, Attempt: attempt, Delay: delay, Err: cause})
}

func (m *ConnectionManager) reconnect() {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	m.timer = nil
	if m.closed || m.ch != nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.dial(m.runCtx); err != nil {
		m.log.Warn("relay reconnect failed", logger.Error(err))
		m.scheduleReconnect(err)
	}
}

func (m *ConnectionManager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Close stops reconnecting and closes the channel. Queued frames are discarded.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopTimerLocked()
	ch := m.ch
	m.ch = nil
	m.mu.Unlock()

	m.cancel()
	if ch != nil {
		m.metrics.RecordRelayState(false)
		return ch.Close()
	}
	return nil
}

func (m *ConnectionManager) emit(e Event) {
	if m.onEvent != nil {
		m.onEvent(e)
	}
}

func (m *ConnectionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch != nil
}

// Permanent reports whether the manager stopped retrying.
func (m *ConnectionManager) Permanent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permanent
}

func (m *ConnectionManager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *ConnectionManager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Dropped counts frames discarded because the offline queue was full.
func (m *ConnectionManager) Dropped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
