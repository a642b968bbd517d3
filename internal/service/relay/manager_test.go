package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/pkg/logger"
	"AgentFlow/pkg/metrics"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu     sync.Mutex
	sent   [][]byte
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeChannel) Send(_ context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return errors.New("send on closed channel")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, frame)
	return nil
}

func (c *fakeChannel) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.closed:
		return nil, errors.New("channel closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) frames(t *testing.T) []models.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, 0, len(c.sent))
	for _, b := range c.sent {
		m, err := models.DecodeMessage(b)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  error
	chans []*fakeChannel
}

func (d *fakeDialer) Dial(context.Context) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		d.chans = append(d.chans, nil)
		return nil, d.fail
	}
	ch := newFakeChannel()
	d.chans = append(d.chans, ch)
	return ch, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.chans)
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chans[len(d.chans)-1]
}

type events struct {
	mu  sync.Mutex
	got []Event
}

func (e *events) add(ev Event) {
	e.mu.Lock()
	e.got = append(e.got, ev)
	e.mu.Unlock()
}

func (e *events) kinds() []EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EventKind, 0, len(e.got))
	for _, ev := range e.got {
		out = append(out, ev.Kind)
	}
	return out
}

func (e *events) has(k EventKind) bool {
	for _, got := range e.kinds() {
		if got == k {
			return true
		}
	}
	return false
}

func newManager(d Dialer, cfg Config, opts ...Option) *ConnectionManager {
	rec := metrics.NewWithRegistry(prometheus.NewRegistry())
	return NewConnectionManager(d, cfg, rec, logger.Nop(), opts...)
}

func signalMsg(id string) models.SignalMessage {
	return models.SignalMessage{Signal: models.Signal{ID: id, Pair: "SOL/USDC", Type: "spread", Source: "local"}}
}

var testCfg = Config{BaseDelay: time.Second, GrowthFactor: 1.5, MaxDelay: 30 * time.Second, MaxAttempts: 3, OutboundQueue: 100}

func TestBackoff(t *testing.T) {
	cfg := testCfg
	assert.Equal(t, 1500*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 2250*time.Millisecond, cfg.Backoff(2))
	assert.Equal(t, 3375*time.Millisecond, cfg.Backoff(3))
	assert.Equal(t, 30*time.Second, cfg.Backoff(20))
	assert.Equal(t, 30*time.Second, cfg.Backoff(5000))
	for i := 1; i < 50; i++ {
		assert.LessOrEqual(t, cfg.Backoff(i), 30*time.Second)
	}
}

func TestConnectIdempotent(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(d, testCfg)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, d.dials())
	assert.True(t, m.Connected())
}

func TestOfflineQueueBoundedAndFlushedInOrder(t *testing.T) {
	d := &fakeDialer{}
	cfg := testCfg
	cfg.OutboundQueue = 3
	m := newManager(d, cfg)
	t.Cleanup(func() { _ = m.Close() })

	for _, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		require.NoError(t, m.Send(signalMsg(id)))
	}
	assert.Equal(t, 3, m.QueueLen())
	assert.EqualValues(t, 2, m.Dropped())

	require.NoError(t, m.Connect(context.Background()))
	frames := d.last().frames(t)
	require.Len(t, frames, 4)
	assert.Equal(t, models.KindSubscribe, frames[0].Kind())
	var ids []string
	for _, f := range frames[1:] {
		ids = append(ids, f.(models.SignalMessage).Signal.ID)
	}
	assert.Equal(t, []string{"s3", "s4", "s5"}, ids)
	assert.Zero(t, m.QueueLen())

	require.NoError(t, m.Send(signalMsg("s6")))
	assert.Len(t, d.last().frames(t), 5)
}

func TestConnectSubscribesWithoutFilter(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(d, testCfg)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Connect(context.Background()))

	frames := d.last().frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, models.SubscribeMessage{}, frames[0])
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := &fakeDialer{}
	var ev events
	m := newManager(d, testCfg, WithClock(clock), WithEventHandler(ev.add))
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.SetFilter(models.SignalFilter{Pairs: []string{"SOL/USDC"}}))
	require.NoError(t, m.Mute("signal:noise"))
	require.NoError(t, m.Connect(context.Background()))

	first := d.last().frames(t)
	require.Len(t, first, 2)
	assert.Equal(t, models.SubscribeMessage{Pairs: []string{"SOL/USDC"}}, first[0])
	assert.Equal(t, models.UnsubscribeMessage{Channel: "signal:noise"}, first[1])

	_ = d.last().Close()
	assert.Eventually(t, func() bool { return ev.has(EventReconnecting) }, time.Second, 5*time.Millisecond)
	assert.False(t, m.Connected())
	assert.Equal(t, 1, m.Attempts())

	clock.BlockUntil(1)
	clock.Advance(1500 * time.Millisecond)
	assert.Eventually(t, m.Connected, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, d.dials())
	assert.Zero(t, m.Attempts())

	second := d.last().frames(t)
	require.Len(t, second, 2)
	assert.Equal(t, models.KindSubscribe, second[0].Kind())
	assert.Equal(t, []EventKind{EventConnected, EventDisconnected, EventReconnecting, EventConnected}, ev.kinds())
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := &fakeDialer{fail: errors.New("refused")}
	var ev events
	cfg := testCfg
	cfg.MaxAttempts = 2
	m := newManager(d, cfg, WithClock(clock), WithEventHandler(ev.add))
	t.Cleanup(func() { _ = m.Close() })

	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, models.ErrConnection)

	for attempt := 1; attempt <= 2; attempt++ {
		clock.BlockUntil(1)
		clock.Advance(cfg.Backoff(attempt))
	}
	assert.Eventually(t, m.Permanent, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, d.dials())
	assert.True(t, ev.has(EventDisconnectedPermanently))

	d.setFail(nil)
	require.NoError(t, m.Connect(context.Background()))
	assert.False(t, m.Permanent())
	assert.True(t, m.Connected())
}

func TestMalformedInboundFramesDropped(t *testing.T) {
	d := &fakeDialer{}
	var mu sync.Mutex
	var got []models.Message
	calls := 0
	m := newManager(d, testCfg, WithMessageHandler(func(msg models.Message) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			panic("handler bug")
		}
		got = append(got, msg)
	}))
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.Connect(context.Background()))

	ch := d.last()
	ch.in <- []byte("not json")
	ch.in <- []byte(`{"type":"wat"}`)
	ch.in <- []byte(`{"type":"signal"}`)
	ch.in <- []byte(`{"type":"ack","ref":"first"}`)
	ch.in <- []byte(`{"type":"signal","data":{"id":"x1","pair":"SOL/USDC","type":"spread"}}`)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	sm, ok := got[0].(models.SignalMessage)
	mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "x1", sm.Signal.ID)
	assert.True(t, m.Connected())
}

func TestCloseStopsReconnecting(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := &fakeDialer{fail: errors.New("refused")}
	m := newManager(d, testCfg, WithClock(clock))

	_ = m.Connect(context.Background())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, d.dials())
	assert.ErrorIs(t, m.Send(signalMsg("late")), models.ErrConnection)
	assert.ErrorIs(t, m.Connect(context.Background()), models.ErrConnection)
}

func TestWSDialerRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverGot := make(chan []byte, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			serverGot <- b
			reply, _ := models.EncodeMessage(models.SignalMessage{Signal: models.Signal{ID: "from-peer", Pair: "SOL/USDC", Type: "spread"}})
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	received := make(chan models.Message, 4)
	dialer := &WSDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), HandshakeTimeout: time.Second, WriteTimeout: time.Second}
	m := newManager(dialer, testCfg, WithMessageHandler(func(msg models.Message) { received <- msg }))
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Send(signalMsg("local-1")))

	for _, want := range []models.MessageKind{models.KindSubscribe, models.KindSignal} {
		select {
		case b := <-serverGot:
			msg, err := models.DecodeMessage(b)
			require.NoError(t, err)
			require.Equal(t, want, msg.Kind())
			if sm, ok := msg.(models.SignalMessage); ok {
				assert.Equal(t, "local-1", sm.Signal.ID)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("server did not receive frame")
		}
	}

	select {
	case msg := <-received:
		assert.Equal(t, "from-peer", msg.(models.SignalMessage).Signal.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("peer frame not delivered")
	}
}
