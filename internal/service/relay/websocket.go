package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSDialer opens websocket channels to a relay peer.
type WSDialer struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration
}

func (d *WSDialer) Dial(ctx context.Context) (Channel, error) {
	dialer := *websocket.DefaultDialer
	if d.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = d.HandshakeTimeout
	}
	conn, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, fmt.Errorf("relay dial %s: %w", d.URL, err)
	}
	return NewWSChannel(conn, d.PingInterval, d.WriteTimeout), nil
}

type wsChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// NewWSChannel adapts an open websocket connection. A positive ping
// interval keeps the connection alive with ping frames.
func NewWSChannel(conn *websocket.Conn, pingInterval, writeTimeout time.Duration) Channel {
	c := &wsChannel{conn: conn, writeTimeout: writeTimeout, done: make(chan struct{})}
	if pingInterval > 0 {
		go c.pingLoop(pingInterval)
	}
	return c
}

func (c *wsChannel) Send(_ context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("relay write: %w", err)
	}
	return nil
}

func (c *wsChannel) Receive(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mt, b, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("relay read: %w", err)
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return b, nil
		}
	}
}

func (c *wsChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *wsChannel) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
				return
			}
		}
	}
}
