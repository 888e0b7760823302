package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/coinbridge/realtime/internal/registry"
)

// Errors
var (
	ErrClosed     = errors.New("connection closed")
	ErrBufferFull = errors.New("send buffer full")
)

// FrameHandler receives one inbound frame from a connection.
type FrameHandler func(ctx context.Context, conn registry.Conn, frame []byte)

// ClientConfig configures a single connection's transport behavior.
type ClientConfig struct {
	WriteTimeout   time.Duration // Write deadline for sends
	PongWait       time.Duration // Max time without a pong before the read fails
	PingInterval   time.Duration // Ping period; must be less than PongWait
	MaxMessageSize int64         // Read limit per inbound frame
	SendBuffer     int           // Outbound queue size
}

// Client is one live WebSocket connection. It implements registry.Conn.
type Client struct {
	id     uuid.UUID
	sid    string
	cfg    ClientConfig
	logger *slog.Logger

	conn    *websocket.Conn
	onFrame FrameHandler
	onClose func(registry.Conn)

	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded WebSocket connection.
func NewClient(conn *websocket.Conn, sid string, cfg ClientConfig, onFrame FrameHandler, onClose func(registry.Conn), logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		id:      uuid.New(),
		sid:     sid,
		cfg:     cfg,
		logger:  logger,
		conn:    conn,
		onFrame: onFrame,
		onClose: onClose,
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
}

// ID returns the process-local connection identity.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// SessionID returns the session this connection was opened under.
func (c *Client) SessionID() string {
	return c.sid
}

// Send queues raw bytes for delivery. It never blocks: a full queue means
// the peer is not draining, and the caller (the registry) will drop the
// connection.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrBufferFull
	}
}

// Close tears down the transport. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

// Run starts the read and write pumps and blocks until the connection
// closes. The close callback fires exactly once, after both pumps stop.
func (c *Client) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	c.readPump(ctx)

	c.Close()
	wg.Wait()

	if c.onClose != nil {
		c.onClose(c)
	}
}

// readPump reads frames and forwards them to the bus. Frames from a single
// connection are handled in order on this goroutine.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", "conn_id", c.id, "error", err)
			}
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		if c.onFrame != nil {
			c.onFrame(ctx, c, data)
		}
	}
}

// writePump drains the send queue and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "conn_id", c.id, "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
