package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/relayhub/internal/relay"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	sendQueueSize = 256
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 54 * time.Second
)

// Client is one WebSocket connection. It implements relay.Conn: the hub
// queues frames with Send and the write pump drains them to the socket.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *relay.Hub
	addr           string
	log            *slog.Logger
	limiter        *rate.Limiter
	rateLimit      RateLimitConfig
	maxMessageSize int64

	mu     sync.Mutex
	closed bool
}

var _ relay.Conn = (*Client)(nil)

// NewClient creates a Client with a fresh connection id. The socket's read
// limit and the rate limiter are taken from cfg.
func NewClient(conn *websocket.Conn, hub *relay.Hub, addr string, cfg Config, log *slog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendQueueSize),
		hub:            hub,
		addr:           addr,
		log:            log.With("conn", id, "addr", addr),
		limiter:        newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// newRateLimiter refills Burst tokens every RefillInterval.
func newRateLimiter(cfg RateLimitConfig) *rate.Limiter {
	every := cfg.RefillInterval / time.Duration(cfg.Burst)
	return rate.NewLimiter(rate.Every(every), cfg.Burst)
}

// ID returns the connection id assigned at upgrade.
func (c *Client) ID() string { return c.id }

// Send queues a frame without blocking.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return relay.ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return relay.ErrSendQueueFull
	}
}

// Close stops the write pump, which sends a close frame and closes the
// socket. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("set initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError reports why the read loop ended at a level matching how
// surprising the cause is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Debug("client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.log.Warn("unexpected websocket close", "error", err)
	default:
		c.log.Info("websocket read error", "error", err)
	}
}

// allow applies the per-connection rate limit.
func (c *Client) allow() bool {
	if c.limiter.Allow() {
		return true
	}
	c.log.Warn("rate limit exceeded; discarding frame",
		"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
	return false
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c.id)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("close in read pump", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.allow() {
			continue
		}

		env, err := relay.DecodeEnvelope(raw)
		if err != nil {
			c.log.Info("dropping malformed frame", "error", err)
			continue
		}
		c.hub.Dispatch(c.id, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("close in write pump", "error", err)
	}
}

// handleMessage writes one frame. A closed queue means the hub dropped the
// connection, so a close frame is sent instead.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("set write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	// Each envelope goes out as its own frame; clients parse one JSON
	// document per message.
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Info("write message", "error", err)
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("write close message", "error", err)
	}
	return false
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("set write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("write ping", "error", err)
		return false
	}
	return true
}
