// Package server manages individual WebSocket clients, handling the write
// pump, keepalives, rate limiting, and close handshakes for each connection.
package server

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendQueueSize = 256
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 54 * time.Second
)

var (
	// ErrSendQueueFull is returned when a client's outbound queue has no room.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrClientClosed is returned when sending to a client that is closing.
	ErrClientClosed = errors.New("client closed")
)

// Session is the identity bound to a connection once its join handshake
// succeeds. The Hub writes it under its lock; only the owning session
// goroutine triggers those writes.
type Session struct {
	UserID string
	RoomID string
}

// Client represents a WebSocket client connection in the chat system.
// It owns the connection, the outbound queue drained by writePump, and the
// session record attached at authentication time.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	addr    string
	session *Session

	quit        chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a new Client instance with the provided WebSocket
// connection and client address. The client's send channel is buffered to
// absorb bursts from busy rooms.
func NewClient(conn *websocket.Conn, addr string, cfg Config) *Client {
	cfg = sanitizeConfig(cfg)
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:             uuid.NewString(),
		conn:           conn,
		send:           make(chan []byte, sendQueueSize),
		addr:           addr,
		quit:           make(chan struct{}),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// ID returns the connection identifier used in logs.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the authenticated user, or "" before the handshake completes.
func (c *Client) UserID() string {
	if c.session == nil {
		return ""
	}
	return c.session.UserID
}

// RoomID returns the room the client last joined, or "" if it never joined.
func (c *Client) RoomID() string {
	if c.session == nil {
		return ""
	}
	return c.session.RoomID
}

// GetSendChan returns the client's send channel for reading outgoing messages.
// This channel is read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// enqueue hands a frame to the write pump without blocking.
func (c *Client) enqueue(message []byte) error {
	select {
	case <-c.quit:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- message:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close asks the write pump to flush queued frames and close the connection
// with the given code. Only the first call's code and reason are used.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.quit)
	})
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// abort closes the connection immediately, without waiting for the write
// pump. Used while the handshake is still in progress.
func (c *Client) abort(code int, reason string) {
	c.Close(code, reason)
	if c.conn == nil {
		return
	}
	c.writeCloseMessage()
	c.closeConnection()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// logReadError logs why the receive loop is ending.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		log.Printf("Client %s disconnected: %v", c.addr, err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Printf("Client %s connection closed: %v", c.addr, err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Printf("Unexpected WebSocket error from %s: %v", c.addr, err)
	default:
		log.Printf("WebSocket read error from %s: %v", c.addr, err)
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the chat message should be relayed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		log.Printf("Rate limit exceeded for user '%s' at %s (%d messages per %s); discarding %q frame", c.UserID(), c.addr, c.rateLimit.Burst, c.rateLimit.RefillInterval, TypeMessage)
		return false
	}
	return true
}

// writePump is the only writer of data frames once the client has joined.
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
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.handlePing()
	case <-c.quit:
		c.flushQueue()
		c.writeCloseMessage()
		return false
	}
}

// flushQueue writes whatever is already queued before the close frame.
func (c *Client) flushQueue() {
	n := len(c.send)
	for i := 0; i < n; i++ {
		if !c.writeTextMessage(<-c.send) {
			return
		}
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error closing connection for %s: %v", c.addr, err)
		}
	}
}

// writeCloseMessage sends the close frame chosen in Close. WriteControl is
// safe to call concurrently with the write pump.
func (c *Client) writeCloseMessage() {
	payload := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	if err := c.conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) && !errors.Is(err, websocket.ErrCloseSent) {
			log.Printf("Error writing close message to %s: %v", c.addr, err)
		}
	}
}

// writeTextMessage writes a single frame and returns false if the connection
// should be torn down.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing message to %s: %v", c.addr, err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		log.Printf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}
