package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/Tyrowin/roomrelay/internal/config"
	"github.com/Tyrowin/roomrelay/internal/payload"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one WebSocket connection. It implements relay.Connection: frames
// queued by the relay are written by writePump, and frames read by readPump
// are handed to the lifecycle or resolve a pending acknowledgement.
type Client struct {
	id             string
	conn           *websocket.Conn
	hub            *Hub
	addr           string
	log            *slog.Logger
	connectData    payload.Value
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      config.RateLimit

	mu      sync.Mutex
	send    chan []byte
	closed  bool
	nextAck uint64
	pending map[uint64]chan relay.Reply
}

// NewClient creates a Client for conn. connectData is the payload supplied
// with the handshake and is handed to the lifecycle once the pumps start.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, connectData payload.Value) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	id := uuid.NewString()
	limit := cfg.RateLimit()

	return &Client{
		id:             id,
		conn:           conn,
		hub:            hub,
		addr:           addr,
		log:            hub.log.With("conn_id", id, "addr", addr),
		connectData:    connectData,
		maxMessageSize: int64(cfg.MaxMessageSize),
		rateLimiter:    newRateLimiter(limit.Burst, limit.RefillInterval),
		rateLimit:      limit,
		send:           make(chan []byte, cfg.SendBufferSize),
		pending:        make(map[uint64]chan relay.Reply),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Emit queues event for the client.
func (c *Client) Emit(event string, data json.RawMessage) error {
	msg, err := encodeFrame(event, data, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueue(msg)
}

// EmitWithAck queues event with a fresh ack id. The reply channel is
// resolved by the client's ack frame, by Close, or when ctx is done.
func (c *Client) EmitWithAck(ctx context.Context, event string, data json.RawMessage) (<-chan relay.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, relay.ErrConnectionClosed
	}

	id := c.nextAck + 1
	msg, err := encodeFrame(event, data, &id)
	if err != nil {
		return nil, err
	}
	if err := c.enqueue(msg); err != nil {
		return nil, err
	}
	c.nextAck = id

	reply := make(chan relay.Reply, 1)
	c.pending[id] = reply
	context.AfterFunc(ctx, func() {
		c.resolve(id, relay.Reply{Err: ctx.Err()})
	})
	return reply, nil
}

// enqueue must be called with c.mu held. A client whose buffer is full is
// dropped.
func (c *Client) enqueue(msg []byte) error {
	if c.closed {
		return relay.ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.log.Warn("Send buffer full, dropping client")
		go c.Close()
		return relay.ErrSendBufferFull
	}
}

func (c *Client) resolve(id uint64, reply relay.Reply) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if ok {
		ch <- reply
	}
	return ok
}

// Close stops the client. Pending acknowledgements fail with
// relay.ErrConnectionClosed and writePump sends a close frame.
func (c *Client) Close() error {
	c.markClosed()
	return nil
}

func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	for id, ch := range c.pending {
		ch <- relay.Reply{Err: relay.ErrConnectionClosed}
		delete(c.pending, id)
	}
	return true
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("Failed to set initial read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("Failed to set read deadline in pong handler", "err", err)
		}
		return nil
	})
}

// handleReadError logs the reason the read loop stops.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("Client disconnected", "err", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("Client connection closed", "err", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("Unexpected WebSocket error", "err", err)
	default:
		c.log.Warn("WebSocket read error", "err", err)
	}
}

// checkRateLimit reports whether the next event may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("Rate limit exceeded, discarding event",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage decodes one frame and dispatches it. It returns false when
// the frame was dropped.
func (c *Client) processMessage(raw []byte) bool {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.log.Warn("Invalid frame", "err", err)
		return false
	}
	if frame.Event == "" {
		c.log.Warn("Frame without event dropped")
		return false
	}

	if frame.Event == ackEvent {
		if frame.Ack == nil || !c.resolve(*frame.Ack, relay.Reply{Data: payload.Parse(frame.Data)}) {
			c.log.Debug("Ack for unknown id dropped", "ack", lo.FromPtr(frame.Ack))
			return false
		}
		return true
	}

	if !c.checkRateLimit() {
		return false
	}
	c.hub.relay.Lifecycle.HandleEvent(c.id, frame.Event, payload.Parse(frame.Data))
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.closeConnection()
	}()

	c.setupReadConnection()
	c.hub.relay.Lifecycle.Connect(c, c.connectData)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.processMessage(raw)
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

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("Failed to close connection", "err", err)
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Failed to set write deadline", "err", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Failed to write frame", "err", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("Failed to write close message", "err", err)
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Failed to set write deadline for ping", "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("Failed to write ping", "err", err)
		return false
	}
	return true
}
