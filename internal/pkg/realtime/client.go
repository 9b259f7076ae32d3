package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024 // 64KB
)

// heartbeatFrame is the sole content of a liveness probe; it carries no payload.
var heartbeatFrame = []byte(`{"type":"heartbeat"}`)

// Client is a single live realtime connection. A user may hold any number of
// clients at once; the registry tracks them as a set per identity.
type Client struct {
	id   string
	conn *websocket.Conn

	// Buffered channel of outbound frames. Sends never block: a full buffer
	// means the frame is dropped and the drop is logged.
	send chan []byte

	registry *Registry
	hub      *Hub
	router   *Router

	heartbeatInterval  time.Duration
	missedAckThreshold int
	missedAcks         atomic.Int32

	mu       sync.RWMutex
	username string

	done      chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

// NewClient wraps an upgraded websocket connection
func NewClient(
	conn *websocket.Conn,
	registry *Registry,
	hub *Hub,
	router *Router,
	heartbeatInterval time.Duration,
	missedAckThreshold int,
	sendBufferSize int,
	logger zerolog.Logger,
) *Client {
	id := uuid.New().String()
	return &Client{
		id:                 id,
		conn:               conn,
		send:               make(chan []byte, sendBufferSize),
		registry:           registry,
		hub:                hub,
		router:             router,
		heartbeatInterval:  heartbeatInterval,
		missedAckThreshold: missedAckThreshold,
		done:               make(chan struct{}),
		logger:             logger.With().Str("connectionID", id).Logger(),
	}
}

// ID returns the connection id
func (c *Client) ID() string {
	return c.id
}

// Username returns the identity bound to this connection, or "" before
// authentication
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) setUsername(username string) {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
}

// Enqueue offers a frame to the connection without blocking. It reports
// whether the frame was accepted; a false return means the client's buffer is
// full or the connection is closing and the frame was dropped.
func (c *Client) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ResetMissedAcks clears the heartbeat miss counter
func (c *Client) ResetMissedAcks() {
	c.missedAcks.Store(0)
}

// Run starts the read and write pumps and blocks until the connection closes
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

// Close tears the connection down exactly once: the heartbeat timer stops,
// every topic subscription is dropped and the identity's connection set is
// updated, so a closed connection can never remain a delivery target.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.DropClient(c)
		c.registry.Unregister(context.Background(), c)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// readPump pumps inbound frames from the websocket connection to the router
func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	readWait := c.heartbeatInterval * time.Duration(c.missedAckThreshold+1)
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info().
					Str("username", c.Username()).
					Msg("Connection closed normally")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().
					Err(err).
					Str("username", c.Username()).
					Msg("Unexpected connection close")
			} else {
				c.logger.Debug().
					Err(err).
					Str("username", c.Username()).
					Msg("Connection read error")
			}
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		c.router.Handle(ctx, c, message)
	}
}

// writePump pumps outbound frames to the websocket connection and runs the
// heartbeat protocol
func (c *Client) writePump() {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// A probe that went unacknowledged counts against the threshold;
			// past it the registry gives up on the connection instead of
			// waiting for transport-level closure.
			if int(c.missedAcks.Load()) >= c.missedAckThreshold {
				c.logger.Warn().
					Str("username", c.Username()).
					Int("missedAcks", int(c.missedAcks.Load())).
					Msg("Heartbeat unacknowledged, unregistering connection")
				return
			}

			c.missedAcks.Add(1)
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, heartbeatFrame); err != nil {
				return
			}
		}
	}
}
