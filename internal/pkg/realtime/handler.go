package realtime

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development, in production you should restrict this
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests to realtime connections. The connection
// starts unauthenticated; the first event must be authenticate, which binds
// it to an identity and registers it.
type Handler struct {
	registry *Registry
	hub      *Hub
	router   *Router

	heartbeatInterval  time.Duration
	missedAckThreshold int
	sendBufferSize     int

	logger zerolog.Logger
}

// NewHandler creates a new realtime connection handler
func NewHandler(
	registry *Registry,
	hub *Hub,
	router *Router,
	heartbeatInterval time.Duration,
	missedAckThreshold int,
	sendBufferSize int,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		registry:           registry,
		hub:                hub,
		router:             router,
		heartbeatInterval:  heartbeatInterval,
		missedAckThreshold: missedAckThreshold,
		sendBufferSize:     sendBufferSize,
		logger:             logger,
	}
}

// HandleConnection upgrades the request and runs the connection until it closes
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error().Err(err).
			Str("remoteAddr", c.Request.RemoteAddr).
			Msg("Failed to upgrade connection")
		return
	}

	client := NewClient(
		conn,
		h.registry,
		h.hub,
		h.router,
		h.heartbeatInterval,
		h.missedAckThreshold,
		h.sendBufferSize,
		h.logger,
	)

	h.logger.Info().
		Str("connectionID", client.ID()).
		Str("remoteAddr", conn.RemoteAddr().String()).
		Msg("Realtime connection established")

	// Run blocks on the read pump; gin keeps the request goroutine alive
	// for the lifetime of the connection.
	client.Run(c.Request.Context())
}
