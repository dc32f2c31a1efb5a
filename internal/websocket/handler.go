package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"chatgate/internal/auth"
	"chatgate/internal/config"
	"chatgate/internal/logger"
	"chatgate/internal/metrics"
	"chatgate/pkg/interfaces"
)

var log = logger.Named("websocket")

// EventSink receives the lifecycle and inbound frames of every connection
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic.
// The handler owns the socket; the sink owns what frames mean.
type EventSink interface {
	Connect(conn interfaces.Connection)
	HandleFrame(ctx context.Context, conn interfaces.Connection, raw []byte)
	Disconnect(conn interfaces.Connection)
}

// Handler upgrades HTTP requests and runs each connection's read pump
type Handler struct {
	cfg      *config.WebSocketConfig
	verifier interfaces.IdentityVerifier
	sink     EventSink
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(cfg *config.WebSocketConfig, verifier interfaces.IdentityVerifier, sink EventSink, m *metrics.Metrics) *Handler {
	origins := cors.New(cors.Options{AllowedOrigins: cfg.AllowedOrigins})
	return &Handler{
		cfg:      cfg,
		verifier: verifier,
		sink:     sink,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Upgrades bypass CORS. Requests without Origin come from non-browser clients.
			CheckOrigin: func(r *http.Request) bool {
				return r.Header.Get("Origin") == "" || origins.OriginAllowed(r)
			},
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// HandleWebSocket upgrades the request and blocks until the connection ends.
// FUNCTIONAL DISCOVERY: a missing or invalid handshake token does not refuse the
// upgrade; the connection stays unauthenticated and may send an authenticate event.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractToken(r)

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("WebSocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	conn := NewConnection(wsConn, ConnectionOptions{
		BufferSize:   h.cfg.BufferSize,
		WriteTimeout: h.cfg.WriteTimeout,
		PingInterval: h.cfg.PingInterval,
	})

	if token != "" && h.verifier != nil {
		identity, err := h.verifier.Verify(token)
		if err != nil {
			log.Debug("Handshake token rejected", zap.String("conn_id", conn.ID()), zap.Error(err))
		} else {
			conn.Authenticate(*identity)
		}
	}

	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()

	h.sink.Connect(conn)
	h.readPump(wsConn, conn)
	h.sink.Disconnect(conn)
	_ = conn.Close()
}

// readPump delivers frames to the sink in arrival order
// TECHNICAL DISCOVERY: frames are handled sequentially on this goroutine, which
// is what preserves per-connection event ordering.
func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection) {
	if h.cfg.MaxMessageSize > 0 {
		wsConn.SetReadLimit(h.cfg.MaxMessageSize)
	}
	h.extendReadDeadline(wsConn)
	wsConn.SetPongHandler(func(string) error {
		h.extendReadDeadline(wsConn)
		return nil
	})

	for {
		messageType, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug("WebSocket read ended", zap.String("conn_id", conn.ID()), zap.Error(err))
			}
			return
		}
		h.extendReadDeadline(wsConn)

		if messageType != websocket.TextMessage {
			continue
		}
		h.sink.HandleFrame(conn.Context(), conn, data)
	}
}

func (h *Handler) extendReadDeadline(wsConn *websocket.Conn) {
	if h.cfg.ReadTimeout > 0 {
		_ = wsConn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	}
}
