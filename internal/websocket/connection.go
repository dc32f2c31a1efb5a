package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

// ConnectionOptions tunes a connection's buffers and heartbeat
type ConnectionOptions struct {
	BufferSize   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// DefaultConnectionOptions mirrors the websocket config defaults
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		BufferSize:   256,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions.
// Every frame and every ping goes through writeLoop, the only goroutine that writes.
type Connection struct {
	id      string
	conn    *websocket.Conn
	writeCh chan []byte
	opts    ConnectionOptions

	identity      types.Identity
	authenticated bool
	mu            sync.RWMutex // Protect identity fields

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps conn and starts its writer goroutine
func NewConnection(conn *websocket.Conn, opts ConnectionOptions) *Connection {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultConnectionOptions().BufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultConnectionOptions().WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		writeCh: make(chan []byte, opts.BufferSize),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()
	return c
}

// writeLoop drains the send buffer and emits heartbeats until the connection closes
func (c *Connection) writeLoop() {
	var pings <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("WebSocket write failed", zap.String("conn_id", c.id), zap.Error(err))
				_ = c.Close()
				return
			}

		case <-pings:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the connection id
func (c *Connection) ID() string {
	return c.id
}

// Identity returns the attached identity once authenticated
func (c *Connection) Identity() (types.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity, c.authenticated
}

// Authenticate attaches a validated identity
func (c *Connection) Authenticate(identity types.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
	c.authenticated = true
}

// Send enqueues a frame without blocking.
// FUNCTIONAL DISCOVERY: a full buffer means a slow consumer; the frame is
// dropped for this connection only so one client never stalls a room.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// WriteEvent encodes one event frame and enqueues it
func (c *Connection) WriteEvent(event string, data interface{}) error {
	frame, err := types.EncodeEnvelope(event, data)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.Send(frame)
}

// Done is closed when the connection closes
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context is cancelled when the connection closes
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Close stops the writer and closes the socket; safe to call more than once
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
