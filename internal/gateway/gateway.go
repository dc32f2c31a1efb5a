package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatgate/internal/logger"
	"chatgate/internal/metrics"
	"chatgate/internal/presence"
	"chatgate/internal/websocket"
	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

var log = logger.Named("gateway")

const (
	defaultOperationTimeout = 10 * time.Second
	relayPublishTimeout     = 2 * time.Second

	// Client-reported latency samples outside [0, maxLatencySample) are ignored
	maxLatencySample = 60 * time.Second
)

// Store is the persistence the gateway writes through
type Store interface {
	interfaces.HistoryStore
	interfaces.ReactionStore
	UpsertUser(ctx context.Context, identity types.Identity) error
}

// RateLimit is the per (user, channel) send budget. Max <= 0 disables limiting.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// Options wires the gateway's collaborators. Relay and Metrics are optional.
type Options struct {
	Store            Store
	Oracle           interfaces.MembershipOracle
	Limiter          interfaces.RateLimiter
	Verifier         interfaces.IdentityVerifier
	Relay            interfaces.Relay
	Metrics          *metrics.Metrics
	RateLimit        RateLimit
	OperationTimeout time.Duration
	Now              func() time.Time
}

// Gateway is the single point all realtime channel activity passes through
// ARCHITECTURAL DISCOVERY: the gateway owns rooms and presence but no socket I/O.
// The websocket handler feeds it frames; it answers through interfaces.Connection.
type Gateway struct {
	instanceID string

	registry *websocket.Registry
	presence *presence.Tracker

	store    Store
	oracle   interfaces.MembershipOracle
	limiter  interfaces.RateLimiter
	verifier interfaces.IdentityVerifier
	relay    interfaces.Relay
	metrics  *metrics.Metrics

	rateLimit RateLimit
	opTimeout time.Duration
	now       func() time.Time

	// TECHNICAL DISCOVERY: one mutex per room serializes fan-out so every
	// subscriber sees a room's broadcasts in the same order
	locksMu   sync.Mutex
	roomLocks map[string]*roomMutex

	running bool
	cancel  context.CancelFunc
	mu      sync.RWMutex
}

var _ websocket.EventSink = (*Gateway)(nil)

// NewGateway creates a gateway from its collaborators
func NewGateway(opts Options) (*Gateway, error) {
	switch {
	case opts.Store == nil:
		return nil, ErrMissingStore
	case opts.Oracle == nil:
		return nil, ErrMissingOracle
	case opts.Limiter == nil:
		return nil, ErrMissingLimiter
	case opts.Verifier == nil:
		return nil, ErrMissingVerifier
	}

	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = defaultOperationTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Gateway{
		instanceID: uuid.NewString(),
		registry:   websocket.NewRegistry(),
		presence:   presence.NewTracker(),
		store:      opts.Store,
		oracle:     opts.Oracle,
		limiter:    opts.Limiter,
		verifier:   opts.Verifier,
		relay:      opts.Relay,
		metrics:    opts.Metrics,
		rateLimit:  opts.RateLimit,
		opTimeout:  opts.OperationTimeout,
		now:        opts.Now,
		roomLocks:  make(map[string]*roomMutex),
	}, nil
}

// InstanceID identifies this process on the relay
func (g *Gateway) InstanceID() string {
	return g.instanceID
}

// Start subscribes to the relay when one is configured
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if g.relay != nil {
		if err := g.relay.Subscribe(runCtx, g.handleRelay); err != nil {
			cancel()
			return err
		}
	}

	g.cancel = cancel
	g.running = true
	log.Info("Gateway started", zap.String("instance_id", g.instanceID), zap.Bool("relay", g.relay != nil))
	return nil
}

// Stop ends the relay subscription and closes every live connection.
// Closing a connection ends its read pump, which runs Disconnect.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return ErrNotRunning
	}
	g.running = false
	g.cancel()
	g.mu.Unlock()

	conns := g.registry.All()
	for _, conn := range conns {
		_ = conn.Close()
	}

	log.Info("Gateway stopped", zap.Int("closed_connections", len(conns)))
	return nil
}

// IsRunning reports whether Start has been called without Stop
func (g *Gateway) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.running
}

// Connect registers a new connection and greets it when the handshake authenticated it
func (g *Gateway) Connect(conn interfaces.Connection) {
	if err := g.registry.Register(conn); err != nil {
		log.Error("Failed to register connection", zap.String("conn_id", conn.ID()), zap.Error(err))
		_ = conn.Close()
		return
	}

	identity, ok := conn.Identity()
	log.Debug("Connection opened", zap.String("conn_id", conn.ID()), zap.Bool("authenticated", ok))
	if ok {
		g.welcome(context.Background(), conn, identity)
	}
}

// Disconnect unsubscribes the connection from every room and broadcasts departures.
// The rooms stay locked from the presence update until the departure frames are
// delivered, so a concurrent join cannot be overtaken by a stale list.
func (g *Gateway) Disconnect(conn interfaces.Connection) {
	rooms := g.registry.Unregister(conn.ID())

	// Channels is sorted, which fixes the lock order
	channelIDs := g.presence.Channels(conn.ID())
	unlocks := make([]func(), 0, len(channelIDs))
	for _, channelID := range channelIDs {
		unlocks = append(unlocks, g.lockRoom(types.RoomName(channelID)))
	}

	departures := g.presence.LeaveConnection(conn.ID())
	frames := make(map[string][]byte, len(departures))
	for _, p := range departures {
		room := types.RoomName(p.ChannelID)
		frames[room] = g.broadcastLocked(room, types.EventChannelPresence, p)
	}
	for _, unlock := range unlocks {
		unlock()
	}
	for room, frame := range frames {
		g.publish(room, frame)
	}

	log.Debug("Connection closed",
		zap.String("conn_id", conn.ID()),
		zap.Int("rooms", len(rooms)),
		zap.Int("departures", len(departures)))
}

// RevokeMembership evicts every live connection of userID from a channel's room.
// Registered as the channel manager's revoke hook.
func (g *Gateway) RevokeMembership(channelID int64, userID string) {
	room := types.RoomName(channelID)

	for _, conn := range g.registry.UserConnections(userID) {
		unlock := g.lockRoom(room)
		if !g.registry.Leave(conn.ID(), room) {
			unlock()
			continue
		}
		users, departed := g.presence.Leave(conn.ID(), channelID)
		g.send(conn, types.EventLeftChannel, types.LeftChannelData{Room: room})

		var frame []byte
		if departed && len(users) > 0 {
			frame = g.broadcastLocked(room, types.EventChannelPresence, types.ChannelPresence{ChannelID: channelID, Users: users})
		}
		unlock()
		g.publish(room, frame)
	}
}

// Presence returns the current presence list of a channel
func (g *Gateway) Presence(channelID int64) []types.PresenceEntry {
	return g.presence.List(channelID)
}

// GetStats returns gateway statistics for monitoring
func (g *Gateway) GetStats() map[string]interface{} {
	g.locksMu.Lock()
	roomLocks := len(g.roomLocks)
	g.locksMu.Unlock()

	stats := map[string]interface{}{
		"instance_id": g.instanceID,
		"running":     g.IsRunning(),
		"room_locks":  roomLocks,
	}
	for k, v := range g.registry.GetStats() {
		stats[k] = v
	}
	for k, v := range g.presence.GetStats() {
		stats[k] = v
	}
	return stats
}

// operationContext detaches persistence from the connection's lifetime so an
// accepted event completes even if the client disconnects meanwhile
func (g *Gateway) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), g.opTimeout)
}
