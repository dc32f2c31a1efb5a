package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chatgate/internal/websocket"
	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

// roomMutex serializes fan-out for one room. refs counts holders and waiters;
// the entry is dropped when the last one releases it.
type roomMutex struct {
	sync.Mutex
	refs int
}

// lockRoom acquires the room's mutex and returns the func releasing it
func (g *Gateway) lockRoom(room string) (unlock func()) {
	g.locksMu.Lock()
	lock, exists := g.roomLocks[room]
	if !exists {
		lock = &roomMutex{}
		g.roomLocks[room] = lock
	}
	lock.refs++
	g.locksMu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()

		g.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(g.roomLocks, room)
		}
		g.locksMu.Unlock()
	}
}

// broadcast delivers one event to every local subscriber of room, then relays it
func (g *Gateway) broadcast(room, event string, data interface{}) {
	unlock := g.lockRoom(room)
	frame := g.broadcastLocked(room, event, data)
	unlock()

	g.publish(room, frame)
}

// broadcastLocked encodes and delivers with the room lock held. The encoded
// frame is returned for the relay, which is published after unlocking.
func (g *Gateway) broadcastLocked(room, event string, data interface{}) []byte {
	frame, err := types.EncodeEnvelope(event, data)
	if err != nil {
		log.Error("Failed to encode broadcast", zap.String("event", event), zap.Error(err))
		return nil
	}
	g.deliverLocked(room, frame)
	return frame
}

// deliverLocked multicasts a frame without blocking on any subscriber
// FUNCTIONAL DISCOVERY: a full buffer drops the frame for that subscriber only
func (g *Gateway) deliverLocked(room string, frame []byte) int {
	delivered := 0
	for _, conn := range g.registry.Members(room) {
		if err := conn.Send(frame); err != nil {
			if errors.Is(err, websocket.ErrSendBufferFull) {
				g.metrics.FrameDropped()
				log.Warn("Dropped frame for slow consumer", zap.String("conn_id", conn.ID()), zap.String("room", room))
			}
			continue
		}
		delivered++
	}
	return delivered
}

// publish forwards a room frame to other instances
func (g *Gateway) publish(room string, frame []byte) {
	if g.relay == nil || frame == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()

	msg := types.RelayMessage{Origin: g.instanceID, Room: room, Frame: frame}
	if err := g.relay.Publish(ctx, msg); err != nil {
		log.Warn("Relay publish failed", zap.String("room", room), zap.Error(err))
	}
}

// handleRelay delivers frames published by other instances to local subscribers
func (g *Gateway) handleRelay(msg types.RelayMessage) {
	if msg.Origin == g.instanceID || !strings.HasPrefix(msg.Room, types.RoomPrefix) || len(msg.Frame) == 0 {
		return
	}

	unlock := g.lockRoom(msg.Room)
	g.deliverLocked(msg.Room, msg.Frame)
	unlock()
}

// send writes one event to a single connection
func (g *Gateway) send(conn interfaces.Connection, event string, data interface{}) {
	if err := conn.WriteEvent(event, data); err != nil {
		if errors.Is(err, websocket.ErrSendBufferFull) {
			g.metrics.FrameDropped()
		}
		log.Debug("Direct send failed", zap.String("conn_id", conn.ID()), zap.String("event", event), zap.Error(err))
	}
}
