package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"chatgate/internal/ratelimit"
	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

// knownEvents bounds the metric label set to the client protocol
var knownEvents = map[string]struct{}{
	types.EventAuthenticate:   {},
	types.EventJoinChannel:    {},
	types.EventLeaveChannel:   {},
	types.EventSendMessage:    {},
	types.EventTyping:         {},
	types.EventReactionAdd:    {},
	types.EventReactionRemove: {},
	types.EventMessageEdit:    {},
	types.EventMessageDelete:  {},
}

func eventLabel(event string) string {
	if _, ok := knownEvents[event]; ok {
		return event
	}
	return "unknown"
}

// bestEffort events fail silently
func bestEffort(event string) bool {
	switch event {
	case types.EventTyping, types.EventReactionAdd, types.EventReactionRemove:
		return true
	}
	return false
}

// HandleFrame runs one inbound frame through authentication, decoding and
// validation, then dispatches it. Errors are scoped to the event and never
// close the connection.
func (g *Gateway) HandleFrame(ctx context.Context, conn interfaces.Connection, raw []byte) {
	env, err := types.ParseEnvelope(raw)
	if err != nil {
		g.reject(conn, "unknown", "invalid_envelope", types.ErrMsgInvalidPayload)
		return
	}

	identity, authenticated := conn.Identity()
	if !authenticated && env.Event != types.EventAuthenticate {
		g.reject(conn, env.Event, "unauthenticated", types.ErrMsgUnauthenticated)
		return
	}

	ev, err := env.Decode()
	if err == nil {
		err = ev.Validate()
	}
	if err != nil {
		if bestEffort(env.Event) {
			log.Debug("Dropped invalid best-effort event", zap.String("event", env.Event), zap.Error(err))
			return
		}
		g.reject(conn, env.Event, "invalid_payload", types.ErrMsgInvalidPayload)
		return
	}

	g.metrics.Event(ev.EventName())
	g.dispatch(ctx, conn, identity, ev)
}

// dispatch routes a validated client event to its handler
// ARCHITECTURAL DISCOVERY: a closed type switch instead of a string-keyed
// handler table; every variant of types.ClientEvent has exactly one case.
func (g *Gateway) dispatch(ctx context.Context, conn interfaces.Connection, identity types.Identity, ev types.ClientEvent) {
	switch e := ev.(type) {
	case types.Authenticate:
		g.handleAuthenticate(ctx, conn, e)
	case types.JoinChannel:
		g.handleJoin(ctx, conn, identity, e)
	case types.LeaveChannel:
		g.handleLeave(conn, e)
	case types.SendMessage:
		g.handleSendMessage(ctx, conn, identity, e)
	case types.Typing:
		g.handleTyping(ctx, identity, e)
	case types.ReactionAdd:
		g.handleReaction(ctx, identity, e.ReactionTarget, types.ReactionTypeAdd)
	case types.ReactionRemove:
		g.handleReaction(ctx, identity, e.ReactionTarget, types.ReactionTypeRemove)
	case types.MessageEdit:
		g.handleEdit(ctx, conn, identity, e)
	case types.MessageDelete:
		g.handleDelete(ctx, conn, identity, e)
	default:
		g.reject(conn, ev.EventName(), "unhandled", types.ErrMsgInvalidPayload)
	}
}

// handleAuthenticate upgrades an unauthenticated connection.
// A connection's identity never changes once set.
func (g *Gateway) handleAuthenticate(ctx context.Context, conn interfaces.Connection, e types.Authenticate) {
	identity, err := g.verifier.Verify(e.Token)
	if err != nil {
		g.reject(conn, types.EventAuthenticate, "invalid_token", types.ErrMsgUnauthenticated)
		return
	}
	if current, ok := conn.Identity(); ok && current.UserID != identity.UserID {
		g.reject(conn, types.EventAuthenticate, "identity_change", types.ErrMsgUnauthenticated)
		return
	}

	conn.Authenticate(*identity)
	g.welcome(ctx, conn, *identity)
}

// welcome records the user and confirms authentication
func (g *Gateway) welcome(ctx context.Context, conn interfaces.Connection, identity types.Identity) {
	opCtx, cancel := g.operationContext(ctx)
	defer cancel()

	if err := g.store.UpsertUser(opCtx, identity); err != nil {
		log.Warn("Failed to record user", zap.String("user_id", identity.UserID), zap.Error(err))
	}
	g.send(conn, types.EventAuthenticated, identity)
}

// handleJoin checks membership before subscribing, so a connection is never
// in a room it is not allowed to read.
// TECHNICAL DISCOVERY: the check runs under the room lock. RevokeMembership
// takes the same lock after the membership row is gone, so a revoke either
// fails this check or finds the subscription and evicts it.
func (g *Gateway) handleJoin(ctx context.Context, conn interfaces.Connection, identity types.Identity, e types.JoinChannel) {
	room := types.RoomName(e.ChannelID)
	unlock := g.lockRoom(room)

	opCtx, cancel := g.operationContext(ctx)
	member, err := g.oracle.IsMember(opCtx, e.ChannelID, identity.UserID)
	cancel()
	if err != nil {
		unlock()
		log.Warn("Membership check failed", zap.Int64("channel_id", e.ChannelID), zap.Error(err))
		g.reject(conn, types.EventJoinChannel, "store", types.ErrMsgJoinFailed)
		return
	}
	if !member {
		unlock()
		g.reject(conn, types.EventJoinChannel, "not_member", types.ErrMsgNotMember)
		return
	}

	if _, err := g.registry.Join(conn.ID(), room); err != nil {
		// Connection closed while the membership check ran
		unlock()
		return
	}
	users := g.presence.Join(conn.ID(), identity.UserID, identity.Username, e.ChannelID)
	g.send(conn, types.EventJoinedChannel, types.JoinedChannelData{Room: room})
	frame := g.broadcastLocked(room, types.EventChannelPresence, types.ChannelPresence{ChannelID: e.ChannelID, Users: users})
	unlock()

	g.publish(room, frame)
}

// handleLeave unsubscribes the connection; presence is broadcast only when the
// user's last connection left the room
func (g *Gateway) handleLeave(conn interfaces.Connection, e types.LeaveChannel) {
	room := types.RoomName(e.ChannelID)
	unlock := g.lockRoom(room)
	left := g.registry.Leave(conn.ID(), room)
	users, departed := g.presence.Leave(conn.ID(), e.ChannelID)
	g.send(conn, types.EventLeftChannel, types.LeftChannelData{Room: room})

	var frame []byte
	if left && departed && len(users) > 0 {
		frame = g.broadcastLocked(room, types.EventChannelPresence, types.ChannelPresence{ChannelID: e.ChannelID, Users: users})
	}
	unlock()

	g.publish(room, frame)
}

// handleSendMessage admits, authorizes, persists and fans out one message.
// FUNCTIONAL DISCOVERY: the rate limiter runs before the membership check and
// a rejected send is never persisted.
func (g *Gateway) handleSendMessage(ctx context.Context, conn interfaces.Connection, identity types.Identity, e types.SendMessage) {
	received := g.now()

	allowed, err := g.limiter.Allow(ctx, ratelimit.Key(identity.UserID, e.ChannelID), g.rateLimit.Max, g.rateLimit.Window)
	if err != nil {
		log.Warn("Rate limiter unavailable, admitting send", zap.String("user_id", identity.UserID), zap.Error(err))
	} else if !allowed {
		g.metrics.RateLimited()
		g.reject(conn, types.EventSendMessage, "rate_limited", types.ErrMsgRateLimited)
		return
	}

	opCtx, cancel := g.operationContext(ctx)
	defer cancel()

	member, err := g.oracle.IsMember(opCtx, e.ChannelID, identity.UserID)
	if err != nil {
		log.Warn("Membership check failed", zap.Int64("channel_id", e.ChannelID), zap.Error(err))
		g.reject(conn, types.EventSendMessage, "store", types.ErrMsgSendFailed)
		return
	}
	if !member {
		g.reject(conn, types.EventSendMessage, "not_member", types.ErrMsgNotMember)
		return
	}

	// TECHNICAL DISCOVERY: persisting under the room lock makes broadcast
	// order match id order within a room
	room := types.RoomName(e.ChannelID)
	unlock := g.lockRoom(room)
	msg, err := g.store.CreateMessage(opCtx, e.ChannelID, identity.UserID, e.Content)
	if err != nil {
		unlock()
		log.Error("Failed to persist message",
			zap.Int64("channel_id", e.ChannelID),
			zap.String("user_id", identity.UserID),
			zap.Error(err))
		g.reject(conn, types.EventSendMessage, "store", types.ErrMsgSendFailed)
		return
	}
	msg.ClientMsgID = e.ClientMsgID
	if msg.Username == "" {
		msg.Username = identity.Username
	}
	frame := g.broadcastLocked(room, types.EventMessageReceived, msg)
	unlock()

	g.publish(room, frame)
	g.send(conn, types.EventMessageAck, msg)
	g.observeLatency(received, e.ClientSentAt)
}

// observeLatency records timing samples; they never affect delivery
func (g *Gateway) observeLatency(received time.Time, clientSentAt int64) {
	now := g.now()
	g.metrics.ObserveRoundtrip(now.Sub(received))

	if clientSentAt <= 0 {
		return
	}
	elapsed := now.Sub(time.UnixMilli(clientSentAt))
	if elapsed >= 0 && elapsed < maxLatencySample {
		g.metrics.ObserveSendLatency(elapsed)
	}
}

// handleTyping relays a typing indicator; non-members are dropped silently
func (g *Gateway) handleTyping(ctx context.Context, identity types.Identity, e types.Typing) {
	opCtx, cancel := g.operationContext(ctx)
	member, err := g.oracle.IsMember(opCtx, e.ChannelID, identity.UserID)
	cancel()
	if err != nil || !member {
		return
	}

	g.broadcast(types.RoomName(e.ChannelID), types.EventChannelTyping, types.TypingData{
		ChannelID: e.ChannelID,
		UserID:    identity.UserID,
		Username:  identity.Username,
		Typing:    e.Typing,
	})
}

// handleReaction applies an idempotent reaction change and broadcasts the delta.
// Failures are dropped silently.
func (g *Gateway) handleReaction(ctx context.Context, identity types.Identity, t types.ReactionTarget, kind string) {
	opCtx, cancel := g.operationContext(ctx)
	defer cancel()

	member, err := g.oracle.IsMember(opCtx, t.ChannelID, identity.UserID)
	if err != nil || !member {
		return
	}

	// The message must live in the channel the caller was authorized for
	msg, err := g.store.GetMessage(opCtx, t.MessageID)
	if err != nil || msg.ChannelID != t.ChannelID {
		return
	}

	if kind == types.ReactionTypeAdd {
		err = g.store.AddReaction(opCtx, t.MessageID, identity.UserID, t.Emoji)
	} else {
		err = g.store.RemoveReaction(opCtx, t.MessageID, identity.UserID, t.Emoji)
	}
	if err != nil {
		log.Debug("Reaction change failed", zap.Int64("message_id", t.MessageID), zap.Error(err))
		return
	}

	g.broadcast(types.RoomName(t.ChannelID), types.EventReactionUpdate, types.ReactionUpdateData{
		Type:      kind,
		ChannelID: t.ChannelID,
		MessageID: t.MessageID,
		Emoji:     t.Emoji,
		UserID:    identity.UserID,
		Username:  identity.Username,
	})
}

// handleEdit replaces an authored message; authorship is checked by the store
func (g *Gateway) handleEdit(ctx context.Context, conn interfaces.Connection, identity types.Identity, e types.MessageEdit) {
	opCtx, cancel := g.operationContext(ctx)
	defer cancel()

	msg, err := g.store.EditMessage(opCtx, e.MessageID, identity.UserID, e.Content)
	if err != nil {
		g.reject(conn, types.EventMessageEdit, mutationReason(err), types.ErrMsgEditFailed)
		return
	}

	// Broadcast to the channel the message is stored in, not the one claimed
	g.broadcast(types.RoomName(msg.ChannelID), types.EventMessageUpdated, msg)
}

// handleDelete removes an authored message
func (g *Gateway) handleDelete(ctx context.Context, conn interfaces.Connection, identity types.Identity, e types.MessageDelete) {
	opCtx, cancel := g.operationContext(ctx)
	defer cancel()

	msg, err := g.store.DeleteMessage(opCtx, e.MessageID, identity.UserID)
	if err != nil {
		g.reject(conn, types.EventMessageDelete, mutationReason(err), types.ErrMsgDeleteFailed)
		return
	}

	g.broadcast(types.RoomName(msg.ChannelID), types.EventMessageDeleted, types.MessageDeletedData{
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
	})
}

func mutationReason(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrNotAuthor):
		return "not_author"
	case errors.Is(err, interfaces.ErrMessageNotFound):
		return "not_found"
	default:
		log.Warn("Message mutation failed", zap.Error(err))
		return "store"
	}
}

// reject answers one event with a scoped error
func (g *Gateway) reject(conn interfaces.Connection, event, reason, message string) {
	g.metrics.EventError(eventLabel(event), reason)
	log.Debug("Rejected client event",
		zap.String("conn_id", conn.ID()),
		zap.String("event", event),
		zap.String("reason", reason))
	g.send(conn, types.EventError, types.ErrorData{Message: message})
}
