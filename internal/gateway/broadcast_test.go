package gateway

import (
	"context"
	"strings"
	"sync"
	"testing"

	"chatgate/internal/ratelimit"
	"chatgate/pkg/types"
)

// memoryRelay delivers every published frame synchronously to all subscribers
type memoryRelay struct {
	mu        sync.Mutex
	handlers  []func(types.RelayMessage)
	published []types.RelayMessage
}

func (r *memoryRelay) Publish(ctx context.Context, msg types.RelayMessage) error {
	r.mu.Lock()
	r.published = append(r.published, msg)
	handlers := append([]func(types.RelayMessage){}, r.handlers...)
	r.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (r *memoryRelay) Subscribe(ctx context.Context, handler func(types.RelayMessage)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler)
	return nil
}

func (r *memoryRelay) Close() error { return nil }

func TestBroadcast_RelayAcrossInstances(t *testing.T) {
	relay := &memoryRelay{}
	h := newHarness(t, func(o *Options) { o.Relay = relay })

	second, err := NewGateway(Options{
		Store:    h.db,
		Oracle:   h.channels,
		Limiter:  ratelimit.NewMemoryLimiter(),
		Verifier: h.verifier,
		Relay:    relay,
	})
	if err != nil {
		t.Fatalf("NewGateway failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.gateway.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ch := h.createChannel(t, "general", "alice", "bob")
	alice := h.connect(t, "a", "alice")
	h.join(t, alice, ch.ID)

	bob := newTestConn("b")
	bob.Authenticate(types.Identity{UserID: "bob", Username: "bob-name"})
	second.Connect(bob)
	frame, _ := types.EncodeEnvelope(types.EventJoinChannel, types.JoinChannel{ChannelID: ch.ID})
	second.HandleFrame(context.Background(), bob, frame)
	bob.drain(t)
	alice.drain(t)

	h.emit(t, alice, types.EventSendMessage, types.SendMessage{ChannelID: ch.ID, Content: "across"})

	env, ok := find(bob.drain(t), types.EventMessageReceived)
	if !ok {
		t.Fatal("Expected relayed messageReceived on the second instance")
	}
	if !strings.Contains(string(env.Data), "across") {
		t.Errorf("Unexpected relayed payload %s", env.Data)
	}

	// The origin skips its own frames, so alice sees exactly one broadcast
	if n := count(alice.drain(t), types.EventMessageReceived); n != 1 {
		t.Errorf("Expected 1 local broadcast, got %d", n)
	}

	relay.mu.Lock()
	defer relay.mu.Unlock()
	for _, msg := range relay.published {
		if msg.Room != types.RoomName(ch.ID) {
			t.Errorf("Unexpected relay room %s", msg.Room)
		}
		if msg.Origin == "" {
			t.Error("Relay messages must carry the origin instance")
		}
	}
}

func TestBroadcast_RelayIgnoresForeignRooms(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "a", "alice")
	_, _ = h.gateway.registry.Join("a", "lobby")

	h.gateway.handleRelay(types.RelayMessage{Origin: "other", Room: "lobby", Frame: []byte(`{"event":"x"}`)})
	if envs := conn.drain(t); len(envs) != 0 {
		t.Errorf("Frames for non-channel rooms must be ignored, got %+v", envs)
	}
}

func TestBroadcast_SlowConsumerDoesNotBlockRoom(t *testing.T) {
	h := newHarness(t)
	ch := h.createChannel(t, "general", "alice", "bob", "carol")
	alice := h.connect(t, "a", "alice")
	bob := h.connect(t, "b", "bob")
	carol := h.connect(t, "c", "carol")
	h.join(t, alice, ch.ID)
	h.join(t, bob, ch.ID)
	h.join(t, carol, ch.ID)
	alice.drain(t)
	carol.drain(t)

	bob.mu.Lock()
	bob.full = true
	bob.mu.Unlock()

	h.emit(t, alice, types.EventSendMessage, types.SendMessage{ChannelID: ch.ID, Content: "still flowing"})

	if _, ok := find(carol.drain(t), types.EventMessageReceived); !ok {
		t.Error("Healthy subscriber should still receive the broadcast")
	}
	if _, ok := find(alice.drain(t), types.EventMessageAck); !ok {
		t.Error("Sender should still be acknowledged")
	}

	exposition := scrape(t, h)
	if !strings.Contains(exposition, "ws_dropped_frames_total 1") {
		t.Errorf("Expected one dropped frame:\n%s", grepLines(exposition, "ws_dropped_frames_total"))
	}
}
