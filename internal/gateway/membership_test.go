package gateway

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

// gatedOracle answers the first check for userID, then holds the caller until released
type gatedOracle struct {
	inner    interfaces.MembershipOracle
	userID   string
	answered chan struct{}
	release  chan struct{}
	once     sync.Once
}

func newGatedOracle(userID string) *gatedOracle {
	return &gatedOracle{userID: userID, answered: make(chan struct{}), release: make(chan struct{})}
}

func (o *gatedOracle) IsMember(ctx context.Context, channelID int64, userID string) (bool, error) {
	member, err := o.inner.IsMember(ctx, channelID, userID)
	if userID == o.userID {
		o.once.Do(func() {
			close(o.answered)
			<-o.release
		})
	}
	return member, err
}

func mustFrame(t *testing.T, event string, data interface{}) []byte {
	t.Helper()
	frame, err := types.EncodeEnvelope(event, data)
	if err != nil {
		t.Fatalf("EncodeEnvelope failed: %v", err)
	}
	return frame
}

func TestMembership_RevokeDuringJoinEvicts(t *testing.T) {
	gate := newGatedOracle("bob")
	h := newHarness(t, func(o *Options) {
		gate.inner = o.Oracle
		o.Oracle = gate
	})
	ch := h.createChannel(t, "general", "alice", "bob")
	bob := h.connect(t, "b", "bob")
	room := types.RoomName(ch.ID)
	ctx := context.Background()

	joinFrame := mustFrame(t, types.EventJoinChannel, types.JoinChannel{ChannelID: ch.ID})
	joined := make(chan struct{})
	go func() {
		h.gateway.HandleFrame(ctx, bob, joinFrame)
		close(joined)
	}()

	select {
	case <-gate.answered:
	case <-time.After(2 * time.Second):
		t.Fatal("Join never consulted the oracle")
	}

	revoked := make(chan error, 1)
	go func() { revoked <- h.channels.RemoveMember(ctx, ch.ID, "bob", "bob") }()

	// Let the membership row disappear while the join still holds a stale answer
	deadline := time.Now().Add(2 * time.Second)
	for {
		member, err := h.db.IsMember(ctx, ch.ID, "bob")
		if err != nil {
			t.Fatalf("IsMember failed: %v", err)
		}
		if !member {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Membership was never removed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(gate.release)
	<-joined
	select {
	case err := <-revoked:
		if err != nil {
			t.Fatalf("RemoveMember failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Revocation never completed")
	}

	if h.gateway.registry.IsSubscribed("b", room) {
		t.Error("Revoked member must not stay subscribed")
	}
	if users := h.gateway.Presence(ch.ID); len(users) != 0 {
		t.Errorf("Revoked member must not stay present, got %+v", users)
	}
}

func lastPresence(t *testing.T, envs []types.Envelope) (types.ChannelPresence, bool) {
	t.Helper()
	var p types.ChannelPresence
	found := false
	for _, env := range envs {
		if env.Event == types.EventChannelPresence {
			decode(t, env, &p)
			found = true
		}
	}
	return p, found
}

func TestMembership_DisconnectNeverOvertakesJoin(t *testing.T) {
	h := newHarness(t)
	ch := h.createChannel(t, "general", "alice", "xavier", "yara")
	ctx := context.Background()

	alice := h.connect(t, "a", "alice")
	h.join(t, alice, ch.ID)
	joinFrame := mustFrame(t, types.EventJoinChannel, types.JoinChannel{ChannelID: ch.ID})

	for i := 0; i < 50; i++ {
		x := h.connect(t, fmt.Sprintf("x%d", i), "xavier")
		h.join(t, x, ch.ID)
		y := h.connect(t, fmt.Sprintf("y%d", i), "yara")
		alice.drain(t)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.gateway.Disconnect(x)
		}()
		go func() {
			defer wg.Done()
			h.gateway.HandleFrame(ctx, y, joinFrame)
		}()
		wg.Wait()

		last, ok := lastPresence(t, alice.drain(t))
		if !ok {
			t.Fatalf("Iteration %d: expected a presence broadcast", i)
		}
		if want := h.gateway.Presence(ch.ID); !reflect.DeepEqual(last.Users, want) {
			t.Fatalf("Iteration %d: last broadcast %+v disagrees with presence %+v", i, last.Users, want)
		}

		h.gateway.Disconnect(y)
	}

	if n := h.gateway.GetStats()["room_locks"]; n != 0 {
		t.Errorf("Idle rooms should hold no locks, got %v", n)
	}
}
