package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatgate/internal/auth"
	"chatgate/internal/config"
	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

// recordingSink echoes every frame back and records lifecycle calls
type recordingSink struct {
	mu           sync.Mutex
	connected    []types.Identity
	authed       []bool
	frames       []string
	disconnected chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{disconnected: make(chan string, 4)}
}

func (s *recordingSink) Connect(conn interfaces.Connection) {
	identity, ok := conn.Identity()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, identity)
	s.authed = append(s.authed, ok)
}

func (s *recordingSink) HandleFrame(ctx context.Context, conn interfaces.Connection, raw []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, string(raw))
	s.mu.Unlock()
	_ = conn.WriteEvent(types.EventError, types.ErrorData{Message: "echo"})
}

func (s *recordingSink) Disconnect(conn interfaces.Connection) {
	s.disconnected <- conn.ID()
}

func testWebSocketConfig() *config.WebSocketConfig {
	return &config.WebSocketConfig{
		PingInterval:   time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   time.Second,
		BufferSize:     16,
		MaxMessageSize: 4096,
	}
}

func startHandler(t *testing.T, sink EventSink) (string, *auth.Verifier) {
	t.Helper()
	verifier, err := auth.NewVerifier("test-secret")
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	h := NewHandler(testWebSocketConfig(), verifier, sink, nil)
	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http"), verifier
}

func TestHandler_AuthenticatedHandshake(t *testing.T) {
	sink := newRecordingSink()
	url, verifier := startHandler(t, sink)

	token, err := verifier.Issue(types.Identity{UserID: "u1", Username: "alice"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	client, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"event":"typing","data":{}}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !strings.Contains(string(data), "echo") {
		t.Errorf("Expected echo frame, got %s", data)
	}

	sink.mu.Lock()
	if len(sink.connected) != 1 || !sink.authed[0] || sink.connected[0].UserID != "u1" {
		t.Errorf("Expected authenticated connect for u1, got %+v %v", sink.connected, sink.authed)
	}
	if len(sink.frames) != 1 {
		t.Errorf("Expected 1 frame, got %d", len(sink.frames))
	}
	sink.mu.Unlock()

	client.Close()
	select {
	case <-sink.disconnected:
	case <-time.After(2 * time.Second):
		t.Error("Expected Disconnect after client close")
	}
}

func TestHandler_InvalidTokenStaysUnauthenticated(t *testing.T) {
	for _, query := range []string{"", "?token=garbage"} {
		sink := newRecordingSink()
		url, _ := startHandler(t, sink)

		client, _, err := websocket.DefaultDialer.Dial(url+query, nil)
		if err != nil {
			t.Fatalf("Dial %q should succeed, got %v", query, err)
		}

		// Round trip a frame so Connect has certainly run
		_ = client.WriteMessage(websocket.TextMessage, []byte(`{}`))
		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := client.ReadMessage(); err != nil {
			t.Fatalf("Read failed: %v", err)
		}

		sink.mu.Lock()
		if len(sink.authed) != 1 || sink.authed[0] {
			t.Errorf("Query %q: expected unauthenticated connection, got %v", query, sink.authed)
		}
		sink.mu.Unlock()
		client.Close()
	}
}

func TestHandler_OversizedFrameClosesConnection(t *testing.T) {
	sink := newRecordingSink()
	url, _ := startHandler(t, sink)

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	_ = client.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 8192)))

	select {
	case <-sink.disconnected:
	case <-time.After(2 * time.Second):
		t.Error("Expected oversized frame to end the connection")
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	cfg := testWebSocketConfig()
	cfg.AllowedOrigins = []string{"https://chat.example.com"}
	h := NewHandler(cfg, nil, newRecordingSink(), nil)
	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"allowed origin", "https://chat.example.com", true},
		{"foreign origin", "https://evil.example.net", false},
		{"no origin", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if tt.ok {
				if err != nil {
					t.Fatalf("Expected upgrade, got %v", err)
				}
				conn.Close()
				return
			}
			if err == nil {
				conn.Close()
				t.Fatal("Expected foreign origin to be refused")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("Expected 403, got %+v", resp)
			}
		})
	}
}
