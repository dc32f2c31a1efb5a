package integration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"chatgate/internal/app"
	"chatgate/internal/auth"
	"chatgate/internal/config"
	"chatgate/pkg/client"
	"chatgate/pkg/types"
)

const testSecret = "integration-secret"

// stack is a fully started application listening on a loopback port
type stack struct {
	baseURL  string
	verifier *auth.Verifier
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startStack boots the whole application the way cmd/chatgate does
func startStack(t *testing.T) *stack {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Database.Path = filepath.Join(t.TempDir(), "integration.db")
	cfg.Auth.JWTSecret = testSecret

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := application.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := application.Stop(stopCtx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		cancel()
	})

	verifier, err := auth.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	return &stack{baseURL: "http://" + application.GetAddr(), verifier: verifier}
}

func (s *stack) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.verifier.Issue(types.Identity{UserID: userID, Username: userID + "-name"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return token
}

// call performs an authenticated API request and decodes the JSON reply into out
func (s *stack) call(t *testing.T, method, path, userID string, body, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.baseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *stack) createChannel(t *testing.T, userID, name string) *types.Channel {
	t.Helper()
	var ch types.Channel
	if code := s.call(t, http.MethodPost, "/api/channels", userID, map[string]string{"name": name}, &ch); code != http.StatusCreated {
		t.Fatalf("Expected 201 creating %q, got %d", name, code)
	}
	return &ch
}

func (s *stack) joinChannel(t *testing.T, userID string, channelID int64) {
	t.Helper()
	path := fmt.Sprintf("/api/channels/%d/join", channelID)
	if code := s.call(t, http.MethodPost, path, userID, nil, nil); code != http.StatusOK {
		t.Fatalf("Expected 200 joining channel %d, got %d", channelID, code)
	}
}

func (s *stack) history(t *testing.T, userID string, channelID int64, query string) types.MessagePage {
	t.Helper()
	var page types.MessagePage
	path := fmt.Sprintf("/api/channels/%d/messages?%s", channelID, query)
	if code := s.call(t, http.MethodGet, path, userID, nil, &page); code != http.StatusOK {
		t.Fatalf("Expected 200 for history, got %d", code)
	}
	return page
}

func (s *stack) dial(t *testing.T, userID string, opts client.Options) *client.Client {
	t.Helper()
	opts.Token = s.token(t, userID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, s.baseURL, opts)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	waitFor(t, c, "authentication", func(c *client.Client) bool {
		_, ok := c.Identity()
		return ok
	})
	return c
}

func waitFor(t *testing.T, c *client.Client, what string, cond func(*client.Client) bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.WaitFor(ctx, cond); err != nil {
		t.Fatalf("Timed out waiting for %s: %v", what, err)
	}
}
