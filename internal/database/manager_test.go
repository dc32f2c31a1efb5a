package database

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatgate/pkg/database"
	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

// Test database setup helpers
func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	manager.retryDelay = 10 * time.Millisecond

	if err := manager.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if err := manager.Close(); err != nil {
			t.Logf("Failed to close manager: %v", err)
		}
	})
	return manager
}

// seedChannel creates a channel owned by ownerID with the given extra members
func seedChannel(t *testing.T, m *Manager, name, ownerID string, members ...string) *types.Channel {
	t.Helper()
	ctx := context.Background()

	channel, err := m.CreateChannel(ctx, name, ownerID)
	if err != nil {
		t.Fatalf("CreateChannel(%s) failed: %v", name, err)
	}
	for _, userID := range members {
		if err := m.AddMember(ctx, channel.ID, userID, RoleMember); err != nil {
			t.Fatalf("AddMember(%s) failed: %v", userID, err)
		}
	}
	return channel
}

func seedMessages(t *testing.T, m *Manager, channelID int64, senderID string, contents ...string) []*types.Message {
	t.Helper()
	messages := make([]*types.Message, 0, len(contents))
	for _, content := range contents {
		message, err := m.CreateMessage(context.Background(), channelID, senderID, content)
		if err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
		messages = append(messages, message)
	}
	return messages
}

func TestManager_NewManagerInvalidConfig(t *testing.T) {
	config := database.DefaultConfig()
	config.DatabasePath = ""

	if _, err := NewManager(config); err == nil {
		t.Error("Expected invalid config to be rejected")
	}
}

func TestManager_MigrateIsIdempotent(t *testing.T) {
	manager := setupTestDB(t)

	if err := manager.Migrate(); err != nil {
		t.Errorf("Second Migrate should be a no-op, got %v", err)
	}
}

func TestManager_MigrateRejectsDriftedSchema(t *testing.T) {
	dir := t.TempDir()
	source := database.EmbeddedMigrations()
	entries, err := fs.ReadDir(source, ".")
	if err != nil {
		t.Fatalf("Failed to list migrations: %v", err)
	}
	for _, entry := range entries {
		data, err := fs.ReadFile(source, entry.Name())
		if err != nil {
			t.Fatalf("Failed to read %s: %v", entry.Name(), err)
		}
		drifted := strings.Replace(string(data), "content    TEXT NOT NULL", "content    BLOB NOT NULL", 1)
		if err := os.WriteFile(filepath.Join(dir, entry.Name()), []byte(drifted), 0o600); err != nil {
			t.Fatalf("Failed to write %s: %v", entry.Name(), err)
		}
	}

	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "drift.db")
	config.MigrationsPath = dir
	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	err = manager.Migrate()
	if err == nil || !strings.Contains(err.Error(), "messages table structure invalid") {
		t.Errorf("Expected column type drift to be rejected, got %v", err)
	}
}

func TestManager_HealthCheck(t *testing.T) {
	manager := setupTestDB(t)

	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}

	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := manager.HealthCheck(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed after close, got %v", err)
	}
}

func TestManager_CloseIdempotentAndRejectsWrites(t *testing.T) {
	manager := setupTestDB(t)

	if err := manager.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}

	_, err := manager.CreateChannel(context.Background(), "general", "alice")
	if !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed, got %v", err)
	}
}

func TestManager_WriteRetriesTransientErrorOnce(t *testing.T) {
	manager := setupTestDB(t)

	var attempts int32
	err := manager.executeWrite(context.Background(), func(db *sql.DB) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected retry to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestManager_WriteDoesNotRetryDomainErrors(t *testing.T) {
	manager := setupTestDB(t)

	var attempts int32
	err := manager.executeWrite(context.Background(), func(db *sql.DB) error {
		atomic.AddInt32(&attempts, 1)
		return interfaces.ErrNotAuthor
	})
	if !errors.Is(err, interfaces.ErrNotAuthor) {
		t.Errorf("Expected ErrNotAuthor, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Domain errors must not be retried, got %d attempts", attempts)
	}
}

func TestManager_WriteCancelledContext(t *testing.T) {
	manager := setupTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := manager.executeWrite(ctx, func(db *sql.DB) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("Cancelled operation should not run")
	}
}

func TestManager_ConcurrentWritesSerialized(t *testing.T) {
	manager := setupTestDB(t)
	channel := seedChannel(t, manager, "general", "alice")

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := manager.CreateMessage(context.Background(), channel.ID, "alice", "hi"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent write failed: %v", err)
	}

	page, err := manager.ChannelHistory(context.Background(), channel.ID, 100, nil)
	if err != nil {
		t.Fatalf("ChannelHistory failed: %v", err)
	}
	if len(page.Items) != writers {
		t.Errorf("Expected %d messages, got %d", writers, len(page.Items))
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", errors.New("database is locked"), true},
		{"not found", interfaces.ErrMessageNotFound, false},
		{"wrapped not author", errors.Join(errors.New("edit"), interfaces.ErrNotAuthor), false},
		{"channel exists", interfaces.ErrChannelExists, false},
		{"invalid role", ErrInvalidRole, false},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
