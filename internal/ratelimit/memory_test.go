package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestKey(t *testing.T) {
	if got := Key("alice", 12); got != "alice:12" {
		t.Errorf("Expected alice:12, got %s", got)
	}
}

// TestMemoryLimiter_Exactness admits exactly limit events per window
func TestMemoryLimiter_Exactness(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMemoryLimiterWithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := limiter.Allow(ctx, "u:1", 5, 3*time.Second)
		if err != nil || !ok {
			t.Fatalf("Send %d should be admitted, got %v %v", i+1, ok, err)
		}
	}

	ok, _ := limiter.Allow(ctx, "u:1", 5, 3*time.Second)
	if ok {
		t.Fatal("6th send inside the window should be rejected")
	}

	clock.Advance(3*time.Second + time.Millisecond)
	ok, _ = limiter.Allow(ctx, "u:1", 5, 3*time.Second)
	if !ok {
		t.Error("Send after the window should be admitted")
	}
}

// TestMemoryLimiter_SlidingWindow verifies there is no boundary refill burst
func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMemoryLimiterWithClock(clock.Now)
	ctx := context.Background()
	window := 3 * time.Second

	// Two at t=0, three at t=2s
	for i := 0; i < 2; i++ {
		limiter.Allow(ctx, "k", 5, window)
	}
	clock.Advance(2 * time.Second)
	for i := 0; i < 3; i++ {
		if ok, _ := limiter.Allow(ctx, "k", 5, window); !ok {
			t.Fatalf("Send %d at t=2s should be admitted", i+1)
		}
	}

	// At t=3s the first two expire (exactly window old) and free two slots
	clock.Advance(time.Second)
	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow(ctx, "k", 5, window); !ok {
			t.Fatalf("Send %d at t=3s should be admitted", i+1)
		}
	}
	if ok, _ := limiter.Allow(ctx, "k", 5, window); ok {
		t.Error("Third send at t=3s should be rejected, three from t=2s are still in the window")
	}
}

// TestMemoryLimiter_RejectedNotRecorded verifies rejected sends do not extend the window
func TestMemoryLimiter_RejectedNotRecorded(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMemoryLimiterWithClock(clock.Now)
	ctx := context.Background()

	limiter.Allow(ctx, "k", 1, time.Second)
	clock.Advance(500 * time.Millisecond)
	if ok, _ := limiter.Allow(ctx, "k", 1, time.Second); ok {
		t.Fatal("Second send should be rejected")
	}
	clock.Advance(600 * time.Millisecond)
	if ok, _ := limiter.Allow(ctx, "k", 1, time.Second); !ok {
		t.Error("Send should be admitted once the first leaves the window")
	}
}

func TestMemoryLimiter_KeysIndependent(t *testing.T) {
	limiter := NewMemoryLimiterWithClock(newFakeClock().Now)
	ctx := context.Background()

	limiter.Allow(ctx, Key("alice", 1), 1, time.Minute)
	if ok, _ := limiter.Allow(ctx, Key("alice", 2), 1, time.Minute); !ok {
		t.Error("Another channel for the same user should have its own window")
	}
	if ok, _ := limiter.Allow(ctx, Key("bob", 1), 1, time.Minute); !ok {
		t.Error("Another user in the same channel should have its own window")
	}
	if ok, _ := limiter.Allow(ctx, Key("alice", 1), 1, time.Minute); ok {
		t.Error("Same key should be limited")
	}
}

func TestMemoryLimiter_ZeroLimitDisables(t *testing.T) {
	limiter := NewMemoryLimiter()
	for i := 0; i < 100; i++ {
		if ok, _ := limiter.Allow(context.Background(), "k", 0, time.Second); !ok {
			t.Fatal("Zero limit should admit everything")
		}
	}
	if limiter.Len() != 0 {
		t.Error("Disabled limiter should not track keys")
	}
}

// TestMemoryLimiter_ConcurrentAtomic verifies check-and-append is atomic
func TestMemoryLimiter_ConcurrentAtomic(t *testing.T) {
	limiter := NewMemoryLimiterWithClock(newFakeClock().Now)
	var admitted int64
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow(context.Background(), "hot", 5, time.Minute); ok {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	if admitted != 5 {
		t.Errorf("Expected exactly 5 admitted, got %d", admitted)
	}
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	clock := newFakeClock()
	limiter := NewMemoryLimiterWithClock(clock.Now)
	ctx := context.Background()

	limiter.Allow(ctx, "old", 5, time.Second)
	clock.Advance(2 * time.Second)
	limiter.Allow(ctx, "fresh", 5, time.Second)

	if removed := limiter.Cleanup(); removed != 1 {
		t.Errorf("Expected 1 stale bucket removed, got %d", removed)
	}
	if limiter.Len() != 1 {
		t.Errorf("Expected 1 bucket left, got %d", limiter.Len())
	}
}

func TestMemoryLimiter_RunCleanupStops(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		limiter.RunCleanup(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not stop on cancel")
	}
}
