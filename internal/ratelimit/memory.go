package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Key builds the limiter key for a (user, channel) pair
func Key(userID string, channelID int64) string {
	return userID + ":" + strconv.FormatInt(channelID, 10)
}

// MemoryLimiter is an in-process sliding log limiter
// ARCHITECTURAL DISCOVERY: one mutex covers prune, count and append, so two
// concurrent sends for the same key can never both take the last slot
type MemoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]*bucket
}

// bucket is the sliding log of one key
type bucket struct {
	timestamps []time.Time
	window     time.Duration
}

// NewMemoryLimiter creates a limiter using the wall clock
func NewMemoryLimiter() *MemoryLimiter {
	return NewMemoryLimiterWithClock(time.Now)
}

// NewMemoryLimiterWithClock creates a limiter with an injected clock
func NewMemoryLimiterWithClock(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		now:     now,
		buckets: make(map[string]*bucket),
	}
}

// Allow admits the event iff fewer than limit events happened in the trailing window
func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{}
		l.buckets[key] = b
	}
	b.window = window
	b.timestamps = prune(b.timestamps, now.Add(-window))

	if len(b.timestamps) >= limit {
		return false, nil
	}

	b.timestamps = append(b.timestamps, now)
	return true, nil
}

// prune keeps timestamps strictly newer than cutoff
func prune(timestamps []time.Time, cutoff time.Time) []time.Time {
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// Cleanup removes buckets whose every timestamp has left its window
func (l *MemoryLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		b.timestamps = prune(b.timestamps, now.Add(-b.window))
		if len(b.timestamps) == 0 {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RunCleanup calls Cleanup every interval until ctx is done
func (l *MemoryLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}
