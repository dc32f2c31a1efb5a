package interfaces

import (
	"context"
	"time"
)

// RateLimiter admits or rejects one event for a key.
// A limit of zero or less admits everything. Check and append are atomic.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
