package ratelimit

import (
	"github.com/redis/go-redis/v9"

	"chatgate/internal/config"
	"chatgate/pkg/interfaces"
)

// New selects the single limiter strategy for this deployment.
// The shared and in-memory limiters are never combined.
func New(cfg *config.RateLimitConfig, client *redis.Client) (interfaces.RateLimiter, error) {
	switch cfg.Backend {
	case config.RateLimitMemory, "":
		return NewMemoryLimiter(), nil
	case config.RateLimitRedis:
		if client == nil {
			return nil, ErrRedisRequired
		}
		return NewRedisLimiter(client), nil
	default:
		return nil, ErrUnknownBackend
	}
}
