package ratelimit

import "errors"

var (
	ErrUnknownBackend = errors.New("unknown rate limit backend")
	ErrRedisRequired  = errors.New("redis client is required for the redis rate limiter")
)
