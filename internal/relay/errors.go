package relay

import "errors"

var (
	ErrUnknownBackend = errors.New("unknown relay backend")
	ErrRedisRequired  = errors.New("redis client is required for the redis relay")
	ErrClosed         = errors.New("relay closed")
)
