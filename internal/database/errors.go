package database

import "errors"

// Manager lifecycle errors
var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrShuttingDown  = errors.New("database manager is shutting down")
	ErrWriteTimeout  = errors.New("write operation timeout")
	ErrInvalidRole   = errors.New("invalid channel role")
)
