package gateway

import "errors"

// Gateway lifecycle errors
var (
	ErrAlreadyRunning = errors.New("gateway already running")
	ErrNotRunning     = errors.New("gateway not running")
)

// Construction errors
var (
	ErrMissingStore    = errors.New("gateway requires a message store")
	ErrMissingOracle   = errors.New("gateway requires a membership oracle")
	ErrMissingLimiter  = errors.New("gateway requires a rate limiter")
	ErrMissingVerifier = errors.New("gateway requires an identity verifier")
)
