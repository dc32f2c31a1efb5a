package interfaces

import "chatgate/pkg/types"

// Connection represents a client connection as seen by the gateway
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details
// keeps the gateway testable with in-memory connections
type Connection interface {
	// ID returns the unique connection id
	ID() string

	// Identity returns the authenticated identity, ok is false until the
	// handshake or an authenticate event completes
	Identity() (types.Identity, bool)

	// Authenticate attaches a validated identity to the connection
	Authenticate(identity types.Identity)

	// Send enqueues an already encoded frame without blocking (thread-safe)
	Send(frame []byte) error

	// WriteEvent encodes and enqueues a single event frame (thread-safe)
	WriteEvent(event string, data interface{}) error

	// Close closes the connection and cleans up resources
	Close() error
}
