package interfaces

import (
	"context"

	"chatgate/pkg/types"
)

// Relay carries room frames between gateway processes.
// Ordering across processes is not guaranteed.
type Relay interface {
	// Publish sends one room frame to every other subscribed process
	Publish(ctx context.Context, msg types.RelayMessage) error

	// Subscribe delivers frames published by any process until ctx is done
	Subscribe(ctx context.Context, handler func(types.RelayMessage)) error

	// Close releases the underlying connection
	Close() error
}
