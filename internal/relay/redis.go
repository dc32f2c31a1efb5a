package relay

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

// RedisRelay fans room frames out over one Redis pub/sub channel
type RedisRelay struct {
	client  *redis.Client
	channel string

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

var _ interfaces.Relay = (*RedisRelay)(nil)

// NewRedisRelay publishes on channel through a client shared with other components.
// The client is not closed by the relay.
func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{client: client, channel: channel}
}

// Publish sends one frame to every subscribed process
func (r *RedisRelay) Publish(ctx context.Context, msg types.RelayMessage) error {
	payload, err := encode(msg)
	if err != nil {
		return errors.Wrap(err, "encode relay message")
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "publish to %s", r.channel)
	}
	return nil
}

// Subscribe confirms the subscription, then delivers in the background until ctx is done
func (r *RedisRelay) Subscribe(ctx context.Context, handler func(types.RelayMessage)) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.mu.Unlock()

	pubsub := r.client.Subscribe(ctx, r.channel)
	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return errors.Wrapf(err, "subscribe to %s", r.channel)
	}

	r.mu.Lock()
	r.subs = append(r.subs, pubsub)
	r.mu.Unlock()

	log.Info("Subscribed to Redis relay", zap.String("channel", r.channel))

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				msg, valid := decode([]byte(m.Payload))
				if !valid {
					log.Warn("Dropped malformed relay payload", zap.String("channel", m.Channel))
					continue
				}
				handler(msg)
			}
		}
	}()
	return nil
}

// Close ends every subscription opened by this relay
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	for _, sub := range r.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.subs = nil
	return firstErr
}
