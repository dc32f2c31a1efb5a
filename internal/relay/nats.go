package relay

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

// NATSRelay fans room frames out over a core NATS subject
// FUNCTIONAL DISCOVERY: core NATS has no persistence, which matches the
// fire-and-forget nature of room broadcasts
type NATSRelay struct {
	nc      *nats.Conn
	subject string
}

var _ interfaces.Relay = (*NATSRelay)(nil)

// NewNATSRelay connects to url and relays on subject
func NewNATSRelay(url, subject string) (*NATSRelay, error) {
	nc, err := nats.Connect(url,
		nats.Name("chatgate-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to nats at %s", url)
	}
	return &NATSRelay{nc: nc, subject: subject}, nil
}

// Publish sends one frame to every subscribed process
func (r *NATSRelay) Publish(ctx context.Context, msg types.RelayMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encode(msg)
	if err != nil {
		return errors.Wrap(err, "encode relay message")
	}
	if err := r.nc.Publish(r.subject, payload); err != nil {
		return errors.Wrapf(err, "publish to %s", r.subject)
	}
	return nil
}

// Subscribe registers handler until ctx is done
func (r *NATSRelay) Subscribe(ctx context.Context, handler func(types.RelayMessage)) error {
	sub, err := r.nc.Subscribe(r.subject, func(m *nats.Msg) {
		msg, valid := decode(m.Data)
		if !valid {
			log.Warn("Dropped malformed relay payload", zap.String("subject", m.Subject))
			return
		}
		handler(msg)
	})
	if err != nil {
		return errors.Wrapf(err, "subscribe to %s", r.subject)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)

	log.Info("Subscribed to NATS relay", zap.String("subject", r.subject))

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// Close drains pending deliveries and closes the connection
func (r *NATSRelay) Close() error {
	if r.nc.IsClosed() {
		return nil
	}
	return r.nc.Drain()
}
