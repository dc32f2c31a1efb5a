package relay

import (
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"chatgate/internal/config"
	"chatgate/internal/logger"
	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

var log = logger.Named("relay")

// New builds the relay selected by cfg. The none backend returns a nil relay
// and the gateway then fans out locally only.
func New(cfg *config.RelayConfig, client *redis.Client) (interfaces.Relay, error) {
	switch cfg.Backend {
	case config.RelayNone, "":
		return nil, nil
	case config.RelayRedis:
		if client == nil {
			return nil, ErrRedisRequired
		}
		return NewRedisRelay(client, cfg.Subject), nil
	case config.RelayNATS:
		return NewNATSRelay(cfg.NATSURL, cfg.Subject)
	default:
		return nil, ErrUnknownBackend
	}
}

func encode(msg types.RelayMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func decode(payload []byte) (types.RelayMessage, bool) {
	var msg types.RelayMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Room == "" {
		return msg, false
	}
	return msg, true
}
