// Package broker connects the bridge to the fader feed. Two transports are
// supported: Redis pub/sub and MQTT.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/maxux/hombedded-faders/internal/config"
)

// ErrNotConnected is returned by Publish before Connect or after Close.
var ErrNotConnected = errors.New("broker not connected")

// MessageHandler receives one payload. It is called on a broker goroutine
// and must not block.
type MessageHandler func(topic string, payload []byte)

// Client is the subset of a pub/sub broker the bridge uses.
type Client interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, h MessageHandler) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Stats() Stats
	Close() error
}

// Stats contains broker statistics
type Stats struct {
	Kind      string
	Address   string
	Connected bool
	Received  uint64
	Published uint64
	Errors    uint64
}

// New returns the client for cfg.Kind. It does not connect.
func New(cfg config.BrokerConfig, instanceID string) (Client, error) {
	switch cfg.Kind {
	case config.BrokerRedis:
		return NewRedis(cfg), nil
	case config.BrokerMQTT:
		if cfg.ClientID == "" {
			cfg.ClientID = ClientID(instanceID)
		}
		return NewMQTT(cfg), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}

// ClientID derives a unique client id from the instance id.
func ClientID(instanceID string) string {
	return fmt.Sprintf("%s-%s", instanceID, uuid.NewString()[:8])
}
