package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maxux/hombedded-faders/internal/config"
)

// Redis is a fader feed over Redis pub/sub
type Redis struct {
	cfg    config.BrokerConfig
	client *redis.Client

	mu        sync.Mutex
	connected bool
	subs      []*redis.PubSub
	wg        sync.WaitGroup

	received  atomic.Uint64
	published atomic.Uint64
	errors    atomic.Uint64
}

// NewRedis creates a new Redis client
func NewRedis(cfg config.BrokerConfig) *Redis {
	return &Redis{cfg: cfg}
}

// Connect opens the connection and checks the server answers PING.
func (r *Redis) Connect(ctx context.Context) error {
	r.client = redis.NewClient(&redis.Options{
		Addr:        r.cfg.Address,
		Password:    r.cfg.Password,
		DialTimeout: 5 * time.Second,
	})

	slog.Info("connecting to redis", "address", r.cfg.Address)

	pong, err := r.client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if pong != "PONG" {
		return fmt.Errorf("redis ping: unexpected reply %q", pong)
	}

	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()

	slog.Info("redis connection established", "address", r.cfg.Address)

	return nil
}

// Subscribe listens on channel topic until ctx is cancelled or Close.
// go-redis reconnects and resubscribes on its own.
func (r *Redis) Subscribe(ctx context.Context, topic string, h MessageHandler) error {
	if r.client == nil {
		return ErrNotConnected
	}

	sub := r.client.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscription to %q failed: %w", topic, err)
	}

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	slog.Info("subscribing", "broker", "redis", "topic", topic)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.received.Add(1)
				h(msg.Channel, []byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Publish publishes payload on channel topic
func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if r.client == nil {
		r.errors.Add(1)
		return ErrNotConnected
	}

	if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
		r.errors.Add(1)
		return fmt.Errorf("publish failed: %w", err)
	}

	r.published.Add(1)
	return nil
}

// Close stops every subscription and closes the connection pool
func (r *Redis) Close() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.connected = false
	r.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	r.wg.Wait()

	if r.client == nil {
		return nil
	}
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	slog.Info("redis disconnected")
	return nil
}

// Stats returns broker statistics
func (r *Redis) Stats() Stats {
	r.mu.Lock()
	connected := r.connected
	r.mu.Unlock()

	return Stats{
		Kind:      config.BrokerRedis,
		Address:   r.cfg.Address,
		Connected: connected,
		Received:  r.received.Load(),
		Published: r.published.Load(),
		Errors:    r.errors.Load(),
	}
}
