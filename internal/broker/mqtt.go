package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/maxux/hombedded-faders/internal/config"
)

// MQTT is a fader feed over an MQTT broker
type MQTT struct {
	cfg    config.BrokerConfig
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	handlers  map[string]MessageHandler

	received  atomic.Uint64
	published atomic.Uint64
	errors    atomic.Uint64
}

// NewMQTT creates a new MQTT client
func NewMQTT(cfg config.BrokerConfig) *MQTT {
	return &MQTT{
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
	}
}

// Connect establishes connection to the MQTT broker
func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", m.cfg.Address))
	opts.SetClientID(m.cfg.ClientID)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetCleanSession(true)

	opts.OnConnect = func(c mqtt.Client) {
		m.mu.Lock()
		m.connected = true
		handlers := make(map[string]MessageHandler, len(m.handlers))
		for topic, h := range m.handlers {
			handlers[topic] = h
		}
		m.mu.Unlock()

		slog.Info("mqtt connection established",
			"broker", m.cfg.Address,
			"client_id", m.cfg.ClientID,
		)

		// clean session: subscriptions are gone after a reconnect
		for topic, h := range handlers {
			if err := m.subscribe(topic, h); err != nil {
				slog.Error("mqtt resubscribe failed", "topic", topic, "error", err)
			}
		}
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", m.cfg.Address,
			"max_retry_interval", "30s",
		)
	}

	m.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", m.cfg.Address)

	token := m.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()

	return nil
}

// Subscribe registers h for topic. The subscription survives reconnects.
func (m *MQTT) Subscribe(ctx context.Context, topic string, h MessageHandler) error {
	if m.client == nil {
		return ErrNotConnected
	}

	m.mu.Lock()
	m.handlers[topic] = h
	m.mu.Unlock()

	slog.Info("subscribing", "broker", "mqtt", "topic", topic, "qos", m.cfg.QoS)

	return m.subscribe(topic, h)
}

func (m *MQTT) subscribe(topic string, h MessageHandler) error {
	token := m.client.Subscribe(topic, m.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		m.received.Add(1)
		h(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscription to %q timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscription to %q failed: %w", topic, err)
	}
	return nil
}

// Publish publishes payload on topic
func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	if !m.isConnected() {
		m.errors.Add(1)
		return ErrNotConnected
	}

	token := m.client.Publish(topic, m.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		m.errors.Add(1)
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		m.errors.Add(1)
		return fmt.Errorf("publish failed: %w", err)
	}

	m.published.Add(1)
	return nil
}

// Close disconnects from the broker
func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()

	return nil
}

// Stats returns broker statistics
func (m *MQTT) Stats() Stats {
	return Stats{
		Kind:      config.BrokerMQTT,
		Address:   m.cfg.Address,
		Connected: m.isConnected(),
		Received:  m.received.Load(),
		Published: m.published.Load(),
		Errors:    m.errors.Load(),
	}
}

func (m *MQTT) isConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}
