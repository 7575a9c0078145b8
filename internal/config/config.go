package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maxux/hombedded-faders/internal/channels"
)

// Config represents the complete faders configuration
type Config struct {
	InstanceID       string         `yaml:"instance_id"`
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	HealthAddr       string         `yaml:"health_addr"`        // Health/metrics listen address, empty disables
	Broker           BrokerConfig   `yaml:"broker"`
	Engine           EngineConfig   `yaml:"engine"`
	Handoff          HandoffConfig  `yaml:"handoff"`
	Channels         ChannelsConfig `yaml:"channels"`
}

// BrokerConfig contains the fader feed settings
type BrokerConfig struct {
	Kind         string `yaml:"kind"`          // redis, mqtt
	Address      string `yaml:"address"`       // host:port
	Password     string `yaml:"password"`      // redis AUTH / mqtt password
	Username     string `yaml:"username"`      // mqtt only
	ClientID     string `yaml:"client_id"`     // mqtt only, generated when empty
	Topic        string `yaml:"topic"`         // channel (redis) or topic (mqtt) carrying fader batches
	Payload      string `yaml:"payload"`       // json, msgpack
	QoS          byte   `yaml:"qos"`           // mqtt only
	ControlTopic string `yaml:"control_topic"` // control plane, empty disables
}

// EngineConfig contains the audio engine settings
type EngineConfig struct {
	Kind string `yaml:"kind"` // jack, clock

	// jack
	ClientName string `yaml:"client_name"`
	ServerName string `yaml:"server_name"`
	PortName   string `yaml:"port_name"`
	ConnectTo  string `yaml:"connect_to"` // port name pattern to auto-connect, "none" disables

	// clock
	SampleRate       int    `yaml:"sample_rate"`
	BufferSize       int    `yaml:"buffer_size"`
	BufferCapacity   int    `yaml:"buffer_capacity"` // messages per period
	Sink             string `yaml:"sink"`            // log, midiport, discard
	MIDIPort         string `yaml:"midi_port"`       // midiport sink: output port name
	RealtimePriority int    `yaml:"realtime_priority"`
}

// HandoffConfig tunes the updater/emitter handoff
type HandoffConfig struct {
	PollIntervalMS int `yaml:"poll_interval_ms"`
	StuckTimeoutMS int `yaml:"stuck_timeout_ms"`
	WatchdogMS     int `yaml:"watchdog_ms"`
}

// ChannelsConfig maps fader indices to mixer controllers
type ChannelsConfig struct {
	MIDIChannel uint8              `yaml:"midi_channel"`
	Map         []channels.Channel `yaml:"map"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Table returns the channel table described by the configuration
func (c *Config) Table() channels.Table {
	return channels.Table{
		MIDIChannel: c.Channels.MIDIChannel,
		Channels:    c.Channels.Map,
	}
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// PollInterval returns the updater poll interval
func (h HandoffConfig) PollInterval() time.Duration {
	return time.Duration(h.PollIntervalMS) * time.Millisecond
}

// StuckTimeout returns how long the emitter may stay busy
func (h HandoffConfig) StuckTimeout() time.Duration {
	return time.Duration(h.StuckTimeoutMS) * time.Millisecond
}

// Watchdog returns the stuck emitter check interval
func (h HandoffConfig) Watchdog() time.Duration {
	return time.Duration(h.WatchdogMS) * time.Millisecond
}

// Period returns the clock engine period
func (e EngineConfig) Period() time.Duration {
	return time.Duration(e.BufferSize) * time.Second / time.Duration(e.SampleRate)
}
