package config

import (
	"fmt"
	"regexp"

	"github.com/maxux/hombedded-faders/internal/channels"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

const (
	BrokerRedis = "redis"
	BrokerMQTT  = "mqtt"

	EngineJack  = "jack"
	EngineClock = "clock"

	SinkLog      = "log"
	SinkMIDIPort = "midiport"
	SinkDiscard  = "discard"
)

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "faders-ng"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS < 0 {
		return fmt.Errorf("shutdown_timeout_s must be >= 0")
	}
	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateBroker(cfg); err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	if err := validateEngine(&cfg.Engine); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := validateHandoff(&cfg.Handoff); err != nil {
		return fmt.Errorf("handoff: %w", err)
	}

	if len(cfg.Channels.Map) == 0 {
		def := channels.Default()
		cfg.Channels.Map = def.Channels
	}
	if err := cfg.Table().Validate(); err != nil {
		return fmt.Errorf("channels: %w", err)
	}

	return nil
}

func validateBroker(cfg *Config) error {
	b := &cfg.Broker

	if b.Kind == "" {
		b.Kind = BrokerRedis
	}
	if b.Kind != BrokerRedis && b.Kind != BrokerMQTT {
		return fmt.Errorf("kind must be %q or %q, got %q", BrokerRedis, BrokerMQTT, b.Kind)
	}

	if b.Address == "" {
		return fmt.Errorf("address is required")
	}

	if b.Topic == "" {
		b.Topic = "sensors-broadcast-faders-interface-100"
	}

	if b.Payload == "" {
		b.Payload = "json"
	}
	if b.Payload != "json" && b.Payload != "msgpack" {
		return fmt.Errorf("payload must be json or msgpack, got %q", b.Payload)
	}

	if b.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2")
	}

	return nil
}

func validateEngine(e *EngineConfig) error {
	if e.Kind == "" {
		e.Kind = EngineJack
	}

	switch e.Kind {
	case EngineJack:
		if e.ClientName == "" {
			e.ClientName = "faders-ng"
		}
		if e.PortName == "" {
			e.PortName = "output"
		}
		switch e.ConnectTo {
		case "":
			e.ConnectTo = "jack_mixer:midi in"
		case "none":
			e.ConnectTo = ""
		}

	case EngineClock:
		if e.SampleRate == 0 {
			e.SampleRate = 48000
		}
		if e.BufferSize == 0 {
			e.BufferSize = 256
		}
		if e.SampleRate < 0 || e.BufferSize < 0 {
			return fmt.Errorf("sample_rate and buffer_size must be > 0")
		}
		if e.BufferCapacity <= 0 {
			e.BufferCapacity = 16
		}
		if e.Sink == "" {
			e.Sink = SinkLog
		}
		switch e.Sink {
		case SinkLog, SinkDiscard:
		case SinkMIDIPort:
			if e.MIDIPort == "" {
				return fmt.Errorf("midi_port is required with the midiport sink")
			}
		default:
			return fmt.Errorf("unknown sink %q", e.Sink)
		}

	default:
		return fmt.Errorf("kind must be %q or %q, got %q", EngineJack, EngineClock, e.Kind)
	}

	if e.RealtimePriority < 0 || e.RealtimePriority > 99 {
		return fmt.Errorf("realtime_priority must be within 0-99")
	}

	return nil
}

func validateHandoff(h *HandoffConfig) error {
	if h.PollIntervalMS < 0 || h.StuckTimeoutMS < 0 || h.WatchdogMS < 0 {
		return fmt.Errorf("durations must be >= 0")
	}
	if h.PollIntervalMS == 0 {
		h.PollIntervalMS = 1
	}
	if h.StuckTimeoutMS == 0 {
		h.StuckTimeoutMS = 250
	}
	if h.WatchdogMS == 0 {
		h.WatchdogMS = 50
	}
	if h.WatchdogMS >= h.StuckTimeoutMS {
		return fmt.Errorf("watchdog_ms (%d) must be below stuck_timeout_ms (%d)", h.WatchdogMS, h.StuckTimeoutMS)
	}

	return nil
}
