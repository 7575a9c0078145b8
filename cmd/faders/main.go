package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/maxux/hombedded-faders/internal/broker"
	"github.com/maxux/hombedded-faders/internal/config"
	"github.com/maxux/hombedded-faders/internal/core"
	"github.com/maxux/hombedded-faders/internal/engine"
	"github.com/maxux/hombedded-faders/internal/engine/clock"
	"github.com/maxux/hombedded-faders/internal/engine/jack"
	"github.com/maxux/hombedded-faders/internal/engine/midiport"
)

const defaultConfigPath = "config/faders.yaml"

func main() {
	configPath := flag.StringP("config", "c", defaultConfigPath, "Path to configuration file")
	debug := flag.BoolP("debug", "d", false, "Enable debug logging (logs every fader batch)")
	listPorts := flag.Bool("list-ports", false, "List MIDI output ports and exit")
	flag.Parse()

	if *listPorts {
		for _, name := range midiport.Ports() {
			fmt.Println(name)
		}
		return
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting fader bridge",
		"config", *configPath,
		"debug", *debug,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	client, err := broker.New(cfg.Broker, cfg.InstanceID)
	if err != nil {
		slog.Error("failed to create broker client", "error", err)
		os.Exit(1)
	}

	bridge, err := core.New(cfg, client, engineFactory(cfg.Engine))
	if err != nil {
		slog.Error("failed to create fader bridge", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := bridge.Run(ctx); err != nil {
		slog.Error("fader bridge failed", "error", err)
		os.Exit(1)
	}

	slog.Info("fader bridge stopped successfully")
}

func engineFactory(cfg config.EngineConfig) core.EngineFactory {
	return func(proc engine.Processor) (engine.Engine, error) {
		switch cfg.Kind {
		case config.EngineJack:
			e, err := jack.New(jack.Config{
				ClientName: cfg.ClientName,
				ServerName: cfg.ServerName,
				PortName:   cfg.PortName,
				ConnectTo:  cfg.ConnectTo,
			}, proc)
			if err != nil {
				return nil, err
			}
			return e, nil

		case config.EngineClock:
			sink, err := openSink(cfg)
			if err != nil {
				return nil, err
			}
			e, err := clock.New(clock.Config{
				Name:             "faders-clock",
				SampleRate:       cfg.SampleRate,
				BufferSize:       cfg.BufferSize,
				BufferCapacity:   cfg.BufferCapacity,
				RealtimePriority: cfg.RealtimePriority,
			}, proc, sink)
			if err != nil {
				sink.Close()
				return nil, err
			}
			return e, nil

		default:
			return nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
		}
	}
}

func openSink(cfg config.EngineConfig) (clock.Sink, error) {
	switch cfg.Sink {
	case config.SinkMIDIPort:
		s, err := midiport.Open(cfg.MIDIPort)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SinkDiscard:
		return clock.DiscardSink{}, nil
	default:
		return clock.LogSink{}, nil
	}
}
