// Package clock is a software audio engine: a ticker stands in for the
// audio server and each tick runs one period against a fixed buffer, which
// is then flushed to a Sink.
package clock

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxux/hombedded-faders/internal/channels"
	"github.com/maxux/hombedded-faders/internal/engine"
)

// Sink receives the messages written during a period.
type Sink interface {
	Send(msg []byte) error
	Close() error
}

// Config describes the simulated period.
type Config struct {
	Name             string
	SampleRate       int
	BufferSize       int
	BufferCapacity   int
	RealtimePriority int
}

// Period returns BufferSize frames at SampleRate.
func (c Config) Period() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.BufferSize) * time.Second / time.Duration(c.SampleRate)
}

// Engine runs a Processor on a ticker.
type Engine struct {
	cfg  Config
	proc engine.Processor
	sink Sink
	buf  *engine.Buffer

	mu      sync.Mutex
	running bool

	closeOnce sync.Once
	closeErr  error

	periods    atomic.Uint64
	sent       atomic.Uint64
	sinkErrors atomic.Uint64
}

// New returns a clock engine feeding sink.
func New(cfg Config, proc engine.Processor, sink Sink) (*Engine, error) {
	if cfg.Period() <= 0 {
		return nil, fmt.Errorf("invalid period: %d frames at %d Hz", cfg.BufferSize, cfg.SampleRate)
	}
	if cfg.BufferCapacity <= 0 {
		return nil, fmt.Errorf("buffer capacity must be > 0")
	}
	if cfg.Name == "" {
		cfg.Name = "clock"
	}

	return &Engine{
		cfg:  cfg,
		proc: proc,
		sink: sink,
		buf:  engine.NewBuffer(cfg.BufferCapacity),
	}, nil
}

// Info describes the engine.
func (e *Engine) Info() engine.Info {
	return engine.Info{
		Kind:       "clock",
		Name:       e.cfg.Name,
		SampleRate: uint32(e.cfg.SampleRate),
	}
}

// Run ticks until ctx is cancelled, then closes the engine.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("clock engine already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if e.cfg.RealtimePriority > 0 {
		if err := setRealtimePriority(e.cfg.RealtimePriority); err != nil {
			slog.Warn("running without real-time priority", "error", err)
		} else {
			slog.Info("real-time priority set", "policy", "SCHED_FIFO", "priority", e.cfg.RealtimePriority)
		}
	}

	period := e.cfg.Period()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	slog.Info("clock engine started",
		"name", e.cfg.Name,
		"sample_rate", e.cfg.SampleRate,
		"buffer_size", e.cfg.BufferSize,
		"period", period,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("clock engine stopped", "periods", e.periods.Load(), "sent", e.sent.Load())
			return e.Close()
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Close closes the sink once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if err := e.sink.Close(); err != nil {
			e.closeErr = fmt.Errorf("failed to close sink: %w", err)
		}
	})
	return e.closeErr
}

// Tick runs one period and flushes the buffer to the sink.
func (e *Engine) Tick() int {
	e.periods.Add(1)
	n := e.proc.Process(e.buf)

	for i := 0; i < e.buf.Len(); i++ {
		msg := e.buf.At(i)
		if err := e.sink.Send(msg); err != nil {
			e.sinkErrors.Add(1)
			slog.Warn("sink refused message", "message", channels.Describe(msg), "error", err)
			continue
		}
		e.sent.Add(1)
	}

	return n
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Periods    uint64
	Sent       uint64
	SinkErrors uint64
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Periods:    e.periods.Load(),
		Sent:       e.sent.Load(),
		SinkErrors: e.sinkErrors.Load(),
	}
}
