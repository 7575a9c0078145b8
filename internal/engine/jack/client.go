//go:build !headless

package jack

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/xthexder/go-jack"

	"github.com/maxux/hombedded-faders/internal/engine"
	"github.com/maxux/hombedded-faders/internal/handoff"
)

var _ handoff.Output = (*output)(nil)

// Engine is a JACK client with one MIDI output port.
type Engine struct {
	cfg  Config
	proc engine.Processor

	client *jack.Client
	port   *jack.Port
	out    output

	shutdown     chan struct{}
	shutdownOnce sync.Once
	closeOnce    sync.Once

	name       string
	sampleRate uint32
}

// New opens the client and registers the output port. The client is not
// activated until Run; Close releases it.
func New(cfg Config, proc engine.Processor) (*Engine, error) {
	if cfg.ServerName != "" {
		if err := os.Setenv("JACK_DEFAULT_SERVER", cfg.ServerName); err != nil {
			return nil, fmt.Errorf("failed to select jack server: %w", err)
		}
	}

	client, status := jack.ClientOpen(cfg.ClientName, jack.NoStartServer)
	if client == nil {
		return nil, fmt.Errorf("could not open jack client (status 0x%x): %w", status, jack.StrError(status))
	}

	e := &Engine{
		cfg:        cfg,
		proc:       proc,
		client:     client,
		shutdown:   make(chan struct{}),
		name:       client.GetName(),
		sampleRate: client.GetSampleRate(),
	}

	if status&jack.NameNotUnique != 0 {
		slog.Warn("jack client name not unique", "requested", cfg.ClientName, "assigned", e.name)
	}

	slog.Info("jack client opened", "name", e.name, "sample_rate", e.sampleRate)

	e.port = client.PortRegister(cfg.PortName, jack.DEFAULT_MIDI_TYPE, jack.PortIsOutput, 0)
	if e.port == nil {
		e.Close()
		return nil, fmt.Errorf("could not register midi port %q", cfg.PortName)
	}
	e.out.port = e.port

	if code := client.SetProcessCallback(e.process); code != 0 {
		e.Close()
		return nil, fmt.Errorf("could not set process callback: %w", jack.StrError(code))
	}

	client.OnShutdown(func() {
		e.shutdownOnce.Do(func() { close(e.shutdown) })
	})

	return e, nil
}

// process is the JACK real-time callback.
func (e *Engine) process(nframes uint32) int {
	e.out.nframes = nframes
	e.proc.Process(&e.out)
	return 0
}

// Info describes the client.
func (e *Engine) Info() engine.Info {
	return engine.Info{
		Kind:       "jack",
		Name:       e.name,
		SampleRate: e.sampleRate,
	}
}

// Run activates the client, auto-connects the output port and blocks until
// ctx is cancelled or the server shuts the client down.
func (e *Engine) Run(ctx context.Context) error {
	if code := e.client.Activate(); code != 0 {
		e.Close()
		return fmt.Errorf("could not activate jack client: %w", jack.StrError(code))
	}

	slog.Info("jack client activated", "port", e.port.GetName())

	autoConnect(graph{e.client}, e.port.GetName(), e.cfg.ConnectTo)

	select {
	case <-ctx.Done():
		return e.Close()
	case <-e.shutdown:
		return fmt.Errorf("jack server closed client %q: %w", e.name, engine.ErrShutdown)
	}
}

// Close deactivates and closes the client. Only the first call does
// anything.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if code := e.client.Close(); code != 0 {
			err = fmt.Errorf("could not close jack client: %w", jack.StrError(code))
			return
		}
		slog.Info("jack client closed", "name", e.name)
	})
	return err
}

// graph exposes the client's port graph to autoConnect.
type graph struct {
	client *jack.Client
}

func (g graph) InputPorts(pattern string) []string {
	return g.client.GetPorts(pattern, jack.DEFAULT_MIDI_TYPE, jack.PortIsInput)
}

func (g graph) Connect(src, dst string) error {
	return jack.StrError(g.client.Connect(src, dst))
}

// output adapts the port's MIDI buffer for one period.
type output struct {
	port    *jack.Port
	nframes uint32
	buf     jack.MidiBuffer
	event   jack.MidiData
}

func (o *output) Reset() {
	o.buf = o.port.MidiClearBuffer(o.nframes)
}

func (o *output) Write(msg []byte) error {
	o.event.Time = 0
	o.event.Buffer = msg
	if o.port.MidiEventWrite(&o.event, o.buf) != 0 {
		return engine.ErrBufferFull
	}
	return nil
}
