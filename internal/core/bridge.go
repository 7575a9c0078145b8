package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/maxux/hombedded-faders/internal/broker"
	"github.com/maxux/hombedded-faders/internal/config"
	"github.com/maxux/hombedded-faders/internal/control"
	"github.com/maxux/hombedded-faders/internal/decode"
	"github.com/maxux/hombedded-faders/internal/engine"
	"github.com/maxux/hombedded-faders/internal/handoff"
	"github.com/maxux/hombedded-faders/internal/intake"
	"github.com/maxux/hombedded-faders/internal/metrics"
	"github.com/maxux/hombedded-faders/internal/types"
)

// EngineFactory builds the audio engine around the period callback
type EngineFactory func(proc engine.Processor) (engine.Engine, error)

// Bridge is the main service orchestrator: broker → intake → updater →
// handoff → engine.
type Bridge struct {
	cfg *config.Config

	state   *handoff.State
	updater *handoff.Updater
	emitter *handoff.Emitter
	monitor *handoff.Monitor
	decoder decode.Decoder
	mailbox *intake.Mailbox
	broker  broker.Client
	engine  engine.Engine
	control *control.Handler

	registry *prometheus.Registry
	limiter  *catrate.Limiter

	decodeErrors uint64
	reported     uint64

	started   time.Time
	mu        sync.RWMutex
	isRunning bool
	cancelCtx context.CancelFunc
}

// New wires the bridge. Nothing is connected or started until Run.
func New(cfg *config.Config, client broker.Client, newEngine EngineFactory) (*Bridge, error) {
	state, err := handoff.New(cfg.Table())
	if err != nil {
		return nil, fmt.Errorf("invalid channel table: %w", err)
	}

	decoder, err := decode.For(decode.Format(cfg.Broker.Payload))
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:   cfg,
		state: state,
		updater: handoff.NewUpdater(state, handoff.UpdaterConfig{
			PollInterval: cfg.Handoff.PollInterval(),
			StuckTimeout: cfg.Handoff.StuckTimeout(),
		}),
		emitter:  handoff.NewEmitter(state),
		monitor:  handoff.NewMonitor(state, cfg.Handoff.StuckTimeout()),
		decoder:  decoder,
		mailbox:  intake.New(),
		broker:   client,
		registry: prometheus.NewRegistry(),
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 20,
		}),
	}

	if cfg.Broker.ControlTopic != "" {
		b.control = control.NewHandler(client, cfg.Broker.ControlTopic, control.Callbacks{
			OnGetStatus: b.Status,
			OnResync:    b.Resync,
			OnShutdown:  b.shutdownViaControl,
		})
	}

	b.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(b.registry, metrics.Sources{
		State:  state,
		Intake: b.mailbox.Stats,
		Broker: client.Stats,
	}); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	// last: a JACK client is open from here on and Run owns closing it
	b.engine, err = newEngine(b.emitter)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio engine: %w", err)
	}

	for _, ch := range state.Table().Channels {
		slog.Info("channel mapped",
			"index", ch.Index,
			"controller", ch.Controller,
			"name", ch.Name,
		)
	}

	return b, nil
}

// Run connects the broker, starts every subsystem and blocks until ctx is
// cancelled, a shutdown command arrives or a subsystem fails.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return fmt.Errorf("bridge is already running")
	}
	b.isRunning = true
	b.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	b.cancelCtx = cancel
	b.mu.Unlock()

	defer func() {
		cancel()
		b.mu.Lock()
		b.isRunning = false
		b.mu.Unlock()
	}()
	defer func() {
		if err := b.engine.Close(); err != nil {
			slog.Error("failed to close audio engine", "error", err)
		}
	}()

	info := b.engine.Info()
	slog.Info("fader bridge starting",
		"instance_id", b.cfg.InstanceID,
		"engine", info.Kind,
		"client", info.Name,
		"sample_rate", info.SampleRate,
		"broker", b.cfg.Broker.Kind,
	)

	if err := b.broker.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect broker: %w", err)
	}
	defer func() {
		if err := b.broker.Close(); err != nil {
			slog.Error("failed to close broker", "error", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.engine.Run(ctx) })
	g.Go(func() error { return b.mailbox.Run(ctx, b.apply) })
	g.Go(func() error { return b.watch(ctx) })
	g.Go(func() error { return b.report(ctx) })

	if b.control != nil {
		g.Go(func() error { return b.control.Run(ctx) })
	}
	if b.cfg.HealthAddr != "" {
		g.Go(func() error { return b.serveHealth(ctx, b.cfg.HealthAddr) })
	}

	if err := b.broker.Subscribe(ctx, b.cfg.Broker.Topic, b.onMessage); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("failed to subscribe to fader feed: %w", err)
	}

	slog.Info("fader bridge running", "topic", b.cfg.Broker.Topic)

	err := g.Wait()

	slog.Info("fader bridge stopped",
		"uptime", time.Since(b.started),
		"error", err,
	)

	return err
}

// onMessage decodes a broker payload and hands it to the intake. Runs on
// the broker goroutine.
func (b *Bridge) onMessage(topic string, payload []byte) {
	samples, err := b.decoder.Decode(payload)
	if err != nil {
		b.mu.Lock()
		b.decodeErrors++
		b.mu.Unlock()
		if _, ok := b.limiter.Allow("decode"); ok {
			slog.Warn("dropping undecodable payload", "topic", topic, "size", len(payload), "error", err)
		}
		return
	}

	b.mailbox.Publish(&types.Batch{
		Source:  topic,
		Samples: samples,
	})
}

// apply runs one batch through the updater. Only a stuck emitter stops it.
func (b *Bridge) apply(batch *types.Batch) error {
	changed, err := b.updater.Update(batch)
	if err != nil {
		return fmt.Errorf("batch #%d: %w", batch.Seq, err)
	}

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		b.logBatch(batch, changed)
	}

	return nil
}

func (b *Bridge) logBatch(batch *types.Batch, changed int) {
	previous := b.updater.Previous()
	attrs := []any{
		"seq", batch.Seq,
		"source", batch.Source,
		"changed", changed,
		"latency", time.Since(batch.ReceivedAt),
	}
	for pos, ch := range b.state.Table().Channels {
		s := batch.At(ch.Index)
		attrs = append(attrs, slog.Group(ch.Name,
			"raw", s.Value,
			"present", s.OK,
			"level", previous[pos],
		))
	}
	slog.Debug("batch applied", attrs...)
}

// watch fails once the emitter has been stuck in its drain section
func (b *Bridge) watch(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.Handoff.Watchdog())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := b.monitor.Check(now); err != nil {
				slog.Error("audio period stuck", "error", err)
				return err
			}
		}
	}
}

// report logs write failures recorded by the real-time path
func (b *Bridge) report(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.reportWriteFailures()
		}
	}
}

func (b *Bridge) reportWriteFailures() {
	total := b.state.Stats().WriteFailures

	b.mu.Lock()
	fresh := total - b.reported
	b.mu.Unlock()

	if fresh == 0 {
		return
	}
	if _, ok := b.limiter.Allow("write_failure"); !ok {
		return
	}

	b.mu.Lock()
	b.reported = total
	b.mu.Unlock()

	attrs := []any{"failures", fresh, "total", total}
	if ch, ok := b.state.LastWriteFailure(); ok {
		attrs = append(attrs, "last_channel", ch.Name, "controller", ch.Controller)
	}
	slog.Warn("midi messages dropped by the engine", attrs...)
}

// Resync re-emits the current level of every channel
func (b *Bridge) Resync() (int, error) {
	n, err := b.updater.Resync()
	if err != nil {
		return 0, err
	}
	slog.Info("resync scheduled", "channels", n)
	return n, nil
}

// Status returns the current service status
func (b *Bridge) Status() map[string]any {
	b.mu.RLock()
	running := b.isRunning
	started := b.started
	decodeErrors := b.decodeErrors
	b.mu.RUnlock()

	st := b.state.Stats()
	in := b.mailbox.Stats()
	br := b.broker.Stats()
	info := b.engine.Info()

	levels := make(map[string]any)
	current := b.state.Levels()
	for pos, ch := range b.state.Table().Channels {
		levels[ch.Name] = current[pos]
	}

	var uptime float64
	if running {
		uptime = time.Since(started).Seconds()
	}

	return map[string]any{
		"instance_id": b.cfg.InstanceID,
		"uptime_s":    uptime,
		"running":     running,
		"levels":      levels,
		"handoff": map[string]any{
			"phase":          st.Phase,
			"publishes":      st.Publishes,
			"coalesced":      st.Coalesced,
			"drains":         st.Drains,
			"periods":        st.Periods,
			"emitted":        st.Emitted,
			"write_failures": st.WriteFailures,
		},
		"intake": map[string]any{
			"received":      in.Received,
			"merged":        in.Merged,
			"consumed":      in.Consumed,
			"decode_errors": decodeErrors,
		},
		"broker": map[string]any{
			"kind":      br.Kind,
			"address":   br.Address,
			"connected": br.Connected,
			"received":  br.Received,
		},
		"engine": map[string]any{
			"kind":        info.Kind,
			"name":        info.Name,
			"sample_rate": info.SampleRate,
		},
	}
}

// shutdownViaControl cancels Run; main handles the rest
func (b *Bridge) shutdownViaControl() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.isRunning || b.cancelCtx == nil {
		return fmt.Errorf("service not running")
	}

	// let the response go out before the broker closes
	time.AfterFunc(100*time.Millisecond, b.cancelCtx)
	return nil
}

// ShutdownTimeout returns the graceful shutdown timeout
func (b *Bridge) ShutdownTimeout() time.Duration {
	return b.cfg.ShutdownTimeout()
}

func (b *Bridge) serveHealth(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      b.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health check server",
		"addr", addr,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("health check server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.ShutdownTimeout())
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
