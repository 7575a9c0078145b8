package control

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxux/hombedded-faders/internal/broker"
)

type fakeBroker struct {
	mu        sync.Mutex
	handler   broker.MessageHandler
	topic     string
	responses []published
}

type published struct {
	topic string
	resp  Response
}

func (f *fakeBroker) Subscribe(_ context.Context, topic string, h broker.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic = topic
	f.handler = h
	return nil
}

func (f *fakeBroker) Publish(_ context.Context, topic string, payload []byte) error {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, published{topic: topic, resp: resp})
	return nil
}

func (f *fakeBroker) send(payload string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(f.topic, []byte(payload))
}

func (f *fakeBroker) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

func (f *fakeBroker) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.responses...)
}

func start(t *testing.T, cb Callbacks) *fakeBroker {
	t.Helper()

	fb := &fakeBroker{}
	h := NewHandler(fb, "faders/control", cb)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	require.Eventually(t, fb.subscribed, time.Second, time.Millisecond)
	return fb
}

func (f *fakeBroker) await(t *testing.T, n int) []published {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.all()) >= n }, time.Second, time.Millisecond)
	return f.all()
}

func TestCommands(t *testing.T) {
	shutdown := false
	fb := start(t, Callbacks{
		OnGetStatus: func() map[string]any { return map[string]any{"pending": false} },
		OnResync:    func() (int, error) { return 2, nil },
		OnShutdown: func() error {
			shutdown = true
			return nil
		},
	})

	fb.send(`{"command":"get_status"}`)
	fb.send(`{"command":"resync"}`)
	fb.send(`{"command":"shutdown"}`)

	got := fb.await(t, 3)

	for _, p := range got {
		assert.Equal(t, "faders/control/response", p.topic)
		assert.Equal(t, "success", p.resp.Status)
		assert.NotEmpty(t, p.resp.Timestamp)
	}

	assert.Equal(t, "get_status", got[0].resp.CommandAck)
	assert.Equal(t, map[string]any{"pending": false}, got[0].resp.Data)

	assert.Equal(t, "resync", got[1].resp.CommandAck)
	assert.Equal(t, map[string]any{"channels": float64(2)}, got[1].resp.Data)

	assert.Equal(t, "shutdown", got[2].resp.CommandAck)
	assert.True(t, shutdown)
}

func TestCommandErrors(t *testing.T) {
	fb := start(t, Callbacks{
		OnResync: func() (int, error) { return 0, errors.New("emitter stuck") },
	})

	fb.send(`{"command":"resync"}`)
	fb.send(`{"command":"get_status"}`)
	fb.send(`{"command":"reboot"}`)

	got := fb.await(t, 3)

	assert.Equal(t, Response{CommandAck: "resync", Status: "error", Error: "emitter stuck", Timestamp: got[0].resp.Timestamp}, got[0].resp)
	assert.Equal(t, "get_status not implemented", got[1].resp.Error)
	assert.Equal(t, "unknown command: reboot", got[2].resp.Error)
}

func TestInvalidJSON(t *testing.T) {
	fb := start(t, Callbacks{})

	fb.send(`{not json`)

	got := fb.await(t, 1)
	assert.Equal(t, "unknown", got[0].resp.CommandAck)
	assert.Equal(t, "error", got[0].resp.Status)
	assert.Equal(t, "invalid JSON", got[0].resp.Error)
}
