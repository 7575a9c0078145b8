package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/maxux/hombedded-faders/internal/broker"
)

// Command represents a control plane command
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Callbacks are the operations the control plane can trigger
type Callbacks struct {
	OnGetStatus func() map[string]any
	// OnResync returns how many channels were scheduled for emission
	OnResync   func() (int, error)
	OnShutdown func() error
}

// Publisher is the part of a broker client used for responses
type Publisher interface {
	Subscribe(ctx context.Context, topic string, h broker.MessageHandler) error
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Handler handles control plane commands
type Handler struct {
	client    Publisher
	topic     string
	commands  chan Command
	callbacks Callbacks
	now       func() time.Time
}

// NewHandler creates a new control plane handler listening on topic;
// responses go to topic + "/response".
func NewHandler(client Publisher, topic string, callbacks Callbacks) *Handler {
	return &Handler{
		client:    client,
		topic:     topic,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
		now:       time.Now,
	}
}

// ResponseTopic is where responses are published
func (h *Handler) ResponseTopic() string {
	return h.topic + "/response"
}

// Run subscribes and processes commands until ctx is cancelled
func (h *Handler) Run(ctx context.Context) error {
	slog.Info("subscribing to control plane", "topic", h.topic)

	if err := h.client.Subscribe(ctx, h.topic, h.messageHandler); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	for {
		select {
		case <-ctx.Done():
			slog.Info("control plane handler stopped")
			return nil
		case cmd := <-h.commands:
			h.sendResponse(ctx, h.handleCommand(cmd))
		}
	}
}

// messageHandler is called on the broker goroutine
func (h *Handler) messageHandler(_ string, payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		go h.sendResponse(context.Background(), Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return notImplemented(resp)
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "resync":
		if h.callbacks.OnResync == nil {
			return notImplemented(resp)
		}
		n, err := h.callbacks.OnResync()
		if err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"channels": n}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			return notImplemented(resp)
		}
		if err := h.callbacks.OnShutdown(); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"message": "shutting down"}

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	return resp
}

func notImplemented(resp Response) Response {
	resp.Status = "error"
	resp.Error = resp.CommandAck + " not implemented"
	return resp
}

// sendResponse publishes a response on the response topic
func (h *Handler) sendResponse(ctx context.Context, resp Response) {
	resp.Timestamp = h.now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	if err := h.client.Publish(ctx, h.ResponseTopic(), payload); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
