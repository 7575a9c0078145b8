package clock

import (
	"log/slog"

	"github.com/maxux/hombedded-faders/internal/channels"
)

// LogSink logs every message at info level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(msg []byte) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("midi out", "message", channels.Describe(msg), "raw", msg)
	return nil
}

func (LogSink) Close() error { return nil }

// DiscardSink drops everything.
type DiscardSink struct{}

func (DiscardSink) Send([]byte) error { return nil }
func (DiscardSink) Close() error      { return nil }
