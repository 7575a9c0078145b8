//go:build headless

package jack

import (
	"context"

	"github.com/maxux/hombedded-faders/internal/engine"
)

// Engine is unavailable in headless builds.
type Engine struct{}

// New always fails with ErrUnavailable.
func New(Config, engine.Processor) (*Engine, error) {
	return nil, ErrUnavailable
}

func (e *Engine) Run(context.Context) error { return ErrUnavailable }

func (e *Engine) Info() engine.Info { return engine.Info{Kind: "jack"} }

func (e *Engine) Close() error { return nil }
