//go:build headless

package jack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadlessBuildRefusesJack(t *testing.T) {
	e, err := New(Config{ClientName: "faders-ng", PortName: "output"}, nil)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Nil(t, e)
}
