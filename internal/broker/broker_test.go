package broker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxux/hombedded-faders/internal/config"
)

func TestNewSelectsTransport(t *testing.T) {
	c, err := New(config.BrokerConfig{Kind: config.BrokerRedis, Address: "localhost:6379"}, "faders-ng")
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, c)

	c, err = New(config.BrokerConfig{Kind: config.BrokerMQTT, Address: "localhost:1883"}, "faders-ng")
	require.NoError(t, err)
	require.IsType(t, &MQTT{}, c)
	assert.True(t, strings.HasPrefix(c.(*MQTT).cfg.ClientID, "faders-ng-"))

	_, err = New(config.BrokerConfig{Kind: "amqp"}, "faders-ng")
	assert.Error(t, err)
}

func TestClientIDIsUnique(t *testing.T) {
	a, b := ClientID("studio"), ClientID("studio")
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("studio-")+8)
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	noop := func(string, []byte) {}

	for _, c := range []Client{
		NewRedis(config.BrokerConfig{Address: "localhost:6379"}),
		NewMQTT(config.BrokerConfig{Address: "localhost:1883"}),
	} {
		assert.ErrorIs(t, c.Subscribe(ctx, "faders", noop), ErrNotConnected)
		assert.ErrorIs(t, c.Publish(ctx, "faders", []byte("[]")), ErrNotConnected)
		assert.False(t, c.Stats().Connected)
		assert.Equal(t, uint64(1), c.Stats().Errors)
		assert.NoError(t, c.Close())
	}
}
