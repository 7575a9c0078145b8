package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxux/hombedded-faders/internal/broker"
	"github.com/maxux/hombedded-faders/internal/channels"
	"github.com/maxux/hombedded-faders/internal/engine"
	"github.com/maxux/hombedded-faders/internal/handoff"
	"github.com/maxux/hombedded-faders/internal/intake"
	"github.com/maxux/hombedded-faders/internal/types"
)

func TestRegisterExposesBridgeState(t *testing.T) {
	s, err := handoff.New(channels.Default())
	require.NoError(t, err)

	u := handoff.NewUpdater(s, handoff.UpdaterConfig{})
	_, err = u.Update(&types.Batch{Samples: []types.Sample{{Value: 0, OK: true}, {Value: 128, OK: true}}})
	require.NoError(t, err)
	handoff.NewEmitter(s).Process(engine.NewBuffer(4))

	mb := intake.New()
	mb.Publish(&types.Batch{})

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, Register(reg, Sources{
		State:  s,
		Intake: mb.Stats,
		Broker: func() broker.Stats { return broker.Stats{Connected: true, Received: 3} },
	}))

	expected := `
# HELP faders_channel_level Last level written to the output, per channel.
# TYPE faders_channel_level gauge
faders_channel_level{controller="47",index="0",name="Phones"} 0
faders_channel_level{controller="50",index="1",name="Master"} 92
# HELP faders_midi_messages_total Control change messages written to the output.
# TYPE faders_midi_messages_total counter
faders_midi_messages_total 2
# HELP faders_handoff_pending 1 while staged levels wait for emission.
# TYPE faders_handoff_pending gauge
faders_handoff_pending 0
# HELP faders_intake_batches_total Batches received from the broker.
# TYPE faders_intake_batches_total counter
faders_intake_batches_total 1
# HELP faders_broker_connected 1 while the broker connection is up.
# TYPE faders_broker_connected gauge
faders_broker_connected 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"faders_channel_level",
		"faders_midi_messages_total",
		"faders_handoff_pending",
		"faders_intake_batches_total",
		"faders_broker_connected",
	))
}

func TestRegisterSkipsMissingSources(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg, Sources{}))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := Sources{Intake: intake.New().Stats}

	require.NoError(t, Register(reg, src))
	assert.Error(t, Register(reg, src))
}
