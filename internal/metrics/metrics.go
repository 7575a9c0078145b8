// Package metrics exposes the bridge counters to Prometheus.
//
// Nothing here is updated on the hot paths: every metric is a function or a
// collector reading the atomic counters the components already keep.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maxux/hombedded-faders/internal/broker"
	"github.com/maxux/hombedded-faders/internal/handoff"
	"github.com/maxux/hombedded-faders/internal/intake"
)

const namespace = "faders"

// Sources are the stats providers. Nil providers are skipped.
type Sources struct {
	State  *handoff.State
	Intake func() intake.Stats
	Broker func() broker.Stats
}

// Register adds every bridge metric to reg.
func Register(reg prometheus.Registerer, src Sources) error {
	var cs []prometheus.Collector

	if s := src.State; s != nil {
		stat := func(f func(handoff.Stats) uint64) func() float64 {
			return func() float64 { return float64(f(s.Stats())) }
		}

		cs = append(cs,
			counter("handoff_publishes_total", "Level sets published by the updater.",
				stat(func(st handoff.Stats) uint64 { return st.Publishes })),
			counter("handoff_coalesced_total", "Publications merged into an undrained handoff.",
				stat(func(st handoff.Stats) uint64 { return st.Coalesced })),
			counter("handoff_drains_total", "Periods that drained a pending handoff.",
				stat(func(st handoff.Stats) uint64 { return st.Drains })),
			counter("engine_periods_total", "Audio periods processed.",
				stat(func(st handoff.Stats) uint64 { return st.Periods })),
			counter("midi_messages_total", "Control change messages written to the output.",
				stat(func(st handoff.Stats) uint64 { return st.Emitted })),
			counter("midi_write_failures_total", "Control change messages refused by the output.",
				stat(func(st handoff.Stats) uint64 { return st.WriteFailures })),
			gauge("handoff_pending", "1 while staged levels wait for emission.",
				func() float64 { return boolean(s.Pending()) }),
			&levelCollector{state: s, desc: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", "channel_level"),
				"Last level written to the output, per channel.",
				[]string{"index", "controller", "name"}, nil,
			)},
		)
	}

	if in := src.Intake; in != nil {
		cs = append(cs,
			counter("intake_batches_total", "Batches received from the broker.",
				func() float64 { return float64(in().Received) }),
			counter("intake_merged_total", "Batches merged before the updater consumed them.",
				func() float64 { return float64(in().Merged) }),
		)
	}

	if b := src.Broker; b != nil {
		cs = append(cs,
			gauge("broker_connected", "1 while the broker connection is up.",
				func() float64 { return boolean(b().Connected) }),
			counter("broker_messages_total", "Messages received from the broker.",
				func() float64 { return float64(b().Received) }),
			counter("broker_errors_total", "Broker publish errors.",
				func() float64 { return float64(b().Errors) }),
		)
	}

	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func counter(name, help string, f func() float64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, f)
}

func gauge(name, help string, f func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, f)
}

func boolean(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// levelCollector reports the emitted level of every channel.
type levelCollector struct {
	state *handoff.State
	desc  *prometheus.Desc
}

func (c *levelCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *levelCollector) Collect(ch chan<- prometheus.Metric) {
	table := c.state.Table()
	for i, lvl := range c.state.Levels() {
		channel := table.Channels[i]
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(lvl),
			strconv.Itoa(channel.Index),
			strconv.Itoa(int(channel.Controller)),
			channel.Name,
		)
	}
}
