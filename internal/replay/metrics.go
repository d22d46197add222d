package replay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts replay progress. Register it on a private registry and
// dump it with prometheus.WriteToTextfile when the run ends.
type Metrics struct {
	ops          *prometheus.CounterVec
	events       prometheus.Counter
	flushSeconds prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pudl",
			Subsystem: "replay",
			Name:      "ops_total",
			Help:      "Operations read from the log, by op name and outcome.",
		}, []string{"op", "outcome"}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pudl",
			Subsystem: "replay",
			Name:      "events_stored_total",
			Help:      "Events written to every configured sink.",
		}),
		flushSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pudl",
			Subsystem: "replay",
			Name:      "flush_seconds",
			Help:      "Time spent writing one event batch to all sinks.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.events, m.flushSeconds)
	}
	return m
}

func (m *Metrics) observeOp(op, outcome string) {
	if m == nil {
		return
	}
	if _, ok := knownOps[op]; !ok {
		op = "unknown"
	}
	m.ops.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) observeFlush(events int, seconds float64) {
	if m == nil {
		return
	}
	m.events.Add(float64(events))
	m.flushSeconds.Observe(seconds)
}
