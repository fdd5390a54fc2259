// Package metrics defines the engine's Prometheus collectors. It
// registers them on a caller-supplied registry but exposes no HTTP
// endpoint itself — front-ends and their exposition surface are out
// of scope.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles the engine's instrumentation, grouped the way
// the teacher groups per-concern state (one struct of named
// collectors, constructed once and threaded through).
type Collectors struct {
	ChainHeight      prometheus.Gauge
	Operations       *prometheus.CounterVec
	AppendLatency    prometheus.Histogram
	LiveTransactions prometheus.Gauge
}

// NewCollectors constructs the collector set without registering it.
func NewCollectors() *Collectors {
	return &Collectors{
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "immux",
			Subsystem: "engine",
			Name:      "chain_height",
			Help:      "Current chain height (number of applied instructions).",
		}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "immux",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Count of engine operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
		AppendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "immux",
			Subsystem: "engine",
			Name:      "append_latency_seconds",
			Help:      "Latency of a single log append, including sync policy overhead.",
			Buckets:   prometheus.DefBuckets,
		}),
		LiveTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "immux",
			Subsystem: "engine",
			Name:      "live_transactions",
			Help:      "Number of transactions currently live (started but not committed or aborted).",
		}),
	}
}

// MustRegister registers every collector on reg, panicking on
// duplicate registration the way prometheus.MustRegister always does.
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.ChainHeight, c.Operations, c.AppendLatency, c.LiveTransactions)
}

// ObserveOperation records the outcome of a single engine operation.
func (c *Collectors) ObserveOperation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.Operations.WithLabelValues(operation, outcome).Inc()
}
