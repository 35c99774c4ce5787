// Package metrics exposes dispatcher activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector counts invocations by operation and outcome and times them by
// operation. It satisfies dispatch.Observer.
type Collector struct {
	invocations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New registers the collector's metrics on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psychescore",
			Name:      "invocations_total",
			Help:      "Dispatched ledger invocations by operation and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "psychescore",
			Name:      "invocation_seconds",
			Help:      "Wall time of dispatched ledger invocations.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"op"}),
	}
	for _, m := range []prometheus.Collector{c.invocations, c.latency} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) Observe(op, outcome string, elapsed time.Duration) {
	c.invocations.WithLabelValues(op, outcome).Inc()
	c.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}
