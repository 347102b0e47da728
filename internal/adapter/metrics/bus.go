package metrics

import "github.com/prometheus/client_golang/prometheus"

// BusMetrics holds Prometheus metrics for cross-instance broadcasting.
type BusMetrics struct {
	Published    *prometheus.CounterVec
	Fallbacks    *prometheus.CounterVec
	Received     prometheus.Counter
	DecodeErrors prometheus.Counter
	Resubscribes prometheus.Counter
	Subscribed   prometheus.Gauge
}

// NewBusMetrics creates and registers bus metrics on the given registry.
func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	m := &BusMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Total number of publish attempts, by result (ok/error).",
		}, []string{"result"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "local_fallbacks_total",
			Help:      "Total number of messages delivered locally only, by reason.",
		}, []string{"reason"}),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "received_total",
			Help:      "Total number of messages received from the bus.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "decode_errors_total",
			Help:      "Total number of malformed bus messages skipped.",
		}),
		Resubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "resubscribes_total",
			Help:      "Total number of subscription attempts after the first.",
		}),
		Subscribed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "subscribed",
			Help:      "Whether the listener holds a live subscription (1) or not (0).",
		}),
	}

	reg.MustRegister(m.Published, m.Fallbacks, m.Received, m.DecodeErrors, m.Resubscribes, m.Subscribed)
	return m
}
