package metrics

import "github.com/prometheus/client_golang/prometheus"

// HubMetrics holds Prometheus metrics for the connection registry actor.
type HubMetrics struct {
	ConnectedClients prometheus.Gauge
	Registrations    *prometheus.CounterVec
	Deliveries       prometheus.Counter
	Evictions        *prometheus.CounterVec
	FanoutDuration   prometheus.Histogram
	CommandDepth     prometheus.Gauge
	Panics           prometheus.Counter
	StopTimeouts     prometheus.Counter
}

// NewHubMetrics creates and registers hub metrics on the given registry.
func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	m := &HubMetrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connected_clients",
			Help:      "Number of clients currently registered on this instance.",
		}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "registrations_total",
			Help:      "Total number of registrations, by result (new, replaced, rejected or abandoned).",
		}, []string{"result"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Total number of frames enqueued to client writers.",
		}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "evictions_total",
			Help:      "Total number of clients removed after a failed delivery, by reason.",
		}, []string{"reason"}),
		FanoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "fanout_duration_seconds",
			Help:      "Duration of a single fanout pass.",
			Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		CommandDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "command_channel_depth",
			Help:      "Number of commands waiting in the hub's queue.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "panics_total",
			Help:      "Total number of recovered hub panics.",
		}),
		StopTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "stop_timeouts_total",
			Help:      "Total number of hub shutdowns that exceeded the stop timeout.",
		}),
	}

	reg.MustRegister(m.ConnectedClients, m.Registrations, m.Deliveries, m.Evictions,
		m.FanoutDuration, m.CommandDepth, m.Panics, m.StopTimeouts)
	return m
}
