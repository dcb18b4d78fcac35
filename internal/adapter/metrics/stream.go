package metrics

import "github.com/prometheus/client_golang/prometheus"

// StreamMetrics holds Prometheus metrics for the push connection registry.
type StreamMetrics struct {
	ActiveConnections prometheus.Gauge
	ConnectionsOpened *prometheus.CounterVec
	Evictions         *prometheus.CounterVec
	FramesWritten     *prometheus.CounterVec
	WriteFailures     *prometheus.CounterVec
	Rejected          prometheus.Counter
}

// NewStreamMetrics creates and registers stream metrics on the given registry.
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_connections",
			Help:      "Number of push connections held by this instance.",
		}),
		ConnectionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connections_opened_total",
			Help:      "Total number of push connections registered, by transport.",
		}, []string{"transport"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "evictions_total",
			Help:      "Total number of push connections removed, by reason.",
		}, []string{"reason"}),
		FramesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_written_total",
			Help:      "Total number of frames written to push connections, by kind.",
		}, []string{"kind"}),
		WriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "write_failures_total",
			Help:      "Total number of failed frame writes, by kind.",
		}, []string{"kind"}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "rejected_total",
			Help:      "Total number of push connections rejected at capacity.",
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.ConnectionsOpened, m.Evictions, m.FramesWritten, m.WriteFailures, m.Rejected)
	return m
}
