package metrics

import "github.com/prometheus/client_golang/prometheus"

// PubSubMetrics holds Prometheus metrics for the push fan-out bridge.
type PubSubMetrics struct {
	Published          *prometheus.CounterVec
	Received           *prometheus.CounterVec
	SubscriptionActive prometheus.Gauge
}

// NewPubSubMetrics creates and registers fan-out metrics on the given registry.
func NewPubSubMetrics(reg prometheus.Registerer) *PubSubMetrics {
	m := &PubSubMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "published_total",
			Help:      "Total number of push frames published, by mode and result.",
		}, []string{"mode", "result"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "received_total",
			Help:      "Total number of broker messages received, by outcome (delivered, no_connection, malformed).",
		}, []string{"outcome"}),
		SubscriptionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "subscription_active",
			Help:      "Whether the broker subscription is active (1) or not (0).",
		}),
	}

	reg.MustRegister(m.Published, m.Received, m.SubscriptionActive)
	return m
}
