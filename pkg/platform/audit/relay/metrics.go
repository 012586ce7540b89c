package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks outbox relay throughput.
type Metrics struct {
	Published       prometheus.Counter
	PublishFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_outbox_published_total",
			Help: "Total number of outbox entries published to Kafka",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_outbox_publish_failures_total",
			Help: "Total number of failed outbox publish attempts",
		}),
	}
}
