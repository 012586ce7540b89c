package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RateLimitRejectedTotal    prometheus.Counter
	RateLimitStoreErrorsTotal prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RateLimitRejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_ratelimit_rejected_total",
			Help: "Total number of requests rejected by the per-client rate limit",
		}),
		RateLimitStoreErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_ratelimit_store_errors_total",
			Help: "Total number of rate limit checks that failed open because the bucket store errored",
		}),
	}
}

func (m *Metrics) IncrementRejected() {
	if m == nil {
		return
	}
	m.RateLimitRejectedTotal.Inc()
}

func (m *Metrics) IncrementStoreErrors() {
	if m == nil {
		return
	}
	m.RateLimitStoreErrorsTotal.Inc()
}
