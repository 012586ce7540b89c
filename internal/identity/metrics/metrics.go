package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the identity module.
// Tracks reconciliation outcomes, record creation and consolidation work.
type Metrics struct {
	IdentifyDuration prometheus.Histogram
	LookupDuration   prometheus.Histogram
	IdentifyOutcomes *prometheus.CounterVec
	ContactsCreated  *prometheus.CounterVec
	Consolidations   prometheus.Counter
	RootsDemoted     prometheus.Counter
	LinksRewritten   prometheus.Counter
	ComponentSize    prometheus.Histogram
}

// New creates identity metrics registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IdentifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_identify_duration_seconds",
			Help:    "Duration of Identify operations including store round trips",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		LookupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_lookup_duration_seconds",
			Help:    "Duration of Lookup operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		IdentifyOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_identify_outcomes_total",
			Help: "Identify calls by outcome (new_identity, extended, matched, merged, error)",
		}, []string{"outcome"}),
		ContactsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_contacts_created_total",
			Help: "Contacts created by role",
		}, []string{"role"}),
		Consolidations: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_consolidations_total",
			Help: "Identify calls that merged more than one root",
		}),
		RootsDemoted: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_roots_demoted_total",
			Help: "Primary contacts demoted to secondary by consolidation",
		}),
		LinksRewritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_links_rewritten_total",
			Help: "Secondary contacts re-pointed at a surviving primary",
		}),
		ComponentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_component_size",
			Help:    "Number of contacts in the returned identity component",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 55, 144},
		}),
	}
}

func (m *Metrics) ObserveIdentify(start time.Time) {
	m.IdentifyDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveLookup(start time.Time) {
	m.LookupDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncOutcome(outcome string) {
	m.IdentifyOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncContactCreated(role string) {
	m.ContactsCreated.WithLabelValues(role).Inc()
}

// ObserveConsolidation records one merge pass.
func (m *Metrics) ObserveConsolidation(demoted int, rewritten int64) {
	m.Consolidations.Inc()
	m.RootsDemoted.Add(float64(demoted))
	m.LinksRewritten.Add(float64(rewritten))
}

func (m *Metrics) ObserveComponentSize(n int) {
	m.ComponentSize.Observe(float64(n))
}
