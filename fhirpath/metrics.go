package fhirpath

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records cache effectiveness and provider traffic.
// A nil *Metrics records nothing.
type Metrics struct {
	dispatchHits   prometheus.Counter
	dispatchMisses prometheus.Counter
	typeHits       prometheus.Counter
	typeMisses     prometheus.Counter
	providerCalls  *prometheus.CounterVec
	evaluations    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with registerer,
// unless it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatchHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fhirpath_dispatch_cache_hits_total",
			Help: "Operation resolutions served from the dispatch cache",
		}),
		dispatchMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fhirpath_dispatch_cache_misses_total",
			Help: "Operation resolutions that scanned the registry",
		}),
		typeHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fhirpath_type_cache_hits_total",
			Help: "Type lookups served from the reflection cache",
		}),
		typeMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fhirpath_type_cache_misses_total",
			Help: "Type lookups forwarded to the model provider",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fhirpath_provider_calls_total",
			Help: "Model provider calls by method and outcome",
		}, []string{"method", "outcome"}),
		evaluations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fhirpath_evaluation_duration_seconds",
			Help:    "Duration of top-level expression evaluations",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}
	if registerer != nil {
		registerer.MustRegister(
			m.dispatchHits, m.dispatchMisses,
			m.typeHits, m.typeMisses,
			m.providerCalls, m.evaluations,
		)
	}
	return m
}

func (m *Metrics) dispatch(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.dispatchHits.Inc()
	} else {
		m.dispatchMisses.Inc()
	}
}

func (m *Metrics) typeLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.typeHits.Inc()
	} else {
		m.typeMisses.Inc()
	}
}

func (m *Metrics) providerCall(method string, err error, found bool) {
	if m == nil {
		return
	}
	outcome := "found"
	switch {
	case err != nil:
		outcome = "error"
	case !found:
		outcome = "not_found"
	}
	m.providerCalls.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) observeEvaluation(start time.Time) {
	if m == nil {
		return
	}
	m.evaluations.Observe(time.Since(start).Seconds())
}
