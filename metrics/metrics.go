// Package metrics bundles the Prometheus collectors shared by the
// discovery and extraction stages.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all collectors on a dedicated registry.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	RefsDiscovered   prometheus.Counter
	ProductsTotal    prometheus.Counter
	SkippedTotal     prometheus.Counter
	RetriesTotal     prometheus.Counter
	QuarantinedTotal prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_requests_total",
			Help: "Total page fetches issued, by stage.",
		},
		[]string{"stage"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_request_duration_seconds",
			Help:    "Page fetch and render latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	refsDiscovered := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_refs_discovered_total",
			Help: "Total product references collected by discovery.",
		},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_products_extracted_total",
			Help: "Total product records assembled.",
		},
	)
	skipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_products_skipped_total",
			Help: "Total references skipped as already scraped.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_retries_total",
			Help: "Total extraction retry attempts.",
		},
	)
	quarantined := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_quarantined_total",
			Help: "Total references filed into the failure ledger.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_errors_total",
			Help: "Total errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, refsDiscovered, products, skipped, retries, quarantined, errorsTotal)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		RefsDiscovered:   refsDiscovered,
		ProductsTotal:    products,
		SkippedTotal:     skipped,
		RetriesTotal:     retries,
		QuarantinedTotal: quarantined,
		ErrorsTotal:      errorsTotal,
	}
}

// IncRequest increments the fetch counter for a stage.
func (m *Metrics) IncRequest(stage string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(stage).Inc()
}

// ObserveDuration records a fetch duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddRefs adds to the discovered reference counter.
func (m *Metrics) AddRefs(n int) {
	if m == nil {
		return
	}
	m.RefsDiscovered.Add(float64(n))
}

// IncProducts increments the extracted product counter.
func (m *Metrics) IncProducts() {
	if m == nil {
		return
	}
	m.ProductsTotal.Inc()
}

// IncSkipped increments the already-scraped skip counter.
func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	m.SkippedTotal.Inc()
}

// IncRetries increments the retry counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncQuarantined increments the failure ledger counter.
func (m *Metrics) IncQuarantined() {
	if m == nil {
		return
	}
	m.QuarantinedTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
