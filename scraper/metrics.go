package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawl.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	PagesTotal       prometheus.Counter
	StubsTotal       prometheus.Counter
	RecordsMerged    prometheus.Counter
	DetailSkipsTotal prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_requests_total",
			Help: "Total HTTP requests issued by the crawler.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_request_duration_seconds",
			Help:    "HTTP request latency for crawler requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_listing_pages_total",
			Help: "Total listing pages fetched and parsed.",
		},
	)
	stubs := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_stubs_total",
			Help: "Total record stubs found on listing pages.",
		},
	)
	merged := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_records_merged_total",
			Help: "Total stub and detail merges sent downstream.",
		},
	)
	skips := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_detail_skips_total",
			Help: "Total records skipped because the detail page failed.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_errors_total",
			Help: "Total crawl errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, pages, stubs, merged, skips, errorsTotal)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		PagesTotal:       pages,
		StubsTotal:       stubs,
		RecordsMerged:    merged,
		DetailSkipsTotal: skips,
		ErrorsTotal:      errorsTotal,
	}
}

// IncRequest increments the requests total counter for a phase.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPage increments the listing pages counter.
func (m *Metrics) IncPage() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// AddStubs adds to the stubs counter.
func (m *Metrics) AddStubs(n int) {
	if m == nil {
		return
	}
	m.StubsTotal.Add(float64(n))
}

// AddMerged adds to the merged records counter.
func (m *Metrics) AddMerged(n int) {
	if m == nil {
		return
	}
	m.RecordsMerged.Add(float64(n))
}

// IncDetailSkip increments the detail skip counter.
func (m *Metrics) IncDetailSkip() {
	if m == nil {
		return
	}
	m.DetailSkipsTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
