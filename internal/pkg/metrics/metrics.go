// Package metrics exposes the service's Prometheus registry and the image pipeline collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vision"

// Config controls the /metrics endpoint
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DefaultConfig returns metrics enabled on /metrics
func DefaultConfig() *Config {
	return &Config{Enabled: true, Path: "/metrics"}
}

// NewRegistry returns a registry carrying the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Ingest results
const (
	ResultNew       = "new"
	ResultDuplicate = "duplicate"
)

// Classification results
const (
	ResultClassified = "classified"
	ResultCached     = "cached"
	ResultFailed     = "failed"
)

// Images holds the intake and classification collectors. A nil *Images records nothing.
type Images struct {
	ingested        *prometheus.CounterVec
	ingestFailures  *prometheus.CounterVec
	dedupRaces      prometheus.Counter
	classifications *prometheus.CounterVec
	classifyLatency prometheus.Histogram
	queueDepth      prometheus.Gauge
}

// NewImages creates the image collectors and registers them on reg
func NewImages(reg prometheus.Registerer) *Images {
	m := &Images{
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_ingested_total",
			Help:      "Images accepted by intake, by whether the content was new.",
		}, []string{"result"}),
		ingestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Rejected or failed intake requests, by error kind.",
		}, []string{"kind"}),
		dedupRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_races_total",
			Help:      "Inserts that lost a concurrent race for the same content hash.",
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classification requests, by outcome.",
		}, []string{"result"}),
		classifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_duration_seconds",
			Help:      "Time spent waiting on the classifier.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "classify_jobs_in_flight",
			Help:      "Classification jobs currently being processed by workers.",
		}),
	}
	reg.MustRegister(m.ingested, m.ingestFailures, m.dedupRaces, m.classifications, m.classifyLatency, m.queueDepth)
	return m
}

func (m *Images) Ingested(result string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(result).Inc()
}

func (m *Images) IngestFailed(kind string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(kind).Inc()
}

func (m *Images) DedupRace() {
	if m == nil {
		return
	}
	m.dedupRaces.Inc()
}

func (m *Images) Classified(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(result).Inc()
	if result != ResultCached {
		m.classifyLatency.Observe(elapsed.Seconds())
	}
}

// JobStarted and JobFinished track worker concurrency
func (m *Images) JobStarted() {
	if m == nil {
		return
	}
	m.queueDepth.Inc()
}

func (m *Images) JobFinished() {
	if m == nil {
		return
	}
	m.queueDepth.Dec()
}
