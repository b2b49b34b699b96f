// Package metrics exposes Prometheus counters for source runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the namespace for all bcfinder metrics
	Namespace = "bcfinder"
	// Subsystem is the subsystem for source run metrics
	Subsystem = "source"
)

// Metrics holds the run metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RecordsExtracted    *prometheus.CounterVec
	RecordsNew          *prometheus.CounterVec
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	DuplicateInserts    *prometheus.CounterVec
	RunFailures         *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
}

// New creates the metrics on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Metrics{
		registry:            reg,
		RecordsExtracted:    counter("records_extracted_total", "Records extracted from source documents", "source"),
		RecordsNew:          counter("records_new_total", "Records whose fingerprint was not stored yet", "source"),
		NotificationsSent:   counter("notifications_sent_total", "Notifications delivered", "source"),
		NotificationsFailed: counter("notifications_failed_total", "Notifications that failed to deliver", "source"),
		DuplicateInserts:    counter("duplicate_inserts_total", "Inserts rejected because the fingerprint already existed", "source"),
		RunFailures:         counter("run_failures_total", "Source runs that ended in failure", "source", "kind"),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "run_duration_seconds",
			Help:      "Duration of a single source run in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"source"}),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Extracted counts extracted records
func (m *Metrics) Extracted(source string, n int) {
	if m == nil {
		return
	}
	m.RecordsExtracted.WithLabelValues(source).Add(float64(n))
}

// NewRecord counts a record not seen before
func (m *Metrics) NewRecord(source string) {
	if m == nil {
		return
	}
	m.RecordsNew.WithLabelValues(source).Inc()
}

// Notified counts a notification attempt
func (m *Metrics) Notified(source string, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.NotificationsSent.WithLabelValues(source).Inc()
		return
	}
	m.NotificationsFailed.WithLabelValues(source).Inc()
}

// Duplicate counts a rejected insert
func (m *Metrics) Duplicate(source string) {
	if m == nil {
		return
	}
	m.DuplicateInserts.WithLabelValues(source).Inc()
}

// Failed counts a failed source run by error kind
func (m *Metrics) Failed(source, kind string) {
	if m == nil {
		return
	}
	m.RunFailures.WithLabelValues(source, kind).Inc()
}

// Observe records how long a source run took
func (m *Metrics) Observe(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(source).Observe(d.Seconds())
}
