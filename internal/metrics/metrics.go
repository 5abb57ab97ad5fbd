// Package metrics holds the Prometheus collectors of the server and the export worker.
//
// Every method is safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tutorledger"

// Archive outcomes used as label values.
const (
	OutcomeArchived        = "archived"
	OutcomeAlreadyArchived = "already_archived"
	OutcomeNothing         = "nothing_to_archive"
	OutcomeInvalid         = "invalid"
	OutcomeFailed          = "failed"
	OutcomePartial         = "partial"
)

type Metrics struct {
	registry *prometheus.Registry

	recordsCreated  prometheus.Counter
	archiveOps      *prometheus.CounterVec
	recordsPurged   prometheus.Counter
	archivesDeleted prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	rateLimited     prometheus.Counter
	suspicious      prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	cacheExpired    prometheus.Counter
	exports         *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		recordsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_created_total",
			Help: "Daily records ingested.",
		}),
		archiveOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_operations_total",
			Help: "Month archive attempts by entry point and outcome.",
		}, []string{"entry", "outcome"}),
		recordsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_purged_total",
			Help: "Records removed after their month was archived.",
		}),
		archivesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "archives_deleted_total",
			Help: "Archives deleted by their owner.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_requests_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		suspicious: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "suspicious_requests_total",
			Help: "Requests flagged by the security detector.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "summary_cache_lookups_total",
			Help: "Monthly summary cache lookups by result.",
		}, []string{"result"}),
		cacheExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "summary_cache_expired_total",
			Help: "Cache entries removed by the periodic sweep.",
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sheet_exports_total",
			Help: "Archive spreadsheet exports by operation and result.",
		}, []string{"op", "result"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_events_published_total",
			Help: "Archive events sent to the broker by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.recordsCreated, m.archiveOps, m.recordsPurged, m.archivesDeleted,
		m.httpRequests, m.httpDuration, m.rateLimited, m.suspicious,
		m.cacheLookups, m.cacheExpired, m.exports, m.eventsPublished,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordCreated() {
	if m != nil {
		m.recordsCreated.Inc()
	}
}

func (m *Metrics) ArchiveOutcome(entry, outcome string) {
	if m != nil {
		m.archiveOps.WithLabelValues(entry, outcome).Inc()
	}
}

func (m *Metrics) RecordsPurged(n int64) {
	if m != nil && n > 0 {
		m.recordsPurged.Add(float64(n))
	}
}

func (m *Metrics) ArchiveDeleted() {
	if m != nil {
		m.archivesDeleted.Inc()
	}
}

func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) Suspicious() {
	if m != nil {
		m.suspicious.Inc()
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheExpired(n int) {
	if m != nil && n > 0 {
		m.cacheExpired.Add(float64(n))
	}
}

func (m *Metrics) Export(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.exports.WithLabelValues(op, result).Inc()
}

func (m *Metrics) EventPublished(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.eventsPublished.WithLabelValues(result).Inc()
}
