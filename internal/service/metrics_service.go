package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/revision-engine/internal/models"
)

// Revert outcomes recorded by RecordRevert.
const (
	RevertSucceeded = "success"
	RevertFailed    = "failure"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	cacheLatency      prometheus.Observer
	cacheLookups      *prometheus.CounterVec
	revisionsAppended *prometheus.CounterVec
	revisionConflicts prometheus.Counter
	revisionReverts   *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	appendedCount        uint64
	conflictCount        uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "revision_cache_latency_seconds",
		Help:    "Latency for revision cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revision_cache_lookups_total",
		Help: "Revision head cache lookups by result",
	}, []string{"result"})

	revisionsAppended := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revisions_appended_total",
		Help: "Revisions committed to the ledger",
	}, []string{"entity_type", "action"})

	revisionConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "revision_conflicts_total",
		Help: "Version collisions detected on append",
	})

	revisionReverts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revision_reverts_total",
		Help: "Revert operations by outcome",
	}, []string{"status"})

	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revision_events_total",
		Help: "Revision events fanned out by outcome",
	}, []string{"status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheLookups, revisionsAppended, revisionConflicts, revisionReverts, eventsPublished, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheLookups:      cacheLookups,
		revisionsAppended: revisionsAppended,
		revisionConflicts: revisionConflicts,
		revisionReverts:   revisionReverts,
		eventsPublished:   eventsPublished,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records a revision cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
	atomic.AddUint64(&m.cacheMissCount, 1)
}

// RecordRevisionAppended counts a committed revision.
func (m *MetricsService) RecordRevisionAppended(entityType string, action models.RevisionAction) {
	if m == nil {
		return
	}
	m.revisionsAppended.WithLabelValues(entityType, string(action)).Inc()
	atomic.AddUint64(&m.appendedCount, 1)
}

// RecordRevisionConflict counts a version collision.
func (m *MetricsService) RecordRevisionConflict() {
	if m == nil {
		return
	}
	m.revisionConflicts.Inc()
	atomic.AddUint64(&m.conflictCount, 1)
}

// RecordRevert counts a revert by outcome.
func (m *MetricsService) RecordRevert(status string) {
	if m == nil {
		return
	}
	m.revisionReverts.WithLabelValues(status).Inc()
}

// RecordEvent counts an event delivery attempt by outcome.
func (m *MetricsService) RecordEvent(status string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(status).Inc()
}

// Snapshot returns aggregated metrics suitable for the summary endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHits:                hits,
		CacheMisses:              misses,
		CacheHitRatio:            cacheRatio,
		RevisionsAppended:        atomic.LoadUint64(&m.appendedCount),
		RevisionConflicts:        atomic.LoadUint64(&m.conflictCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
