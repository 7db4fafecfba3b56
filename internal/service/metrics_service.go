package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/lms-api/internal/models"
)

// MetricsService owns the Prometheus registry and keeps simple atomic
// aggregates for the admin snapshot endpoint.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	enrollTotal     *prometheus.CounterVec
	exportDuration  prometheus.Observer
	auditDropped    prometheus.Counter

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	auditDroppedCount    uint64
	exportCount          uint64
}

// NewMetricsService registers the collectors.
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

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	enrollTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_decisions_total",
		Help: "Enrollment attempts by outcome",
	}, []string{"outcome"})

	exportDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "export_render_duration_seconds",
		Help:    "Duration of background export rendering",
		Buckets: prometheus.DefBuckets,
	})

	auditDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_entries_dropped_total",
		Help: "Audit entries dropped because the sink buffer was full",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHitRatio, cacheHits, cacheMisses, enrollTotal, exportDuration, auditDropped, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		enrollTotal:     enrollTotal,
		exportDuration:  exportDuration,
		auditDropped:    auditDropped,
	}
}

// Handler exposes the Prometheus scrape handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
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

// RecordCacheLookup tracks cache hit rates.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// RecordEnrollmentDecision counts enrollment attempts by outcome label.
func (m *MetricsService) RecordEnrollmentDecision(outcome string) {
	if m == nil {
		return
	}
	m.enrollTotal.WithLabelValues(outcome).Inc()
}

// ObserveExport records one finished export render.
func (m *MetricsService) ObserveExport(duration time.Duration) {
	if m == nil {
		return
	}
	m.exportDuration.Observe(duration.Seconds())
	atomic.AddUint64(&m.exportCount, 1)
}

// RecordAuditDrop counts audit entries lost to a full buffer.
func (m *MetricsService) RecordAuditDrop() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
	atomic.AddUint64(&m.auditDroppedCount, 1)
}

// Snapshot returns the aggregate view for the admin endpoint.
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
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		AuditEntriesDropped:      atomic.LoadUint64(&m.auditDroppedCount),
		ExportsProcessed:         atomic.LoadUint64(&m.exportCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
