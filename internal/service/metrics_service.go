package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/enrollease/enrollease-api/internal/enrollment"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	cacheLatency        prometheus.Observer
	cacheWrite          prometheus.Observer
	cacheHitRatio       prometheus.Gauge
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	collaboratorLatency *prometheus.HistogramVec
	collaboratorCalls   *prometheus.CounterVec
	stageTransitions    *prometheus.CounterVec
	subscriptions       prometheus.Gauge
	certificateJobs     *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	activeSubscriptions  int64
}

// MetricsSnapshot summarises process counters for the readiness endpoint.
type MetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	ActiveSubscriptions      int64     `json:"active_subscriptions"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
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
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

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

	collaboratorLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collaborator_call_duration_seconds",
		Help:    "Duration of calls to the document store, object store, feed and mail collaborators",
		Buckets: prometheus.DefBuckets,
	}, []string{"collaborator", "operation"})

	collaboratorCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collaborator_calls_total",
		Help: "Collaborator calls by outcome",
	}, []string{"collaborator", "operation", "outcome"})

	stageTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_stage_transitions_total",
		Help: "Stage changes observed by progress controllers",
	}, []string{"from", "to"})

	subscriptions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "record_subscriptions_active",
		Help: "Open student record subscriptions",
	})

	certificateJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "certificate_jobs_total",
		Help: "Certificate rendering jobs by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		collaboratorLatency, collaboratorCalls, stageTransitions, subscriptions, certificateJobs, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		cacheLatency:        cacheLatency,
		cacheWrite:          cacheWrite,
		cacheHitRatio:       cacheHitRatio,
		cacheHits:           cacheHits,
		cacheMisses:         cacheMisses,
		collaboratorLatency: collaboratorLatency,
		collaboratorCalls:   collaboratorCalls,
		stageTransitions:    stageTransitions,
		subscriptions:       subscriptions,
		certificateJobs:     certificateJobs,
	}
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// ObserveHTTPStream counts a finished event stream. Its lifetime is not a latency and stays out
// of the duration histogram and the snapshot averages.
func (m *MetricsService) ObserveHTTPStream(method, path string, status int) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
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
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveCollaboratorCall records one collaborator call. It satisfies collaborator.Observer.
func (m *MetricsService) ObserveCollaboratorCall(collaborator, operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.collaboratorLatency.WithLabelValues(collaborator, operation).Observe(duration.Seconds())
	m.collaboratorCalls.WithLabelValues(collaborator, operation, outcome).Inc()
}

// ObserveStageTransition counts a stage change seen by a progress controller.
func (m *MetricsService) ObserveStageTransition(from, to enrollment.Stage) {
	if m == nil || from == to {
		return
	}
	m.stageTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// SubscriptionOpened increments the active subscription gauge.
func (m *MetricsService) SubscriptionOpened() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.activeSubscriptions, 1)
	m.subscriptions.Inc()
}

// SubscriptionClosed decrements the active subscription gauge.
func (m *MetricsService) SubscriptionClosed() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.activeSubscriptions, -1)
	m.subscriptions.Dec()
}

// ObserveCertificateJob counts a finished certificate job.
func (m *MetricsService) ObserveCertificateJob(result string) {
	if m == nil {
		return
	}
	m.certificateJobs.WithLabelValues(result).Inc()
}

// Snapshot returns aggregated metrics suitable for the readiness endpoint.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		ActiveSubscriptions:      atomic.LoadInt64(&m.activeSubscriptions),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
