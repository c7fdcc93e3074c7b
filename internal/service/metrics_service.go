package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API surface
// and the reconciliation pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	syncRunsTotal     *prometheus.CounterVec
	recordsClassified *prometheus.CounterVec
	linkOpsTotal      *prometheus.CounterVec
	syncDuration      prometheus.Observer
	chunkApplySeconds prometheus.Observer
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

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	syncRunsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pasi_sync_runs_total",
		Help: "Total reconciliation runs by terminal status",
	}, []string{"status"})

	recordsClassified := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pasi_records_classified_total",
		Help: "Records classified by the diff engine per run, by change kind",
	}, []string{"kind"})

	linkOpsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pasi_link_operations_total",
		Help: "Summary link operations emitted by the link resolver",
	}, []string{"operation"})

	syncDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pasi_sync_duration_seconds",
		Help:    "End-to-end duration of reconciliation runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	chunkApplySeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pasi_chunk_apply_seconds",
		Help:    "Duration of mutation chunk transactions",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses,
		syncRunsTotal, recordsClassified, linkOpsTotal, syncDuration, chunkApplySeconds, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		syncRunsTotal:     syncRunsTotal,
		recordsClassified: recordsClassified,
		linkOpsTotal:      linkOpsTotal,
		syncDuration:      syncDuration,
		chunkApplySeconds: chunkApplySeconds,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records snapshot cache hit/miss counts.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveSyncRun records one finished run with its terminal status.
func (m *MetricsService) ObserveSyncRun(status models.SyncRunStatus, duration time.Duration) {
	if m == nil {
		return
	}
	m.syncRunsTotal.WithLabelValues(string(status)).Inc()
	m.syncDuration.Observe(duration.Seconds())
}

// ObserveDiff records the diff engine's classification counts for one run.
func (m *MetricsService) ObserveDiff(counts models.ChangeCounts) {
	if m == nil {
		return
	}
	m.recordsClassified.WithLabelValues(string(models.ChangeNew)).Add(float64(counts.New))
	m.recordsClassified.WithLabelValues(string(models.ChangeUpdated)).Add(float64(counts.Updated))
	m.recordsClassified.WithLabelValues(string(models.ChangeUnchanged)).Add(float64(counts.Unchanged))
	m.recordsClassified.WithLabelValues(string(models.ChangeRemoved)).Add(float64(counts.Removed))
}

// ObserveLinkOps records link resolver activity for one run.
func (m *MetricsService) ObserveLinkOps(created, refreshed, removed, failed int) {
	if m == nil {
		return
	}
	m.linkOpsTotal.WithLabelValues("created").Add(float64(created))
	m.linkOpsTotal.WithLabelValues("refreshed").Add(float64(refreshed))
	m.linkOpsTotal.WithLabelValues("removed").Add(float64(removed))
	m.linkOpsTotal.WithLabelValues("failed").Add(float64(failed))
}

// ObserveChunkApply records one chunk transaction duration.
func (m *MetricsService) ObserveChunkApply(duration time.Duration) {
	if m == nil {
		return
	}
	m.chunkApplySeconds.Observe(duration.Seconds())
}
