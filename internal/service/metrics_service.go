package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the
// attendance-to-ledger engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	postingsTotal   *prometheus.CounterVec
	postingConflict prometheus.Counter
	creditsIssued   *prometheus.CounterVec
	creditsAmount   *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetricsService registers the engine's Prometheus collectors.
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

	postingsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_postings_total",
		Help: "Balance-changing postings applied, by direction",
	}, []string{"direction"})

	postingConflict := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_posting_conflicts_total",
		Help: "Optimistic writes that lost a revision race",
	})

	creditsIssued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "holiday_credits_issued_total",
		Help: "Holiday credits issued, by sweep source",
	}, []string{"source"})

	creditsAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "holiday_credits_dollars_total",
		Help: "Dollar total of holiday credits issued, by sweep source",
	}, []string{"source"})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "holiday_sweep_duration_seconds",
		Help:    "Duration of holiday reconciliation sweeps",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "summary_cache_hits_total",
		Help: "Day-summary cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "summary_cache_misses_total",
		Help: "Day-summary cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, postingsTotal, postingConflict,
		creditsIssued, creditsAmount, sweepDuration, cacheHits, cacheMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		postingsTotal:   postingsTotal,
		postingConflict: postingConflict,
		creditsIssued:   creditsIssued,
		creditsAmount:   creditsAmount,
		sweepDuration:   sweepDuration,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
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

// RecordPosting counts an applied balance posting.
func (m *MetricsService) RecordPosting(direction string) {
	if m == nil {
		return
	}
	m.postingsTotal.WithLabelValues(direction).Inc()
}

// RecordPostingConflict counts a lost revision race.
func (m *MetricsService) RecordPostingConflict() {
	if m == nil {
		return
	}
	m.postingConflict.Inc()
}

// RecordCreditIssued counts an issued holiday credit.
func (m *MetricsService) RecordCreditIssued(source string, amount int) {
	if m == nil {
		return
	}
	m.creditsIssued.WithLabelValues(source).Inc()
	m.creditsAmount.WithLabelValues(source).Add(float64(amount))
}

// ObserveSweep records a reconciliation sweep duration.
func (m *MetricsService) ObserveSweep(duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
}

// RecordCacheOperation counts a summary-cache lookup.
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
