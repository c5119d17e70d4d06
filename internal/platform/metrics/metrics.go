package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the sign overlay service.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	requestDuration  prometheus.Histogram
	cacheLookups     *prometheus.CounterVec
	cacheRecords     prometheus.Gauge
	uploadsTotal     *prometheus.CounterVec
	fetchFailures    prometheus.Counter
	registrations    *prometheus.CounterVec
	cueAdvancesTotal prometheus.Counter
	activeSessions   prometheus.Gauge
	queueTasks       *prometheus.GaugeVec
}

// New creates and registers the overlay metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signoverlay_http_requests_total",
			Help: "Total number of HTTP requests by method and status code",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signoverlay_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signoverlay_cache_lookups_total",
			Help: "Cache lookups by result (hit, miss)",
		}, []string{"result"}),
		cacheRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signoverlay_cache_records",
			Help: "Number of records in the resolution cache",
		}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signoverlay_uploads_total",
			Help: "Source asset uploads by result (ok, error)",
		}, []string{"result"}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signoverlay_fetch_failures_total",
			Help: "Cue fetches that failed and degraded to the cached cue list",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signoverlay_registrations_total",
			Help: "Bundle registrations by result (ok, error)",
		}, []string{"result"}),
		cueAdvancesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signoverlay_cue_advances_total",
			Help: "Dwell chain advances across all sessions",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signoverlay_active_sessions",
			Help: "Number of open playback sessions",
		}),
		queueTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signoverlay_queue_tasks",
			Help: "Coordinating queue tasks by state (pending, executed, panicked)",
		}, []string{"state"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.cacheLookups,
		m.cacheRecords,
		m.uploadsTotal,
		m.fetchFailures,
		m.registrations,
		m.cueAdvancesTotal,
		m.activeSessions,
		m.queueTasks,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, status).Inc()
	m.requestDuration.Observe(seconds)
}

// CacheLookup records a cache hit or miss.
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

// SetCacheRecords sets the cache size gauge.
func (m *Metrics) SetCacheRecords(n int) {
	if m == nil {
		return
	}
	m.cacheRecords.Set(float64(n))
}

// Upload records an upload attempt outcome.
func (m *Metrics) Upload(err error) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// IncFetchFailures increments the fetch failure counter.
func (m *Metrics) IncFetchFailures() {
	if m == nil {
		return
	}
	m.fetchFailures.Inc()
}

// Registration records a bundle registration outcome.
func (m *Metrics) Registration(err error) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(resultLabel(err)).Inc()
}

// IncCueAdvances increments the dwell chain advance counter.
func (m *Metrics) IncCueAdvances() {
	if m == nil {
		return
	}
	m.cueAdvancesTotal.Inc()
}

// SetActiveSessions sets the open sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// SetQueueStats records a snapshot of the coordinating queue counters.
func (m *Metrics) SetQueueStats(pending int, executed, panicked uint64) {
	if m == nil {
		return
	}
	m.queueTasks.WithLabelValues("pending").Set(float64(pending))
	m.queueTasks.WithLabelValues("executed").Set(float64(executed))
	m.queueTasks.WithLabelValues("panicked").Set(float64(panicked))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
