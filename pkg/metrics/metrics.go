// Package metrics provides Prometheus instrumentation for the semantic cache.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric collectors. Every recording method
// is safe to call on a nil *Metrics.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveRequests    prometheus.Gauge
	CacheLookups      *prometheus.CounterVec
	HitSimilarity     prometheus.Histogram
	TierTransitions   *prometheus.CounterVec
	Entries           *prometheus.GaugeVec
	Embeddings        *prometheus.CounterVec
	Predictions       prometheus.Counter
	PrewarmInserts    prometheus.Counter
	PredictionHitRate prometheus.Gauge
	StoreErrors       *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all cache metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	// Include default Go and process collectors
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cachegpt_requests_total",
				Help: "Total HTTP requests by endpoint and status code.",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cachegpt_request_duration_seconds",
				Help:    "HTTP request latency distribution.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cachegpt_active_requests",
				Help: "Number of requests currently being processed.",
			},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cachegpt_cache_lookups_total",
				Help: "Semantic cache lookups by result (hit/miss/error).",
			},
			[]string{"result"},
		),
		HitSimilarity: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cachegpt_cache_hit_similarity",
				Help:    "Cosine similarity of served cache hits.",
				Buckets: []float64{0.80, 0.85, 0.88, 0.90, 0.92, 0.94, 0.95, 0.97, 0.99, 1.0},
			},
		),
		TierTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cachegpt_tier_transitions_total",
				Help: "Promotion and demotion events by source and destination tier.",
			},
			[]string{"from", "to"},
		),
		Entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cachegpt_entries",
				Help: "Non-archived cache entries per tier at the last statistics run.",
			},
			[]string{"tier"},
		),
		Embeddings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cachegpt_embeddings_total",
				Help: "Embeddings served by source (cache/provider/fallback).",
			},
			[]string{"source"},
		),
		Predictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cachegpt_predictions_total",
				Help: "Predictions produced by the pre-warmer.",
			},
		),
		PrewarmInserts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cachegpt_prewarm_inserts_total",
				Help: "Entries inserted by pre-warming.",
			},
		),
		PredictionHitRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cachegpt_prediction_hit_rate",
				Help: "Share of tracked predictions later confirmed by a real query.",
			},
		),
		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cachegpt_store_errors_total",
				Help: "Record store failures by operation.",
			},
			[]string{"op"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheLookups,
		m.HitSimilarity,
		m.TierTransitions,
		m.Entries,
		m.Embeddings,
		m.Predictions,
		m.PrewarmInserts,
		m.PredictionHitRate,
		m.StoreErrors,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request's metrics.
func (m *Metrics) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	status := strconv.Itoa(statusCode)
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordLookup counts a cache lookup. Similarity is observed for hits only.
func (m *Metrics) RecordLookup(result string, similarity float64) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
	if result == "hit" {
		m.HitSimilarity.Observe(similarity)
	}
}

// RecordTierTransition counts a promotion or demotion.
func (m *Metrics) RecordTierTransition(from, to string) {
	if m == nil {
		return
	}
	m.TierTransitions.WithLabelValues(from, to).Inc()
}

// SetEntries publishes the per-tier entry count.
func (m *Metrics) SetEntries(tier string, n int) {
	if m == nil {
		return
	}
	m.Entries.WithLabelValues(tier).Set(float64(n))
}

// RecordEmbedding counts an embedding by where it came from.
func (m *Metrics) RecordEmbedding(source string) {
	if m == nil {
		return
	}
	m.Embeddings.WithLabelValues(source).Inc()
}

// RecordPredictions counts a batch of predictions.
func (m *Metrics) RecordPredictions(n int) {
	if m == nil {
		return
	}
	m.Predictions.Add(float64(n))
}

// RecordPrewarmInsert counts one pre-warmed entry.
func (m *Metrics) RecordPrewarmInsert() {
	if m == nil {
		return
	}
	m.PrewarmInserts.Inc()
}

// SetPredictionHitRate publishes the tracker's current hit rate.
func (m *Metrics) SetPredictionHitRate(rate float64) {
	if m == nil {
		return
	}
	m.PredictionHitRate.Set(rate)
}

// RecordStoreError counts a failed store operation.
func (m *Metrics) RecordStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

// Middleware returns an HTTP middleware that instruments requests.
func (m *Metrics) Middleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r)

		m.RecordRequest(endpoint, rw.statusCode, time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers flush through the instrumentation.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
