// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pronunciation"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Vendor metrics
	VendorRequests *prometheus.CounterVec
	VendorLatency  *prometheus.HistogramVec

	// Evaluation metrics
	EvaluationScores prometheus.Histogram
	TimeoutRetries   prometheus.Counter

	// TTS cache
	TTSCacheHits   prometheus.Counter
	TTSCacheMisses prometheus.Counter

	// Event publishing
	EventsPublished *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
		}, []string{"method", "route"}),

		VendorRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_requests_total",
			Help:      "Vendor calls by vendor, operation and outcome code",
		}, []string{"vendor", "operation", "outcome"}),
		VendorLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vendor_latency_seconds",
			Help:      "Vendor round trip latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"vendor", "operation"}),

		EvaluationScores: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_overall_score",
			Help:      "Distribution of overall evaluation scores",
			Buckets:   []float64{20, 40, 60, 70, 80, 85, 90, 95, 100},
		}),
		TimeoutRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_timeout_retries_total",
			Help:      "Evaluation attempts retried after a vendor timeout",
		}),

		TTSCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_cache_hits_total",
			Help:      "TTS requests served from cache",
		}),
		TTSCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_cache_misses_total",
			Help:      "TTS requests that reached a vendor",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Evaluation events by sink and result",
		}, []string{"sink", "result"}),
	}
}

// RecordVendorCall records the outcome and latency of one vendor call.
// An empty outcome means success.
func (m *Metrics) RecordVendorCall(vendor, operation, outcome string, started time.Time) {
	if outcome == "" {
		outcome = "ok"
	}
	m.VendorRequests.WithLabelValues(vendor, operation, outcome).Inc()
	m.VendorLatency.WithLabelValues(vendor, operation).Observe(time.Since(started).Seconds())
}

// RecordHTTP records one served request.
func (m *Metrics) RecordHTTP(method, route, status string, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordEvent records one event publish attempt.
func (m *Metrics) RecordEvent(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsPublished.WithLabelValues(sink, result).Inc()
}
