// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the verification pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// PIPELINE METRICS
// =============================================================================

var (
	verificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_verifications_total",
			Help: "Total number of verification pipeline runs",
		},
		[]string{"service", "outcome"}, // outcome: approved, rejected, manual_review, error
	)

	verificationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelgate_verification_duration_seconds",
			Help:    "End-to-end verification pipeline duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"service"},
	)

	verificationScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelgate_verification_score",
			Help:    "Weighted overall verification score (0-100)",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"service"},
	)
)

// =============================================================================
// RETRY METRICS
// =============================================================================

var (
	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_retries_total",
			Help: "Total number of retry attempts scheduled",
		},
		[]string{"service", "reason"}, // reason: low_score, transport_error
	)
)

// =============================================================================
// MODEL CALL METRICS
// =============================================================================

var (
	modelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_model_calls_total",
			Help: "Total number of model API calls",
		},
		[]string{"role", "status"}, // role: primary, verifier; status: success, error
	)

	modelCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelgate_model_call_duration_seconds",
			Help:    "Model call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"role"},
	)
)

// =============================================================================
// ADMISSION METRICS
// =============================================================================

var (
	rateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_rate_limit_rejections_total",
			Help: "Requests rejected by the internal rate limiter",
		},
		[]string{"service"},
	)

	dedupHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelgate_dedup_hits_total",
			Help: "Requests served from a shared or cached execution",
		},
		[]string{"service", "source"}, // source: in_flight, cache
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordVerification records one completed pipeline run.
func RecordVerification(service, outcome string, score float64, durationMS int64) {
	verificationsTotal.WithLabelValues(service, outcome).Inc()
	verificationDurationSeconds.WithLabelValues(service).Observe(float64(durationMS) / 1000.0)
	verificationScore.WithLabelValues(service).Observe(score)
}

// RecordRetry records one scheduled retry attempt.
func RecordRetry(service, reason string) {
	retriesTotal.WithLabelValues(service, reason).Inc()
}

// RecordModelCall records one model API call.
func RecordModelCall(role, status string, durationMS int64) {
	modelCallsTotal.WithLabelValues(role, status).Inc()
	modelCallDurationSeconds.WithLabelValues(role).Observe(float64(durationMS) / 1000.0)
}

// RecordRateLimitRejection records one internal rate limiter rejection.
func RecordRateLimitRejection(service string) {
	rateLimitRejectionsTotal.WithLabelValues(service).Inc()
}

// RecordDedupHit records a request served without a fresh execution.
func RecordDedupHit(service, source string) {
	dedupHitsTotal.WithLabelValues(service, source).Inc()
}
