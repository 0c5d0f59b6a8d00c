package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the planning core.
type Metrics struct {
	// Request counters, labeled by terminal status (ok, input_error,
	// insufficient_data, internal_error).
	ForecastRequests *prometheus.CounterVec
	EvaluateRequests *prometheus.CounterVec
	ValidateRequests *prometheus.CounterVec
	OptimizeRequests *prometheus.CounterVec

	// RequestDuration observes endpoint latency in seconds.
	RequestDuration *prometheus.HistogramVec

	// Forecast cache effectiveness.
	ForecastCacheHits   prometheus.Counter
	ForecastCacheMisses prometheus.Counter

	// Model lifecycle.
	ModelBuilds       prometheus.Counter
	ModelBuildErrors  prometheus.Counter
	CoefficientsBuilt prometheus.Gauge

	// Optimizer throughput.
	CandidatesEvaluated prometheus.Counter
	CandidatesBlocked   prometheus.Counter
	OptimizeTruncated   prometheus.Counter

	// Validation outcomes by status (PASS, WARN, BLOCK).
	ValidationOutcomes *prometheus.CounterVec
}

// New creates and registers all metrics
func New() *Metrics {
	statusLabels := []string{"status"}

	return &Metrics{
		ForecastRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "promo_forecast_requests_total",
			Help: "Baseline forecast requests by terminal status",
		}, statusLabels),
		EvaluateRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "promo_evaluate_requests_total",
			Help: "Scenario evaluation requests by terminal status",
		}, statusLabels),
		ValidateRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "promo_validate_requests_total",
			Help: "Scenario validation requests by terminal status",
		}, statusLabels),
		OptimizeRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "promo_optimize_requests_total",
			Help: "Optimization requests by terminal status",
		}, statusLabels),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promo_request_duration_seconds",
			Help:    "Endpoint latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		ForecastCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "promo_forecast_cache_hits_total",
			Help: "Baseline forecasts served from cache",
		}),
		ForecastCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "promo_forecast_cache_misses_total",
			Help: "Baseline forecasts recomputed on cache miss",
		}),

		ModelBuilds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "promo_model_builds_total",
			Help: "Uplift model builds completed",
		}),
		ModelBuildErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "promo_model_build_errors_total",
			Help: "Uplift model builds that failed",
		}),
		CoefficientsBuilt: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "promo_model_coefficients",
			Help: "Coefficient count in the most recently built model",
		}),

		CandidatesEvaluated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "promo_optimize_candidates_total",
			Help: "Candidate scenarios evaluated by the optimizer",
		}),
		CandidatesBlocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "promo_optimize_candidates_blocked_total",
			Help: "Candidate scenarios blocked by validation",
		}),
		OptimizeTruncated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "promo_optimize_truncated_total",
			Help: "Optimization runs truncated by their deadline",
		}),

		ValidationOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "promo_validation_outcomes_total",
			Help: "Validation reports by resulting status",
		}, statusLabels),
	}
}
