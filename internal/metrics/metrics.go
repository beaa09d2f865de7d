package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_requests_total",
			Help: "Total number of requests through the admission pipeline",
		},
		[]string{"path", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_stage_duration_seconds",
			Help:    "Duration of each admission stage in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"stage"},
	)

	DenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_denials_total",
			Help: "Total number of admission denials by reason",
		},
		[]string{"reason"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_rate_limit_hits_total",
			Help: "Total number of rate-limited requests",
		},
		[]string{"category"},
	)

	PlanDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_plan_denials_total",
			Help: "Total number of plan-quota denials",
		},
		[]string{"resource"},
	)

	PlanUsageRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatekeeper_plan_usage_ratio",
			Help: "Current plan usage ratio per tenant and resource (0-1)",
		},
		[]string{"tenant_id", "resource"},
	)

	StoreFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_store_fallbacks_total",
			Help: "Times the rate limiter fell back to in-process counters",
		},
	)

	AuditPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_audit_publish_errors_total",
			Help: "Audit events that could not be published",
		},
	)
)

func RecordRequest(path, outcome string) {
	RequestsTotal.WithLabelValues(path, outcome).Inc()
}

func ObserveStage(stage string, seconds float64) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
}

func RecordDenial(reason string) {
	DenialsTotal.WithLabelValues(reason).Inc()
}

func RecordRateLimitHit(category string) {
	RateLimitHits.WithLabelValues(category).Inc()
}

func RecordPlanDenial(resource string) {
	PlanDenials.WithLabelValues(resource).Inc()
}

func SetPlanUsage(tenantID, resource string, ratio float64) {
	PlanUsageRatio.WithLabelValues(tenantID, resource).Set(ratio)
}

func RecordStoreFallback() {
	StoreFallbacks.Inc()
}

func RecordAuditPublishError() {
	AuditPublishErrors.Inc()
}
