package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fpchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fpchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fpchat_rate_limit_hits_total",
			Help: "Requests rejected by the sliding-window limiter",
		},
		[]string{"endpoint"},
	)

	ValidationRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fpchat_validation_rejects_total",
			Help: "Chat messages rejected by input validation",
		},
		[]string{"reason"}, // "empty", "too_long", "suspicious"
	)

	// Upstream metrics
	UpstreamAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fpchat_upstream_attempts_total",
			Help: "Outbound attempts by final state of the attempt",
		},
		[]string{"outcome"}, // "succeeded", "retrying", "failed", "cancelled"
	)

	UpstreamLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fpchat_upstream_latency_seconds",
			Help:    "Latency of a full logical upstream request including retries",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
)
