// Package observability provides Prometheus metrics and HTTP middleware for
// monitoring the colloquy gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets suit upstream generation latencies, from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// FirstDeltaBuckets suit time-to-first-token, from 50ms to 30s.
var FirstDeltaBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

// Exchange outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeDeduped   = "deduped"
)

var (
	// RequestsTotal counts HTTP requests by method, route pattern and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "colloquy_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks open SSE relays.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "colloquy_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// ExchangesTotal counts chat exchanges by provider and outcome.
	ExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_exchanges_total",
			Help: "Chat exchanges",
		},
		[]string{"provider", "outcome"},
	)

	// ExchangeDuration records the time from upstream call to terminal state.
	ExchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "colloquy_exchange_duration_seconds",
			Help:    "Exchange duration",
			Buckets: LLMBuckets,
		},
		[]string{"provider"},
	)

	// TimeToFirstDelta records the latency until the first text fragment.
	TimeToFirstDelta = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "colloquy_time_to_first_delta_seconds",
			Help:    "Time to first relayed delta",
			Buckets: FirstDeltaBuckets,
		},
		[]string{"provider"},
	)

	// DeltasRelayed counts text fragments forwarded to clients.
	DeltasRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_deltas_relayed_total",
			Help: "Deltas relayed",
		},
		[]string{"provider"},
	)

	// UpstreamErrorsTotal counts classified vendor failures.
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_upstream_errors_total",
			Help: "Upstream errors by code",
		},
		[]string{"provider", "code"},
	)

	// TokensTotal counts tokens reported by vendors, by direction (input/output).
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "direction"},
	)

	// ModelCacheTotal counts catalog lookups by result (hit, miss, stale).
	ModelCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_model_cache_total",
			Help: "Model catalog cache lookups",
		},
		[]string{"provider", "result"},
	)

	// RateLimitRejectedTotal counts requests rejected by the local limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"scope"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		ExchangesTotal,
		ExchangeDuration,
		TimeToFirstDelta,
		DeltasRelayed,
		UpstreamErrorsTotal,
		TokensTotal,
		ModelCacheTotal,
		RateLimitRejectedTotal,
	)
}
