// Package metrics registers Prometheus collectors for SmartFund.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartfund_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartfund_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Upstream metrics
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartfund_upstream_requests_total",
			Help: "Upstream fund data requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"}, // outcome: ok, error, breaker_open
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartfund_upstream_request_duration_seconds",
			Help:    "Upstream fund data request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)

	// Business metrics
	EstimatesBySource = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartfund_estimates_total",
			Help: "Batch estimates produced, by source tier",
		},
		[]string{"tier"},
	)

	TransactionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartfund_transactions_applied_total",
			Help: "Transactions applied to positions",
		},
		[]string{"type"},
	)

	QuoteRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartfund_quote_refreshes_total",
			Help: "Per-fund quote refresh outcomes",
		},
		[]string{"outcome"}, // refreshed, retained
	)

	BacktestsRun = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartfund_backtests_total",
			Help: "Backtests run, by whether enough data was available",
		},
		[]string{"result"}, // ok, insufficient_data
	)
)

// Tier collapses an estimate source tag to its tier for label cardinality.
func Tier(source string) string {
	if len(source) >= 3 {
		return source[:3]
	}
	return "unknown"
}
