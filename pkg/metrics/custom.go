package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "btcwatch"

var (
	RateLimitBlockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_block_total",
		Help:      "Total number of rate limited http requests.",
	}, []string{"route"})

	CBRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuitbreaker_reject_total",
		Help:      "Calls rejected by an open circuit breaker.",
	}, []string{"method"})

	// 0 closed, 1 half-open, 2 open (gobreaker.State)
	CBState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuitbreaker_state",
		Help:      "Circuit breaker state.",
	}, []string{"method"})

	BackendCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_call_duration_seconds",
		Help:      "Latency of outbound chain-backend and price-provider calls.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms ~ 10s
	}, []string{"method", "status"})

	PriceRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_refresh_total",
		Help:      "Price cache refresh attempts by outcome.",
	}, []string{"outcome"}) // updated | zero_price | failed | save_failed

	AllocationConflictTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "address_allocation_conflict_total",
		Help:      "Address index collisions that forced an allocation retry.",
	})

	WalletViewStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wallet_view_total",
		Help:      "Per-wallet ledger results by status.",
	}, []string{"status"})
)

// Status 把 error 变成 label
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
