package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

var (
	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virtual_trading_trades_total",
			Help: "Trades handled by the ledger engine",
		},
		[]string{"type", "outcome"},
	)

	TradeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "virtual_trading_trade_duration_seconds",
			Help:    "Time spent applying a trade including store round trips",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"type"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "virtual_trading_store_operation_duration_seconds",
			Help:    "Portfolio store operation latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation"},
	)

	StoreFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virtual_trading_store_failures_total",
			Help: "Portfolio store operations that failed or timed out",
		},
		[]string{"operation"},
	)

	PriceRefreshRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virtual_trading_price_refresh_runs_total",
			Help: "Scheduled price refresh runs",
		},
		[]string{"outcome"},
	)

	QuoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "virtual_trading_quote_requests_total",
			Help: "Quote lookups against the configured provider",
		},
		[]string{"provider", "outcome"},
	)
)
