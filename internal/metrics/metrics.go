// Package metrics exposes the engine's counters and histograms over a
// stdlib net/http /metrics endpoint via prometheus/client_golang. Optional:
// the teacher's own instrumentation is all zerolog field logging, so this
// is the pack's first Prometheus wiring, pulled in because the domain
// (a long-running order matching service) is exactly what the library is
// for.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paper_trading",
		Name:      "orders_placed_total",
		Help:      "Orders placed, by symbol and order type.",
	}, []string{"symbol", "type"})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paper_trading",
		Name:      "orders_rejected_total",
		Help:      "Orders rejected, by reason.",
	}, []string{"reason"})

	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paper_trading",
		Name:      "fills_total",
		Help:      "Fills executed, by symbol and maker/taker.",
	}, []string{"symbol", "liquidity"})

	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paper_trading",
		Name:      "liquidations_total",
		Help:      "Positions force-closed by the liquidation check, by symbol.",
	}, []string{"symbol"})

	LockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paper_trading",
		Name:      "lock_wait_seconds",
		Help:      "Time spent waiting to acquire a transaction lock.",
		Buckets:   prometheus.DefBuckets,
	})

	MonitorTickSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paper_trading",
		Name:      "monitor_tick_seconds",
		Help:      "Wall-clock duration of one monitoring loop tick across all symbols.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Serve starts the /metrics handler on addr. Intended to run in its own
// goroutine; a failure to bind is returned to the caller to log.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
