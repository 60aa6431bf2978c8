package bulk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for bulk runs.
var (
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_bulk_items_total",
		Help: "Bulk items finished by status",
	}, []string{"status"})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rt_bulk_in_flight",
		Help: "Bulk items currently being applied",
	})

	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rt_bulk_runs_total",
		Help: "Bulk runs started",
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rt_bulk_retries_total",
		Help: "Rate-limited bulk items attempted again",
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rt_bulk_retry_exhausted_total",
		Help: "Bulk items still rate limited after the last attempt",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rt_bulk_retry_backoff_seconds",
		Help:    "Wait before a bulk item retry",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)
