package catalog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rt_catalog_invocations_total",
			Help: "Operation invocations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	invocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rt_catalog_invocation_duration_seconds",
			Help:    "Operation duration including all RT requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
