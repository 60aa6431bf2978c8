package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for RT requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_requests_total",
		Help: "Total RT requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rt_request_duration_seconds",
		Help:    "RT request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})

	transportFaultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rt_transport_faults_total",
		Help: "Requests that produced no HTTP response",
	})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_failures_total",
		Help: "Classified RT failures by kind",
	}, []string{"kind"})
)
