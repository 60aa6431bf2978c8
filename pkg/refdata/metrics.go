package refdata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rt_refdata_hits_total",
		Help: "Fresh reference data served from Redis",
	})

	missesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rt_refdata_misses_total",
		Help: "Reference data lookups that went to RT",
	})

	revalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rt_refdata_revalidations_total",
		Help: "Stale reference data confirmed unchanged by RT",
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rt_refdata_errors_total",
		Help: "Reference data store errors by operation",
	}, []string{"operation"}) // get, set, delete
)
