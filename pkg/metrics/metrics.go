// Package metrics exposes the gateway's Prometheus metrics.
// All metrics are defined in their respective packages (client, pagination,
// bulk, ratelimit, refdata) and registered via promauto on the default
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package's metrics land in.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer Handler serves.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - rt_requests_total{method, status} (Counter): RT requests by method and HTTP status
//   - rt_request_duration_seconds{method} (Histogram): Request duration by method
//   - rt_transport_faults_total (Counter): Requests that produced no HTTP response
//   - rt_failures_total{kind} (Counter): Classified failures by kind
//
// Pagination Metrics (pkg/pagination):
//   - rt_cursor_pages_total (Counter): Search pages fetched by cursors
//
// Bulk Metrics (pkg/bulk):
//   - rt_bulk_runs_total (Counter): Bulk runs started
//   - rt_bulk_items_total{status} (Counter): Items finished by status
//   - rt_bulk_in_flight (Gauge): Items currently being applied
//   - rt_bulk_retries_total (Counter): Rate-limited items attempted again
//   - rt_bulk_retry_exhausted_total (Counter): Items still rate limited after the last attempt
//   - rt_bulk_retry_backoff_seconds (Histogram): Wait before a retry
//
// Rate Limit Metrics (pkg/ratelimit):
//   - rt_rate_limit_cooldown_seconds (Gauge): Length of the last recorded cooldown
//   - rt_rate_limit_hits_total (Counter): 429 responses observed
//   - rt_rate_limit_waits_total (Counter): Items that waited for a cooldown
//
// Reference Data Metrics (pkg/refdata):
//   - rt_refdata_hits_total (Counter): Fresh entries served from Redis
//   - rt_refdata_misses_total (Counter): Lookups that went to RT
//   - rt_refdata_revalidations_total (Counter): Stale entries confirmed by a 304
//   - rt_refdata_errors_total{operation} (Counter): Redis errors by operation
//
// Catalog Metrics (pkg/catalog):
//   - rt_catalog_invocations_total{operation, outcome} (Counter): Invocations by outcome
//   - rt_catalog_invocation_duration_seconds{operation} (Histogram): Invocation duration
//
// Example Prometheus Queries:
//
//   # Failure Rate by Kind
//   sum by (kind) (rate(rt_failures_total[5m]))
//
//   # Reference Data Hit Rate
//   sum(rate(rt_refdata_hits_total[5m])) /
//   (sum(rate(rt_refdata_hits_total[5m])) + sum(rate(rt_refdata_misses_total[5m])))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(rt_request_duration_seconds_bucket[5m]))
//
//   # Bulk Failure Share
//   rate(rt_bulk_items_total{status="failed"}[5m]) / rate(rt_bulk_items_total[5m])
