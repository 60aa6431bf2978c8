// Package refdata caches slow-changing RT reference data in Redis.
//
// Queues, custom fields, the current user and server information are read
// on almost every tool call but change rarely. The Loader fetches them
// through the gateway and, when a Manager is configured, keeps a copy in
// Redis:
//
//   - An entry is fresh until its Expires time and served without a request.
//   - A stale entry stays in Redis for a grace period. If it carries an ETag
//     the Loader revalidates it with If-None-Match; a 304 only extends it.
//   - If RT is unreachable while an entry is stale, the stale copy is served
//     and the failure is logged.
//
// Without Redis the Loader always fetches.
//
// # Basic Usage
//
//	manager := refdata.NewManager(redisClient)
//	loader := refdata.NewLoader(gw, refdata.WithManager(manager))
//
//	queues, err := loader.Queues(ctx)
//
// # Keys
//
// Keys are deterministic: "rt:ref:<name>" followed by the sorted parameters,
// e.g. "rt:ref:queues:per_page=100".
//
// # Metrics
//
//   - rt_refdata_hits_total - fresh entries served from Redis
//   - rt_refdata_misses_total - lookups that had to go to RT
//   - rt_refdata_revalidations_total - stale entries confirmed by a 304
//   - rt_refdata_errors_total{operation} - Redis failures by operation
package refdata
