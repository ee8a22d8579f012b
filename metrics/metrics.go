// Package metrics defines a backend-agnostic interface for collecting
// cache and proxy metrics. Implementations (Prometheus, OpenTelemetry,
// Datadog, ...) live in their own subpackages so the core module stays
// free of metrics-vendor dependencies.
package metrics

import "time"

// Collector defines the interface for metrics collection. Implementations
// of this interface can collect metrics for various monitoring systems
// without requiring changes to the cache core.
type Collector interface {
	// RecordCacheOperation records a storage.Backend operation
	// Parameters:
	//   - operation: "create_entry", "get_entries", "update_entry", "remove_entry", "cleanup"
	//   - backend: cache backend name (e.g., "memstore", "pgstore", "redisstore")
	//   - result: operation result (e.g., "hit", "miss", "success", "error")
	//   - duration: operation duration
	RecordCacheOperation(operation, backend, result string, duration time.Duration)

	// RecordCacheEntries records the current number of entries in cache
	// Parameters:
	//   - backend: cache backend name
	//   - count: number of entries
	RecordCacheEntries(backend string, count int64)

	// RecordRequest records a proxied request's outcome
	// Parameters:
	//   - method: HTTP method (GET, HEAD, etc.)
	//   - outcome: "fresh", "revalidated", "stale", "miss", or "bypass"
	//   - statusCode: HTTP status code served to the caller
	//   - duration: request duration
	RecordRequest(method, outcome string, statusCode int, duration time.Duration)

	// RecordResponseSize records the size of a served response body
	// Parameters:
	//   - outcome: same vocabulary as RecordRequest's outcome
	//   - sizeBytes: response size in bytes
	RecordResponseSize(outcome string, sizeBytes int64)

	// RecordStaleServed records when a stale response is served on error
	// (stale-if-error or a failed background revalidation)
	// Parameters:
	//   - reason: kind of origin failure (e.g., "network", "server_error", "timeout")
	RecordStaleServed(reason string)
}

// NoOpCollector implements Collector with no-op operations. This is used as
// the default collector when metrics are not enabled, ensuring zero
// overhead for users who don't need metrics.
type NoOpCollector struct{}

// RecordCacheOperation does nothing (no-op implementation)
func (n *NoOpCollector) RecordCacheOperation(operation, backend, result string, duration time.Duration) {
}

// RecordCacheEntries does nothing (no-op implementation)
func (n *NoOpCollector) RecordCacheEntries(backend string, count int64) {}

// RecordRequest does nothing (no-op implementation)
func (n *NoOpCollector) RecordRequest(method, outcome string, statusCode int, duration time.Duration) {
}

// RecordResponseSize does nothing (no-op implementation)
func (n *NoOpCollector) RecordResponseSize(outcome string, sizeBytes int64) {}

// RecordStaleServed does nothing (no-op implementation)
func (n *NoOpCollector) RecordStaleServed(reason string) {}

// DefaultCollector is the default no-op collector used when metrics are not enabled
var DefaultCollector Collector = &NoOpCollector{}

// Verify that NoOpCollector implements Collector interface
var _ Collector = (*NoOpCollector)(nil)
