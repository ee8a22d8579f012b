// Package prometheus provides a Prometheus implementation of metrics.Collector.
// This package is optional and only imported when Prometheus metrics are needed.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sandrolain/rfccache/metrics"
)

// Collector implements metrics.Collector for Prometheus.
type Collector struct {
	cacheOps        *prometheus.CounterVec
	cacheOpDuration *prometheus.HistogramVec
	cacheEntries    *prometheus.GaugeVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	responseSize    *prometheus.CounterVec
	staleServed     *prometheus.CounterVec
}

// CollectorConfig provides configuration options for the Prometheus collector.
type CollectorConfig struct {
	// Registry is the Prometheus registry to use. If nil, uses prometheus.DefaultRegisterer
	Registry prometheus.Registerer

	// Namespace for metrics (default: "rfccache")
	Namespace string

	// Subsystem for metrics (optional)
	Subsystem string

	// ConstLabels are labels added to all metrics
	ConstLabels prometheus.Labels
}

// NewCollector creates a new Prometheus collector with default registry and configuration.
func NewCollector() *Collector {
	return NewCollectorWithConfig(CollectorConfig{})
}

// NewCollectorWithRegistry creates a new Prometheus collector with a custom registry.
func NewCollectorWithRegistry(reg prometheus.Registerer) *Collector {
	return NewCollectorWithConfig(CollectorConfig{Registry: reg})
}

// NewCollectorWithConfig creates a new Prometheus collector with custom configuration.
func NewCollectorWithConfig(config CollectorConfig) *Collector {
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	if config.Namespace == "" {
		config.Namespace = "rfccache"
	}

	factory := promauto.With(config.Registry)

	return &Collector{
		cacheOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "cache_operations_total",
				Help:        "Total number of storage backend operations",
				ConstLabels: config.ConstLabels,
			},
			[]string{"operation", "cache_backend", "result"},
		),
		cacheOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "cache_operation_duration_seconds",
				Help:        "Duration of storage backend operations in seconds",
				Buckets:     []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
				ConstLabels: config.ConstLabels,
			},
			[]string{"operation", "cache_backend"},
		),
		cacheEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "cache_entries_total",
				Help:        "Current number of entries in cache",
				ConstLabels: config.ConstLabels,
			},
			[]string{"cache_backend"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "requests_total",
				Help:        "Total number of proxied requests",
				ConstLabels: config.ConstLabels,
			},
			[]string{"method", "outcome", "status_code"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "request_duration_seconds",
				Help:        "Duration of proxied requests in seconds",
				Buckets:     []float64{.01, .05, .1, .5, 1, 2, 5, 10, 30},
				ConstLabels: config.ConstLabels,
			},
			[]string{"method", "outcome"},
		),
		responseSize: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "response_size_bytes_total",
				Help:        "Total size of served response bodies in bytes",
				ConstLabels: config.ConstLabels,
			},
			[]string{"outcome"},
		),
		staleServed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "stale_served_total",
				Help:        "Total number of stale responses served on origin error",
				ConstLabels: config.ConstLabels,
			},
			[]string{"reason"},
		),
	}
}

// RecordCacheOperation records a storage backend operation.
func (c *Collector) RecordCacheOperation(operation, backend, result string, duration time.Duration) {
	c.cacheOps.WithLabelValues(operation, backend, result).Inc()
	c.cacheOpDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// RecordCacheEntries records the current number of cache entries.
func (c *Collector) RecordCacheEntries(backend string, count int64) {
	c.cacheEntries.WithLabelValues(backend).Set(float64(count))
}

// RecordRequest records a proxied request.
func (c *Collector) RecordRequest(method, outcome string, statusCode int, duration time.Duration) {
	c.requests.WithLabelValues(method, outcome, strconv.Itoa(statusCode)).Inc()
	c.requestDuration.WithLabelValues(method, outcome).Observe(duration.Seconds())
}

// RecordResponseSize records a served response's body size.
func (c *Collector) RecordResponseSize(outcome string, sizeBytes int64) {
	c.responseSize.WithLabelValues(outcome).Add(float64(sizeBytes))
}

// RecordStaleServed records a stale response served on origin error.
func (c *Collector) RecordStaleServed(reason string) {
	c.staleServed.WithLabelValues(reason).Inc()
}

// Verify interface implementation at compile time
var _ metrics.Collector = (*Collector)(nil)
