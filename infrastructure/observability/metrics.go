// Package observability exposes the service's Prometheus metrics. The
// collector is constructed once at startup and injected; there is no
// package-level registry.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the collaboration service emits.
type Collector struct {
	registry *prometheus.Registry

	// WebSocket / room metrics
	ActiveConnections prometheus.Gauge
	MessagesSent      prometheus.Counter
	MessagesFailed    prometheus.Counter
	RoomJoins         prometheus.Counter
	RoomLeaves        prometheus.Counter
	ConflictsDetected prometheus.Counter

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheErrors prometheus.Counter

	// Durability bridge metrics
	FlushSuccess  prometheus.Counter
	FlushFailures prometheus.Counter
	FlushedEvents prometheus.Counter
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_active_connections",
			Help:      "Currently open WebSocket connections",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_sent_total",
			Help:      "Messages fanned out to clients",
		}),
		MessagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_failed_total",
			Help:      "Messages dropped because a client send buffer was full",
		}),
		RoomJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_joins_total",
			Help:      "Successful room joins",
		}),
		RoomLeaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_leaves_total",
			Help:      "Room leaves including disconnects",
		}),
		ConflictsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_conflicts_total",
			Help:      "Concurrent bulk replacements resolved last-received-wins",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Room snapshot cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Room snapshot cache misses",
		}),
		CacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Cache operations that failed or were rejected by the breaker",
		}),
		FlushSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_success_total",
			Help:      "Successful durable snapshot flushes",
		}),
		FlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Durable flushes that failed and were left for retry",
		}),
		FlushedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_events_total",
			Help:      "Pending change events drained by durable flushes",
		}),
	}

	registry.MustRegister(
		c.ActiveConnections,
		c.MessagesSent,
		c.MessagesFailed,
		c.RoomJoins,
		c.RoomLeaves,
		c.ConflictsDetected,
		c.CacheHits,
		c.CacheMisses,
		c.CacheErrors,
		c.FlushSuccess,
		c.FlushFailures,
		c.FlushedEvents,
	)

	return c
}

// Handler returns the /metrics endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
