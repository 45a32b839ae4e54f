// Package metrics implements Prometheus collection for device I/O. A nil
// *Collector is valid and records nothing, so callers can carry an optional
// collector without guarding every call site.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devio"

// Collector tracks interface operation counts, latencies, and byte volumes.
type Collector struct {
	mu       sync.RWMutex
	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesCounter      *prometheus.CounterVec
	deviceEvents      *prometheus.CounterVec
	activeInterfaces  prometheus.Gauge

	// Internal tracking, independent of the Prometheus registry.
	operations map[string]*OperationStats
	since      time.Time
}

// OperationStats tracks per-operation aggregates for diagnostics.
type OperationStats struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalBytes    int64         `json:"total_bytes"`
	TotalDuration time.Duration `json:"total_duration"`
	LastOperation time.Time     `json:"last_operation"`
}

// NewCollector creates a collector backed by a private registry.
func NewCollector() *Collector {
	c, _ := NewCollectorOn(prometheus.NewRegistry())
	return c
}

// NewCollectorOn creates a collector that registers its metrics on the given
// registry. Registration fails if equivalent metrics already exist there.
func NewCollectorOn(registry *prometheus.Registry) (*Collector, error) {
	c := &Collector{
		registry:   registry,
		operations: make(map[string]*OperationStats),
		since:      time.Now(),
	}
	c.initMetrics()

	collectors := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.bytesCounter,
		c.deviceEvents,
		c.activeInterfaces,
	}
	for _, m := range collectors {
		if err := registry.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of interface operations",
		},
		[]string{"interface", "operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of interface operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"interface", "operation"},
	)

	c.bytesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "io_bytes_total",
			Help:      "Bytes moved through interfaces",
		},
		[]string{"interface", "direction"},
	)

	c.deviceEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_events_total",
			Help:      "Device lifecycle events",
		},
		[]string{"event"},
	)

	c.activeInterfaces = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_interfaces",
			Help:      "Number of initialized interfaces",
		},
	)
}

// RecordOperation records one interface operation. The direction for byte
// accounting follows the operation name: reads count as "read", everything
// else as "write".
func (c *Collector) RecordOperation(intf, operation string, duration time.Duration, bytes int, err error) {
	if c == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	c.operationCounter.With(prometheus.Labels{
		"interface": intf,
		"operation": operation,
		"status":    status,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"interface": intf,
		"operation": operation,
	}).Observe(duration.Seconds())
	if bytes > 0 {
		direction := "write"
		if operation == "read" {
			direction = "read"
		}
		c.bytesCounter.With(prometheus.Labels{
			"interface": intf,
			"direction": direction,
		}).Add(float64(bytes))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := intf + "/" + operation
	stats, ok := c.operations[key]
	if !ok {
		stats = &OperationStats{}
		c.operations[key] = stats
	}
	stats.Count++
	stats.TotalBytes += int64(bytes)
	stats.TotalDuration += duration
	stats.LastOperation = time.Now()
	if err != nil {
		stats.Errors++
	}
}

// RecordDeviceEvent records a device lifecycle event such as "init" or "close".
func (c *Collector) RecordDeviceEvent(event string) {
	if c == nil {
		return
	}
	c.deviceEvents.With(prometheus.Labels{"event": event}).Inc()
}

// SetActiveInterfaces updates the initialized interface gauge.
func (c *Collector) SetActiveInterfaces(n int) {
	if c == nil {
		return
	}
	c.activeInterfaces.Set(float64(n))
}

// Handler serves the collector's registry in Prometheus exposition format.
// Returns nil on a nil collector.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return nil
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Snapshot returns a copy of the per-operation aggregates keyed by
// "interface/operation".
func (c *Collector) Snapshot() map[string]OperationStats {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]OperationStats, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// Uptime reports how long the collector has been recording.
func (c *Collector) Uptime() time.Duration {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.since)
}
