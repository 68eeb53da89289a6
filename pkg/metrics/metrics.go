package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// durationBuckets spans quick store lookups through slow LLM round trips.
var durationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}

// MetricsCollector records operation metrics into its own Prometheus
// registry, so two Memory instances never collide on series names.
type MetricsCollector struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	storageCount      *prometheus.GaugeVec
}

// NewCollector builds a Prometheus-backed collector with the gomemo_*
// series registered.
func NewCollector() *MetricsCollector {
	c := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gomemo_operations_total",
			Help: "Memory operations by type and status",
		}, []string{"operation", "status"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gomemo_operation_duration_seconds",
			Help:    "Memory operation latency by type and stage",
			Buckets: durationBuckets,
		}, []string{"operation", "stage"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gomemo_errors_total",
			Help: "Errors by operation and classified type",
		}, []string{"operation", "error_type"}),
		storageCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gomemo_storage_count",
			Help: "Stored items by kind",
		}, []string{"type"}),
	}
	c.registry.MustRegister(c.operationsTotal, c.operationDuration, c.errorsTotal, c.storageCount)
	return c
}

// RecordOperation counts a finished operation and observes its total
// duration under the reserved "total" stage.
func (m *MetricsCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation, "total").Observe(float64(durationMs) / 1000.0)
}

// RecordStage observes the duration of one stage within an operation.
func (m *MetricsCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
	m.operationDuration.WithLabelValues(operation, stage).Observe(float64(durationMs) / 1000.0)
}

// RecordError counts one classified error.
func (m *MetricsCollector) RecordError(ctx context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetStorageCount publishes the current number of stored items of a kind.
func (m *MetricsCollector) SetStorageCount(ctx context.Context, storageType string, count int64) {
	m.storageCount.WithLabelValues(storageType).Set(float64(count))
}

// Registry exposes the private registry for promhttp handlers.
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}
