package metrics

import "context"

// Collector is the interface for metrics collection. The Prometheus-backed
// collector records real series; the no-op collector is the default when
// the caller does not wire one.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordStage(ctx context.Context, operation string, stage string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	SetStorageCount(ctx context.Context, storageType string, count int64)
}
