package metrics

import "context"

// NoopCollector drops every measurement. It is the default until a real
// collector is wired in.
type NoopCollector struct{}

// NewNoopCollector returns the discarding collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (*NoopCollector) RecordOperation(context.Context, string, string, int64) {}

func (*NoopCollector) RecordStage(context.Context, string, string, int64) {}

func (*NoopCollector) RecordError(context.Context, string, string) {}

func (*NoopCollector) SetStorageCount(context.Context, string, int64) {}
