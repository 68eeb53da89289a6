package gomemo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/dan-solli/gomemo/pkg/trace"
)

// captureExporter records exported traces in memory. Shared by the facade
// tests to assert on emitted records.
type captureExporter struct {
	mu      sync.Mutex
	records []trace.TraceRecord
	err     error
}

func (c *captureExporter) Export(ctx context.Context, record *trace.TraceRecord) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, *record)
	return nil
}

func (c *captureExporter) Close() error { return nil }

func (c *captureExporter) exported() []trace.TraceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]trace.TraceRecord(nil), c.records...)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNewOpTrace(t *testing.T) {
	ot := newOpTrace("add")

	assert.Equal(t, "add", ot.record.Operation)
	assert.NotEmpty(t, ot.record.OperationID)
	assert.NotNil(t, ot.record.Spans)
	assert.Equal(t, 0, len(ot.record.Spans))
	assert.False(t, ot.record.Timestamp.IsZero())
}

func TestSpanTimerRecordsDuration(t *testing.T) {
	ot := newOpTrace("add")
	span := ot.startSpan("extract")

	time.Sleep(10 * time.Millisecond)
	span.finish(nil, map[string]int64{"factCount": 3})

	assert.Equal(t, 1, len(ot.record.Spans))
	assert.Equal(t, "extract", ot.record.Spans[0].Name)
	assert.True(t, ot.record.Spans[0].OK)
	assert.GreaterOrEqual(t, ot.record.Spans[0].DurationMs, int64(10))
	assert.Equal(t, int64(3), ot.record.Spans[0].Counters["factCount"])
	assert.Empty(t, ot.record.Spans[0].ErrorType)
}

func TestSpanTimerClassifiesError(t *testing.T) {
	ot := newOpTrace("search")
	span := ot.startSpan("retrieve")

	span.finish(&UpstreamCallError{Upstream: "vector_store", Err: fmt.Errorf("dial tcp: connection refused")}, nil)

	assert.Equal(t, 1, len(ot.record.Spans))
	assert.False(t, ot.record.Spans[0].OK)
	assert.Equal(t, ErrTypeNetwork, ot.record.Spans[0].ErrorType)
}

func TestOpTraceFinishSuccess(t *testing.T) {
	exporter := &captureExporter{}
	ot := newOpTrace("add")
	ot.startSpan("extract").finish(nil, nil)

	ot.finish(context.Background(), exporter, quietLogger(), nil, map[string]interface{}{"resultCount": 2})

	records := exporter.exported()
	assert.Equal(t, 1, len(records))
	assert.Equal(t, "add", records[0].Operation)
	assert.Equal(t, "success", records[0].Status)
	assert.Empty(t, records[0].ErrorType)
	assert.Equal(t, 2, records[0].IDs["resultCount"])
	assert.Equal(t, 1, len(records[0].Spans))
}

func TestOpTraceFinishError(t *testing.T) {
	exporter := &captureExporter{}
	ot := newOpTrace("search")

	ot.finish(context.Background(), exporter, quietLogger(), &ValidationError{Msg: "query cannot be empty"}, nil)

	records := exporter.exported()
	assert.Equal(t, 1, len(records))
	assert.Equal(t, "error", records[0].Status)
	assert.Equal(t, ErrTypeValidation, records[0].ErrorType)
}

func TestOpTraceConcurrentSpans(t *testing.T) {
	ot := newOpTrace("add")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ot.startSpan("graph").finish(nil, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, len(ot.record.Spans))
}

func TestOpTraceExportFailureIsSwallowed(t *testing.T) {
	exporter := &captureExporter{err: errors.New("disk full")}
	ot := newOpTrace("add")

	// Must not panic or propagate; tracing never fails an operation.
	ot.finish(context.Background(), exporter, quietLogger(), nil, nil)

	assert.Equal(t, 0, len(exporter.exported()))
}
