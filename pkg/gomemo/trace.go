package gomemo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dan-solli/gomemo/pkg/trace"
)

// opTrace accumulates spans for one facade operation and exports the
// finished record. Spans can finish on concurrent task goroutines, so all
// record mutation happens under the mutex.
type opTrace struct {
	mu     sync.Mutex
	record trace.TraceRecord
	start  time.Time
}

// newOpTrace starts a trace for a named operation.
func newOpTrace(operation string) *opTrace {
	now := time.Now()
	return &opTrace{
		record: trace.TraceRecord{
			Timestamp:   now.UTC(),
			OperationID: uuid.NewString(),
			Operation:   operation,
			Spans:       make([]trace.SpanRecord, 0, 8),
		},
		start: now,
	}
}

// spanTimer measures one stage of an operation.
type spanTimer struct {
	ot    *opTrace
	name  string
	start time.Time
}

// startSpan begins timing a named stage.
func (t *opTrace) startSpan(name string) *spanTimer {
	return &spanTimer{ot: t, name: name, start: time.Now()}
}

// finish records the completed span. Counters must hold counts only, never
// memory or message text.
func (st *spanTimer) finish(err error, counters map[string]int64) {
	span := trace.SpanRecord{
		Name:       st.name,
		DurationMs: time.Since(st.start).Milliseconds(),
		OK:         err == nil,
		Counters:   counters,
	}
	if err != nil {
		span.ErrorType = ClassifyError(err)
	}
	st.ot.mu.Lock()
	st.ot.record.Spans = append(st.ot.record.Spans, span)
	st.ot.mu.Unlock()
}

// finish seals the record and hands it to the exporter. Export failures are
// logged and dropped: tracing observes operations, it never fails them.
func (t *opTrace) finish(ctx context.Context, exporter trace.Exporter, logger *logrus.Logger, opErr error, ids map[string]interface{}) {
	t.mu.Lock()
	t.record.DurationMs = time.Since(t.start).Milliseconds()
	if opErr != nil {
		t.record.Status = "error"
		t.record.ErrorType = ClassifyError(opErr)
	} else {
		t.record.Status = "success"
	}
	t.record.IDs = ids
	record := t.record
	t.mu.Unlock()

	if err := exporter.Export(ctx, &record); err != nil {
		logger.WithError(err).Warn("Failed to export operation trace")
	}
}
