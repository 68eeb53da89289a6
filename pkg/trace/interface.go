package trace

import (
	"context"
	"time"
)

// Exporter receives finished operation traces. Implementations must be
// safe for concurrent use; Export may be called from several operation
// goroutines at once.
type Exporter interface {
	// Export writes one finished record to the destination.
	Export(ctx context.Context, record *TraceRecord) error

	// Close flushes buffered records and releases the destination.
	Close() error
}

// TraceRecord is the sanitized trace of one facade operation. It carries
// timings, identifiers and counters only: message text, memory content,
// queries and credentials never enter a record.
type TraceRecord struct {
	// Timestamp is the operation start time.
	Timestamp time.Time `json:"timestamp"`

	// OperationID correlates the record with log lines for the same call.
	OperationID string `json:"operationId"`

	// Operation names the facade call: add, get, get_all, search,
	// update, delete, delete_all, history or reset.
	Operation string `json:"operation"`

	// DurationMs is the wall time of the whole operation.
	DurationMs int64 `json:"durationMs"`

	// Status is "success" or "error".
	Status string `json:"status"`

	// Spans holds per-stage timings in completion order.
	Spans []SpanRecord `json:"spans"`

	// ErrorType is the classifier label when Status is "error".
	ErrorType string `json:"errorType,omitempty"`

	// IDs carries operation identifiers such as memory ids, never content.
	IDs map[string]interface{} `json:"ids,omitempty"`
}

// SpanRecord times one stage inside an operation: context, extract,
// reconcile, apply, retrieve, list, delete or graph. Counters hold
// stage counts such as factCount or eventCount.
type SpanRecord struct {
	Name       string           `json:"name"`
	DurationMs int64            `json:"durationMs"`
	OK         bool             `json:"ok"`
	ErrorType  string           `json:"errorType,omitempty"`
	Counters   map[string]int64 `json:"counters,omitempty"`
}
