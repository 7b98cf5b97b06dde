package callctx

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceContext carries only cross-cutting concerns needed for observability.
type TraceContext struct {
	TraceID string            // Globally unique ID for logs and spans
	SpanID  string            // Current span identifier
	Baggage map[string]string // Optional key-value flags (e.g., correlation data)
}

// NewTraceContext creates a TraceContext for ctx. When ctx carries a valid
// OpenTelemetry span its IDs are reused so log lines join the trace;
// otherwise fresh IDs are generated.
func NewTraceContext(ctx context.Context) TraceContext {
	tc := TraceContext{Baggage: make(map[string]string)}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		tc.TraceID = sc.TraceID().String()
		tc.SpanID = sc.SpanID().String()
		return tc
	}
	tc.TraceID = uuid.NewString()
	tc.SpanID = uuid.NewString()
	return tc
}

// NewSpan generates a new SpanID for a child operation within the same trace.
func (tc *TraceContext) NewSpan() string {
	tc.SpanID = uuid.NewString()
	return tc.SpanID
}
