// Package callctx builds the call-scoped context handed to gateway adapters:
// trace identifiers plus a copy of the merchant's credentials and
// environment. Adapters read credentials from here instead of shared state.
package callctx

import (
	"time"
)

// CallContext is derived by the orchestrator for each gateway call.
type CallContext struct {
	TraceID     string      // Taken directly from TraceContext
	SpanID      string      // Span ID for this gateway call
	StartTime   time.Time   // When this call's processing began
	Operation   string      // Ledger kind of the driving transaction
	MerchantID  string      // Merchant the call is made on behalf of
	Environment Environment // Provider endpoint set
	Credentials Credentials // Provider credentials for this call only
}

// Derive creates a CallContext for one gateway call from the trace and the
// immutable merchant configuration.
func Derive(tc TraceContext, m Merchant, operation string) CallContext {
	return CallContext{
		TraceID:     tc.TraceID,
		SpanID:      tc.NewSpan(),
		StartTime:   time.Now(),
		Operation:   operation,
		MerchantID:  m.ID,
		Environment: m.Environment,
		Credentials: m.Credentials,
	}
}
