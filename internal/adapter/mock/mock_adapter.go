package mock

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/card-orchestrator/internal/adapter"
	"github.com/yourorg/card-orchestrator/internal/callctx"
)

// MockAdapter is a mock implementation of the Gateway interface used by
// tests and the "mock" provider setting.
type MockAdapter struct {
	name       string
	SubmitFunc func(ctx context.Context, cc callctx.CallContext, in adapter.Instruction) adapter.Outcome

	mu    sync.Mutex
	calls []adapter.Instruction
}

// NewMockAdapter creates a new MockAdapter.
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{name: name}
}

// Submit implements the Gateway interface.
// It calls SubmitFunc if defined, otherwise returns a successful outcome with
// a generated provider reference.
func (m *MockAdapter) Submit(ctx context.Context, cc callctx.CallContext, in adapter.Instruction) adapter.Outcome {
	m.mu.Lock()
	m.calls = append(m.calls, in)
	m.mu.Unlock()

	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, cc, in)
	}

	ref := uuid.NewString()
	raw, _ := json.Marshal(map[string]string{
		"mock_processed": "true",
		"operation":      string(in.Operation),
		"transId":        ref,
	})
	return adapter.Outcome{
		Status:            adapter.StatusSuccess,
		ProviderReference: ref,
		Raw:               raw,
		Latency:           time.Since(cc.StartTime),
	}
}

// Name implements the Gateway interface.
func (m *MockAdapter) Name() string {
	return m.name
}

// Calls returns the instructions received so far.
func (m *MockAdapter) Calls() []adapter.Instruction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.Instruction, len(m.calls))
	copy(out, m.calls)
	return out
}

// Respond returns a SubmitFunc that always answers with outcome.
func Respond(outcome adapter.Outcome) func(context.Context, callctx.CallContext, adapter.Instruction) adapter.Outcome {
	return func(context.Context, callctx.CallContext, adapter.Instruction) adapter.Outcome {
		return outcome
	}
}
