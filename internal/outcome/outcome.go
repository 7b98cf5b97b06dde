// Package outcome converts normalized gateway outcomes into the values the
// ledger records on a Transaction.
package outcome

import (
	"encoding/json"

	"github.com/yourorg/card-orchestrator/internal/adapter"
	"github.com/yourorg/card-orchestrator/internal/ledger"
)

// CodeMissingReference marks a gateway success that carried no provider
// reference. The transaction is recorded as failed, since nothing could
// address it later, and needs manual reconciliation.
const CodeMissingReference = "MISSING_PROVIDER_REFERENCE"

// Result is the ledger-facing form of an Outcome.
type Result struct {
	Status            ledger.TxStatus
	ProviderReference string
	RawOutcome        string
}

// failure is the diagnostic payload recorded for failed outcomes.
type failure struct {
	Operation string          `json:"operation"`
	Code      string          `json:"code,omitempty"`
	Error     string          `json:"error"`
	Transient bool            `json:"transient,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
}

// Map converts o into a Result for a transaction of the given kind. It is a
// pure function with no per-operation branching: kind is only recorded in
// the diagnostic payload.
func Map(o adapter.Outcome, kind ledger.Kind) Result {
	if o.Succeeded() && o.ProviderReference == "" {
		raw := o.Raw
		o = adapter.Failed(CodeMissingReference, "gateway reported success without a provider reference", false)
		o.Raw = raw
	}
	if o.Succeeded() {
		return Result{
			Status:            ledger.TxSuccess,
			ProviderReference: o.ProviderReference,
			RawOutcome:        string(o.Raw),
		}
	}

	detail := o.ErrorDetail
	if detail == "" {
		detail = "gateway reported failure without detail"
	}
	raw, err := json.Marshal(failure{
		Operation: string(kind),
		Code:      o.Code,
		Error:     detail,
		Transient: o.Transient,
		Response:  validRaw(o.Raw),
	})
	if err != nil {
		raw, _ = json.Marshal(failure{Operation: string(kind), Code: o.Code, Error: detail})
	}
	return Result{Status: ledger.TxFailed, RawOutcome: string(raw)}
}

func validRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}

// FailureCode extracts the error code recorded by Map from a RawOutcome, or
// "" when there is none.
func FailureCode(rawOutcome string) string {
	var f failure
	if rawOutcome == "" || json.Unmarshal([]byte(rawOutcome), &f) != nil {
		return ""
	}
	return f.Code
}
