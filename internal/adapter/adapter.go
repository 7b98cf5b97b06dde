// Package adapter defines the contract between the orchestrator and a card
// payment provider, and contains implementations for specific providers.
// Adapters handle all provider-specific concerns (serialization, endpoint
// selection, error mapping) and normalize the provider's heterogeneous
// responses and failures into a single Outcome value.
package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/card-orchestrator/internal/callctx"
)

// Operation is the provider operation an Instruction asks for.
type Operation string

const (
	OpPurchase  Operation = "purchase"  // authorize and capture in one call
	OpAuthorize Operation = "authorize" // authorize only
	OpCapture   Operation = "capture"   // capture a prior authorization
	OpVoid      Operation = "void"      // cancel a prior, unsettled transaction
	OpRefund    Operation = "refund"    // return funds of a prior capture
)

// Card is the payment card presented for purchase and authorize. It lives
// only for the duration of a call and is never persisted.
type Card struct {
	Number   string
	ExpMonth int
	ExpYear  int
	CVV      string
}

// Last4 returns the last four digits of the card number.
func (c Card) Last4() string {
	if len(c.Number) <= 4 {
		return c.Number
	}
	return c.Number[len(c.Number)-4:]
}

// Instruction is an abstract payment instruction.
type Instruction struct {
	Operation      Operation
	Amount         decimal.Decimal
	Currency       string
	Card           *Card  // purchase and authorize only
	PriorReference string // capture, void and refund only
	Last4          string // refund re-presentment token
}

// OutcomeStatus tags an Outcome.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusFailed  OutcomeStatus = "failed"
)

// Outcome is the normalized result of a gateway call.
type Outcome struct {
	Status            OutcomeStatus
	ProviderReference string          // set on success
	Raw               json.RawMessage // provider payload, for diagnostics
	ErrorDetail       string          // set on failure
	Code              string          // provider or adapter error code, if any
	Transient         bool            // failure caused by transport/availability, not a decline
	Latency           time.Duration
}

// Succeeded reports whether the gateway accepted the operation.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// Failed builds a failed Outcome.
func Failed(code, detail string, transient bool) Outcome {
	return Outcome{Status: StatusFailed, Code: code, ErrorDetail: detail, Transient: transient}
}

// Gateway is implemented by each payment provider adapter.
// Submit never returns an error and never panics on provider failure:
// every failure is reported as an Outcome with StatusFailed.
type Gateway interface {
	Submit(ctx context.Context, cc callctx.CallContext, in Instruction) Outcome

	// Name returns the name of the provider (e.g., "authorizenet").
	Name() string
}
