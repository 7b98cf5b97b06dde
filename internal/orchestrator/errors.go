package orchestrator

import "errors"

// Errors returned by Orchestrator operations. They are wrapped with
// context, so compare with errors.Is.
var (
	// ErrValidation reports malformed input. Nothing was written.
	ErrValidation = errors.New("invalid payment request")
	// ErrNotFound reports an unknown provider reference. Nothing was written.
	ErrNotFound = errors.New("transaction not found")
	// ErrIllegalTransition reports an operation the prior transaction or
	// its order cannot accept. Nothing was written.
	ErrIllegalTransition = errors.New("operation not allowed in current state")
	// ErrPolicyDenied reports an operation rejected by a policy rule.
	// Nothing was written.
	ErrPolicyDenied = errors.New("operation denied by policy")
	// ErrPersistence reports a ledger failure. The gateway may already have
	// accepted the operation.
	ErrPersistence = errors.New("ledger persistence failed")
)
