// Package events publishes a notification for every finalized payment
// transaction. Publishing is best effort: it never changes the outcome of
// the operation that produced the event.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TypeTransactionFinalized is the type of the event emitted once a
// transaction reaches a terminal status.
const TypeTransactionFinalized = "transaction.finalized"

// TransactionFinalized describes a finalized transaction and the order
// status it left behind.
type TransactionFinalized struct {
	EventID           string          `json:"event_id"`
	Type              string          `json:"type"`
	OccurredAt        time.Time       `json:"occurred_at"`
	TraceID           string          `json:"trace_id,omitempty"`
	OrderID           string          `json:"order_id"`
	TransactionID     string          `json:"transaction_id"`
	Kind              string          `json:"kind"`
	Status            string          `json:"status"`
	OrderStatus       string          `json:"order_status"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	ProviderReference string          `json:"provider_reference,omitempty"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event TransactionFinalized) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, TransactionFinalized) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }
