// Package ledger holds the durable record of payment orders and the
// transactions attempted against them, plus the Store contract the
// orchestrator persists them through.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle status of an Order. It is a projection of the
// order's transaction history.
type OrderStatus string

const (
	OrderProcessing OrderStatus = "processing"
	OrderAuthorized OrderStatus = "authorized"
	OrderCaptured   OrderStatus = "captured"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
	OrderFailed     OrderStatus = "failed"
)

// Kind is the gateway operation a Transaction records.
type Kind string

const (
	KindAuthorize Kind = "authorize"
	KindCapture   Kind = "capture"
	KindPurchase  Kind = "purchase"
	KindRefund    Kind = "refund"
	KindVoid      Kind = "void"
)

// TxStatus is the status of a single Transaction.
type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
)

// Terminal reports whether s is a final status.
func (s TxStatus) Terminal() bool {
	return s == TxSuccess || s == TxFailed
}

// Order is a requested payment of an amount in a currency.
// Amount and Currency never change after the order is first saved.
type Order struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"external_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Transaction is one attempted gateway operation and its outcome.
type Transaction struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	Kind              Kind            `json:"kind"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Status            TxStatus        `json:"status"`
	RawOutcome        string          `json:"raw_outcome,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
