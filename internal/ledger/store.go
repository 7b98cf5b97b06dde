package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrTerminal is returned when a save would re-open or rewrite a
	// transaction that already reached a terminal status.
	ErrTerminal = errors.New("ledger: transaction already finalized")
	// ErrImmutable is returned when a save tries to change a field that is
	// fixed at creation (order amount/currency, transaction order/kind/amount).
	ErrImmutable = errors.New("ledger: immutable field changed")
)

// Filter narrows ListTransactions. Zero values match everything.
type Filter struct {
	Status        TxStatus
	Kind          Kind
	CreatedBefore time.Time
	CreatedAfter  time.Time
}

// Matches reports whether tx satisfies the filter.
func (f Filter) Matches(tx Transaction) bool {
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if f.Kind != "" && tx.Kind != f.Kind {
		return false
	}
	if !f.CreatedBefore.IsZero() && !tx.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if !f.CreatedAfter.IsZero() && !tx.CreatedAt.After(f.CreatedAfter) {
		return false
	}
	return true
}

// Store is the durable storage collaborator for orders and transactions.
// Save methods assign an ID when the record has none and return the stored
// copy. Records are never deleted.
type Store interface {
	SaveOrder(ctx context.Context, order Order) (Order, error)
	SaveTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	FindOrder(ctx context.Context, id string) (Order, error)
	// FindTransactionByProviderReference returns the oldest transaction
	// carrying ref, or ErrNotFound.
	FindTransactionByProviderReference(ctx context.Context, ref string) (Transaction, error)
	ListTransactionsByOrder(ctx context.Context, orderID string) ([]Transaction, error)
	ListTransactions(ctx context.Context, filter Filter) ([]Transaction, error)
}
