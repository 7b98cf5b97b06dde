package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It backs tests and the "memory"
// ledger driver; contents are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]Order
	txs     map[string]Transaction
	txOrder []string          // transaction IDs in insertion order
	byRef   map[string]string // provider reference -> oldest transaction ID
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]Order),
		txs:    make(map[string]Transaction),
		byRef:  make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SaveOrder implements Store.
func (s *MemoryStore) SaveOrder(_ context.Context, order Order) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	existing, ok := s.orders[order.ID]
	if !ok {
		if order.CreatedAt.IsZero() {
			order.CreatedAt = now
		}
		order.UpdatedAt = now
		s.orders[order.ID] = order
		return order, nil
	}

	if !existing.Amount.Equal(order.Amount) || existing.Currency != order.Currency {
		return Order{}, fmt.Errorf("order %s: %w", order.ID, ErrImmutable)
	}
	existing.Status = order.Status
	existing.UpdatedAt = now
	s.orders[order.ID] = existing
	return existing, nil
}

// SaveTransaction implements Store.
func (s *MemoryStore) SaveTransaction(_ context.Context, tx Transaction) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[tx.OrderID]; !ok {
		return Transaction{}, fmt.Errorf("transaction order %q: %w", tx.OrderID, ErrNotFound)
	}

	now := s.now()
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	existing, ok := s.txs[tx.ID]
	if !ok {
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}
		tx.UpdatedAt = now
		s.txs[tx.ID] = tx
		s.txOrder = append(s.txOrder, tx.ID)
		s.indexReference(tx)
		return tx, nil
	}

	if existing.Status.Terminal() {
		return Transaction{}, fmt.Errorf("transaction %s: %w", tx.ID, ErrTerminal)
	}
	if existing.OrderID != tx.OrderID || existing.Kind != tx.Kind || !existing.Amount.Equal(tx.Amount) {
		return Transaction{}, fmt.Errorf("transaction %s: %w", tx.ID, ErrImmutable)
	}
	existing.Status = tx.Status
	existing.ProviderReference = tx.ProviderReference
	existing.RawOutcome = tx.RawOutcome
	existing.UpdatedAt = now
	s.txs[tx.ID] = existing
	s.indexReference(existing)
	return existing, nil
}

func (s *MemoryStore) indexReference(tx Transaction) {
	if tx.ProviderReference == "" {
		return
	}
	if _, taken := s.byRef[tx.ProviderReference]; !taken {
		s.byRef[tx.ProviderReference] = tx.ID
	}
}

// FindOrder implements Store.
func (s *MemoryStore) FindOrder(_ context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order %q: %w", id, ErrNotFound)
	}
	return order, nil
}

// FindTransactionByProviderReference implements Store.
func (s *MemoryStore) FindTransactionByProviderReference(_ context.Context, ref string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRef[ref]
	if !ok || ref == "" {
		return Transaction{}, fmt.Errorf("provider reference %q: %w", ref, ErrNotFound)
	}
	return s.txs[id], nil
}

// ListTransactionsByOrder implements Store.
func (s *MemoryStore) ListTransactionsByOrder(_ context.Context, orderID string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, id := range s.txOrder {
		if tx := s.txs[id]; tx.OrderID == orderID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// ListTransactions implements Store.
func (s *MemoryStore) ListTransactions(_ context.Context, filter Filter) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, id := range s.txOrder {
		if tx := s.txs[id]; filter.Matches(tx) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// Counts returns the number of stored orders and transactions.
func (s *MemoryStore) Counts() (orders, transactions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders), len(s.txs)
}
