// Package postgres is the PostgreSQL implementation of ledger.Store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/card-orchestrator/internal/ledger"
)

//go:embed schema.sql
var schema string

// Store persists orders and transactions in PostgreSQL. Every save runs in
// its own database transaction with the target row locked.
type Store struct {
	log  logrus.FieldLogger
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ ledger.Store = (*Store)(nil)

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// NewStore returns a Store backed by pool.
func NewStore(log logrus.FieldLogger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates the ledger tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	s.log.Info("Ledger schema is up to date")
	return nil
}

// SaveOrder implements ledger.Store.
func (s *Store) SaveOrder(ctx context.Context, order ledger.Order) (ledger.Order, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := s.now()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ledger.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	existing, err := scanOrder(tx.QueryRow(ctx, selectOrder+` WHERE id = $1 FOR UPDATE`, order.ID))
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		if order.CreatedAt.IsZero() {
			order.CreatedAt = now
		}
		order.UpdatedAt = now
		_, err = tx.Exec(ctx, `INSERT INTO orders (id, external_id, amount, currency, status, created_at, updated_at)
			VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)`,
			order.ID, order.ExternalID, order.Amount.String(), order.Currency, string(order.Status), order.CreatedAt, order.UpdatedAt)
		if err != nil {
			return ledger.Order{}, fmt.Errorf("insert order %s: %w", order.ID, err)
		}
	case err != nil:
		return ledger.Order{}, fmt.Errorf("load order %s: %w", order.ID, err)
	default:
		if !existing.Amount.Equal(order.Amount) || existing.Currency != order.Currency {
			return ledger.Order{}, fmt.Errorf("order %s: %w", order.ID, ledger.ErrImmutable)
		}
		existing.Status = order.Status
		existing.UpdatedAt = now
		if _, err = tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
			existing.ID, string(existing.Status), existing.UpdatedAt); err != nil {
			return ledger.Order{}, fmt.Errorf("update order %s: %w", order.ID, err)
		}
		order = existing
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.Order{}, fmt.Errorf("commit order %s: %w", order.ID, err)
	}
	return order, nil
}

// SaveTransaction implements ledger.Store.
func (s *Store) SaveTransaction(ctx context.Context, t ledger.Transaction) (ledger.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := s.now()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, t.OrderID).Scan(&exists); err != nil {
		return ledger.Transaction{}, fmt.Errorf("check order %s: %w", t.OrderID, err)
	}
	if !exists {
		return ledger.Transaction{}, fmt.Errorf("transaction order %q: %w", t.OrderID, ledger.ErrNotFound)
	}

	existing, err := scanTransaction(tx.QueryRow(ctx, selectTransaction+` WHERE id = $1 FOR UPDATE`, t.ID))
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		_, err = tx.Exec(ctx, `INSERT INTO transactions
			(id, order_id, kind, provider_reference, amount, status, raw_outcome, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)`,
			t.ID, t.OrderID, string(t.Kind), t.ProviderReference, t.Amount.String(), string(t.Status), t.RawOutcome, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return ledger.Transaction{}, fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
	case err != nil:
		return ledger.Transaction{}, fmt.Errorf("load transaction %s: %w", t.ID, err)
	default:
		if existing.Status.Terminal() {
			return ledger.Transaction{}, fmt.Errorf("transaction %s: %w", t.ID, ledger.ErrTerminal)
		}
		if existing.OrderID != t.OrderID || existing.Kind != t.Kind || !existing.Amount.Equal(t.Amount) {
			return ledger.Transaction{}, fmt.Errorf("transaction %s: %w", t.ID, ledger.ErrImmutable)
		}
		existing.Status = t.Status
		existing.ProviderReference = t.ProviderReference
		existing.RawOutcome = t.RawOutcome
		existing.UpdatedAt = now
		if _, err = tx.Exec(ctx, `UPDATE transactions
			SET status = $2, provider_reference = $3, raw_outcome = $4, updated_at = $5 WHERE id = $1`,
			existing.ID, string(existing.Status), existing.ProviderReference, existing.RawOutcome, existing.UpdatedAt); err != nil {
			return ledger.Transaction{}, fmt.Errorf("update transaction %s: %w", t.ID, err)
		}
		t = existing
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.Transaction{}, fmt.Errorf("commit transaction %s: %w", t.ID, err)
	}
	return t, nil
}

// FindOrder implements ledger.Store.
func (s *Store) FindOrder(ctx context.Context, id string) (ledger.Order, error) {
	order, err := scanOrder(s.pool.QueryRow(ctx, selectOrder+` WHERE id = $1`, id))
	if err != nil {
		return ledger.Order{}, fmt.Errorf("order %q: %w", id, err)
	}
	return order, nil
}

// FindTransactionByProviderReference implements ledger.Store.
func (s *Store) FindTransactionByProviderReference(ctx context.Context, ref string) (ledger.Transaction, error) {
	if ref == "" {
		return ledger.Transaction{}, fmt.Errorf("provider reference %q: %w", ref, ledger.ErrNotFound)
	}
	t, err := scanTransaction(s.pool.QueryRow(ctx,
		selectTransaction+` WHERE provider_reference = $1 ORDER BY seq LIMIT 1`, ref))
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("provider reference %q: %w", ref, err)
	}
	return t, nil
}

// ListTransactionsByOrder implements ledger.Store.
func (s *Store) ListTransactionsByOrder(ctx context.Context, orderID string) ([]ledger.Transaction, error) {
	return s.listTransactions(ctx, selectTransaction+` WHERE order_id = $1 ORDER BY seq`, orderID)
}

// ListTransactions implements ledger.Store.
func (s *Store) ListTransactions(ctx context.Context, filter ledger.Filter) ([]ledger.Transaction, error) {
	where, args := filterClause(filter)
	return s.listTransactions(ctx, selectTransaction+where+` ORDER BY seq`, args...)
}

func (s *Store) listTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read transactions: %w", err)
	}
	return out, nil
}

// filterClause renders filter as a WHERE clause with positional arguments.
func filterClause(f ledger.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if !f.CreatedBefore.IsZero() {
		add("created_at < $%d", f.CreatedBefore)
	}
	if !f.CreatedAfter.IsZero() {
		add("created_at > $%d", f.CreatedAfter)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

const selectOrder = `SELECT id, external_id, amount::text, currency, status, created_at, updated_at FROM orders`

const selectTransaction = `SELECT id, order_id, kind, provider_reference, amount::text, status, raw_outcome,
	created_at, updated_at FROM transactions`

func scanOrder(row pgx.Row) (ledger.Order, error) {
	var (
		o      ledger.Order
		amount string
		status string
	)
	err := row.Scan(&o.ID, &o.ExternalID, &amount, &o.Currency, &status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Order{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Order{}, fmt.Errorf("scan order: %w", err)
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return ledger.Order{}, fmt.Errorf("parse order amount %q: %w", amount, err)
	}
	o.Status = ledger.OrderStatus(status)
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return o, nil
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		t            ledger.Transaction
		amount       string
		kind, status string
	)
	err := row.Scan(&t.ID, &t.OrderID, &kind, &t.ProviderReference, &amount, &status, &t.RawOutcome, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return ledger.Transaction{}, fmt.Errorf("parse transaction amount %q: %w", amount, err)
	}
	t.Kind = ledger.Kind(kind)
	t.Status = ledger.TxStatus(status)
	t.CreatedAt, t.UpdatedAt = t.CreatedAt.UTC(), t.UpdatedAt.UTC()
	return t, nil
}
