//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/yourorg/card-orchestrator/internal/ledger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	log, _ := logtest.NewNullLogger()
	s := NewStore(log, pool)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migrations are re-runnable")
	return s
}

func TestStore_Integration(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	order, err := s.SaveOrder(ctx, ledger.Order{
		ExternalID: "ext-1",
		Amount:     decimal.RequireFromString("25.50"),
		Currency:   "USD",
		Status:     ledger.OrderProcessing,
	})
	require.NoError(t, err)
	require.NotEmpty(t, order.ID)

	t.Run("OrderRoundTrip", func(t *testing.T) {
		got, err := s.FindOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.True(t, got.Amount.Equal(order.Amount))
		assert.Equal(t, "ext-1", got.ExternalID)

		order.Status = ledger.OrderAuthorized
		_, err = s.SaveOrder(ctx, order)
		require.NoError(t, err)
		got, err = s.FindOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.OrderAuthorized, got.Status)

		changed := order
		changed.Amount = decimal.NewFromInt(1)
		_, err = s.SaveOrder(ctx, changed)
		assert.ErrorIs(t, err, ledger.ErrImmutable)

		_, err = s.FindOrder(ctx, "missing")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("TransactionLifecycle", func(t *testing.T) {
		tx, err := s.SaveTransaction(ctx, ledger.Transaction{
			OrderID: order.ID,
			Kind:    ledger.KindAuthorize,
			Amount:  order.Amount,
			Status:  ledger.TxPending,
		})
		require.NoError(t, err)

		tx.Status = ledger.TxSuccess
		tx.ProviderReference = "60001"
		tx.RawOutcome = `{"ok":true}`
		_, err = s.SaveTransaction(ctx, tx)
		require.NoError(t, err)

		found, err := s.FindTransactionByProviderReference(ctx, "60001")
		require.NoError(t, err)
		assert.Equal(t, tx.ID, found.ID)
		assert.Equal(t, ledger.TxSuccess, found.Status)

		tx.Status = ledger.TxFailed
		_, err = s.SaveTransaction(ctx, tx)
		assert.ErrorIs(t, err, ledger.ErrTerminal)

		_, err = s.FindTransactionByProviderReference(ctx, "nope")
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		_, err = s.SaveTransaction(ctx, ledger.Transaction{OrderID: "missing", Kind: ledger.KindVoid, Status: ledger.TxPending})
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("OldestReferenceWins", func(t *testing.T) {
		void, err := s.SaveTransaction(ctx, ledger.Transaction{
			OrderID: order.ID, Kind: ledger.KindVoid, Amount: order.Amount,
			Status: ledger.TxSuccess, ProviderReference: "60001",
		})
		require.NoError(t, err)
		found, err := s.FindTransactionByProviderReference(ctx, "60001")
		require.NoError(t, err)
		assert.NotEqual(t, void.ID, found.ID)
		assert.Equal(t, ledger.KindAuthorize, found.Kind)

		txs, err := s.ListTransactionsByOrder(ctx, order.ID)
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, ledger.KindAuthorize, txs[0].Kind)
	})

	t.Run("ListTransactionsFilter", func(t *testing.T) {
		_, err := s.SaveTransaction(ctx, ledger.Transaction{
			OrderID: order.ID, Kind: ledger.KindCapture, Amount: order.Amount,
			Status: ledger.TxPending, CreatedAt: time.Now().UTC().Add(-time.Hour),
		})
		require.NoError(t, err)

		stale, err := s.ListTransactions(ctx, ledger.Filter{
			Status:        ledger.TxPending,
			CreatedBefore: time.Now().UTC().Add(-30 * time.Minute),
		})
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, ledger.KindCapture, stale[0].Kind)
	})

	t.Run("ConcurrentStatusUpdates", func(t *testing.T) {
		tx, err := s.SaveTransaction(ctx, ledger.Transaction{
			OrderID: order.ID, Kind: ledger.KindRefund, Amount: decimal.NewFromInt(1), Status: ledger.TxPending,
		})
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			terminal int
		)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				update := tx
				update.Status = ledger.TxSuccess
				if _, err := s.SaveTransaction(ctx, update); err == nil {
					mu.Lock()
					terminal++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, terminal, "only one writer may finalize a transaction")
	})
}
