package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/card-orchestrator/internal/ledger"
	"github.com/yourorg/card-orchestrator/internal/metrics"
)

func TestGenerateRetrospective(t *testing.T) {
	time1 := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	time2 := time.Date(2023, 1, 1, 10, 5, 0, 0, time.UTC)
	time3 := time.Date(2023, 1, 1, 9, 55, 0, 0, time.UTC)

	declined := `{"operation":"purchase","code":"2","error":"This transaction has been declined.","transient":false}`

	tests := []struct {
		name       string
		txs        []ledger.Transaction
		currencies map[string]string
		check      func(t *testing.T, r *RetrospectiveReport)
	}{
		{
			name: "Empty",
			check: func(t *testing.T, r *RetrospectiveReport) {
				assert.Zero(t, r.TotalTransactions)
				assert.Empty(t, r.AmountByCurrency)
				assert.True(t, r.DateFrom.IsZero())
				assert.Zero(t, r.ProcessingDuration)
			},
		},
		{
			name: "MixedOutcomes",
			txs: []ledger.Transaction{
				{OrderID: "o1", Kind: ledger.KindPurchase, Status: ledger.TxSuccess, Amount: decimal.RequireFromString("10.00"), CreatedAt: time1},
				{OrderID: "o2", Kind: ledger.KindAuthorize, Status: ledger.TxSuccess, Amount: decimal.RequireFromString("5.50"), CreatedAt: time2},
				{OrderID: "o3", Kind: ledger.KindPurchase, Status: ledger.TxFailed, Amount: decimal.RequireFromString("1.00"), RawOutcome: declined, CreatedAt: time3},
				{OrderID: "o2", Kind: ledger.KindCapture, Status: ledger.TxPending, Amount: decimal.RequireFromString("5.50"), CreatedAt: time2},
			},
			currencies: map[string]string{"o1": "USD", "o2": "EUR", "o3": "USD"},
			check: func(t *testing.T, r *RetrospectiveReport) {
				assert.Equal(t, 4, r.TotalTransactions)
				assert.Equal(t, 2, r.Successful)
				assert.Equal(t, 1, r.Failed)
				assert.Equal(t, 1, r.Pending)
				assert.Equal(t, 2, r.ByKind[ledger.KindPurchase])
				assert.Equal(t, "10", r.AmountByCurrency["USD"][ledger.KindPurchase].String())
				assert.Equal(t, "5.5", r.AmountByCurrency["EUR"][ledger.KindAuthorize].String())
				assert.NotContains(t, r.AmountByCurrency["EUR"], ledger.KindCapture, "pending amounts are not summed")
				assert.Equal(t, map[string]int{"2": 1}, r.ErrorBreakdown)
				assert.Equal(t, time3, r.DateFrom)
				assert.Equal(t, time2, r.DateTo)
				assert.Equal(t, 10*time.Minute, r.ProcessingDuration)
			},
		},
		{
			name: "UnknownCurrency",
			txs: []ledger.Transaction{
				{OrderID: "gone", Kind: ledger.KindPurchase, Status: ledger.TxSuccess, Amount: decimal.NewFromInt(3), CreatedAt: time1},
			},
			check: func(t *testing.T, r *RetrospectiveReport) {
				assert.Equal(t, "3", r.AmountByCurrency["unknown"][ledger.KindPurchase].String())
			},
		},
		{
			name: "RefundsKeptApartFromCharges",
			txs: []ledger.Transaction{
				{OrderID: "o1", Kind: ledger.KindPurchase, Status: ledger.TxSuccess, Amount: decimal.RequireFromString("30.00"), CreatedAt: time1},
				{OrderID: "o1", Kind: ledger.KindRefund, Status: ledger.TxSuccess, Amount: decimal.RequireFromString("10.00"), CreatedAt: time2},
				{OrderID: "o2", Kind: ledger.KindPurchase, Status: ledger.TxSuccess, Amount: decimal.RequireFromString("5.00"), CreatedAt: time2},
				{OrderID: "o2", Kind: ledger.KindVoid, Status: ledger.TxSuccess, Amount: decimal.RequireFromString("5.00"), CreatedAt: time2},
			},
			currencies: map[string]string{"o1": "USD", "o2": "USD"},
			check: func(t *testing.T, r *RetrospectiveReport) {
				usd := r.AmountByCurrency["USD"]
				assert.Equal(t, "35", usd[ledger.KindPurchase].String())
				assert.Equal(t, "10", usd[ledger.KindRefund].String())
				assert.Equal(t, "5", usd[ledger.KindVoid].String())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, GenerateRetrospective(tt.txs, tt.currencies))
		})
	}
}

func seed(t *testing.T, store *ledger.MemoryStore, currency string, tx ledger.Transaction) ledger.Transaction {
	t.Helper()
	ctx := context.Background()
	order, err := store.SaveOrder(ctx, ledger.Order{Amount: tx.Amount, Currency: currency, Status: ledger.OrderProcessing})
	require.NoError(t, err)
	tx.OrderID = order.ID
	saved, err := store.SaveTransaction(ctx, tx)
	require.NoError(t, err)
	return saved
}

func TestReporter_Generate(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store, "USD", ledger.Transaction{Kind: ledger.KindPurchase, Status: ledger.TxSuccess, Amount: decimal.NewFromInt(10)})
	seed(t, store, "GBP", ledger.Transaction{Kind: ledger.KindPurchase, Status: ledger.TxSuccess, Amount: decimal.NewFromInt(4)})

	log, _ := logtest.NewNullLogger()
	r, err := NewRetrospectiveReporter(store, log).Generate(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Successful)
	assert.Equal(t, "10", r.AmountByCurrency["USD"][ledger.KindPurchase].String())
	assert.Equal(t, "4", r.AmountByCurrency["GBP"][ledger.KindPurchase].String())
}

type brokenStore struct{ *ledger.MemoryStore }

func (brokenStore) ListTransactions(context.Context, ledger.Filter) ([]ledger.Transaction, error) {
	return nil, errors.New("connection reset")
}

func TestReporter_StoreErrors(t *testing.T) {
	rr := NewRetrospectiveReporter(brokenStore{ledger.NewMemoryStore()}, nil)
	_, err := rr.Generate(context.Background(), ledger.Filter{})
	assert.ErrorContains(t, err, "connection reset")
	_, err = rr.FindStalePending(context.Background(), time.Minute)
	assert.ErrorContains(t, err, "list pending transactions")
}

func TestReporter_FindStalePending(t *testing.T) {
	store := ledger.NewMemoryStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	old := seed(t, store, "USD", ledger.Transaction{Kind: ledger.KindCapture, Status: ledger.TxPending, Amount: decimal.NewFromInt(1), CreatedAt: base})
	seed(t, store, "USD", ledger.Transaction{Kind: ledger.KindCapture, Status: ledger.TxPending, Amount: decimal.NewFromInt(1), CreatedAt: base.Add(55 * time.Minute)})
	seed(t, store, "USD", ledger.Transaction{Kind: ledger.KindPurchase, Status: ledger.TxSuccess, Amount: decimal.NewFromInt(1), CreatedAt: base})

	log, hook := logtest.NewNullLogger()
	rr := NewRetrospectiveReporter(store, log)
	rr.now = func() time.Time { return base.Add(time.Hour) }

	report, err := rr.FindStalePending(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, report.Transactions, 1)
	assert.Equal(t, old.ID, report.Transactions[0].ID)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StalePendingTransactions))

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, old.ID, hook.LastEntry().Data["transaction_id"])
}
