package orchestrator_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/card-orchestrator/internal/adapter"
	"github.com/yourorg/card-orchestrator/internal/adapter/authorizenet"
	"github.com/yourorg/card-orchestrator/internal/callctx"
	"github.com/yourorg/card-orchestrator/internal/ledger"
	"github.com/yourorg/card-orchestrator/internal/orchestrator"
	"github.com/yourorg/card-orchestrator/internal/processor"
	"github.com/yourorg/card-orchestrator/internal/processor/circuitbreaker"
)

// fakeAuthorizeNet answers createTransactionRequest calls, numbering
// transaction IDs and recording the transaction types it saw.
type fakeAuthorizeNet struct {
	mu    sync.Mutex
	next  int64
	types []string
	fail  map[string]bool
	// echoCapture answers priorAuthCaptureTransaction with the
	// authorization's own transId, as the live API does.
	echoCapture bool
}

func (f *fakeAuthorizeNet) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.types...)
}

func (f *fakeAuthorizeNet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var req struct {
		CreateTransactionRequest struct {
			TransactionRequest struct {
				TransactionType string `json:"transactionType"`
				RefTransID      string `json:"refTransId"`
			} `json:"transactionRequest"`
		} `json:"createTransactionRequest"`
	}
	_ = json.Unmarshal(raw, &req)
	txType := req.CreateTransactionRequest.TransactionRequest.TransactionType

	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, txType)

	if f.fail[txType] {
		_, _ = w.Write([]byte(`{"transactionResponse":{"responseCode":"2","errors":[{"errorCode":"2","errorText":"This transaction has been declined."}]},"messages":{"resultCode":"Error","message":[{"code":"E00027","text":"The transaction was unsuccessful."}]}}`))
		return
	}
	f.next++
	transID := "60" + strconv.FormatInt(f.next, 10)
	if txType == "voidTransaction" || (f.echoCapture && txType == "priorAuthCaptureTransaction") {
		transID = req.CreateTransactionRequest.TransactionRequest.RefTransID
	}
	_, _ = w.Write([]byte("\xef\xbb\xbf" + `{"transactionResponse":{"responseCode":"1","transId":"` + transID + `"},"messages":{"resultCode":"Ok","message":[{"code":"I00001","text":"Successful."}]}}`))
}

func newStack(t *testing.T, fake *fakeAuthorizeNet) (*orchestrator.Orchestrator, *ledger.MemoryStore) {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	gw := authorizenet.NewAdapter(server.Client()).WithEndpoint(server.URL)
	breaker := circuitbreaker.NewCircuitBreaker(gw.Name(), circuitbreaker.Config{FailureThreshold: 3, ResetTimeout: time.Second}, logger)
	proc := processor.NewProcessor(gw, breaker, logger)

	store := ledger.NewMemoryStore()
	orc := orchestrator.NewOrchestrator(store, proc, orchestrator.Config{
		Merchant: callctx.Merchant{
			ID:          "merchant-1",
			Provider:    "authorizenet",
			Environment: callctx.Sandbox,
			Credentials: callctx.Credentials{LoginID: "login", TransactionKey: "key"},
		},
		SerializeByReference: true,
		EnforceLifecycle:     true,
	}, orchestrator.WithLogger(logger))
	return orc, store
}

func card() *adapter.Card {
	return &adapter.Card{Number: "4111111111111111", ExpMonth: 12, ExpYear: 2030, CVV: "123"}
}

func TestAuthorizeCaptureRefundLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAuthorizeNet{}
	orc, store := newStack(t, fake)

	auth, err := orc.AuthorizeOnly(ctx, orchestrator.PaymentRequest{Amount: decimal.RequireFromString("30.00"), Currency: "USD", Card: card()})
	require.NoError(t, err)
	require.Equal(t, ledger.TxSuccess, auth.Status)

	capture, err := orc.Capture(ctx, orchestrator.CaptureRequest{ProviderReference: auth.ProviderReference})
	require.NoError(t, err)
	require.Equal(t, ledger.TxSuccess, capture.Status)
	assert.True(t, capture.Amount.Equal(decimal.RequireFromString("30.00")))

	partial := decimal.RequireFromString("10.00")
	refund, err := orc.Refund(ctx, orchestrator.RefundRequest{ProviderReference: capture.ProviderReference, Amount: &partial, Last4: "1111"})
	require.NoError(t, err)
	require.Equal(t, ledger.TxSuccess, refund.Status)

	order, err := store.FindOrder(ctx, auth.OrderID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderRefunded, order.Status)
	assert.Equal(t, []string{"authOnlyTransaction", "priorAuthCaptureTransaction", "refundTransaction"}, fake.seen())

	history, err := store.ListTransactionsByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestAuthorizeThenVoid(t *testing.T) {
	ctx := context.Background()
	orc, store := newStack(t, &fakeAuthorizeNet{})

	auth, err := orc.AuthorizeOnly(ctx, orchestrator.PaymentRequest{Amount: decimal.RequireFromString("15.00"), Currency: "USD", Card: card()})
	require.NoError(t, err)

	void, err := orc.Void(ctx, auth.ProviderReference)
	require.NoError(t, err)
	assert.Equal(t, ledger.TxSuccess, void.Status)
	assert.Equal(t, auth.ProviderReference, void.ProviderReference)

	order, err := store.FindOrder(ctx, auth.OrderID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderCancelled, order.Status)

	_, err = orc.Capture(ctx, orchestrator.CaptureRequest{ProviderReference: auth.ProviderReference})
	assert.ErrorIs(t, err, orchestrator.ErrIllegalTransition, "a cancelled order cannot be captured")
}

func TestDeclinedPurchase(t *testing.T) {
	ctx := context.Background()
	orc, store := newStack(t, &fakeAuthorizeNet{fail: map[string]bool{"authCaptureTransaction": true}})

	tx, err := orc.Purchase(ctx, orchestrator.PaymentRequest{Amount: decimal.RequireFromString("12.34"), Currency: "USD", Card: card()})
	require.NoError(t, err)
	assert.Equal(t, ledger.TxFailed, tx.Status)
	assert.Empty(t, tx.ProviderReference)
	assert.Contains(t, tx.RawOutcome, "This transaction has been declined.")

	order, err := store.FindOrder(ctx, tx.OrderID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderFailed, order.Status)
}

func TestRefundWithoutLast4FailsClosed(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAuthorizeNet{}
	orc, store := newStack(t, fake)

	purchase, err := orc.Purchase(ctx, orchestrator.PaymentRequest{Amount: decimal.RequireFromString("8.00"), Currency: "USD", Card: card()})
	require.NoError(t, err)

	refund, err := orc.Refund(ctx, orchestrator.RefundRequest{ProviderReference: purchase.ProviderReference})
	require.NoError(t, err)
	assert.Equal(t, ledger.TxFailed, refund.Status)
	assert.Contains(t, refund.RawOutcome, authorizenet.CodeInvalidInstruction)
	assert.Len(t, fake.seen(), 1, "the provider is never called without last4")

	order, err := store.FindOrder(ctx, purchase.OrderID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderCaptured, order.Status)
}

func TestCaptureEchoingAuthorizationReference(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAuthorizeNet{echoCapture: true}
	orc, store := newStack(t, fake)

	auth, err := orc.AuthorizeOnly(ctx, orchestrator.PaymentRequest{Amount: decimal.RequireFromString("40.00"), Currency: "USD", Card: card()})
	require.NoError(t, err)

	capture, err := orc.Capture(ctx, orchestrator.CaptureRequest{ProviderReference: auth.ProviderReference})
	require.NoError(t, err)
	require.Equal(t, ledger.TxSuccess, capture.Status)
	require.Equal(t, auth.ProviderReference, capture.ProviderReference)

	partial := decimal.RequireFromString("15.00")
	refund, err := orc.Refund(ctx, orchestrator.RefundRequest{ProviderReference: capture.ProviderReference, Amount: &partial, Last4: "1111"})
	require.NoError(t, err)
	assert.Equal(t, ledger.TxSuccess, refund.Status)

	rest, err := orc.Refund(ctx, orchestrator.RefundRequest{ProviderReference: capture.ProviderReference, Last4: "1111"})
	require.NoError(t, err)
	assert.Equal(t, ledger.TxSuccess, rest.Status)
	assert.True(t, rest.Amount.Equal(decimal.RequireFromString("40.00")), "defaults to the captured amount")

	order, err := store.FindOrder(ctx, auth.OrderID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderRefunded, order.Status)
	assert.Equal(t, []string{"authOnlyTransaction", "priorAuthCaptureTransaction", "refundTransaction", "refundTransaction"}, fake.seen())
}
