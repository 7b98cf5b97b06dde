// Package api exposes the payment operations over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/card-orchestrator/internal/adapter"
	"github.com/yourorg/card-orchestrator/internal/ledger"
	"github.com/yourorg/card-orchestrator/internal/orchestrator"
	"github.com/yourorg/card-orchestrator/internal/outcome"
	"github.com/yourorg/card-orchestrator/internal/reporting"
	"github.com/yourorg/card-orchestrator/internal/validation"
)

const defaultCurrency = "USD"

// Payments is the operation surface the handlers drive.
type Payments interface {
	Purchase(ctx context.Context, req orchestrator.PaymentRequest) (ledger.Transaction, error)
	AuthorizeOnly(ctx context.Context, req orchestrator.PaymentRequest) (ledger.Transaction, error)
	Capture(ctx context.Context, req orchestrator.CaptureRequest) (ledger.Transaction, error)
	Void(ctx context.Context, providerReference string) (ledger.Transaction, error)
	Refund(ctx context.Context, req orchestrator.RefundRequest) (ledger.Transaction, error)
}

// Reporter produces ledger summaries.
type Reporter interface {
	Generate(ctx context.Context, filter ledger.Filter) (*reporting.RetrospectiveReport, error)
	FindStalePending(ctx context.Context, threshold time.Duration) (*reporting.StaleReport, error)
}

// Handler holds the HTTP handlers.
type Handler struct {
	payments Payments
	store    ledger.Store
	reporter Reporter
	log      logrus.FieldLogger
}

// NewHandler returns a Handler. reporter may be nil, which disables the
// report routes.
func NewHandler(payments Payments, store ledger.Store, reporter Reporter, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{payments: payments, store: store, reporter: reporter, log: log}
}

type paymentBody struct {
	Amount   decimal.Decimal  `json:"amount"`
	Currency string           `json:"currency" binding:"omitempty,len=3,alpha"`
	Card     *validation.Card `json:"card" binding:"required"`
	OrderID  string           `json:"orderId" binding:"omitempty,max=128"`
}

type captureBody struct {
	TransactionID string           `json:"transactionId" binding:"required"`
	Amount        *decimal.Decimal `json:"amount"`
}

type cancelBody struct {
	TransactionID string `json:"transactionId" binding:"required"`
}

type refundBody struct {
	TransactionID string           `json:"transactionId" binding:"required"`
	Amount        *decimal.Decimal `json:"amount"`
	Last4         string           `json:"last4" binding:"omitempty,last4"`
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Purchase handles POST /payments/purchase.
func (h *Handler) Purchase(c *gin.Context) {
	h.startPayment(c, h.payments.Purchase)
}

// Authorize handles POST /payments/authorize.
func (h *Handler) Authorize(c *gin.Context) {
	h.startPayment(c, h.payments.AuthorizeOnly)
}

func (h *Handler) startPayment(c *gin.Context, op func(context.Context, orchestrator.PaymentRequest) (ledger.Transaction, error)) {
	var body paymentBody
	if !bind(c, &body) {
		return
	}
	currency := body.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	tx, err := op(c.Request.Context(), orchestrator.PaymentRequest{
		Amount:   body.Amount,
		Currency: currency,
		Card: &adapter.Card{
			Number:   validation.CleanNumber(body.Card.Number),
			ExpMonth: body.Card.ExpMonth,
			ExpYear:  body.Card.ExpYear,
			CVV:      body.Card.CVV,
		},
		ExternalOrderID: body.OrderID,
	})
	if err != nil {
		h.fail(c, err, "transaction not found")
		return
	}
	resp := gin.H{
		"order_id":       tx.OrderID,
		"transaction_id": tx.ProviderReference,
		"status":         tx.Status,
	}
	addFailure(resp, tx)
	c.JSON(http.StatusCreated, resp)
}

// Capture handles POST /payments/capture.
func (h *Handler) Capture(c *gin.Context) {
	var body captureBody
	if !bind(c, &body) {
		return
	}
	tx, err := h.payments.Capture(c.Request.Context(), orchestrator.CaptureRequest{
		ProviderReference: body.TransactionID,
		Amount:            body.Amount,
	})
	if err != nil {
		h.fail(c, err, "transaction not found")
		return
	}
	resp := gin.H{"transaction_id": tx.ProviderReference, "status": tx.Status}
	addFailure(resp, tx)
	c.JSON(http.StatusOK, resp)
}

// Cancel handles POST /payments/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	var body cancelBody
	if !bind(c, &body) {
		return
	}
	tx, err := h.payments.Void(c.Request.Context(), body.TransactionID)
	if err != nil {
		h.fail(c, err, "transaction not found")
		return
	}
	resp := gin.H{"transaction_id": tx.ProviderReference, "status": tx.Status}
	addFailure(resp, tx)
	c.JSON(http.StatusOK, resp)
}

// Refund handles POST /payments/refund.
func (h *Handler) Refund(c *gin.Context) {
	var body refundBody
	if !bind(c, &body) {
		return
	}
	tx, err := h.payments.Refund(c.Request.Context(), orchestrator.RefundRequest{
		ProviderReference: body.TransactionID,
		Amount:            body.Amount,
		Last4:             body.Last4,
	})
	if err != nil {
		h.fail(c, err, "original transaction not found")
		return
	}
	resp := gin.H{"refund_transaction_id": tx.ProviderReference, "status": tx.Status}
	addFailure(resp, tx)
	c.JSON(http.StatusOK, resp)
}

// Order handles GET /payments/orders/:id.
func (h *Handler) Order(c *gin.Context) {
	ctx := c.Request.Context()
	order, err := h.store.FindOrder(ctx, c.Param("id"))
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "order not found"})
		return
	}
	if err != nil {
		h.log.WithError(err).Error("Failed to load order")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal persistence error"})
		return
	}
	txs, err := h.store.ListTransactionsByOrder(ctx, order.ID)
	if err != nil {
		h.log.WithError(err).WithField("order_id", order.ID).Error("Failed to load order transactions")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal persistence error"})
		return
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "transactions": txs})
}

// Retrospective handles GET /reports/retrospective.
// Optional query parameters: kind, status, from and to (RFC 3339).
func (h *Handler) Retrospective(c *gin.Context) {
	filter := ledger.Filter{
		Kind:   ledger.Kind(c.Query("kind")),
		Status: ledger.TxStatus(c.Query("status")),
	}
	var err error
	if filter.CreatedAfter, err = parseTime(c.Query("from")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "from: " + err.Error()})
		return
	}
	if filter.CreatedBefore, err = parseTime(c.Query("to")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "to: " + err.Error()})
		return
	}

	report, err := h.reporter.Generate(c.Request.Context(), filter)
	if err != nil {
		h.log.WithError(err).Error("Failed to generate retrospective")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal persistence error"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// StalePending handles GET /reports/stale-pending?threshold=15m.
func (h *Handler) StalePending(c *gin.Context, defaultThreshold time.Duration) {
	threshold := defaultThreshold
	if q := c.Query("threshold"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "threshold must be a positive duration"})
			return
		}
		threshold = d
	}
	report, err := h.reporter.FindStalePending(c.Request.Context(), threshold)
	if err != nil {
		h.log.WithError(err).Error("Failed to scan pending transactions")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal persistence error"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// bind decodes and validates the JSON body, answering 400 on failure.
func bind(c *gin.Context, body any) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": "invalid request",
			"errors": validation.FieldErrors(err),
		})
		return false
	}
	return true
}

// addFailure adds the gateway failure code to a response for a declined
// or errored operation.
func addFailure(resp gin.H, tx ledger.Transaction) {
	if tx.Status != ledger.TxFailed {
		return
	}
	if code := outcome.FailureCode(tx.RawOutcome); code != "" {
		resp["error_code"] = code
	}
}

// fail maps orchestrator errors onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error, notFound string) {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, orchestrator.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": notFound})
	case errors.Is(err, orchestrator.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"detail": err.Error()})
	case errors.Is(err, orchestrator.ErrPolicyDenied):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
	default:
		h.log.WithError(err).WithField("route", c.FullPath()).Error("Payment operation failed")
		detail := "internal error"
		if errors.Is(err, orchestrator.ErrPersistence) {
			detail = "internal persistence error"
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": detail})
	}
}
