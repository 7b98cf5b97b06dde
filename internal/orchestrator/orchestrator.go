// Package orchestrator sequences ledger writes and gateway calls for the
// five card operations: purchase, authorize, capture, void and refund.
//
// Every operation follows the same steps. It resolves its context (a new
// order, or the prior transaction found by provider reference), persists a
// pending transaction, calls the gateway once, maps the outcome, persists
// the finalized transaction and then the order transition, and returns the
// finalized transaction.
//
// A gateway failure is a business outcome recorded as a failed transaction,
// never an error. Operations are not idempotent: two identical purchases
// create two orders.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/card-orchestrator/internal/adapter"
	"github.com/yourorg/card-orchestrator/internal/callctx"
	"github.com/yourorg/card-orchestrator/internal/events"
	"github.com/yourorg/card-orchestrator/internal/ledger"
	"github.com/yourorg/card-orchestrator/internal/metrics"
	"github.com/yourorg/card-orchestrator/internal/outcome"
	"github.com/yourorg/card-orchestrator/internal/policy"
)

const tracerName = "github.com/yourorg/card-orchestrator/internal/orchestrator"

// PolicyEnforcer decides whether an operation may proceed.
type PolicyEnforcer interface {
	Evaluate(in policy.Input) (policy.PolicyDecision, error)
}

// Config controls optional orchestrator behaviour.
type Config struct {
	// Merchant is the immutable merchant configuration copied into every
	// gateway call.
	Merchant callctx.Merchant
	// SerializeByReference serializes follow-on operations on the same
	// order within this process.
	SerializeByReference bool
	// EnforceLifecycle rejects follow-on operations the prior transaction
	// or order state cannot accept.
	EnforceLifecycle bool
}

// PaymentRequest starts a new order with a purchase or an authorization.
type PaymentRequest struct {
	Amount          decimal.Decimal
	Currency        string
	Card            *adapter.Card
	ExternalOrderID string
}

// CaptureRequest captures a prior authorization. A nil Amount captures the
// authorized amount.
type CaptureRequest struct {
	ProviderReference string
	Amount            *decimal.Decimal
}

// RefundRequest refunds a prior capture or purchase. A nil Amount refunds
// the prior transaction's amount.
type RefundRequest struct {
	ProviderReference string
	Amount            *decimal.Decimal
	Last4             string
}

// Orchestrator runs payment operations against a Store and a Gateway.
type Orchestrator struct {
	store     ledger.Store
	gateway   adapter.Gateway
	cfg       Config
	policy    PolicyEnforcer
	publisher events.Publisher
	log       logrus.FieldLogger
	locks     *keyedMutex
	tracer    trace.Tracer
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithPolicy installs a policy enforcer consulted before any write.
func WithPolicy(p PolicyEnforcer) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithPublisher installs the publisher of finalized transaction events.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(store ledger.Store, gateway adapter.Gateway, cfg Config, opts ...Option) *Orchestrator {
	if store == nil {
		panic("Store cannot be nil")
	}
	if gateway == nil {
		panic("Gateway cannot be nil")
	}
	o := &Orchestrator{
		store:     store,
		gateway:   gateway,
		cfg:       cfg,
		publisher: events.Nop{},
		log:       logrus.StandardLogger(),
		locks:     newKeyedMutex(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Purchase authorizes and captures req in a single gateway call.
func (o *Orchestrator) Purchase(ctx context.Context, req PaymentRequest) (ledger.Transaction, error) {
	return o.startOrder(ctx, ledger.KindPurchase, adapter.OpPurchase, ledger.OrderCaptured, req)
}

// AuthorizeOnly authorizes req without capturing it.
func (o *Orchestrator) AuthorizeOnly(ctx context.Context, req PaymentRequest) (ledger.Transaction, error) {
	return o.startOrder(ctx, ledger.KindAuthorize, adapter.OpAuthorize, ledger.OrderAuthorized, req)
}

// Capture captures the authorization identified by req.ProviderReference.
func (o *Orchestrator) Capture(ctx context.Context, req CaptureRequest) (ledger.Transaction, error) {
	return o.followOn(ctx, ledger.KindCapture, adapter.OpCapture, req.ProviderReference, req.Amount, "")
}

// Void cancels the transaction identified by providerReference. The void is
// recorded as a new transaction for the prior transaction's amount.
func (o *Orchestrator) Void(ctx context.Context, providerReference string) (ledger.Transaction, error) {
	return o.followOn(ctx, ledger.KindVoid, adapter.OpVoid, providerReference, nil, "")
}

// Refund refunds the transaction identified by req.ProviderReference.
func (o *Orchestrator) Refund(ctx context.Context, req RefundRequest) (ledger.Transaction, error) {
	return o.followOn(ctx, ledger.KindRefund, adapter.OpRefund, req.ProviderReference, req.Amount, req.Last4)
}

// attempt is one resolved operation ready to be written and submitted.
type attempt struct {
	kind        ledger.Kind
	order       ledger.Order
	instruction adapter.Instruction
	onSuccess   ledger.OrderStatus
	onFailure   ledger.OrderStatus // empty leaves the order unchanged
}

func (o *Orchestrator) startOrder(
	ctx context.Context,
	kind ledger.Kind,
	op adapter.Operation,
	onSuccess ledger.OrderStatus,
	req PaymentRequest,
) (tx ledger.Transaction, err error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator."+string(kind))
	defer func() { o.endSpan(span, kind, tx, err) }()

	if err := validatePayment(req); err != nil {
		return ledger.Transaction{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := o.checkPolicy(policy.Input{
		Operation: string(kind),
		Amount:    req.Amount,
		Currency:  currency,
	}); err != nil {
		return ledger.Transaction{}, err
	}

	order, err := o.store.SaveOrder(ctx, ledger.Order{
		ExternalID: req.ExternalOrderID,
		Amount:     req.Amount,
		Currency:   currency,
		Status:     ledger.OrderProcessing,
	})
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("%w: saving order: %w", ErrPersistence, err)
	}

	finalized, order, err := o.run(ctx, attempt{
		kind:  kind,
		order: order,
		instruction: adapter.Instruction{
			Operation: op,
			Amount:    req.Amount,
			Currency:  currency,
			Card:      req.Card,
		},
		onSuccess: onSuccess,
		onFailure: ledger.OrderFailed,
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	o.publish(ctx, finalized, order)
	return finalized, nil
}

func (o *Orchestrator) followOn(
	ctx context.Context,
	kind ledger.Kind,
	op adapter.Operation,
	ref string,
	amount *decimal.Decimal,
	last4 string,
) (tx ledger.Transaction, err error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator."+string(kind),
		trace.WithAttributes(attribute.String("payment.prior_reference", ref)))
	defer func() { o.endSpan(span, kind, tx, err) }()

	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ledger.Transaction{}, fmt.Errorf("%w: provider reference is required", ErrValidation)
	}
	if amount != nil {
		if err := validateAmount(*amount); err != nil {
			return ledger.Transaction{}, err
		}
	}

	prior, err := o.store.FindTransactionByProviderReference(ctx, ref)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.Transaction{}, fmt.Errorf("%w: provider reference %q", ErrNotFound, ref)
	}
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("%w: finding transaction: %w", ErrPersistence, err)
	}

	finalized, order, err := o.runFollowOn(ctx, kind, op, prior, ref, amount, last4)
	if err != nil {
		return ledger.Transaction{}, err
	}
	// Published after the order lock is released.
	o.publish(ctx, finalized, order)
	return finalized, nil
}

// runFollowOn runs a follow-on operation against prior's order, holding the
// order lock when serialization is enabled.
func (o *Orchestrator) runFollowOn(
	ctx context.Context,
	kind ledger.Kind,
	op adapter.Operation,
	prior ledger.Transaction,
	ref string,
	amount *decimal.Decimal,
	last4 string,
) (ledger.Transaction, ledger.Order, error) {
	if o.cfg.SerializeByReference {
		unlock := o.locks.Lock(prior.OrderID)
		defer unlock()
	}

	// Read after taking the lock so a concurrent follow-on is observed.
	order, err := o.store.FindOrder(ctx, prior.OrderID)
	if err != nil {
		return ledger.Transaction{}, ledger.Order{}, fmt.Errorf("%w: finding order %s: %w", ErrPersistence, prior.OrderID, err)
	}
	prior, err = o.latestForReference(ctx, prior, ref)
	if err != nil {
		return ledger.Transaction{}, ledger.Order{}, err
	}

	if o.cfg.EnforceLifecycle {
		if err := checkTransition(kind, prior, order); err != nil {
			return ledger.Transaction{}, ledger.Order{}, err
		}
	}

	amt := prior.Amount
	if amount != nil {
		amt = *amount
	}

	if err := o.checkPolicy(policy.Input{
		Operation:   string(kind),
		Amount:      amt,
		Currency:    order.Currency,
		PriorAmount: prior.Amount,
		OrderAmount: order.Amount,
		OrderStatus: string(order.Status),
	}); err != nil {
		return ledger.Transaction{}, ledger.Order{}, err
	}

	return o.run(ctx, attempt{
		kind:  kind,
		order: order,
		instruction: adapter.Instruction{
			Operation:      op,
			Amount:         amt,
			Currency:       order.Currency,
			PriorReference: ref,
			Last4:          last4,
		},
		onSuccess: followOnRules[kind].onSuccess,
	})
}

// latestForReference returns the newest successful transaction of prior's
// order that carries ref, skipping voids. Providers may answer a capture
// with the authorization's reference, and follow-ons then act on the
// capture.
func (o *Orchestrator) latestForReference(ctx context.Context, prior ledger.Transaction, ref string) (ledger.Transaction, error) {
	history, err := o.store.ListTransactionsByOrder(ctx, prior.OrderID)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("%w: listing transactions of order %s: %w", ErrPersistence, prior.OrderID, err)
	}
	for i := len(history) - 1; i >= 0; i-- {
		tx := history[i]
		if tx.ProviderReference == ref && tx.Status == ledger.TxSuccess && tx.Kind != ledger.KindVoid {
			return tx, nil
		}
	}
	return prior, nil
}

// run persists the pending transaction, calls the gateway and finalizes.
func (o *Orchestrator) run(ctx context.Context, a attempt) (ledger.Transaction, ledger.Order, error) {
	log := o.log.WithFields(logrus.Fields{
		"operation": a.kind,
		"order_id":  a.order.ID,
	})

	tx, err := o.store.SaveTransaction(ctx, ledger.Transaction{
		OrderID: a.order.ID,
		Kind:    a.kind,
		Amount:  a.instruction.Amount,
		Status:  ledger.TxPending,
	})
	if err != nil {
		return ledger.Transaction{}, ledger.Order{}, fmt.Errorf("%w: saving pending transaction: %w", ErrPersistence, err)
	}
	log = log.WithField("transaction_id", tx.ID)

	tc := callctx.NewTraceContext(ctx)
	cc := callctx.Derive(tc, o.cfg.Merchant, string(a.kind))
	result := outcome.Map(o.gateway.Submit(ctx, cc, a.instruction), a.kind)

	tx.Status = result.Status
	tx.ProviderReference = result.ProviderReference
	tx.RawOutcome = result.RawOutcome
	finalized, err := o.store.SaveTransaction(ctx, tx)
	if err != nil {
		o.logPersistenceFailure(log, result, err)
		return ledger.Transaction{}, ledger.Order{}, fmt.Errorf("%w: finalizing transaction %s: %w", ErrPersistence, tx.ID, err)
	}

	order := a.order
	next := a.onFailure
	if finalized.Status == ledger.TxSuccess {
		next = a.onSuccess
	}
	if next != "" && next != order.Status {
		order.Status = next
		order, err = o.store.SaveOrder(ctx, order)
		if err != nil {
			o.logPersistenceFailure(log, result, err)
			return ledger.Transaction{}, ledger.Order{}, fmt.Errorf("%w: updating order %s: %w", ErrPersistence, a.order.ID, err)
		}
	}

	metrics.OperationsTotal.WithLabelValues(string(a.kind), string(finalized.Status)).Inc()
	log = log.WithFields(logrus.Fields{
		"status":             finalized.Status,
		"order_status":       order.Status,
		"provider_reference": finalized.ProviderReference,
	})
	switch {
	case finalized.Status == ledger.TxSuccess:
		log.Info("Payment operation succeeded")
	case outcome.FailureCode(finalized.RawOutcome) == outcome.CodeMissingReference:
		log.Error("Gateway reported success without a provider reference; manual reconciliation required")
	default:
		log.Warn("Payment operation failed at the gateway")
	}

	return finalized, order, nil
}

// logPersistenceFailure records a ledger write failure after the gateway
// answered. A success here leaves money moved without a matching record.
func (o *Orchestrator) logPersistenceFailure(log logrus.FieldLogger, result outcome.Result, err error) {
	entry := log.WithError(err).WithFields(logrus.Fields{
		"gateway_status":     result.Status,
		"provider_reference": result.ProviderReference,
	})
	if result.Status == ledger.TxSuccess {
		entry.Error("Gateway accepted the operation but the ledger write failed; manual reconciliation required")
		return
	}
	entry.Error("Ledger write failed after gateway call")
}

func (o *Orchestrator) publish(ctx context.Context, tx ledger.Transaction, order ledger.Order) {
	tc := callctx.NewTraceContext(ctx)
	err := o.publisher.Publish(ctx, events.TransactionFinalized{
		EventID:           uuid.NewString(),
		Type:              events.TypeTransactionFinalized,
		OccurredAt:        time.Now().UTC(),
		TraceID:           tc.TraceID,
		OrderID:           order.ID,
		TransactionID:     tx.ID,
		Kind:              string(tx.Kind),
		Status:            string(tx.Status),
		OrderStatus:       string(order.Status),
		Amount:            tx.Amount,
		Currency:          order.Currency,
		ProviderReference: tx.ProviderReference,
	})
	if err != nil {
		metrics.EventPublishFailures.Inc()
		o.log.WithError(err).WithField("transaction_id", tx.ID).Warn("Failed to publish transaction event")
	}
}

func (o *Orchestrator) checkPolicy(in policy.Input) error {
	if o.policy == nil {
		return nil
	}
	decision, err := o.policy.Evaluate(in)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPolicyDenied, err)
	}
	if !decision.Allowed {
		return fmt.Errorf("%w: %s", ErrPolicyDenied, decision.Reason)
	}
	return nil
}

func (o *Orchestrator) endSpan(span trace.Span, kind ledger.Kind, tx ledger.Transaction, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.OperationErrorsTotal.WithLabelValues(string(kind), errorReason(err)).Inc()
		return
	}
	span.SetAttributes(
		attribute.String("payment.transaction_id", tx.ID),
		attribute.String("payment.status", string(tx.Status)),
	)
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrPolicyDenied):
		return "policy_denied"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "unknown"
	}
}

// validatePayment applies the minimal guard the orchestrator needs before
// creating an order. Full card validation happens at the API boundary.
func validatePayment(req PaymentRequest) error {
	if err := validateAmount(req.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(req.Currency) == "" {
		return fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if req.Card == nil || strings.TrimSpace(req.Card.Number) == "" {
		return fmt.Errorf("%w: card is required", ErrValidation)
	}
	return nil
}

// validateAmount requires a positive amount in whole cents.
func validateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}
	if !d.Equal(d.Round(2)) {
		return fmt.Errorf("%w: amount %s has more than two decimal places", ErrValidation, d)
	}
	return nil
}
