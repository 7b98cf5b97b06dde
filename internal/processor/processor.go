// Package processor wraps a gateway adapter so that every call fails closed:
// panics, breaker rejections and provider failures all come back as failed
// Outcome values, with latency and outcome metrics recorded on the way.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/card-orchestrator/internal/adapter"
	"github.com/yourorg/card-orchestrator/internal/callctx"
	"github.com/yourorg/card-orchestrator/internal/metrics"
	"github.com/yourorg/card-orchestrator/internal/processor/circuitbreaker"
)

const tracerName = "github.com/yourorg/card-orchestrator/internal/processor"

// Error codes produced by the processor itself.
const (
	CodeAdapterPanic = "ADAPTER_PANIC"
	CodeCircuitOpen  = "CIRCUIT_OPEN"
)

// Processor is an adapter.Gateway that guards another Gateway.
type Processor struct {
	gateway adapter.Gateway
	breaker *circuitbreaker.CircuitBreaker
	log     logrus.FieldLogger
	tracer  trace.Tracer
}

// NewProcessor creates a Processor around gateway. breaker may be nil, in
// which case calls are never short-circuited.
func NewProcessor(gateway adapter.Gateway, breaker *circuitbreaker.CircuitBreaker, log logrus.FieldLogger) *Processor {
	if gateway == nil {
		panic("gateway cannot be nil")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Processor{
		gateway: gateway,
		breaker: breaker,
		log:     log,
		tracer:  otel.Tracer(tracerName),
	}
}

// Name returns the name of the wrapped provider.
func (p *Processor) Name() string {
	return p.gateway.Name()
}

// Submit calls the wrapped gateway exactly once, unless the circuit is
// open, in which case the provider is not called at all. No call is
// retried: a timeout may have reached the provider.
func (p *Processor) Submit(ctx context.Context, cc callctx.CallContext, in adapter.Instruction) adapter.Outcome {
	provider := p.gateway.Name()
	ctx, span := p.tracer.Start(ctx, "gateway."+string(in.Operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("payment.provider", provider),
			attribute.String("payment.operation", string(in.Operation)),
			attribute.String("payment.call_span_id", cc.SpanID),
		))
	defer span.End()

	start := time.Now()
	var outcome adapter.Outcome
	if p.breaker != nil {
		var err error
		outcome, err = p.breaker.Execute(func() adapter.Outcome { return p.call(ctx, cc, in) })
		if err != nil {
			outcome = adapter.Failed(CodeCircuitOpen,
				fmt.Sprintf("%s: provider temporarily unavailable: %v", provider, err), true)
		}
	} else {
		outcome = p.call(ctx, cc, in)
	}
	if outcome.Latency == 0 {
		outcome.Latency = time.Since(start)
	}

	metrics.GatewayDuration.WithLabelValues(provider, string(in.Operation)).Observe(outcome.Latency.Seconds())
	metrics.GatewayOutcomes.WithLabelValues(provider, string(in.Operation), string(outcome.Status)).Inc()

	span.SetAttributes(attribute.String("payment.outcome", string(outcome.Status)))
	if !outcome.Succeeded() {
		span.SetStatus(codes.Error, outcome.ErrorDetail)
		p.log.WithFields(logrus.Fields{
			"trace_id":  cc.TraceID,
			"span_id":   cc.SpanID,
			"provider":  provider,
			"operation": in.Operation,
			"code":      outcome.Code,
			"transient": outcome.Transient,
		}).Warn("Gateway call failed: " + outcome.ErrorDetail)
	}
	return outcome
}

// call invokes the gateway, converting a panic into a failed outcome.
func (p *Processor) call(ctx context.Context, cc callctx.CallContext, in adapter.Instruction) (outcome adapter.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = adapter.Failed(CodeAdapterPanic, fmt.Sprintf("%s: adapter panicked: %v", p.gateway.Name(), r), false)
		}
	}()
	outcome = p.gateway.Submit(ctx, cc, in)
	if outcome.Status != adapter.StatusSuccess && outcome.Status != adapter.StatusFailed {
		outcome = adapter.Failed(outcome.Code,
			fmt.Sprintf("%s: unrecognised outcome status %q", p.gateway.Name(), outcome.Status), false)
	}
	return outcome
}
