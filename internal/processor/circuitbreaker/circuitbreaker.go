// Package circuitbreaker guards gateway calls with a sony/gobreaker breaker
// that only counts transient (transport or availability) failures.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/yourorg/card-orchestrator/internal/adapter"
	"github.com/yourorg/card-orchestrator/internal/metrics"
)

// State represents the state of the circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

const (
	defaultFailureThreshold = 5
	defaultResetTimeout     = 30 * time.Second
	defaultHalfOpenRequests = 1
)

// ErrOpen is returned by Execute when the breaker rejected the call.
var ErrOpen = errors.New("circuit breaker is open")

// errTransient marks a transient outcome as a breaker failure.
var errTransient = errors.New("transient gateway failure")

// Config holds breaker settings. Zero values select the defaults.
type Config struct {
	// FailureThreshold is the number of consecutive transient failures
	// that opens the circuit.
	FailureThreshold uint32 `mapstructure:"failure_threshold"`
	// ResetTimeout is how long the circuit stays open before a trial call.
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
	// HalfOpenRequests is the number of trial calls allowed while half-open.
	HalfOpenRequests uint32 `mapstructure:"half_open_requests"`
}

// CircuitBreaker wraps gobreaker for a single provider.
type CircuitBreaker struct {
	cb       *gobreaker.CircuitBreaker
	provider string
}

// NewCircuitBreaker creates a breaker for provider and publishes its state to
// the circuit breaker gauge.
func NewCircuitBreaker(provider string, cfg Config, log logrus.FieldLogger) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = defaultHalfOpenRequests
	}

	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(fromGobreaker(to)))
			if log != nil {
				log.WithFields(logrus.Fields{
					"provider": name,
					"from":     from.String(),
					"to":       to.String(),
				}).Warn("Circuit breaker state changed")
			}
		},
	})

	metrics.CircuitBreakerState.WithLabelValues(provider).Set(float64(StateClosed))

	return &CircuitBreaker{cb: cb, provider: provider}
}

// Execute runs call through the breaker. Declines and other non-transient
// failures count as successes for the breaker; they say nothing about the
// provider's availability. When the breaker rejects the call, call is not
// run and ErrOpen is returned.
func (b *CircuitBreaker) Execute(call func() adapter.Outcome) (adapter.Outcome, error) {
	var outcome adapter.Outcome
	_, err := b.cb.Execute(func() (interface{}, error) {
		outcome = call()
		if !outcome.Succeeded() && outcome.Transient {
			return nil, errTransient
		}
		return nil, nil
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return adapter.Outcome{}, ErrOpen
	default:
		return outcome, nil
	}
}

// State returns the current state of the circuit.
func (b *CircuitBreaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Provider returns the name of the guarded provider.
func (b *CircuitBreaker) Provider() string {
	return b.provider
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
