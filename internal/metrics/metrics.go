// Package metrics declares the prometheus collectors shared by the payment
// components and the gin middleware that records HTTP traffic.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts finalized orchestrator operations by outcome.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_operations_total",
			Help: "Total number of finalized payment operations",
		},
		[]string{"operation", "status"},
	)

	// OperationErrorsTotal counts operations rejected before or after the gateway call.
	OperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_operation_errors_total",
			Help: "Total number of payment operations that ended in an error",
		},
		[]string{"operation", "reason"},
	)

	// GatewayDuration tracks provider call latency.
	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payments_gateway_duration_seconds",
			Help:    "Gateway call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// GatewayOutcomes counts normalized gateway outcomes.
	GatewayOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_gateway_outcomes_total",
			Help: "Total number of gateway outcomes by status",
		},
		[]string{"provider", "operation", "status"},
	)

	// CircuitBreakerState tracks breaker state (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payments_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	// StalePendingTransactions is the size of the last stale-pending scan.
	StalePendingTransactions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payments_stale_pending_transactions",
			Help: "Pending transactions older than the reconciliation threshold at the last scan",
		},
	)

	// EventPublishFailures counts events that could not be published.
	EventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_event_publish_failures_total",
			Help: "Total number of transaction events that failed to publish",
		},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payments_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// PrometheusMiddleware creates a Gin middleware for automatic metrics collection.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		RequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}
